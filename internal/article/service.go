// Package article は記事の作成・取得・更新・削除のドメインロジックを提供する。
package article

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/articledesk/internal/model"
	"github.com/hitoshi/articledesk/internal/repository"
)

// Articles は記事操作のインターフェース。
// Service、Catalog、gate.Guardが同じ形で実装し、順に重ねて使う。
type Articles interface {
	Create(ctx context.Context, draft *model.ArticleDraft) (*model.Article, error)
	List(ctx context.Context) ([]*model.Article, error)
	Get(ctx context.Context, id string) (*model.Article, error)
	Update(ctx context.Context, id string, draft *model.ArticleDraft) (*model.Article, error)
	UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Article, error)
	Delete(ctx context.Context, id string) error
}

// Uploader は添付画像をBlobストアに保存し公開URLを返す。
// blob.Adapterが実装する。
type Uploader interface {
	Upload(ctx context.Context, att *model.Attachment, slot model.Slot) (string, error)
}

// Service は記事リポジトリのサービス層。
// 画像は全てアップロードが完了してからレコードを書き込む。
type Service struct {
	repo     repository.ArticleRepository
	uploader Uploader
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceOption はServiceの設定関数。
type ServiceOption func(*Service)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.ArticleRepository, uploader Uploader, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:     repo,
		uploader: uploader,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create は画像をアップロードした後に記事を作成する。入力検証は行わない。
func (s *Service) Create(ctx context.Context, draft *model.ArticleDraft) (*model.Article, error) {
	urls, err := s.uploadImages(ctx, draft)
	if err != nil {
		return nil, err
	}

	now := s.now()
	a := &model.Article{
		Title:       draft.Title,
		Content:     draft.Content,
		YouTubeLink: draft.YouTubeLink,
		Language:    draft.Language,
		PublishDate: draft.PublishDate,
		Status:      draft.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for slot, u := range urls {
		a.SetImageURL(slot, &u)
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, &model.PersistenceError{Op: "create", Cause: err}
	}

	s.logger.Info("article created",
		slog.String("article_id", a.ID),
		slog.String("status", string(a.Status)),
		slog.Int("images", len(urls)),
	)
	return a, nil
}

// List は全記事を作成日時の降順で返す。キャッシュは使わない。
func (s *Service) List(ctx context.Context) ([]*model.Article, error) {
	articles, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	return articles, nil
}

// Get は指定IDの記事を返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Article, error) {
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewArticleNotFoundError(id)
	}
	return a, nil
}

// Update は記事を更新する。新しい画像が渡された枠のみ再アップロードし、
// それ以外の枠は既存のURLを維持する。
func (s *Service) Update(ctx context.Context, id string, draft *model.ArticleDraft) (*model.Article, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	urls, err := s.uploadImages(ctx, draft)
	if err != nil {
		return nil, err
	}

	updated := *current
	updated.Title = draft.Title
	updated.Content = draft.Content
	updated.YouTubeLink = draft.YouTubeLink
	updated.Language = draft.Language
	updated.PublishDate = draft.PublishDate
	updated.Status = draft.Status
	updated.UpdatedAt = s.now()
	for slot, u := range urls {
		updated.SetImageURL(slot, &u)
	}

	if err := s.repo.Update(ctx, &updated); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewArticleNotFoundError(id)
		}
		return nil, &model.PersistenceError{Op: "update", Cause: err}
	}

	s.logger.Info("article updated",
		slog.String("article_id", id),
		slog.Int("images", len(urls)),
	)
	return &updated, nil
}

// UpdateStatus は公開状態のみを変更する。
// 現在と同じ状態が指定された場合は書き込みを行わずに現在の記事を返す。
func (s *Service) UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Article, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}

	updated, err := s.repo.UpdateStatus(ctx, id, status, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewArticleNotFoundError(id)
		}
		return nil, &model.PersistenceError{Op: "update status of", Cause: err}
	}

	s.logger.Info("article status changed",
		slog.String("article_id", id),
		slog.String("from", string(current.Status)),
		slog.String("to", string(status)),
	)
	return updated, nil
}

// Delete は記事レコードを削除する。アップロード済みの画像は削除しない。
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewArticleNotFoundError(id)
		}
		return &model.PersistenceError{Op: "delete", Cause: err}
	}
	s.logger.Info("article deleted", slog.String("article_id", id))
	return nil
}

// uploadImages は添付された枠の画像を並行してアップロードする。
// 1つでも失敗した場合はURLを返さない。
func (s *Service) uploadImages(ctx context.Context, draft *model.ArticleDraft) (map[model.Slot]string, error) {
	trace := ContextTrace(ctx)

	slots := model.Slots()
	results := make([]string, len(slots))

	g, gctx := errgroup.WithContext(ctx)
	for i, slot := range slots {
		att := draft.Image(slot)
		if att == nil {
			continue
		}
		g.Go(func() error {
			u, err := s.uploader.Upload(gctx, att, slot)
			if err != nil {
				var upErr *model.UploadError
				if errors.As(err, &upErr) {
					return err
				}
				return &model.UploadError{Slot: slot, Cause: err}
			}
			results[i] = u
			trace.imageUploaded(slot, u)
			return nil
		})
	}
	err := g.Wait()
	trace.uploadsSettled(err)
	if err != nil {
		return nil, err
	}

	urls := make(map[model.Slot]string)
	for i, slot := range slots {
		if results[i] != "" {
			urls[slot] = results[i]
		}
	}
	return urls, nil
}

// compile-time interface check
var _ Articles = (*Service)(nil)
