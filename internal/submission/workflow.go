// Package submission は記事フォームの投稿処理（検証・画像アップロード・保存）を提供する。
package submission

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/articledesk/internal/article"
	"github.com/hitoshi/articledesk/internal/model"
)

// State は投稿処理の状態。
type State string

const (
	StateIdle             State = "idle"
	StateValidating       State = "validating"
	StateUploadingImages  State = "uploading_images"
	StatePersistingRecord State = "persisting_record"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// 進捗の目安（%）
const (
	progressStarted   = 10
	progressValidated = 20
	progressUploaded  = 70
	progressPersist   = 80
	progressDone      = 100
)

// Form はフォームから受け取った未検証の入力値。
type Form struct {
	Title       string
	Content     string
	YouTubeLink string
	Language    string
	PublishDate string
	Status      string
	Images      map[model.Slot]*model.Attachment
}

// Recorder は投稿結果を記録するインターフェース。metrics.Collectorが実装する。
type Recorder interface {
	RecordSubmission(kind, outcome string)
}

// Workflow は1回の投稿を処理する状態機械。投稿ごとに生成する。
type Workflow struct {
	articles     article.Articles
	maxImageSize int64
	now          func() time.Time
	logger       *slog.Logger
	recorder     Recorder
	onProgress   func(percent int)

	mu    sync.Mutex
	state State
	err   error

	// pmu は進捗の更新と通知の順序を揃える
	pmu      sync.Mutex
	progress atomic.Int32
}

// Option はWorkflowの設定関数。
type Option func(*Workflow)

// WithMaxImageSize は添付画像のサイズ上限を設定する。
func WithMaxImageSize(n int64) Option {
	return func(w *Workflow) {
		if n > 0 {
			w.maxImageSize = n
		}
	}
}

// WithClock は公開日の既定値に使う時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithRecorder は投稿結果の記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(w *Workflow) { w.recorder = r }
}

// WithProgress は進捗の通知先を設定する。値は単調増加し、表示の目安にのみ使う。
func WithProgress(fn func(percent int)) Option {
	return func(w *Workflow) { w.onProgress = fn }
}

// New はWorkflowを生成する。articlesにはgate.Guardで保護したものを渡す。
func New(articles article.Articles, logger *slog.Logger, opts ...Option) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Workflow{
		articles:     articles,
		maxImageSize: DefaultMaxImageSize,
		now:          time.Now,
		logger:       logger,
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State は現在の状態を返す。
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err は直前の投稿で保持しているエラーを返す。
func (w *Workflow) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Progress は現在の進捗（%）を返す。
func (w *Workflow) Progress() int {
	return int(w.progress.Load())
}

// Create は新規記事として投稿する。
func (w *Workflow) Create(ctx context.Context, form Form) (*model.Article, error) {
	return w.run(ctx, "create", form, func(ctx context.Context, d *model.ArticleDraft) (*model.Article, error) {
		return w.articles.Create(ctx, d)
	})
}

// Update は既存記事の更新として投稿する。画像が添付されていない枠は変更しない。
func (w *Workflow) Update(ctx context.Context, id string, form Form) (*model.Article, error) {
	return w.run(ctx, "update", form, func(ctx context.Context, d *model.ArticleDraft) (*model.Article, error) {
		return w.articles.Update(ctx, id, d)
	})
}

type persistFunc func(ctx context.Context, d *model.ArticleDraft) (*model.Article, error)

func (w *Workflow) run(ctx context.Context, kind string, form Form, persist persistFunc) (*model.Article, error) {
	w.mu.Lock()
	if w.state != StateIdle && w.state != StateDone {
		w.mu.Unlock()
		return nil, errors.New("submission already in progress")
	}
	w.state = StateValidating
	w.err = nil
	w.mu.Unlock()
	w.progress.Store(0)
	w.advance(progressStarted)

	draft, verr := w.validate(form)
	if verr != nil {
		w.logger.Info("article submission rejected by validation",
			slog.String("kind", kind),
			slog.Int("violations", len(verr.Violations)),
		)
		w.settle(StateIdle, verr)
		w.record(kind, "invalid")
		return nil, verr
	}
	w.advance(progressValidated)

	w.setState(StateUploadingImages)
	total := len(draft.Images)
	var mu sync.Mutex
	uploaded := 0
	traced := article.WithTrace(ctx, &article.Trace{
		ImageUploaded: func(model.Slot, string) {
			mu.Lock()
			uploaded++
			n := uploaded
			mu.Unlock()
			w.advance(progressValidated + (progressUploaded-progressValidated)*n/total)
		},
		UploadsSettled: func(err error) {
			if err != nil {
				return
			}
			w.advance(progressUploaded)
			w.setState(StatePersistingRecord)
			w.advance(progressPersist)
		},
	})

	a, err := persist(traced, draft)
	if err != nil {
		w.logger.Warn("article submission failed",
			slog.String("kind", kind),
			slog.String("state", string(w.State())),
			slog.String("error", err.Error()),
		)
		w.setState(StateFailed)
		w.settle(StateIdle, err)
		w.record(kind, "failed")
		return nil, err
	}

	// 添付画像はこの投稿でのみ使い、以後参照しない
	for slot := range form.Images {
		delete(form.Images, slot)
	}

	w.advance(progressDone)
	w.settle(StateDone, nil)
	w.record(kind, "done")
	return a, nil
}

// validate は全ての入力項目を検証し、違反をまとめて返す。
func (w *Workflow) validate(form Form) (*model.ArticleDraft, *model.ValidationError) {
	verr := &model.ValidationError{}

	d := &model.ArticleDraft{
		Title:       strings.TrimSpace(form.Title),
		Content:     strings.TrimSpace(form.Content),
		YouTubeLink: strings.TrimSpace(form.YouTubeLink),
		Language:    model.LanguageEnglish,
		Status:      model.StatusDraft,
		Images:      make(map[model.Slot]*model.Attachment),
	}

	if d.Title == "" {
		verr.Add("title", "Title is required")
	}
	if d.Content == "" {
		verr.Add("content", "Content is required")
	}

	if s := strings.TrimSpace(form.Language); s != "" {
		lang, err := model.ParseLanguage(s)
		if err != nil {
			verr.Add("language", "Language must be english or urdu")
		}
		d.Language = lang
	}
	if s := strings.TrimSpace(form.Status); s != "" {
		st, err := model.ParseStatus(s)
		if err != nil {
			verr.Add("status", "Status must be draft or published")
		}
		d.Status = st
	}

	if s := strings.TrimSpace(form.PublishDate); s != "" {
		date, err := time.Parse(model.DateLayout, s)
		if err != nil {
			verr.Add("publish_date", "Publish date must be YYYY-MM-DD")
		}
		d.PublishDate = date
	} else {
		y, m, day := w.now().UTC().Date()
		d.PublishDate = time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	}

	for _, slot := range model.Slots() {
		att := form.Images[slot]
		if att == nil {
			continue
		}
		if msg := checkImage(att, w.maxImageSize); msg != "" {
			verr.Add(string(slot), msg)
			continue
		}
		d.Images[slot] = att
	}

	if !verr.Empty() {
		return nil, verr
	}
	return d, nil
}

func (w *Workflow) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// settle は処理を終えて最終状態とエラーを保持する。
func (w *Workflow) settle(s State, err error) {
	w.mu.Lock()
	w.state = s
	w.err = err
	w.mu.Unlock()
}

// advance は進捗を進める。現在値以下の値は無視する。
func (w *Workflow) advance(p int) {
	w.pmu.Lock()
	defer w.pmu.Unlock()
	if int32(p) <= w.progress.Load() {
		return
	}
	w.progress.Store(int32(p))
	if w.onProgress != nil {
		w.onProgress(p)
	}
}

func (w *Workflow) record(kind, outcome string) {
	if w.recorder != nil {
		w.recorder.RecordSubmission(kind, outcome)
	}
}
