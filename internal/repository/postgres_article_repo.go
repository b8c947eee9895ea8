package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/articledesk/internal/model"
)

const articleColumns = `id, title, content, youtube_link, language, publish_date, status,
	thumbnail_url, main_image_url, created_at, updated_at`

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(s rowScanner) (*model.Article, error) {
	a := &model.Article{}
	var youtube, thumb, main sql.NullString
	var language, status string
	err := s.Scan(
		&a.ID, &a.Title, &a.Content, &youtube, &language, &a.PublishDate, &status,
		&thumb, &main, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.YouTubeLink = nullStringValue(youtube)
	a.Language = model.Language(language)
	a.Status = model.Status(status)
	a.ThumbnailURL = nullStringPtr(thumb)
	a.MainImageURL = nullStringPtr(main)
	return a, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	a, err := scanArticle(r.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find article by ID: %w", err)
	}
	return a, nil
}

// List は全記事をcreated_at降順で返す。
func (r *PostgresArticleRepo) List(ctx context.Context) ([]*model.Article, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+articleColumns+` FROM articles ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	defer rows.Close()

	articles := make([]*model.Article, 0)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate articles: %w", err)
	}
	return articles, nil
}

// Create は記事を作成し、DBが採番したIDを書き戻す。
func (r *PostgresArticleRepo) Create(ctx context.Context, a *model.Article) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO articles (title, content, youtube_link, language, publish_date, status,
		                       thumbnail_url, main_image_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		a.Title, a.Content, nullString(a.YouTubeLink), string(a.Language), dateValue(a.PublishDate),
		string(a.Status), ptrNullString(a.ThumbnailURL), ptrNullString(a.MainImageURL),
		a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}
	return nil
}

// Update は記事の本文・画像URL・公開状態を上書き更新する。created_atは変更しない。
func (r *PostgresArticleRepo) Update(ctx context.Context, a *model.Article) error {
	if _, err := uuid.Parse(a.ID); err != nil {
		return ErrNotFound
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE articles
		 SET title = $2, content = $3, youtube_link = $4, language = $5, publish_date = $6,
		     status = $7, thumbnail_url = $8, main_image_url = $9, updated_at = $10
		 WHERE id = $1`,
		a.ID, a.Title, a.Content, nullString(a.YouTubeLink), string(a.Language), dateValue(a.PublishDate),
		string(a.Status), ptrNullString(a.ThumbnailURL), ptrNullString(a.MainImageURL), a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update article: %w", err)
	}
	return requireAffected(result)
}

// UpdateStatus は公開状態のみを更新し、更新後の記事を返す。
func (r *PostgresArticleRepo) UpdateStatus(ctx context.Context, id string, status model.Status, updatedAt time.Time) (*model.Article, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	a, err := scanArticle(r.db.QueryRowContext(ctx,
		`UPDATE articles SET status = $2, updated_at = $3
		 WHERE id = $1
		 RETURNING `+articleColumns,
		id, string(status), updatedAt,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update article status: %w", err)
	}
	return a, nil
}

// DeleteByID は指定IDの記事を削除する。
func (r *PostgresArticleRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete article: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// nullString は空文字をNULLとして扱うsql.NullStringを返す。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func ptrNullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// dateValue はpublish_date用に日付部分のみの文字列を返す。
func dateValue(t time.Time) string {
	return t.Format(model.DateLayout)
}

// compile-time interface check
var _ ArticleRepository = (*PostgresArticleRepo)(nil)
