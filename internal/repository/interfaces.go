// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/articledesk/internal/model"
)

// ErrNotFound は更新・削除対象のレコードが存在しないことを表す。
var ErrNotFound = errors.New("record not found")

// ArticleRepository は記事データの永続化インターフェース。
type ArticleRepository interface {
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	// UUID形式でないIDも「見つからない」として扱う。
	FindByID(ctx context.Context, id string) (*model.Article, error)

	// List は全記事をcreated_at降順で返す。
	List(ctx context.Context) ([]*model.Article, error)

	// Create は記事を作成する。IDはDBが採番し、articleに書き戻される。
	Create(ctx context.Context, article *model.Article) error

	// Update は記事の本文・画像URL・公開状態を上書き更新する。created_atは変更しない。
	// 対象が存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, article *model.Article) error

	// UpdateStatus は公開状態のみを更新し、更新後の記事を返す。
	// 対象が存在しない場合はErrNotFoundを返す。
	UpdateStatus(ctx context.Context, id string, status model.Status, updatedAt time.Time) (*model.Article, error)

	// DeleteByID は指定IDの記事を削除する。画像Blobは削除しない。
	// 対象が存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile は表示名とアバターURLを更新する。
	UpdateProfile(ctx context.Context, id, name, avatarURL string) error

	// UpdatePasswordHash はパスワードハッシュを更新する。
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create はidentityを作成する。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
