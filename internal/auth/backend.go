// Package auth はパスワード認証・OAuth認証とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/articledesk/internal/model"
	"github.com/hitoshi/articledesk/internal/repository"
)

// ErrUnknownProvider は登録されていないOAuthプロバイダーが指定されたことを表す。
var ErrUnknownProvider = errors.New("unknown oauth provider")

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// Name はプロバイダー名（"google" 等）を返す。
	Name() string
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// Config は認証バックエンドの設定。
type Config struct {
	Secret        string        // アクセストークンの署名鍵
	SessionMaxAge time.Duration // セッション有効期間
}

// SignIn はサインイン成功時の結果。
type SignIn struct {
	Token     string
	Principal *model.Principal
	ExpiresAt time.Time
}

// Backend は認証バックエンド。
// アクセストークン（JWT）はsessionsテーブルの行に紐付き、行の削除で失効する。
type Backend struct {
	users      repository.UserRepository
	identities repository.IdentityRepository
	sessions   repository.SessionRepository
	providers  map[string]OAuthProvider
	signer     *tokenSigner
	notifier   *notifier
	maxAge     time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// BackendOption はBackendの設定関数。
type BackendOption func(*Backend)

// WithProvider はOAuthプロバイダーを登録する。
func WithProvider(p OAuthProvider) BackendOption {
	return func(b *Backend) { b.providers[p.Name()] = p }
}

// WithBackendClock は現在時刻の取得関数を差し替える。
func WithBackendClock(now func() time.Time) BackendOption {
	return func(b *Backend) { b.now = now }
}

// NewBackend はBackendを生成する。
func NewBackend(
	users repository.UserRepository,
	identities repository.IdentityRepository,
	sessions repository.SessionRepository,
	cfg Config,
	logger *slog.Logger,
	opts ...BackendOption,
) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionMaxAge <= 0 {
		cfg.SessionMaxAge = 24 * time.Hour
	}
	b := &Backend{
		users:      users,
		identities: identities,
		sessions:   sessions,
		providers:  make(map[string]OAuthProvider),
		signer:     newTokenSigner(cfg.Secret),
		notifier:   newNotifier(),
		maxAge:     cfg.SessionMaxAge,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// HasProvider は指定プロバイダーが登録されているかを返す。
func (b *Backend) HasProvider(name string) bool {
	_, ok := b.providers[name]
	return ok
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
// 不一致の場合はどちらが誤っているかを区別しない。
func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) (*SignIn, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	user, err := b.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := CheckPassword(password, user.PasswordHash)
	if err != nil {
		b.logger.Warn("stored password hash is unreadable",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInvalidCredentialsError()
	}
	if !ok {
		return nil, model.NewInvalidCredentialsError()
	}

	return b.startSession(ctx, user, "password")
}

// SignInWithOAuth はOAuthプロバイダーの認証画面へのURLを返す。
func (b *Backend) SignInWithOAuth(provider, state string) (string, error) {
	p, ok := b.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return p.GetLoginURL(state), nil
}

// CompleteOAuth はOAuthコールバックの認可コードを受け取り、サインインを完了する。
// 未登録のidentityの場合、同じメールアドレスのユーザーがいれば紐付け、
// いなければユーザーとidentityを同時に作成する。
func (b *Backend) CompleteOAuth(ctx context.Context, provider, code string) (*SignIn, error) {
	p, ok := b.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	info, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	user, err := b.resolveOAuthUser(ctx, info)
	if err != nil {
		return nil, err
	}

	return b.startSession(ctx, user, info.Provider)
}

func (b *Backend) resolveOAuthUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	identity, err := b.identities.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	now := b.now()

	if identity != nil {
		user, err := b.users.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, model.NewUserNotFoundError()
		}
		if user.Name != info.Name || user.AvatarURL != info.AvatarURL {
			if err := b.users.UpdateProfile(ctx, user.ID, info.Name, info.AvatarURL); err != nil {
				return nil, fmt.Errorf("failed to update profile: %w", err)
			}
			user.Name, user.AvatarURL = info.Name, info.AvatarURL
		}
		return user, nil
	}

	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	existing, err := b.users.FindByEmail(ctx, normalizeEmail(info.Email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		newIdentity.UserID = existing.ID
		if err := b.identities.Create(ctx, newIdentity); err != nil {
			return nil, fmt.Errorf("failed to link identity: %w", err)
		}
		b.logger.Info("identity linked to existing user",
			slog.String("user_id", existing.ID),
			slog.String("provider", info.Provider),
		)
		return existing, nil
	}

	user := &model.User{
		ID:        uuid.New().String(),
		Email:     normalizeEmail(info.Email),
		Name:      info.Name,
		AvatarURL: info.AvatarURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newIdentity.UserID = user.ID
	if err := b.users.CreateWithIdentity(ctx, user, newIdentity); err != nil {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}
	b.logger.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user, nil
}

// GetSession はアクセストークンに対応する利用者を返す。
// トークンが無効、またはセッションが失効している場合はnilを返す。
func (b *Backend) GetSession(ctx context.Context, token string) (*model.Principal, error) {
	if token == "" {
		return nil, nil
	}
	claims, err := b.signer.parse(token, b.now())
	if err != nil {
		return nil, nil
	}

	session, err := b.sessions.FindByID(ctx, claims.Sid)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.UserID != claims.Subject || !session.ExpiresAt.After(b.now()) {
		return nil, nil
	}

	user, err := b.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil
	}
	return principalOf(user), nil
}

// OnSessionChange はトークンに対応するセッションの変更通知を購読する。
// 無効なトークンでも購読はでき、その場合は通知が届かない。
func (b *Backend) OnSessionChange(token string, fn ChangeFunc) func() {
	var sid, uid string
	if claims, err := b.signer.parse(token, b.now()); err == nil {
		sid, uid = claims.Sid, claims.Subject
	}
	if sid == "" {
		return func() {}
	}
	return b.notifier.subscribe(sid, uid, fn)
}

// SignOut はトークンに対応するセッションを破棄し、購読者に通知する。
// 無効なトークンの場合は何もしない。
func (b *Backend) SignOut(ctx context.Context, token string) error {
	claims, err := b.signer.parse(token, b.now())
	if err != nil {
		return nil
	}
	if err := b.sessions.DeleteByID(ctx, claims.Sid); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	b.logger.Info("session signed out", slog.String("user_id", claims.Subject))
	b.notifier.publishSession(claims.Sid, nil)
	return nil
}

// EnsureOperator はパスワードでサインインできるオペレーターを作成する。
// 既に存在する場合はパスワードを再設定し、既存のセッションを全て破棄する。
func (b *Backend) EnsureOperator(ctx context.Context, email, password, name string) (*model.User, bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, false, errors.New("email is required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, false, err
	}

	existing, err := b.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		if err := b.users.UpdatePasswordHash(ctx, existing.ID, hash); err != nil {
			return nil, false, fmt.Errorf("failed to update password: %w", err)
		}
		if err := b.sessions.DeleteByUserID(ctx, existing.ID); err != nil {
			return nil, false, fmt.Errorf("failed to revoke sessions: %w", err)
		}
		b.notifier.publishUser(existing.ID, nil)
		existing.PasswordHash = hash
		return existing, false, nil
	}

	now := b.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := b.users.Create(ctx, user); err != nil {
		return nil, false, fmt.Errorf("failed to create operator: %w", err)
	}
	return user, true, nil
}

// startSession はセッション行を作成し、それに紐付くアクセストークンを発行する。
func (b *Backend) startSession(ctx context.Context, user *model.User, method string) (*SignIn, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := b.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    user.ID,
		ExpiresAt: now.Add(b.maxAge),
		CreatedAt: now,
	}
	if err := b.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	token, err := b.signer.issue(user.ID, user.Email, session.ID, now, session.ExpiresAt)
	if err != nil {
		return nil, err
	}

	b.logger.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.String("method", method),
	)
	return &SignIn{Token: token, Principal: principalOf(user), ExpiresAt: session.ExpiresAt}, nil
}

// SubscriberCount は現在の購読数を返す。
func (b *Backend) SubscriberCount() int {
	return b.notifier.count()
}

func principalOf(u *model.User) *model.Principal {
	return &model.Principal{
		UserID:    u.ID,
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
