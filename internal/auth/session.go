package auth

import (
	"context"

	"github.com/hitoshi/articledesk/internal/model"
)

// BoundSession は1つのアクセストークンに束縛された認証バックエンドの見え方。
// gate.Sessionを満たす。
type BoundSession struct {
	backend *Backend
	token   string
}

// Bind はbackendとtokenを束ねたBoundSessionを返す。tokenが空の場合は匿名として振る舞う。
func Bind(backend *Backend, token string) *BoundSession {
	return &BoundSession{backend: backend, token: token}
}

// Current は現在の利用者を返す。サインインしていない場合はnil。
func (s *BoundSession) Current(ctx context.Context) (*model.Principal, error) {
	return s.backend.GetSession(ctx, s.token)
}

// Subscribe はセッションの変更通知を購読する。
func (s *BoundSession) Subscribe(fn func(*model.Principal)) func() {
	return s.backend.OnSessionChange(s.token, fn)
}

// SignOut はセッションを破棄する。
func (s *BoundSession) SignOut(ctx context.Context) error {
	return s.backend.SignOut(ctx, s.token)
}

// Token は束縛しているアクセストークンを返す。
func (s *BoundSession) Token() string {
	return s.token
}
