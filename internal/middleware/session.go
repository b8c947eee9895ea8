// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/articledesk/internal/gate"
	"github.com/hitoshi/articledesk/internal/model"
)

// SessionCookieName はアクセストークンを保持するCookieの名前。
const SessionCookieName = "session_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	gateContextKey      = contextKey("gate")
	principalContextKey = contextKey("principal")
)

// SessionBinder はアクセストークンから1セッション分のgate.Sessionを得る関数。
// 本番ではauth.Bindをラップして渡す。
type SessionBinder func(token string) gate.Session

// NewSessionMiddleware はCookieのアクセストークンからリクエスト単位のGateを生成し、
// 判定を開始してコンテキストに格納するミドルウェアを返す。
// Gateはリクエストの終了時に停止する。判定結果による拒否はRequireAuthorizedが行う。
func NewSessionMiddleware(bind SessionBinder, allow gate.AllowList, logger *slog.Logger, opts ...gate.Option) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g := gate.New(bind(SessionToken(r)), allow, logger, opts...)
			g.Start(r.Context())
			defer g.Stop()

			ctx := context.WithValue(r.Context(), gateContextKey, g)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthorized はGateの判定を待ち、許可された利用者のみを通すミドルウェアを返す。
// 未ログインは401、許可リスト外は403を返す。
func RequireAuthorized() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g, ok := GateFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotSignedInError())
				return
			}

			p, err := g.Await(r.Context())
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				WriteError(w, err)
				return
			}

			setLogPrincipal(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
		})
	}
}

// SessionToken はリクエストのCookieからアクセストークンを取得する。無い場合は空文字。
func SessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// GateFromContext はセッションミドルウェアが格納したGateを取得する。
func GateFromContext(ctx context.Context) (*gate.Gate, bool) {
	g, ok := ctx.Value(gateContextKey).(*gate.Gate)
	return g, ok && g != nil
}

// PrincipalFromContext はRequireAuthorizedを通過した利用者を取得する。
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*model.Principal)
	return p, ok && p != nil
}

// ContextWithPrincipal はコンテキストに利用者を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}
