package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/articledesk/internal/auth"
	"github.com/hitoshi/articledesk/internal/gate"
	"github.com/hitoshi/articledesk/internal/middleware"
	"github.com/hitoshi/articledesk/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthBackend は認証ハンドラーが必要とする認証バックエンドのインターフェース。
// auth.Backendが実装する。
type AuthBackend interface {
	HasProvider(name string) bool
	SignInWithPassword(ctx context.Context, email, password string) (*auth.SignIn, error)
	SignInWithOAuth(provider, state string) (string, error)
	CompleteOAuth(ctx context.Context, provider, code string) (*auth.SignIn, error)
	SignOut(ctx context.Context, token string) error
}

// compile-time interface check
var _ AuthBackend = (*auth.Backend)(nil)

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieDomain string
	CookieSecure bool
	AllowList    gate.AllowList
	GateOptions  []gate.Option
}

// AuthHandler はログイン・ログアウト関連のHTTPハンドラー。
// サインイン直後にもGateで判定し、許可リスト外のアカウントにはCookieを発行しない。
type AuthHandler struct {
	backend AuthBackend
	bind    middleware.SessionBinder
	config  AuthHandlerConfig
	logger  *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(backend AuthBackend, bind middleware.SessionBinder, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{backend: backend, bind: bind, config: config, logger: logger}
}

// loginRequest はパスワードログインのリクエストボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}

	signIn, err := h.backend.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	p, err := h.admit(r.Context(), signIn)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	h.setSessionCookie(w, signIn)
	writeJSON(w, http.StatusOK, toPrincipalResponse(p))
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.backend.HasProvider(auth.ProviderGoogle) {
		http.NotFound(w, r)
		return
	}

	state, err := generateState()
	if err != nil {
		h.logger.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	loginURL, err := h.backend.SignInWithOAuth(auth.ProviderGoogle, state)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
// 結果はフロントエンドへのリダイレクトで伝え、失敗時はerrorクエリにエラーコードを付ける。
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.backend.HasProvider(auth.ProviderGoogle) {
		http.NotFound(w, r)
		return
	}

	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		h.logger.Warn("oauth state mismatch")
		writeInvalidRequest(w, "stateパラメータが不正です。")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/google",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectWithError(w, r, "OAUTH_CANCELED")
		return
	}

	signIn, err := h.backend.CompleteOAuth(r.Context(), auth.ProviderGoogle, code)
	if err != nil {
		h.logger.Error("oauth callback failed", slog.String("error", err.Error()))
		h.redirectWithError(w, r, "OAUTH_FAILED")
		return
	}

	if _, err := h.admit(r.Context(), signIn); err != nil {
		_, apiErr := middleware.ClassifyError(err)
		code := "OAUTH_FAILED"
		if apiErr != nil {
			code = apiErr.Code
		}
		h.redirectWithError(w, r, code)
		return
	}

	h.setSessionCookie(w, signIn)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.SessionToken(r); token != "" {
		if err := h.backend.SignOut(r.Context(), token); err != nil {
			// 失敗してもCookieはクリアする
			h.logger.Error("failed to sign out", slog.String("error", err.Error()))
		}
	}
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。セッションミドルウェアのGateで判定する。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	g, ok := middleware.GateFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, model.NewNotSignedInError())
		return
	}
	p, err := g.Await(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPrincipalResponse(p))
}

// admit は発行されたセッションをGateで判定する。
// 許可リスト外の場合はGateがセッションを終了させ、EMAIL_NOT_ALLOWEDを返す。
func (h *AuthHandler) admit(ctx context.Context, signIn *auth.SignIn) (*model.Principal, error) {
	g := gate.New(h.bind(signIn.Token), h.config.AllowList, h.logger, h.config.GateOptions...)
	g.Start(ctx)
	defer g.Stop()
	return g.Await(ctx)
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, signIn *auth.SignIn) {
	maxAge := int(time.Until(signIn.ExpiresAt).Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    signIn.Token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   max(maxAge, 1),
		Expires:  signIn.ExpiresAt,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, code string) {
	target := strings.TrimRight(h.config.BaseURL, "/") + "/login?error=" + url.QueryEscape(code)
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
