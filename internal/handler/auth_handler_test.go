package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/articledesk/internal/auth"
	"github.com/hitoshi/articledesk/internal/gate"
	"github.com/hitoshi/articledesk/internal/middleware"
	"github.com/hitoshi/articledesk/internal/model"
)

// --- モック ---

// mockAuthBackend はAuthBackendのモック実装。
type mockAuthBackend struct {
	hasProviderFn        func(name string) bool
	signInWithPasswordFn func(ctx context.Context, email, password string) (*auth.SignIn, error)
	signInWithOAuthFn    func(provider, state string) (string, error)
	completeOAuthFn      func(ctx context.Context, provider, code string) (*auth.SignIn, error)
	signOutFn            func(ctx context.Context, token string) error
}

func (m *mockAuthBackend) HasProvider(name string) bool {
	if m.hasProviderFn != nil {
		return m.hasProviderFn(name)
	}
	return false
}

func (m *mockAuthBackend) SignInWithPassword(ctx context.Context, email, password string) (*auth.SignIn, error) {
	if m.signInWithPasswordFn != nil {
		return m.signInWithPasswordFn(ctx, email, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthBackend) SignInWithOAuth(provider, state string) (string, error) {
	if m.signInWithOAuthFn != nil {
		return m.signInWithOAuthFn(provider, state)
	}
	return "", errors.New("not configured")
}

func (m *mockAuthBackend) CompleteOAuth(ctx context.Context, provider, code string) (*auth.SignIn, error) {
	if m.completeOAuthFn != nil {
		return m.completeOAuthFn(ctx, provider, code)
	}
	return nil, errors.New("not configured")
}

func (m *mockAuthBackend) SignOut(ctx context.Context, token string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, token)
	}
	return nil
}

// --- ヘルパー ---

// sessionBinder はトークン→セッションの対応表からSessionBinderを作る。未登録のトークンは匿名。
func sessionBinder(m map[string]*mockSession) middleware.SessionBinder {
	return func(token string) gate.Session {
		if s, ok := m[token]; ok {
			return s
		}
		return &mockSession{}
	}
}

func newTestAuthHandler(backend AuthBackend, sessions map[string]*mockSession) *AuthHandler {
	return NewAuthHandler(backend, sessionBinder(sessions), AuthHandlerConfig{
		BaseURL:   "http://localhost:3000",
		AllowList: testAllow,
	}, nil)
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func googleEnabled(name string) bool { return name == auth.ProviderGoogle }

// --- テスト ---

// TestLogin_AllowListed_SetsSessionCookie はログイン成功時にセッションCookieが設定されることを検証する。
func TestLogin_AllowListed_SetsSessionCookie(t *testing.T) {
	backend := &mockAuthBackend{
		signInWithPasswordFn: func(_ context.Context, email, password string) (*auth.SignIn, error) {
			if email != "editor@example.com" || password != "correct horse" {
				t.Errorf("credentials = %q / %q", email, password)
			}
			return &auth.SignIn{
				Token:     "tok-1",
				Principal: editorSession().principal,
				ExpiresAt: time.Now().Add(time.Hour),
			}, nil
		},
	}
	h := newTestAuthHandler(backend, map[string]*mockSession{"tok-1": editorSession()})

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"editor@example.com","password":"correct horse"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	c := findCookie(w, middleware.SessionCookieName)
	if c == nil || c.Value != "tok-1" {
		t.Fatalf("session cookie = %+v", c)
	}
	if !c.HttpOnly || c.MaxAge <= 0 {
		t.Errorf("cookie attributes = %+v", c)
	}
	if got := decodeJSON[principalResponse](t, w); got.Email != "editor@example.com" || got.ID != "user-1" {
		t.Errorf("principal = %+v", got)
	}
}

// TestLogin_NotAllowListed_Returns403WithoutCookie は許可リスト外のアカウントにCookieを発行しないことを検証する。
func TestLogin_NotAllowListed_Returns403WithoutCookie(t *testing.T) {
	stranger := &mockSession{principal: &model.Principal{UserID: "user-2", Email: "stranger@example.com"}}
	backend := &mockAuthBackend{
		signInWithPasswordFn: func(context.Context, string, string) (*auth.SignIn, error) {
			return &auth.SignIn{Token: "tok-2", Principal: stranger.principal, ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	h := newTestAuthHandler(backend, map[string]*mockSession{"tok-2": stranger})

	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"stranger@example.com","password":"pw"}`)))

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if c := findCookie(w, middleware.SessionCookieName); c != nil {
		t.Errorf("session cookie should not be set: %+v", c)
	}
	if body := decodeJSON[middleware.ErrorResponseBody](t, w); body.Code != model.ErrCodeEmailNotAllowed {
		t.Errorf("code = %q", body.Code)
	}
	if stranger.signOuts != 1 {
		t.Errorf("signOuts = %d, want 1", stranger.signOuts)
	}
}

// TestLogin_InvalidCredentials_Returns401 は認証情報の誤りで401を返すことを検証する。
func TestLogin_InvalidCredentials_Returns401(t *testing.T) {
	h := newTestAuthHandler(&mockAuthBackend{}, nil)

	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"editor@example.com","password":"wrong"}`)))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body := decodeJSON[middleware.ErrorResponseBody](t, w); body.Code != model.ErrCodeInvalidCredential {
		t.Errorf("code = %q", body.Code)
	}
}

// TestLogin_MalformedBody_Returns400 は不正なJSONで400を返すことを検証する。
func TestLogin_MalformedBody_Returns400(t *testing.T) {
	h := newTestAuthHandler(&mockAuthBackend{}, nil)
	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// TestGoogleLogin_RedirectsWithState はGoogle認可画面へstate付きでリダイレクトすることを検証する。
func TestGoogleLogin_RedirectsWithState(t *testing.T) {
	var gotState string
	backend := &mockAuthBackend{
		hasProviderFn: googleEnabled,
		signInWithOAuthFn: func(provider, state string) (string, error) {
			gotState = state
			return "https://accounts.google.com/o/oauth2/auth?state=" + state, nil
		},
	}
	h := newTestAuthHandler(backend, nil)

	w := httptest.NewRecorder()
	h.GoogleLogin(w, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", w.Code)
	}
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "https://accounts.google.com/") {
		t.Errorf("Location = %q", loc)
	}
	c := findCookie(w, oauthStateCookie)
	if c == nil || c.Value == "" || c.Value != gotState {
		t.Errorf("state cookie = %+v, state = %q", c, gotState)
	}
}

// TestGoogleLogin_ProviderDisabled_Returns404 はプロバイダー未設定時に404を返すことを検証する。
func TestGoogleLogin_ProviderDisabled_Returns404(t *testing.T) {
	h := newTestAuthHandler(&mockAuthBackend{}, nil)
	w := httptest.NewRecorder()
	h.GoogleLogin(w, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// TestGoogleCallback はコールバックの各分岐を検証する。
func TestGoogleCallback(t *testing.T) {
	stranger := &mockSession{principal: &model.Principal{UserID: "user-2", Email: "stranger@example.com"}}
	sessions := map[string]*mockSession{"tok-ok": editorSession(), "tok-ng": stranger}

	tests := []struct {
		name         string
		query        string
		stateCookie  string
		token        string
		completeErr  error
		wantStatus   int
		wantLocation string
		wantSession  bool
	}{
		{
			name:        "state mismatch",
			query:       "?state=abc&code=c",
			stateCookie: "xyz",
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:         "canceled",
			query:        "?state=abc&error=access_denied",
			stateCookie:  "abc",
			wantStatus:   http.StatusTemporaryRedirect,
			wantLocation: "http://localhost:3000/login?error=OAUTH_CANCELED",
		},
		{
			name:         "exchange failed",
			query:        "?state=abc&code=c",
			stateCookie:  "abc",
			completeErr:  errors.New("token exchange failed"),
			wantStatus:   http.StatusTemporaryRedirect,
			wantLocation: "http://localhost:3000/login?error=OAUTH_FAILED",
		},
		{
			name:         "not allow-listed",
			query:        "?state=abc&code=c",
			stateCookie:  "abc",
			token:        "tok-ng",
			wantStatus:   http.StatusTemporaryRedirect,
			wantLocation: "http://localhost:3000/login?error=EMAIL_NOT_ALLOWED",
		},
		{
			name:         "success",
			query:        "?state=abc&code=c",
			stateCookie:  "abc",
			token:        "tok-ok",
			wantStatus:   http.StatusTemporaryRedirect,
			wantLocation: "http://localhost:3000",
			wantSession:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockAuthBackend{
				hasProviderFn: googleEnabled,
				completeOAuthFn: func(_ context.Context, provider, code string) (*auth.SignIn, error) {
					if tt.completeErr != nil {
						return nil, tt.completeErr
					}
					return &auth.SignIn{
						Token:     tt.token,
						Principal: sessions[tt.token].principal,
						ExpiresAt: time.Now().Add(time.Hour),
					}, nil
				},
			}
			h := newTestAuthHandler(backend, sessions)

			req := httptest.NewRequest(http.MethodGet, "/auth/google/callback"+tt.query, nil)
			req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: tt.stateCookie})
			w := httptest.NewRecorder()
			h.GoogleCallback(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantLocation != "" {
				if loc := w.Header().Get("Location"); loc != tt.wantLocation {
					t.Errorf("Location = %q, want %q", loc, tt.wantLocation)
				}
			}
			c := findCookie(w, middleware.SessionCookieName)
			if tt.wantSession != (c != nil && c.Value == tt.token) {
				t.Errorf("session cookie = %+v, want set = %v", c, tt.wantSession)
			}
		})
	}
}

// TestLogout_ClearsCookie はログアウトでセッションが破棄されCookieが消去されることを検証する。
func TestLogout_ClearsCookie(t *testing.T) {
	var signedOut string
	backend := &mockAuthBackend{
		signOutFn: func(_ context.Context, token string) error {
			signedOut = token
			return nil
		},
	}
	h := newTestAuthHandler(backend, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "tok-1"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if signedOut != "tok-1" {
		t.Errorf("signed out token = %q", signedOut)
	}
	if c := findCookie(w, middleware.SessionCookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("cookie not cleared: %+v", c)
	}
}

// TestLogout_BackendError_StillClearsCookie はセッション破棄に失敗してもCookieを消去することを検証する。
func TestLogout_BackendError_StillClearsCookie(t *testing.T) {
	backend := &mockAuthBackend{
		signOutFn: func(context.Context, string) error { return errors.New("db down") },
	}
	h := newTestAuthHandler(backend, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "tok-1"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if c := findCookie(w, middleware.SessionCookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("cookie not cleared: %+v", c)
	}
}

// TestMe は現在の利用者の返却を検証する。
func TestMe(t *testing.T) {
	sessions := map[string]*mockSession{"tok-1": editorSession()}
	h := newTestAuthHandler(&mockAuthBackend{}, sessions)
	me := middleware.NewSessionMiddleware(sessionBinder(sessions), testAllow, nil)(http.HandlerFunc(h.Me))

	t.Run("signed in", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "tok-1"})
		w := httptest.NewRecorder()
		me.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if got := decodeJSON[principalResponse](t, w); got.Name != "Editor" {
			t.Errorf("principal = %+v", got)
		}
	})

	t.Run("anonymous", func(t *testing.T) {
		w := httptest.NewRecorder()
		me.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("without session middleware", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Me(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}
