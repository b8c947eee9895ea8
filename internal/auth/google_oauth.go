package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

	// ProviderGoogle はGoogleプロバイダーの名前。
	ProviderGoogle = "google"

	// エラー本文はログに載せるだけなので先頭だけ読む
	maxGoogleErrorBody = 4 << 10
)

// GoogleOAuthConfig は編集者のGoogleサインインに使う設定。
// AuthURL, TokenURL, UserInfoURL は空なら本番のエンドポイントになる。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// HTTPClient が nil の場合はタイムアウト10秒のクライアントを使う
	HTTPClient *http.Client
}

// GoogleOAuthProvider はGoogleアカウントで編集者を識別する。
// 記事の編集権限は返したメールアドレスと許可リストの照合で決まる。
type GoogleOAuthProvider struct {
	cfg    GoogleOAuthConfig
	client *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(cfg GoogleOAuthConfig) *GoogleOAuthProvider {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultGoogleAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultGoogleTokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultGoogleUserInfoURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleOAuthProvider{cfg: cfg, client: client}
}

// Name はプロバイダー名を返す。
func (p *GoogleOAuthProvider) Name() string {
	return ProviderGoogle
}

// GetLoginURL はサインイン開始時のリダイレクト先を返す。
// 編集部の共用端末では別アカウントが残っていることがあるため、毎回アカウント選択画面を出す。
// リフレッシュトークンは使わないのでoffline accessは要求しない。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	q := url.Values{}
	q.Set("client_id", p.cfg.ClientID)
	q.Set("redirect_uri", p.cfg.RedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	q.Set("prompt", "select_account")
	return p.cfg.AuthURL + "?" + q.Encode()
}

type googleToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type googleProfile struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// ExchangeCode はコールバックで受け取った認可コードから編集者のプロフィールを得る。
// 確認済みのメールアドレスがないアカウントはサインインさせない。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	token, err := p.requestToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	profile, err := p.requestProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	if profile.Email == "" || !profile.EmailVerified {
		return nil, errors.New("google account has no verified email")
	}

	return &OAuthUserInfo{
		ProviderUserID: profile.Sub,
		Email:          profile.Email,
		Name:           profile.Name,
		AvatarURL:      profile.Picture,
		Provider:       ProviderGoogle,
	}, nil
}

func (p *GoogleOAuthProvider) requestToken(ctx context.Context, code string) (*googleToken, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", p.cfg.RedirectURL)
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token googleToken
	if err := p.doJSON(req, &token); err != nil {
		return nil, fmt.Errorf("token endpoint: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("token endpoint returned no access token")
	}
	return &token, nil
}

func (p *GoogleOAuthProvider) requestProfile(ctx context.Context, accessToken string) (*googleProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var profile googleProfile
	if err := p.doJSON(req, &profile); err != nil {
		return nil, fmt.Errorf("user info endpoint: %w", err)
	}
	// subがないと編集者アカウントに紐付けられない
	if profile.Sub == "" {
		return nil, errors.New("user info has no subject")
	}
	return &profile, nil
}

// doJSON はリクエストを送り、200のJSONレスポンスをoutに読み込む。
func (p *GoogleOAuthProvider) doJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxGoogleErrorBody))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
