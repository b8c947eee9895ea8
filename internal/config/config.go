package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string        `env:"DATABASE_URL,required,notEmpty"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// OAuth（未設定の場合はGoogleログインを無効化する）
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	// Session
	SessionSecret          string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionMaxAge          int           `env:"SESSION_MAX_AGE" envDefault:"86400"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`

	// Worker
	WorkerMetricsPort string `env:"WORKER_METRICS_PORT" envDefault:"9090"`

	// Authorization
	AllowedEmails []string `env:"ALLOWED_EMAILS,required,notEmpty" envSeparator:","`

	// Media
	MediaDir       string `env:"MEDIA_DIR" envDefault:"./data/media"`
	MediaBucket    string `env:"MEDIA_BUCKET" envDefault:"article-images"`
	MediaPublicURL string `env:"MEDIA_PUBLIC_URL"`
	MaxImageSize   int64  `env:"MAX_IMAGE_SIZE" envDefault:"2097152"`

	// Cache（REDIS_URL未設定の場合はプロセス内キャッシュ）
	RedisURL    string `env:"REDIS_URL"`
	CachePrefix string `env:"CACHE_PREFIX" envDefault:"articledesk:"`
	CacheKey    string `env:"CACHE_KEY" envDefault:"articles"`

	// Rate Limit
	RateLimitGeneral    int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitSubmission int `env:"RATE_LIMIT_SUBMISSION" envDefault:"20"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// GoogleEnabled はGoogle OAuthの設定が揃っている場合にtrueを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// UseRedisCache はRedisキャッシュが設定されている場合にtrueを返す。
func (c *Config) UseRedisCache() bool {
	return c.RedisURL != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		var aggErr env.AggregateError
		if errors.As(err, &aggErr) {
			if missing := missingVars(aggErr); len(missing) > 0 {
				return nil, fmt.Errorf("required environment variables are not set: %v", missing)
			}
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.AllowedEmails = normalizeEmails(cfg.AllowedEmails)
	if len(cfg.AllowedEmails) == 0 {
		return nil, fmt.Errorf("required environment variables are not set: [ALLOWED_EMAILS]")
	}

	if cfg.MaxImageSize <= 0 {
		return nil, fmt.Errorf("MAX_IMAGE_SIZE must be positive, got %d", cfg.MaxImageSize)
	}
	if cfg.MediaPublicURL == "" {
		cfg.MediaPublicURL = strings.TrimRight(cfg.BaseURL, "/") + "/media"
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

// LoadDotEnv はカレントディレクトリの.envを読み込む。ファイルが無い場合は何もしない。
// 既に設定済みの環境変数は上書きしない。
func LoadDotEnv(filenames ...string) {
	_ = godotenv.Load(filenames...)
}

func missingVars(aggErr env.AggregateError) []string {
	var missing []string
	for _, e := range aggErr.Errors {
		var req env.VarIsNotSetError
		if errors.As(e, &req) {
			missing = append(missing, req.Key)
			continue
		}
		var empty env.EmptyVarError
		if errors.As(e, &empty) {
			missing = append(missing, empty.Key)
		}
	}
	return missing
}

func normalizeEmails(in []string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
