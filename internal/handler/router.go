package handler

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/articledesk/internal/gate"
	"github.com/hitoshi/articledesk/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通を確認する依存先。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	SessionBinder  middleware.SessionBinder
	AllowList      gate.AllowList
	GateOptions    []gate.Option
	CORSOrigins    []string
	RateLimiter    *middleware.RateLimiter
	CSRFConfig     middleware.CSRFConfig
	HSTS           bool
	StatusRecorder middleware.StatusRecorder

	// 公開エンドポイント
	HealthChecker HealthChecker
	MetricsRoute  http.Handler // /metrics。nilの場合は公開しない
	MediaRoot     string       // /media で配信するディレクトリ。空の場合は公開しない

	// 認証
	AuthBackend AuthBackend
	AuthConfig  AuthHandlerConfig

	// 記事
	Articles *ArticleHandler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → CSRF
//	  → (保護ルート) Session → RequireAuthorized → RateLimit(General)
//
// /auth/* はSessionまでを通し、判定結果による拒否は各ハンドラーが行う。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSOrigins...))

	sessionMW := middleware.NewSessionMiddleware(deps.SessionBinder, deps.AllowList, logger, deps.GateOptions...)
	authConfig := deps.AuthConfig
	authConfig.AllowList = deps.AllowList
	authConfig.GateOptions = deps.GateOptions
	authHandler := NewAuthHandler(deps.AuthBackend, deps.SessionBinder, authConfig, logger)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsRoute != nil {
		r.Handle("/metrics", deps.MetricsRoute)
	}
	if deps.MediaRoot != "" {
		r.Handle("/media/*", http.StripPrefix("/media", mediaHandler(deps.MediaRoot)))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Get("/google/login", authHandler.GoogleLogin)
			r.Get("/google/callback", authHandler.GoogleCallback)
			r.Post("/logout", authHandler.Logout)
			r.With(sessionMW).Get("/me", authHandler.Me)
		})

		// --- 認可が必要なルート ---
		// ミドルウェアスタック: Session → RequireAuthorized → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(sessionMW)
			r.Use(middleware.RequireAuthorized())
			r.Use(deps.RateLimiter.GeneralMiddleware())

			h := deps.Articles
			r.Get("/api/dashboard", h.Dashboard)

			r.Route("/api/articles", func(r chi.Router) {
				r.Get("/", h.ListArticles)
				r.With(deps.RateLimiter.SubmissionMiddleware()).Post("/", h.CreateArticle)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetArticle)
					r.With(deps.RateLimiter.SubmissionMiddleware()).Put("/", h.UpdateArticle)
					r.Delete("/", h.DeleteArticle)
					r.Put("/status", h.UpdateStatus)
					r.Get("/preview", h.PreviewArticle)
				})
			})
		})
	})

	return r
}

// healthHandler はプロセスとDBの疎通を返すハンドラーを生成する。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// mediaHandler はBlobストアのディレクトリを読み取り専用で配信する。
// ディレクトリ一覧と隠しファイル（書き込み途中の一時ファイル）は返さない。
func mediaHandler(root string) http.Handler {
	fs := http.FileServer(http.Dir(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		p := path.Clean("/" + r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/") || strings.HasPrefix(path.Base(p), ".") || p == "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		fs.ServeHTTP(w, r)
	})
}
