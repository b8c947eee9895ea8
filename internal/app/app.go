package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/articledesk/internal/article"
	"github.com/hitoshi/articledesk/internal/auth"
	"github.com/hitoshi/articledesk/internal/blob"
	"github.com/hitoshi/articledesk/internal/cache"
	"github.com/hitoshi/articledesk/internal/config"
	"github.com/hitoshi/articledesk/internal/database"
	"github.com/hitoshi/articledesk/internal/gate"
	"github.com/hitoshi/articledesk/internal/handler"
	"github.com/hitoshi/articledesk/internal/logger"
	"github.com/hitoshi/articledesk/internal/metrics"
	"github.com/hitoshi/articledesk/internal/middleware"
	"github.com/hitoshi/articledesk/internal/repository"
	"github.com/hitoshi/articledesk/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	// 引数の誤りは設定の読み込みより先に検出する
	var op operatorArgs
	if cmd == CommandOperator {
		var err error
		if op, err = parseOperatorArgs(args[1:]); err != nil {
			return err
		}
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandOperator:
		return runOperator(cfg, op)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL,
		database.WithMaxOpenConns(cfg.DBMaxOpenConns),
		database.WithConnMaxLifetime(cfg.DBConnMaxLifetime),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// newRegistry はアプリケーションのメトリクスとGo/プロセスのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newAuthBackend は認証バックエンドを生成する。Googleの設定が揃っている場合のみOAuthを有効にする。
func newAuthBackend(cfg *config.Config, db *sql.DB) *auth.Backend {
	var opts []auth.BackendOption
	if cfg.GoogleEnabled() {
		opts = append(opts, auth.WithProvider(auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})))
	}
	return auth.NewBackend(
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresIdentityRepo(db),
		repository.NewPostgresSessionRepo(db),
		auth.Config{
			Secret:        cfg.SessionSecret,
			SessionMaxAge: time.Duration(cfg.SessionMaxAge) * time.Second,
		},
		slog.Default(),
		opts...,
	)
}

// newListCache は一覧キャッシュを生成する。REDIS_URLが設定されていればRedisを使う。
// 返り値の関数でキャッシュの接続を閉じる。
func newListCache(cfg *config.Config) (cache.ListCache, func(), error) {
	if !cfg.UseRedisCache() {
		return cache.NewMemoryListCache(), func() {}, nil
	}
	c, err := cache.NewRedisListCache(cache.RedisOptions{
		URL:    cfg.RedisURL,
		Prefix: cfg.CachePrefix,
		Key:    cfg.CacheKey,
	}, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up list cache: %w", err)
	}
	slog.Info("redis list cache enabled")
	return c, func() { c.Close() }, nil
}

// server はserveモードで組み立てた依存関係。
type server struct {
	handler http.Handler
	close   func()
}

// buildServer は全依存関係をワイヤリングし、HTTPハンドラーを構築する。
func buildServer(cfg *config.Config, db *sql.DB) (*server, error) {
	reg, collector := newRegistry()

	// 1. Blobストア
	store, err := blob.NewFileStore(cfg.MediaDir, cfg.MediaBucket, cfg.MediaPublicURL)
	if err != nil {
		return nil, fmt.Errorf("failed to set up blob store: %w", err)
	}
	uploader := blob.NewAdapter(store, slog.Default(), blob.WithRecorder(collector))

	// 2. 記事サービスと一覧キャッシュ
	listCache, closeCache, err := newListCache(cfg)
	if err != nil {
		return nil, err
	}
	svc := article.NewService(repository.NewPostgresArticleRepo(db), uploader, slog.Default())
	catalog := article.NewCatalog(svc, listCache, slog.Default(), collector)

	// 3. 認証
	backend := newAuthBackend(cfg, db)
	binder := func(token string) gate.Session { return auth.Bind(backend, token) }

	// 4. ルーター
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitSubmission))
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		SessionBinder:  binder,
		AllowList:      gate.NewAllowList(cfg.AllowedEmails),
		GateOptions:    []gate.Option{gate.WithRecorder(collector)},
		CORSOrigins:    []string{cfg.CORSAllowedOrigin},
		RateLimiter:    rl,
		CSRFConfig:     middleware.CSRFConfig{CookieSecure: cfg.CookieSecure, CookieDomain: cfg.CookieDomain},
		HSTS:           cfg.CookieSecure,
		StatusRecorder: collector,
		HealthChecker:  db,
		MetricsRoute:   metrics.Handler(reg),
		MediaRoot:      store.Root(),
		AuthBackend:    backend,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
		Articles: handler.NewArticleHandler(catalog, article.NewRenderer(nil), handler.ArticleHandlerConfig{
			MaxImageSize: cfg.MaxImageSize,
			Recorder:     collector,
		}, slog.Default()),
	})

	return &server{
		handler: router,
		close: func() {
			rl.Stop()
			closeCache()
		},
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	srv, err := buildServer(cfg, db)
	if err != nil {
		return err
	}
	defer srv.close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除ジョブを実行し、メトリクスを別ポートで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg, collector := newRegistry()
	job := cleanup.NewSessionPurgeJob(
		repository.NewPostgresSessionRepo(db),
		slog.Default(),
		cleanup.WithRecorder(collector),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()
	defer metricsServer.Close()

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
		slog.String("metrics_addr", metricsServer.Addr),
	)

	// ジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runOperator はパスワードでログインするオペレーターアカウントを作成する。
// 既存のアカウントの場合はパスワードを再設定する。
// 許可リストに含まれないアドレスでも作成はできるが、ログインはGateで拒否される。
func runOperator(cfg *config.Config, op operatorArgs) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	backend := newAuthBackend(cfg, db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	u, created, err := backend.EnsureOperator(ctx, op.email, op.password, op.name)
	if err != nil {
		return fmt.Errorf("failed to ensure operator: %w", err)
	}

	if !gate.NewAllowList(cfg.AllowedEmails).Allows(u.Email) {
		slog.Warn("operator email is not in ALLOWED_EMAILS; sign-in will be rejected",
			slog.String("email", u.Email),
		)
	}
	slog.Info("operator account ready",
		slog.String("user_id", u.ID),
		slog.String("email", u.Email),
		slog.Bool("created", created),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
