package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/postboard/internal/auth"
	"github.com/hitoshi/postboard/internal/config"
	"github.com/hitoshi/postboard/internal/database"
	"github.com/hitoshi/postboard/internal/handler"
	"github.com/hitoshi/postboard/internal/logger"
	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/post"
	"github.com/hitoshi/postboard/internal/repository"
	"github.com/hitoshi/postboard/internal/security"
	"github.com/hitoshi/postboard/internal/session"
	"github.com/hitoshi/postboard/internal/storage"
	"github.com/hitoshi/postboard/internal/user"
	"github.com/hitoshi/postboard/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
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

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_backend", cfg.SessionBackend),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCreateUser:
		return runCreateUser(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{MaxOpenConns: cfg.DBMaxOpenConns})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := database.WaitForConnection(ctx, db, cfg.DBConnectAttempts); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// newSessionStore はSESSION_BACKENDに応じたセッションストアを返す。
// 戻り値のcloseは呼び出し側が終了時に呼ぶ。
func newSessionStore(cfg *config.Config, db *sql.DB) (repository.SessionRepository, func(), error) {
	if cfg.SessionBackend != config.SessionBackendRedis {
		return repository.NewPostgresSessionRepo(db), func() {}, nil
	}

	client, err := repository.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("redis connection established")
	return repository.NewRedisSessionRepo(client), func() { client.Close() }, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	postRepo := repository.NewPostgresPostRepo(db)
	sessionRepo, closeSessions, err := newSessionStore(cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 4. 画像ストア
	images, err := storage.NewS3ImageStore(context.Background(), storage.Config{
		Bucket:       cfg.BlobBucket,
		Region:       cfg.BlobRegion,
		Endpoint:     cfg.BlobEndpoint,
		AccessKey:    cfg.BlobAccessKey,
		SecretKey:    cfg.BlobSecretKey,
		UsePathStyle: cfg.BlobUsePathStyle,
		PublicURL:    cfg.BlobPublicURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize image store: %w", err)
	}

	// 5. ドメインサービスの初期化
	clients := auth.NewOIDCClientFactory(auth.OIDCClientConfig{
		ClientID:        cfg.OIDCClientID,
		ClientSecret:    cfg.OIDCClientSecret,
		Authority:       cfg.OIDCAuthority,
		Issuer:          cfg.OIDCIssuer,
		SkipIssuerCheck: cfg.OIDCSkipIssuerCheck,
		HTTPClient:      &http.Client{Timeout: cfg.OIDCExchangeTimeout},
	})
	authService := auth.NewService(userRepo, clients, auth.ServiceConfig{
		Scopes:          cfg.OIDCScopes,
		BaseURL:         cfg.BaseURL,
		RedirectPath:    cfg.OIDCRedirectPath,
		LogoutAuthority: cfg.OIDCLogoutAuthority,
		ExchangeTimeout: cfg.OIDCExchangeTimeout,
	}, collector)

	postService := post.NewService(postRepo, images, security.NewContentSanitizer(), collector)
	userService := user.NewService(userRepo)

	sessions := session.NewManager(sessionRepo, session.Config{
		CookieDomain:   cfg.CookieDomain,
		CookieSecure:   cfg.CookieSecure,
		MaxAge:         cfg.SessionMaxAge,
		RememberMaxAge: cfg.SessionRememberMaxAge,
	})

	// 6. ルーターの構築
	// RATE_LIMIT_LOGINはreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60.0)
	rateLimiterCfg.LoginBurst = cfg.RateLimitLogin
	loginLimiter := middleware.NewLoginRateLimiter(rateLimiterCfg)
	defer loginLimiter.Stop()

	router, err := handler.NewRouter(&handler.RouterDeps{
		SessionLoader:    sessions,
		SessionSaver:     sessions,
		AuthService:      authService,
		PostService:      postService,
		UserService:      userService,
		HealthChecker:    db,
		ImageStore:       images,
		Logger:           slog.Default(),
		LoginRateLimiter: loginLimiter,
		StatusRecorder:   collector,
		MetricsHandler:   metrics.Handler(registry),
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RedirectPath:   cfg.OIDCRedirectPath,
		UploadMaxBytes: cfg.UploadMaxBytes,
		ImageOrigin:    imageOrigin(cfg.BlobPublicURL),
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return serveUntilSignal(server, "API server")
}

// serveUntilSignal はサーバーを起動し、SIGINTまたはSIGTERMでグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s listen error: %w", name, err)
	case <-stop:
	}
	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップを定期実行し、メトリクスを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.SessionBackend == config.SessionBackendRedis {
		slog.Info("redis sessions expire by TTL, session cleanup is not required")
		return nil
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	cleanupJob := cleanup.NewSessionCleanupJob(db, slog.Default(), collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.SetupMetricsRoute(registry),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("worker metrics server starting", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
	}

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

// runCreateUser はパスワード付きのローカルユーザーを作成する。
// argsは<username> <password>。
func runCreateUser(cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: create-user <username> <password>")
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	u, err := user.NewService(repository.NewPostgresUserRepo(db)).Register(context.Background(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
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

// imageOrigin は画像配信URLのオリジン部分を返す。
func imageOrigin(publicURL string) string {
	u, err := url.Parse(publicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
