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

	"github.com/hitoshi/podcastadmin/internal/authz"
	"github.com/hitoshi/podcastadmin/internal/config"
	"github.com/hitoshi/podcastadmin/internal/database"
	"github.com/hitoshi/podcastadmin/internal/handler"
	"github.com/hitoshi/podcastadmin/internal/jobs"
	"github.com/hitoshi/podcastadmin/internal/logger"
	"github.com/hitoshi/podcastadmin/internal/metrics"
	"github.com/hitoshi/podcastadmin/internal/middleware"
	"github.com/hitoshi/podcastadmin/internal/podcast"
	"github.com/hitoshi/podcastadmin/internal/queue"
	"github.com/hitoshi/podcastadmin/internal/repository"
	"github.com/hitoshi/podcastadmin/internal/security"
	"github.com/hitoshi/podcastadmin/internal/storage"
	fetchpkg "github.com/hitoshi/podcastadmin/internal/worker/fetch"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

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
	cmd, err := ParseCommand(args)
	if err != nil {
		writeUsage(w)
		return err
	}
	if cmd == CommandHelp {
		writeUsage(w)
		return nil
	}

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
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDB はDB接続プールを開き疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(ctx, cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("database connection established",
		slog.Int("max_open_conns", cfg.DBMaxOpenConns),
	)
	return db, nil
}

// newRegistry はGo/プロセスメトリクスを含むPrometheusレジストリとCollectorを生成する。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe は管理画面サーバーモードで起動する。
// DB・RabbitMQ・オブジェクトストレージに接続し、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. ジョブキュー
	jobQueue, err := queue.NewRabbitQueue(cfg.RabbitMQURL, cfg.FetchQueue)
	if err != nil {
		return err
	}
	defer jobQueue.Close()

	// 3. オブジェクトストレージ
	store, err := storage.NewS3Store(ctx, storage.Config{
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		Endpoint:      cfg.S3Endpoint,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		UsePathStyle:  cfg.S3UsePathStyle,
		PublicBaseURL: cfg.AssetBaseURL,
	})
	if err != nil {
		return err
	}

	// 4. 重複投入防止（REDIS_ADDR未設定時は無効）
	var guard jobs.RequestGuard
	if cfg.RedisAddr != "" {
		rdb := jobs.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rdb.Close()
		guard = jobs.NewRedisRequestGuard(rdb, cfg.RequestTokenTTL)
	}

	// 5. リポジトリとサービス
	reg, collector := newRegistry()

	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	podcastRepo := repository.NewPostgresPodcastRepo(db)
	roleRepo := repository.NewPostgresRoleRepo(db)

	roleService := authz.NewService(roleRepo, collector)
	podcastService := podcast.NewService(podcastRepo, store)
	dispatcher := jobs.NewDispatcher(podcastRepo, jobQueue, guard, collector)

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.DefaultRateLimiterConfig().MutationPerMinute(cfg.RateLimitAdmin),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		SessionFinder: sessionRepo,
		UserFinder:    userRepo,
		Users:         userRepo,
		RateLimiter:   rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Flash: handler.FlashConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		UploadMaxSize: cfg.UploadMaxSize,
		AssetOrigin:   store.Origin(),

		HealthChecker: db,
		Metrics:       metrics.Handler(reg),
		PanicRecorder: collector,

		PodcastService: podcastService,
		RoleService:    roleService,
		FetchScheduler: dispatcher,
	})

	// 7. HTTPサーバー
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server, "admin server")
}

// runWorker はワーカーモードで起動する。
// エピソード取得ジョブを購読し、フィードの到達確認を行う。
// メトリクスは別ポートで公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	conn, err := queue.Dial(cfg.RabbitMQURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub, err := queue.Subscribe(conn, cfg.FetchQueue, cfg.WorkerPrefetch)
	if err != nil {
		return err
	}
	defer sub.Close()

	reg, collector := newRegistry()

	feedGuard := security.NewFeedGuard(security.FeedGuardConfig{
		Timeout:         cfg.FetchTimeout,
		MaxResponseSize: cfg.FetchMaxSize,
	})
	prober := fetchpkg.NewFeedProber(
		repository.NewPostgresPodcastRepo(db), feedGuard, collector,
		slog.Default(), cfg.FetchMaxSize,
	)
	consumer := fetchpkg.NewConsumer(prober, collector, slog.Default(), cfg.WorkerConcurrency)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := serveUntilDone(ctx, metricsServer, "worker metrics server"); err != nil {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.String("queue", cfg.FetchQueue),
		slog.Int("prefetch", cfg.WorkerPrefetch),
		slog.Int("concurrency", cfg.WorkerConcurrency),
	)

	if err := consumer.Run(ctx, sub.Deliveries); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// serveUntilDone はHTTPサーバーを起動し、ctxがキャンセルされるとシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}
	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%s/health", port))
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
