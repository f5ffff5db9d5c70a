// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/hitoshi/tvcal/internal/config"
	"github.com/hitoshi/tvcal/internal/database"
	"github.com/hitoshi/tvcal/internal/handler"
	"github.com/hitoshi/tvcal/internal/logger"
	"github.com/hitoshi/tvcal/internal/metrics"
	"github.com/hitoshi/tvcal/internal/middleware"
	"github.com/hitoshi/tvcal/internal/progress"
	"github.com/hitoshi/tvcal/internal/repository"
	syncengine "github.com/hitoshi/tvcal/internal/sync"
	"github.com/hitoshi/tvcal/internal/tvdb"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// newReconciler は同期エンジンとその依存関係を組み立てる。
// serveとworkerの両モードで共有する。
func newReconciler(cfg *config.Config, repos *repositories, hub *progress.Hub, collector metrics.MetricsCollector) *syncengine.Reconciler {
	clientFactory := func() syncengine.CatalogClient {
		return tvdb.NewClient(cfg.TVDBAPIKey, cfg.TVDBBaseURL, cfg.TVDBTimeout, nil, collector)
	}

	return syncengine.NewReconciler(
		repos.users, repos.series, repos.userSeries, repos.episodes,
		clientFactory, hub, collector,
		slog.Default(), cfg.SeriesSyncWindow,
	)
}

// repositories はPostgres実装のリポジトリ一式。
type repositories struct {
	users      repository.UserRepository
	series     repository.SeriesRepository
	userSeries repository.UserSeriesRepository
	episodes   repository.EpisodeRepository
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	repos := &repositories{
		users:      repository.NewPostgresUserRepo(db),
		series:     repository.NewPostgresSeriesRepo(db),
		userSeries: repository.NewPostgresUserSeriesRepo(db),
		episodes:   repository.NewPostgresEpisodeRepo(db),
	}

	// 3. 進捗ハブとメトリクス
	hub := progress.NewHub()
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 同期エンジン
	reconciler := newReconciler(cfg, repos, hub, collector)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.DefaultRateLimiterConfig(cfg.RateLimitGeneral),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Users:    repos.users,
		Episodes: repos.episodes,
		Syncer:   reconciler,
		Hub:      hub,
		DB:       db,
		Gatherer: registry,

		Logger:            slog.Default(),
		BaseURL:           cfg.BaseURL,
		UserSyncWindow:    cfg.UserSyncWindow,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // WebSocketとカレンダー生成を考慮
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はスイープワーカーモードで起動する。
// cronスケジュールに従いシリーズスイープとユーザースイープを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリと同期エンジンの初期化
	repos := &repositories{
		users:      repository.NewPostgresUserRepo(db),
		series:     repository.NewPostgresSeriesRepo(db),
		userSeries: repository.NewPostgresUserSeriesRepo(db),
		episodes:   repository.NewPostgresEpisodeRepo(db),
	}

	// ワーカーの進捗イベントに購読者はつかないが、発行はfire-and-forget
	// なのでserveと同じ経路をそのまま使う。
	hub := progress.NewHub()
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	reconciler := newReconciler(cfg, repos, hub, collector)

	seriesSweeper := syncengine.NewSeriesSweeper(reconciler, cfg.SeriesSyncWindow, slog.Default())
	userSweeper := syncengine.NewUserSweeper(reconciler, cfg.UserSyncWindow, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. cronスケジューラの構築
	scheduler := cron.New()

	if _, err := scheduler.AddFunc(cfg.SeriesSweepSchedule, func() {
		if err := seriesSweeper.Run(ctx); err != nil {
			slog.Error("series sweep failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("invalid series sweep schedule %q: %w", cfg.SeriesSweepSchedule, err)
	}

	if _, err := scheduler.AddFunc(cfg.UserSweepSchedule, func() {
		if err := userSweeper.Run(ctx); err != nil {
			slog.Error("user sweep failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("invalid user sweep schedule %q: %w", cfg.UserSweepSchedule, err)
	}

	slog.Info("worker starting",
		slog.String("series_sweep_schedule", cfg.SeriesSweepSchedule),
		slog.String("user_sweep_schedule", cfg.UserSweepSchedule),
	)

	scheduler.Start()

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down worker...")
	cancel()

	// 実行中のジョブの完了を待つ
	<-scheduler.Stop().Done()

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
