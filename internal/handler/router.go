package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/tvcal/internal/ics"
	"github.com/hitoshi/tvcal/internal/metrics"
	"github.com/hitoshi/tvcal/internal/middleware"
	"github.com/hitoshi/tvcal/internal/progress"
	"github.com/hitoshi/tvcal/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Users    repository.UserRepository
	Episodes repository.EpisodeRepository
	Syncer   UserSyncer
	Hub      *progress.Hub
	DB       DBPinger
	Gatherer prometheus.Gatherer

	Logger            *slog.Logger
	BaseURL           string
	UserSyncWindow    time.Duration
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成した
// chi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → CORS → RateLimit(General)
//
// /healthと/metricsはレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	userHandler := NewUserHandler(deps.Users, deps.Syncer, deps.Logger, deps.BaseURL, deps.UserSyncWindow)
	calendarHandler := NewCalendarHandler(deps.Users, deps.Episodes, ics.NewGenerator(), deps.Logger)
	wsHandler := NewSyncProgressHandler(deps.Users, deps.Hub, deps.Logger, deps.CORSAllowedOrigin)
	healthHandler := NewHealthHandler(deps.DB)

	// 運用エンドポイント（レート制限なし）
	r.Get("/health", healthHandler.Check)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// PIN登録は同期処理を誘発するため専用の厳しい制限を重ねる
		r.With(deps.RateLimiter.SyncMiddleware()).Post("/users", userHandler.Register)

		r.Get("/calendar/{userID}", calendarHandler.Serve)
		r.Get("/ws/sync/{userID}", wsHandler.Subscribe)
	})

	return r
}
