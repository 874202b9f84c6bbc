package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/podcastadmin/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通を確認する依存先。*sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder middleware.SessionFinder
	UserFinder    middleware.UserFinder
	RateLimiter   *middleware.RateLimiter
	CSRF          middleware.CSRFConfig
	Flash         FlashConfig
	UploadMaxSize int64
	// AssetOrigin はアップロード画像の配信元。CSPのimg-srcに加える。
	AssetOrigin string

	// Users は編集画面の管理者表示に使う。nilの場合はIDのみ表示する。
	Users UserDirectory

	// 運用
	HealthChecker HealthChecker
	Metrics       http.Handler
	PanicRecorder middleware.PanicRecorder

	// 管理画面
	PodcastService PodcastServiceInterface
	RoleService    RoleServiceInterface
	FetchScheduler FetchSchedulerInterface
}

// NewRouter は管理画面のルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → RequestSize → MethodOverride
//	  /admin: Session → SuperAdmin → CSRF → RateLimit(General) → RateLimit(Mutation)
//
// MethodOverrideはルーティング前に適用する必要があるため最上位に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	var imgOrigins []string
	if deps.AssetOrigin != "" {
		imgOrigins = append(imgOrigins, deps.AssetOrigin)
	}

	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewRecoveryMiddleware(deps.PanicRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware(imgOrigins...))
	if deps.UploadMaxSize > 0 {
		r.Use(chimw.RequestSize(deps.UploadMaxSize))
	}
	r.Use(middleware.NewMethodOverrideMiddleware())

	podcastHandler := NewPodcastHandler(deps.PodcastService, deps.RoleService, deps.FetchScheduler, deps.Users, deps.Flash)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	// --- 管理画面 ---
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewSuperAdminMiddleware(deps.UserFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(deps.RateLimiter.MutationMiddleware())

		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, listPath, http.StatusFound)
		})

		r.Route("/podcasts", func(r chi.Router) {
			r.Get("/", podcastHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/edit", podcastHandler.Edit)
				r.Put("/", podcastHandler.Update)
				r.Patch("/", podcastHandler.Update)
				r.Post("/add_admin", podcastHandler.AddAdmin)
				r.Delete("/remove_admin", podcastHandler.RemoveAdmin)
				r.Post("/fetch", podcastHandler.Fetch)
			})
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}

		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.ErrorContext(r.Context(), "health check failed", slog.String("error", err.Error()))
				status = http.StatusServiceUnavailable
				body["status"] = "unavailable"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
}
