package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/registre/internal/metrics"
	"github.com/hitoshi/registre/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	SecurityHeaders   middleware.SecurityHeadersConfig
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 認証
	Authenticator middleware.Authenticator
	AuthGate      middleware.AuthGateConfig
	AuthService   AuthServiceInterface
	AuthConfig    AuthHandlerConfig

	// 人物登録簿
	PersonneService PersonneServiceInterface

	// 運用
	Store    HealthChecker
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Metrics
//	  保護ルート: AuthGate → RateLimit → CSRF
//
// 認証フロー（/login, /auth/callback, /logout）は認証ゲートの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.SecurityHeaders))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	personneHandler := NewPersonneHandler(deps.PersonneService)

	// --- 認証不要のルート ---
	r.Get("/", Home)
	r.Get("/login", authHandler.Login)
	r.Get("/auth/callback", authHandler.Callback)
	r.Get("/logout", authHandler.Logout)
	r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)
	if deps.Store != nil {
		r.Get("/health", NewHealthHandler(deps.Store))
	}
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: AuthGate → RateLimit → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthGateMiddleware(deps.Authenticator, deps.AuthGate))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/secure", Secure)

		r.Route("/personnes", func(r chi.Router) {
			r.Get("/", personneHandler.ListPersonnes)
			r.Post("/", personneHandler.CreatePersonne)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", personneHandler.GetPersonne)
				r.Put("/", personneHandler.UpdatePersonne)
				r.Delete("/", personneHandler.DeletePersonne)
			})
		})
	})

	return r
}
