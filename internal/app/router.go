package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/auth"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/coupon"
	"github.com/noah-isme/toko-pricing/internal/health"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/ratelimit"
	"github.com/noah-isme/toko-pricing/internal/security"
	"github.com/noah-isme/toko-pricing/internal/shipping"
)

// AdminRole is the JWT role required for the admin routes.
const AdminRole = "admin"

// RouterConfig collects everything the HTTP surface needs.
type RouterConfig struct {
	Log         zerolog.Logger
	Coupons     *coupon.Handler
	Shipping    *shipping.Handler
	Pricing     *pricing.Handler
	Health      health.Handler
	Auth        auth.Middleware
	Limiter     ratelimit.Limiter
	Idem        common.Idem
	HTTPMetrics *obs.HTTPMetrics
	// Metrics serves /metrics when set.
	Metrics         http.Handler
	CORSOrigins     []string
	MaxBodyBytes    int64
	SecurityHeaders security.Headers
}

// NewRouter builds the chi router for the pricing API.
func NewRouter(rc RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.TracingMiddleware)
	r.Use(obs.HTTPObs{Metrics: rc.HTTPMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: rc.Log}.Middleware)
	r.Use(rc.SecurityHeaders.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(rc.CORSOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if rc.Metrics != nil {
		r.Handle("/metrics", rc.Metrics)
	}
	r.Get("/health/live", rc.Health.Live)
	r.Get("/health/ready", rc.Health.Ready)

	limited := func(next http.Handler) http.Handler { return next }
	if rc.Limiter != nil {
		limited = ratelimit.Handler{
			Limiter: rc.Limiter,
			Key:     ratelimit.KeyByIP("ip:"),
			OnError: func(err error) { rc.Log.Warn().Err(err).Msg("rate limiter unavailable") },
		}.Middleware
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: rc.MaxBodyBytes}.Middleware)
		v.Use(rc.Auth.Authenticate)

		v.Route("/coupons", func(c chi.Router) {
			c.Use(limited)
			c.Post("/validate", rc.Coupons.Validate)
			c.With(rc.Auth.RequireAuth, rc.Idem.Middleware).Post("/use", rc.Coupons.Use)
		})
		v.With(limited).Post("/shipping/calculate", rc.Shipping.Calculate)
		v.With(limited).Post("/pricing/quote", rc.Pricing.Quote)

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(rc.Auth.RequireAuth)
			admin.Use(auth.RequireRole(AdminRole))
			admin.Get("/coupons", rc.Coupons.List)
			admin.Post("/coupons", rc.Coupons.Create)
			admin.Put("/coupons/{id}", rc.Coupons.Update)
			admin.Delete("/coupons/{id}", rc.Coupons.Delete)
			admin.Get("/shipping-rules", rc.Shipping.List)
			admin.Post("/shipping-rules", rc.Shipping.Create)
			admin.Put("/shipping-rules/{id}", rc.Shipping.Update)
			admin.Delete("/shipping-rules/{id}", rc.Shipping.Delete)
		})
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
