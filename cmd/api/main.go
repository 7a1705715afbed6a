package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-pricing/internal/app"
	"github.com/noah-isme/toko-pricing/internal/auth"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/coupon"
	"github.com/noah-isme/toko-pricing/internal/health"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/security"
	"github.com/noah-isme/toko-pricing/internal/shipping"
	"github.com/noah-isme/toko-pricing/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, logger, "toko-pricing-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close(context.Background())

	verifier, err := auth.NewVerifier(cfg.JWTSecret, auth.TokenValidator{
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		ClockSkew: 30 * time.Second,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise jwt verifier")
	}

	limiter, err := app.NewRateLimiter(cfg.RateLimitStrategy, deps.Redis, cfg.RateLimitWindow, cfg.RateLimitRequests)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}

	couponSvc := deps.CouponService()
	shipSvc := deps.ShippingService()
	pricingSvc := deps.PricingService(couponSvc, shipSvc)

	couponHandler := &coupon.Handler{Svc: couponSvc, DelegateRole: app.AdminRole}
	if cfg.AsyncRedeem {
		taskClient := asynq.NewClient(deps.RedisOpt)
		defer func() {
			if err := taskClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close task client")
			}
		}()
		couponHandler.Queue = tasks.NewClient(taskClient)
		logger.Info().Msg("coupon redemptions are queued for the worker")
	}

	buckets := obs.ParseBucketsCSV(cfg.MetricsBuckets)
	router := app.NewRouter(app.RouterConfig{
		Log:      logger,
		Coupons:  couponHandler,
		Shipping: &shipping.Handler{Svc: shipSvc},
		Pricing:  &pricing.Handler{Svc: pricingSvc},
		Health: health.Handler{
			Checker:      health.Deps{DB: deps.DB, Redis: deps.Redis},
			DBTimeout:    500 * time.Millisecond,
			RedisTimeout: 300 * time.Millisecond,
		},
		Auth:            auth.Middleware{Verifier: verifier},
		Limiter:         limiter,
		Idem:            common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL},
		HTTPMetrics:     obs.NewHTTPMetrics(cfg.MetricsNamespace, buckets, deps.Registry),
		Metrics:         promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}),
		CORSOrigins:     cfg.CORSAllowedOrigins,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		SecurityHeaders: security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.EnableHSTS},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           otelhttp.NewHandler(router, "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
