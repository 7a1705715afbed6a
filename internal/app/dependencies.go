package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/coupon"
	"github.com/noah-isme/toko-pricing/internal/lock"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/ratelimit"
	"github.com/noah-isme/toko-pricing/internal/repo"
	"github.com/noah-isme/toko-pricing/internal/shipping"
)

// Dependencies holds the connections and collectors shared by the API and
// the worker.
type Dependencies struct {
	Config   *config.Config
	Log      zerolog.Logger
	DB       *pgxpool.Pool
	Redis    *redis.Client
	RedisOpt asynq.RedisConnOpt
	Registry *prometheus.Registry
	Metrics  *obs.DomainMetrics

	shutdownTracer func(context.Context) error
}

// Open initialises tracing, runs migrations when enabled and connects to
// Postgres and Redis. service names the process in traces and pg_stat_activity.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger, service string) (*Dependencies, error) {
	d := &Dependencies{Config: cfg, Log: log}

	shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   service,
		Endpoint:      cfg.OTelEndpoint,
		Exporter:      cfg.OTelExporter,
		SamplingRatio: cfg.OTelSampleRatio,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		log.Error().Err(err).Msg("initialise tracing")
		shutdown = func(context.Context) error { return nil }
	}
	d.shutdownTracer = shutdown

	if cfg.MigrateOnStart {
		if err := repo.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			d.Close(ctx)
			return nil, err
		}
		log.Info().Str("path", cfg.MigrationsPath).Msg("migrations applied")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	d.DB, err = repo.Connect(connectCtx, cfg.DatabaseURL, service)
	if err != nil {
		d.Close(ctx)
		return nil, err
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		d.Close(ctx)
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	d.Redis = redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(d.Redis); err != nil {
		log.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := d.Redis.Ping(connectCtx).Err(); err != nil {
		d.Close(ctx)
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	d.RedisOpt, err = asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		d.Close(ctx)
		return nil, fmt.Errorf("parse task queue redis url: %w", err)
	}

	d.Registry = NewRegistry()
	d.Metrics = obs.NewDomainMetrics(cfg.MetricsNamespace, d.Registry)
	return d, nil
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Close releases every connection and flushes pending spans.
func (d *Dependencies) Close(ctx context.Context) {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Log.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
	if d.shutdownTracer != nil {
		if err := d.shutdownTracer(ctx); err != nil {
			d.Log.Error().Err(err).Msg("shutdown tracer")
		}
	}
}

// CouponService builds the coupon service on the Postgres store with
// redemptions serialised per code through Redis.
func (d *Dependencies) CouponService() *coupon.Service {
	return &coupon.Service{
		Store:   repo.CouponStore{DB: d.DB},
		Locker:  lock.Locker{R: d.Redis, Prefix: "lock:coupon:", MaxWait: d.Config.LockTTL},
		LockTTL: d.Config.LockTTL,
		Metrics: d.Metrics,
		Log:     d.Log.With().Str("component", "coupon").Logger(),
	}
}

// ShippingService builds the shipping service with the Redis rule cache.
func (d *Dependencies) ShippingService() *shipping.Service {
	return &shipping.Service{
		Store:          repo.RuleStore{DB: d.DB},
		Cache:          shipping.NewRulesCache(d.Redis, d.Config.ShippingRulesCacheTTL),
		DefaultCountry: d.Config.DefaultCountry,
		Metrics:        d.Metrics,
		Log:            d.Log.With().Str("component", "shipping").Logger(),
	}
}

// PricingService composes the quote service from the other two.
func (d *Dependencies) PricingService(coupons *coupon.Service, ship *shipping.Service) *pricing.Service {
	return &pricing.Service{
		Shipping: ship,
		Coupons:  coupons,
		Pricer:   pricing.NewPricer(d.Config.TaxRatePercent),
		Log:      d.Log.With().Str("component", "pricing").Logger(),
	}
}

// NewRateLimiter picks the limiter named by strategy: "sliding" uses the
// sorted-set window, "fixed" the ulule store. A nil client keeps the fixed
// window in process memory.
func NewRateLimiter(strategy string, rdb *redis.Client, window time.Duration, max int) (ratelimit.Limiter, error) {
	switch strategy {
	case "", "sliding":
		if rdb == nil {
			return nil, errors.New("sliding rate limiter requires redis")
		}
		return ratelimit.SlidingWindow{Client: rdb, Prefix: "rl:", Window: window, Max: max}, nil
	case "fixed":
		fw, err := ratelimit.NewFixedWindow(rdb, "rl", window, max)
		if err != nil {
			return nil, err
		}
		return fw, nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", strategy)
	}
}
