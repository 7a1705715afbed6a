package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":             "postgres://localhost/pricing",
		"REDIS_URL":                "redis://localhost:6379/0",
		"JWT_SECRET":               "secret",
		"PRICING_TAX_RATE_PERCENT": "",
		"SHIPPING_DEFAULT_COUNTRY": "",
		"SHIPPING_RULES_CACHE_TTL": "",
		"COUPON_ASYNC_REDEEM":      "",
		"RATE_LIMIT_REQUESTS":      "",
		"LOCK_TTL":                 "",
		"HTTP_MAX_BODY_BYTES":      "",
		"SECURITY_HEADERS":         "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)
	require.True(t, cfg.TaxRatePercent.Equal(decimal.NewFromInt(8)))
	require.Equal(t, "GB", cfg.DefaultCountry)
	require.Equal(t, 5*time.Minute, cfg.ShippingRulesCacheTTL)
	require.Equal(t, 30, cfg.RateLimitRequests)
	require.Equal(t, 5*time.Second, cfg.LockTTL)
	require.False(t, cfg.AsyncRedeem)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	require.True(t, cfg.SecurityHeaders)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["PRICING_TAX_RATE_PERCENT"] = "20"
	env["SHIPPING_DEFAULT_COUNTRY"] = "de"
	env["SHIPPING_RULES_CACHE_TTL"] = "30s"
	env["COUPON_ASYNC_REDEEM"] = "true"
	env["RATE_LIMIT_REQUESTS"] = "not-a-number"

	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.True(t, cfg.TaxRatePercent.Equal(decimal.NewFromInt(20)))
	require.Equal(t, "DE", cfg.DefaultCountry)
	require.Equal(t, 30*time.Second, cfg.ShippingRulesCacheTTL)
	require.True(t, cfg.AsyncRedeem)
	require.Equal(t, 30, cfg.RateLimitRequests)
}

func TestLoadRequiresSecrets(t *testing.T) {
	env := baseEnv()
	env["JWT_SECRET"] = ""
	_, err := LoadForTests(env)
	require.EqualError(t, err, "JWT_SECRET is required")
}

func TestLoadRejectsBadTaxRate(t *testing.T) {
	env := baseEnv()
	env["PRICING_TAX_RATE_PERCENT"] = "-1"
	_, err := LoadForTests(env)
	require.Error(t, err)

	env["PRICING_TAX_RATE_PERCENT"] = "eight"
	_, err = LoadForTests(env)
	require.Error(t, err)
}
