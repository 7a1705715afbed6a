package shipping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu          sync.Mutex
	rules       map[string]Rule
	activeCalls int
	activeErr   error
	// onActive runs inside ListActive after the rules are read.
	onActive    func()
}

func newMemStore(rules ...Rule) *memStore {
	s := &memStore{rules: map[string]Rule{}}
	for _, r := range rules {
		s.rules[r.ID] = r
	}
	return s
}

func (s *memStore) ListActive(context.Context) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeCalls++
	if s.activeErr != nil {
		return nil, s.activeErr
	}
	var out []Rule
	for _, r := range s.rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	if s.onActive != nil {
		s.onActive()
	}
	return out, nil
}

func (s *memStore) List(context.Context, common.Pagination) ([]Rule, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, len(out), nil
}

func (s *memStore) Get(_ context.Context, id string) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return Rule{}, ErrNotFound
	}
	return r, nil
}

func (s *memStore) Create(_ context.Context, r Rule) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
	return r, nil
}

func (s *memStore) Update(_ context.Context, r Rule) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, ok := s.rules[r.ID]
	if !ok {
		return Rule{}, ErrNotFound
	}
	r.CreatedAt = prior.CreatedAt
	s.rules[r.ID] = r
	return r, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

const (
	standardID = "7d1f0c1e-3b7a-4c55-9a61-000000000001"
	expressID  = "7d1f0c1e-3b7a-4c55-9a61-000000000002"
)

func standardRule() Rule {
	return Rule{
		ID:                    standardID,
		Name:                  "Standard",
		Type:                  RulePriceBased,
		BaseRate:              dec("5"),
		FreeShippingThreshold: decPtr("150"),
		ApplicableCountries:   []string{"GB"},
		Priority:              1,
		IsActive:              true,
	}
}

func newTestService(t *testing.T, store Store) (*Service, *miniredis.Miniredis, *obs.DomainMetrics) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	metrics := obs.NewDomainMetrics("test", prometheus.NewRegistry())
	return &Service{
		Store:          store,
		Cache:          NewRulesCache(client, time.Minute),
		DefaultCountry: "GB",
		Metrics:        metrics,
		Log:            zerolog.Nop(),
		Now:            func() time.Time { return testNow },
	}, mr, metrics
}

func TestServiceQuoteUsesDefaultCountry(t *testing.T) {
	svc, _, metrics := newTestService(t, newMemStore(standardRule()))

	res, err := svc.Quote(context.Background(), Context{OrderTotal: dec("100")})
	require.NoError(t, err)
	require.True(t, res.Cost.Equal(dec("5")))
	require.Equal(t, "Standard", res.MethodName)
	require.False(t, res.NoRule)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.ShippingQuotes.WithLabelValues("quoted")))

	res, err = svc.Quote(context.Background(), Context{OrderTotal: dec("150"), Country: "gb"})
	require.NoError(t, err)
	require.True(t, res.FreeShipping)
	require.True(t, res.Cost.IsZero())
}

func TestServiceQuoteNoRule(t *testing.T) {
	svc, _, metrics := newTestService(t, newMemStore(standardRule()))

	res, err := svc.Quote(context.Background(), Context{OrderTotal: dec("100"), Country: "US"})
	require.NoError(t, err)
	require.True(t, res.NoRule)
	require.True(t, res.Cost.IsZero())
	require.Equal(t, NoRuleMessage, res.Message)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.ShippingQuotes.WithLabelValues("no_rule")))
}

func TestServiceActiveRulesCaching(t *testing.T) {
	store := newMemStore(standardRule())
	svc, mr, metrics := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.Quote(ctx, Context{OrderTotal: dec("10")})
	require.NoError(t, err)
	_, err = svc.Quote(ctx, Context{OrderTotal: dec("20")})
	require.NoError(t, err)
	require.Equal(t, 1, store.activeCalls)
	require.True(t, mr.Exists(rulesDataKey(0)))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.RulesCache.WithLabelValues("miss")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.RulesCache.WithLabelValues("hit")))

	mr.FastForward(2 * time.Minute)
	_, err = svc.Quote(ctx, Context{OrderTotal: dec("20")})
	require.NoError(t, err)
	require.Equal(t, 2, store.activeCalls)
}

func TestServiceCacheReadErrorFallsBackToStore(t *testing.T) {
	store := newMemStore(standardRule())
	svc, mr, metrics := newTestService(t, store)
	require.NoError(t, mr.Set(rulesDataKey(0), "not json"))

	res, err := svc.Quote(context.Background(), Context{OrderTotal: dec("10")})
	require.NoError(t, err)
	require.Equal(t, standardID, res.RuleID)
	require.Equal(t, 1, store.activeCalls)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.RulesCache.WithLabelValues("error")))
}

func TestServiceQuoteStoreError(t *testing.T) {
	store := newMemStore()
	store.activeErr = errors.New("db down")
	svc, _, metrics := newTestService(t, store)

	_, err := svc.Quote(context.Background(), Context{OrderTotal: dec("10")})
	require.Error(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.ShippingQuotes.WithLabelValues("error")))
}

func TestServiceAdminWritesInvalidateCache(t *testing.T) {
	store := newMemStore(standardRule())
	svc, mr, _ := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.Quote(ctx, Context{OrderTotal: dec("10")})
	require.NoError(t, err)
	require.True(t, mr.Exists(rulesDataKey(0)))

	express := Rule{Name: " Express ", Type: RuleFlatRate, BaseRate: dec("12.499"), Priority: 10, IsActive: true,
		ApplicableCountries: []string{" gb"}}
	created, err := svc.Create(ctx, express)
	require.NoError(t, err)
	require.False(t, mr.Exists(rulesDataKey(1)))
	require.Equal(t, "Express", created.Name)
	require.Equal(t, []string{"GB"}, created.ApplicableCountries)
	require.True(t, created.BaseRate.Equal(dec("12.5")))

	res, err := svc.Quote(ctx, Context{OrderTotal: dec("10")})
	require.NoError(t, err)
	require.Equal(t, created.ID, res.RuleID, "higher priority rule wins after invalidation")

	created.IsActive = false
	_, err = svc.Update(ctx, created.ID, created)
	require.NoError(t, err)
	require.False(t, mr.Exists(rulesDataKey(2)))

	require.NoError(t, svc.Delete(ctx, standardID))
	res, err = svc.Quote(ctx, Context{OrderTotal: dec("10")})
	require.NoError(t, err)
	require.True(t, res.NoRule)
}

func TestServiceValidatesRules(t *testing.T) {
	svc, _, _ := newTestService(t, newMemStore())
	ctx := context.Background()

	_, err := svc.Create(ctx, Rule{Name: "x", Type: "teleport"})
	require.ErrorIs(t, err, ErrInvalidRule)

	_, err = svc.Create(ctx, Rule{Name: "x", Type: RuleWeightBased, WeightRates: []Tier{tier("5", "1", "3")}})
	require.ErrorIs(t, err, ErrInvalidRule)

	_, err = svc.Create(ctx, Rule{Name: "x", Type: RuleFlatRate, BaseRate: dec("-1")})
	require.ErrorIs(t, err, ErrInvalidRule)

	_, err = svc.Update(ctx, "nope", Rule{Name: "x", Type: RuleFree})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Update(ctx, expressID, Rule{Name: "x", Type: RuleFree})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRulesCacheNilClient(t *testing.T) {
	c := NewRulesCache(nil, 0)
	rules, gen, ok, err := c.Get(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, rules)
	require.Equal(t, int64(-1), gen)
	require.NoError(t, c.Set(context.Background(), 0, []Rule{standardRule()}))
	require.NoError(t, c.Invalidate(context.Background()))
}

func TestRulesCacheFillAfterInvalidateIsIgnored(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewRulesCache(client, time.Minute)
	ctx := context.Background()

	_, gen, ok, err := c.Get(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(0), gen)

	require.NoError(t, c.Invalidate(ctx))
	require.NoError(t, c.Set(ctx, gen, []Rule{standardRule()}))

	_, gen, ok, err = c.Get(ctx)
	require.NoError(t, err)
	require.False(t, ok, "rules filled for a retired generation must not be served")
	require.Equal(t, int64(1), gen)
}

func TestServiceConcurrentInvalidateDropsStaleFill(t *testing.T) {
	store := newMemStore(standardRule())
	svc, _, _ := newTestService(t, store)
	ctx := context.Background()

	store.onActive = func() {
		require.NoError(t, svc.Cache.Invalidate(ctx))
	}
	_, err := svc.Quote(ctx, Context{OrderTotal: dec("10")})
	require.NoError(t, err)

	store.onActive = nil
	_, err = svc.Quote(ctx, Context{OrderTotal: dec("10")})
	require.NoError(t, err)
	require.Equal(t, 2, store.activeCalls, "the fill raced by an admin write is not reused")

	_, err = svc.Quote(ctx, Context{OrderTotal: dec("10")})
	require.NoError(t, err)
	require.Equal(t, 2, store.activeCalls)
}
