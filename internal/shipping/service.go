package shipping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/money"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

// NoRuleMessage accompanies the zero-cost quote returned when nothing matches.
const NoRuleMessage = "No shipping rules found"

var (
	// ErrNotFound is returned when a rule id does not exist.
	ErrNotFound = errors.New("shipping rule not found")
	// ErrInvalidRule wraps admin payload problems.
	ErrInvalidRule = errors.New("invalid shipping rule")
)

// Store persists shipping rules.
type Store interface {
	ListActive(ctx context.Context) ([]Rule, error)
	List(ctx context.Context, p common.Pagination) ([]Rule, int, error)
	Get(ctx context.Context, id string) (Rule, error)
	Create(ctx context.Context, r Rule) (Rule, error)
	Update(ctx context.Context, r Rule) (Rule, error)
	Delete(ctx context.Context, id string) error
}

// Result is a quote plus the customer message for the no-rule case.
type Result struct {
	Quote
	Message string `json:"message,omitempty"`
}

// Service quotes shipping from the admin-managed rule set.
type Service struct {
	Store          Store
	Cache          *RulesCache
	DefaultCountry string
	Metrics        *obs.DomainMetrics
	Log            zerolog.Logger
	Now            func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) ready() error {
	if s == nil || s.Store == nil {
		return errors.New("shipping service not configured")
	}
	return nil
}

// ActiveRules returns the active rules, served from cache when possible.
// Cache failures fall back to the store.
func (s *Service) ActiveRules(ctx context.Context) ([]Rule, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rules, gen, ok, err := s.Cache.Get(ctx)
	switch {
	case err != nil:
		s.Metrics.RulesCacheLookup("error")
		s.Log.Warn().Err(err).Msg("shipping rules cache read failed")
	case ok:
		s.Metrics.RulesCacheLookup("hit")
		return rules, nil
	default:
		s.Metrics.RulesCacheLookup("miss")
	}
	rules, err = s.Store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active shipping rules: %w", err)
	}
	if err := s.Cache.Set(ctx, gen, rules); err != nil {
		s.Log.Warn().Err(err).Msg("shipping rules cache write failed")
	}
	return rules, nil
}

// Quote resolves shipping for sc. An empty country uses the default. When no
// rule serves the order the result is a zero-cost quote flagged NoRule.
func (s *Service) Quote(ctx context.Context, sc Context) (Result, error) {
	rules, err := s.ActiveRules(ctx)
	if err != nil {
		s.Metrics.ShippingQuoted("error")
		return Result{}, err
	}
	if NormalizeCountry(sc.Country) == "" {
		sc.Country = s.DefaultCountry
	}
	q, err := Resolve(rules, sc)
	if errors.Is(err, ErrNoRule) {
		s.Metrics.ShippingQuoted("no_rule")
		s.Log.Debug().Str("country", NormalizeCountry(sc.Country)).Msg("no shipping rule matched")
		return Result{Quote: Quote{Cost: decimal.Zero, NoRule: true}, Message: NoRuleMessage}, nil
	}
	if err != nil {
		s.Metrics.ShippingQuoted("error")
		return Result{}, err
	}
	if q.FreeShipping {
		s.Metrics.ShippingQuoted("free")
	} else {
		s.Metrics.ShippingQuoted("quoted")
	}
	return Result{Quote: q}, nil
}

// List returns a page of rules for the admin console.
func (s *Service) List(ctx context.Context, p common.Pagination) ([]Rule, int, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}
	return s.Store.List(ctx, p)
}

// Create validates and stores a rule, then drops the cached rule set.
func (s *Service) Create(ctx context.Context, r Rule) (Rule, error) {
	if err := s.ready(); err != nil {
		return Rule{}, err
	}
	r = prepare(r)
	if err := validateRule(r); err != nil {
		return Rule{}, err
	}
	now := s.now()
	r.ID = uuid.NewString()
	r.CreatedAt = now
	r.UpdatedAt = now
	created, err := s.Store.Create(ctx, r)
	if err != nil {
		return Rule{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

// Update replaces rule id, then drops the cached rule set.
func (s *Service) Update(ctx context.Context, id string, r Rule) (Rule, error) {
	if err := s.ready(); err != nil {
		return Rule{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return Rule{}, ErrNotFound
	}
	r = prepare(r)
	if err := validateRule(r); err != nil {
		return Rule{}, err
	}
	r.ID = id
	r.UpdatedAt = s.now()
	updated, err := s.Store.Update(ctx, r)
	if err != nil {
		return Rule{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// Delete removes rule id, then drops the cached rule set.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	if err := s.Store.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.Cache.Invalidate(ctx); err != nil {
		s.Log.Warn().Err(err).Msg("shipping rules cache invalidate failed")
	}
}

func normalizeCountries(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if n := NormalizeCountry(c); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func prepare(r Rule) Rule {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.BaseRate = money.Round(r.BaseRate)
	r.ApplicableCountries = normalizeCountries(r.ApplicableCountries)
	r.ExcludedCountries = normalizeCountries(r.ExcludedCountries)
	return r
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, fmt.Sprintf(format, args...))
}

func validateTiers(field string, tiers []Tier) error {
	for i, t := range tiers {
		switch {
		case t.Min.IsNegative() || t.Rate.IsNegative():
			return invalid("%s[%d] must not be negative", field, i)
		case t.Max.LessThan(t.Min):
			return invalid("%s[%d] max is below min", field, i)
		}
	}
	return nil
}

func validateRule(r Rule) error {
	switch {
	case r.Name == "":
		return invalid("name is required")
	case !r.Type.Valid():
		return invalid("unknown rule type %q", r.Type)
	case r.BaseRate.IsNegative():
		return invalid("base rate must not be negative")
	case r.FreeShippingThreshold != nil && r.FreeShippingThreshold.IsNegative():
		return invalid("free shipping threshold must not be negative")
	}
	if err := validateTiers("weightRates", r.WeightRates); err != nil {
		return err
	}
	return validateTiers("priceRates", r.PriceRates)
}
