package shipping

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/money"
)

// ErrNoRule is returned when no active rule serves the destination.
var ErrNoRule = errors.New("no shipping rule found")

// RuleType selects how a rule prices a shipment.
type RuleType string

const (
	RuleFlatRate    RuleType = "flat_rate"
	RuleFree        RuleType = "free"
	RuleWeightBased RuleType = "weight_based"
	RulePriceBased  RuleType = "price_based"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleFlatRate, RuleFree, RuleWeightBased, RulePriceBased:
		return true
	}
	return false
}

// Tier is a rate band. Both bounds are inclusive.
type Tier struct {
	Min  decimal.Decimal `json:"min"`
	Max  decimal.Decimal `json:"max"`
	Rate decimal.Decimal `json:"rate"`
}

// Contains reports whether v falls inside the band.
func (t Tier) Contains(v decimal.Decimal) bool {
	return v.GreaterThanOrEqual(t.Min) && v.LessThanOrEqual(t.Max)
}

// Rule is a snapshot of an admin-managed shipping policy.
type Rule struct {
	ID                    string           `json:"id"`
	Name                  string           `json:"name"`
	Description           string           `json:"description,omitempty"`
	Type                  RuleType         `json:"type"`
	BaseRate              decimal.Decimal  `json:"baseRate"`
	FreeShippingThreshold *decimal.Decimal `json:"freeShippingThreshold,omitempty"`
	WeightRates           []Tier           `json:"weightRates,omitempty"`
	PriceRates            []Tier           `json:"priceRates,omitempty"`
	ApplicableCountries   []string         `json:"applicableCountries,omitempty"`
	ExcludedCountries     []string         `json:"excludedCountries,omitempty"`
	Priority              int              `json:"priority"`
	IsActive              bool             `json:"isActive"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
}

// Context is the order data a shipping rule is evaluated against.
type Context struct {
	OrderTotal decimal.Decimal
	Weight     decimal.Decimal
	Country    string
}

// Quote is the outcome of resolving shipping for an order.
type Quote struct {
	Cost                  decimal.Decimal  `json:"shippingCost"`
	MethodName            string           `json:"shippingMethod,omitempty"`
	RuleID                string           `json:"ruleId,omitempty"`
	FreeShipping          bool             `json:"freeShipping"`
	FreeShippingThreshold *decimal.Decimal `json:"freeShippingThreshold"`
	NoRule                bool             `json:"noRule,omitempty"`
}

// NormalizeCountry canonicalises a country code for comparisons.
func NormalizeCountry(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// AppliesTo reports whether the rule may serve country. An empty country
// matches every rule.
func (r Rule) AppliesTo(country string) bool {
	country = NormalizeCountry(country)
	if country == "" {
		return true
	}
	if lo.ContainsBy(r.ExcludedCountries, func(c string) bool { return NormalizeCountry(c) == country }) {
		return false
	}
	if len(r.ApplicableCountries) > 0 {
		return lo.ContainsBy(r.ApplicableCountries, func(c string) bool { return NormalizeCountry(c) == country })
	}
	return true
}

// SelectApplicableRules returns the active rules serving country ordered by
// priority, highest first. Ties keep their input order.
func SelectApplicableRules(rules []Rule, country string) []Rule {
	out := lo.Filter(rules, func(r Rule, _ int) bool {
		return r.IsActive && r.AppliesTo(country)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// CalculateShipping prices ctx with a single rule. The boolean is false when
// the rule does not serve the destination country.
func CalculateShipping(r Rule, ctx Context) (decimal.Decimal, bool) {
	if !r.AppliesTo(ctx.Country) {
		return decimal.Zero, false
	}
	var cost decimal.Decimal
	switch r.Type {
	case RuleFlatRate:
		cost = r.BaseRate
	case RuleFree:
		cost = decimal.Zero
	case RulePriceBased:
		if money.IsSet(r.FreeShippingThreshold) && ctx.OrderTotal.GreaterThanOrEqual(*r.FreeShippingThreshold) {
			cost = decimal.Zero
			break
		}
		cost = tierRate(r.PriceRates, ctx.OrderTotal, r.BaseRate)
	case RuleWeightBased:
		cost = tierRate(r.WeightRates, ctx.Weight, r.BaseRate)
	default:
		cost = r.BaseRate
	}
	return money.Round(cost), true
}

// tierRate returns the rate of the first tier containing v. Adjacent tiers
// sharing a boundary resolve to the earlier one.
func tierRate(tiers []Tier, v, fallback decimal.Decimal) decimal.Decimal {
	if tier, ok := lo.Find(tiers, func(t Tier) bool { return t.Contains(v) }); ok {
		return tier.Rate
	}
	return fallback
}

// Resolve prices ctx using the highest-priority applicable rule only. A tier
// miss falls back to that rule's base rate, never to a lower-priority rule.
func Resolve(rules []Rule, ctx Context) (Quote, error) {
	applicable := SelectApplicableRules(rules, ctx.Country)
	if len(applicable) == 0 {
		return Quote{}, ErrNoRule
	}
	primary := applicable[0]
	cost, ok := CalculateShipping(primary, ctx)
	if !ok {
		return Quote{}, ErrNoRule
	}
	q := Quote{
		Cost:         cost,
		MethodName:   primary.Name,
		RuleID:       primary.ID,
		FreeShipping: cost.IsZero(),
	}
	if money.IsSet(primary.FreeShippingThreshold) {
		threshold := *primary.FreeShippingThreshold
		q.FreeShippingThreshold = &threshold
	}
	return q, nil
}
