package obs

import "github.com/prometheus/client_golang/prometheus"

// DomainMetrics counts pricing outcomes.
type DomainMetrics struct {
	// CouponValidations is labelled by result: applied, not_found or a rejection reason.
	CouponValidations *prometheus.CounterVec
	// CouponRedemptions is labelled by result: recorded, duplicate, rejected, queued, error.
	CouponRedemptions *prometheus.CounterVec
	// ShippingQuotes is labelled by result: quoted, no_rule, error.
	ShippingQuotes *prometheus.CounterVec
	// RulesCache is labelled by result: hit, miss, error.
	RulesCache *prometheus.CounterVec
}

// NewDomainMetrics registers the pricing collectors on reg.
func NewDomainMetrics(namespace string, reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) *prometheus.CounterVec {
		return register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"result"}))
	}
	return &DomainMetrics{
		CouponValidations: counter("coupon_validation_total", "Coupon validation outcomes."),
		CouponRedemptions: counter("coupon_redemption_total", "Coupon redemption outcomes."),
		ShippingQuotes:    counter("shipping_quote_total", "Shipping quote outcomes."),
		RulesCache:        counter("shipping_rules_cache_total", "Shipping rule cache lookups."),
	}
}

func inc(m *DomainMetrics, pick func(*DomainMetrics) *prometheus.CounterVec, result string) {
	if m == nil {
		return
	}
	if v := pick(m); v != nil {
		v.WithLabelValues(result).Inc()
	}
}

// CouponValidated records a coupon validation outcome. Nil receivers are no-ops.
func (m *DomainMetrics) CouponValidated(result string) {
	inc(m, func(d *DomainMetrics) *prometheus.CounterVec { return d.CouponValidations }, result)
}

// CouponRedeemed records a redemption outcome.
func (m *DomainMetrics) CouponRedeemed(result string) {
	inc(m, func(d *DomainMetrics) *prometheus.CounterVec { return d.CouponRedemptions }, result)
}

// ShippingQuoted records a shipping quote outcome.
func (m *DomainMetrics) ShippingQuoted(result string) {
	inc(m, func(d *DomainMetrics) *prometheus.CounterVec { return d.ShippingQuotes }, result)
}

// RulesCacheLookup records a shipping rules cache lookup.
func (m *DomainMetrics) RulesCacheLookup(result string) {
	inc(m, func(d *DomainMetrics) *prometheus.CounterVec { return d.RulesCache }, result)
}
