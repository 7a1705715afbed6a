package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/coupon"
	"github.com/noah-isme/toko-pricing/internal/shipping"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func standardRule() shipping.Rule {
	return shipping.Rule{
		Name:                  "Standard",
		Type:                  shipping.RulePriceBased,
		BaseRate:              dec("5"),
		FreeShippingThreshold: decPtr("150"),
		IsActive:              true,
	}
}

func TestPriceWithClampedPercentageCoupon(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Hour)
	c := coupon.Coupon{
		Code:          "TWENTY",
		DiscountType:  coupon.DiscountPercentage,
		DiscountValue: dec("20"),
		MaxDiscount:   decPtr("15"),
		ExpiryDate:    &expiry,
		UsagePerUser:  1,
		IsActive:      true,
	}
	subtotal := dec("100")
	quote, err := shipping.Resolve([]shipping.Rule{standardRule()}, shipping.Context{OrderTotal: subtotal, Country: "GB"})
	require.NoError(t, err)
	require.True(t, quote.Cost.Equal(dec("5")))

	discount, err := coupon.Evaluate(c, coupon.Request{Subtotal: subtotal, ShippingCost: quote.Cost, Now: now})
	require.NoError(t, err)

	summary := NewPricer(DefaultTaxRatePercent).Price(Input{Subtotal: subtotal, ShippingCost: quote.Cost, Discount: discount})
	require.True(t, summary.Discount.Equal(dec("15")))
	require.True(t, summary.ShippingCost.Equal(dec("5")))
	require.True(t, summary.Tax.Equal(dec("8")))
	require.True(t, summary.GrandTotal.Equal(dec("98")), "got %s", summary.GrandTotal)
}

func TestPriceThresholdMetWithoutCoupon(t *testing.T) {
	subtotal := dec("200")
	quote, err := shipping.Resolve([]shipping.Rule{standardRule()}, shipping.Context{OrderTotal: subtotal})
	require.NoError(t, err)
	require.True(t, quote.Cost.IsZero())

	summary := NewPricer(DefaultTaxRatePercent).Price(Input{Subtotal: subtotal, ShippingCost: quote.Cost})
	require.True(t, summary.Discount.IsZero())
	require.True(t, summary.Tax.Equal(dec("16")))
	require.True(t, summary.GrandTotal.Equal(dec("216")))
}

func TestPriceFreeShippingCoupon(t *testing.T) {
	summary := Pricer{TaxRate: dec("8")}.Price(Input{
		Subtotal:     dec("40"),
		ShippingCost: dec("5"),
		Discount:     coupon.Discount{Amount: dec("5"), FreeShipping: true},
	})
	require.True(t, summary.FreeShipping)
	require.True(t, summary.ShippingCost.IsZero())
	require.True(t, summary.Discount.Equal(dec("5")))
	require.True(t, summary.Tax.Equal(dec("3.2")))
	require.True(t, summary.GrandTotal.Equal(dec("38.2")))
}

func TestPriceSummaryAddsUp(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want string
	}{
		{"free shipping coupon", Input{Subtotal: dec("100"), ShippingCost: dec("5"),
			Discount: coupon.Discount{Amount: dec("5"), FreeShipping: true}}, "103"},
		{"fixed coupon", Input{Subtotal: dec("100"), ShippingCost: dec("5"),
			Discount: coupon.Discount{Amount: dec("10")}}, "103"},
		{"no coupon", Input{Subtotal: dec("100"), ShippingCost: dec("5")}, "113"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Pricer{TaxRate: dec("8")}.Price(tc.in)
			require.True(t, s.GrandTotal.Equal(dec(tc.want)), "got %s", s.GrandTotal)
			sum := s.Subtotal.Sub(s.Discount).Add(s.ShippingCost).Add(s.Tax)
			require.True(t, sum.Equal(s.GrandTotal), "summary lines %s do not add up to %s", sum, s.GrandTotal)
		})
	}
}

func TestPriceNeverNegative(t *testing.T) {
	summary := Pricer{}.Price(Input{
		Subtotal: dec("10"),
		Discount: coupon.Discount{Amount: dec("500")},
	})
	require.True(t, summary.GrandTotal.IsZero())
}

func TestPriceRoundsTax(t *testing.T) {
	summary := Pricer{TaxRate: dec("8")}.Price(Input{Subtotal: dec("19.99")})
	require.True(t, summary.Tax.Equal(dec("1.60")))
	require.True(t, summary.GrandTotal.Equal(dec("21.59")))
}

func TestNewPricerDefaultsNegativeRate(t *testing.T) {
	require.True(t, NewPricer(dec("-1")).TaxRate.Equal(DefaultTaxRatePercent))
	require.True(t, NewPricer(decimal.Zero).TaxRate.IsZero())
}

func TestItemsSubtotalAndWeight(t *testing.T) {
	items := []Item{
		{Qty: 2, UnitPrice: dec("12.50"), Weight: dec("0.4")},
		{Qty: 0, UnitPrice: dec("99"), Weight: dec("10")},
		{Qty: 1, UnitPrice: dec("3.333"), Weight: dec("1.1")},
	}
	require.True(t, ItemsSubtotal(items).Equal(dec("28.33")))
	require.True(t, ItemsWeight(items).Equal(dec("1.9")))
}
