package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/coupon"
	"github.com/noah-isme/toko-pricing/internal/money"
)

// DefaultTaxRatePercent is the storefront tax rate applied to the subtotal.
var DefaultTaxRatePercent = decimal.NewFromInt(8)

// Item describes a cart line used to derive the order subtotal and weight.
type Item struct {
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Weight    decimal.Decimal `json:"weight"`
}

// Input carries the independently computed shipping and coupon results.
type Input struct {
	Subtotal     decimal.Decimal
	ShippingCost decimal.Decimal
	Discount     coupon.Discount
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	FreeShipping bool            `json:"freeShipping"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
	Tax          decimal.Decimal `json:"tax"`
	GrandTotal   decimal.Decimal `json:"grandTotal"`
}

// Pricer combines subtotal, discount, shipping and tax into a grand total.
type Pricer struct {
	// TaxRate is a percentage of the pre-discount subtotal.
	TaxRate decimal.Decimal
}

// NewPricer returns a Pricer using rate, or the default rate when rate is negative.
func NewPricer(rate decimal.Decimal) Pricer {
	if rate.IsNegative() {
		rate = DefaultTaxRatePercent
	}
	return Pricer{TaxRate: rate}
}

// Price computes the order summary as subtotal - discount + shipping + tax.
// A free-shipping coupon zeroes the shipping line; its discount amount still
// counts against the total.
func (p Pricer) Price(in Input) Summary {
	subtotal := money.Round(in.Subtotal)
	shipping := money.Round(money.NonNegative(in.ShippingCost))
	if in.Discount.FreeShipping {
		shipping = decimal.Zero
	}
	discount := money.Round(money.NonNegative(in.Discount.Amount))
	tax := money.Round(money.Percent(subtotal, p.TaxRate))
	total := subtotal.Sub(discount).Add(shipping).Add(tax)
	return Summary{
		Subtotal:     subtotal,
		Discount:     discount,
		FreeShipping: in.Discount.FreeShipping,
		ShippingCost: shipping,
		Tax:          tax,
		GrandTotal:   money.NonNegative(money.Round(total)),
	}
}

// ItemsSubtotal sums the line totals of items with a positive quantity.
func ItemsSubtotal(items []Item) decimal.Decimal {
	subtotal := decimal.Zero
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	return money.Round(subtotal)
}

// ItemsWeight sums the shipping weight of items with a positive quantity.
func ItemsWeight(items []Item) decimal.Decimal {
	weight := decimal.Zero
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		weight = weight.Add(it.Weight.Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	return weight
}
