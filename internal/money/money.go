// Package money holds the currency helpers shared by the pricing engines.
package money

import "github.com/shopspring/decimal"

// Places is the number of fractional digits kept for every monetary amount.
const Places = 2

func init() {
	// API payloads and cached rules carry amounts as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Round rounds v to minor-unit precision, half away from zero.
func Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(Places)
}

// NonNegative clamps v at zero.
func NonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// Percent returns pct percent of v, unrounded.
func Percent(v, pct decimal.Decimal) decimal.Decimal {
	return v.Mul(pct).Div(decimal.NewFromInt(100))
}

// FromPtr dereferences an optional amount, treating nil as zero.
func FromPtr(v *decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return *v
}

// IsSet reports whether an optional amount is present and non-zero.
func IsSet(v *decimal.Decimal) bool {
	return v != nil && !v.IsZero()
}
