package pricing

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/coupon"
	"github.com/noah-isme/toko-pricing/internal/shipping"
)

// ShippingQuoter resolves the shipping line of an order.
type ShippingQuoter interface {
	Quote(ctx context.Context, sc shipping.Context) (shipping.Result, error)
}

// CouponPreviewer evaluates a coupon code without redeeming it.
type CouponPreviewer interface {
	Validate(ctx context.Context, code string, subtotal, shippingCost decimal.Decimal, userID string) (coupon.Preview, error)
}

// QuoteRequest describes an order to price. Items, when present, override
// Subtotal and Weight.
type QuoteRequest struct {
	Items      []Item
	Subtotal   decimal.Decimal
	Weight     decimal.Decimal
	Country    string
	CouponCode string
	UserID     string
}

// CouponError reports why a requested coupon was not applied.
type CouponError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Quote is a fully priced order.
type Quote struct {
	Summary
	Weight      decimal.Decimal `json:"weight"`
	Shipping    shipping.Result `json:"shipping"`
	Coupon      *coupon.Preview `json:"coupon,omitempty"`
	CouponError *CouponError    `json:"couponError,omitempty"`
}

// Service prices orders from shipping rules, coupons and the tax rate.
type Service struct {
	Shipping ShippingQuoter
	Coupons  CouponPreviewer
	Pricer   Pricer
	Log      zerolog.Logger
}

// Quote prices req. A rejected coupon is reported on the quote instead of
// failing it.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if s == nil || s.Shipping == nil {
		return Quote{}, errors.New("pricing service not configured")
	}
	subtotal, weight := req.Subtotal, req.Weight
	if len(req.Items) > 0 {
		subtotal, weight = ItemsSubtotal(req.Items), ItemsWeight(req.Items)
	}

	ship, err := s.Shipping.Quote(ctx, shipping.Context{OrderTotal: subtotal, Weight: weight, Country: req.Country})
	if err != nil {
		return Quote{}, err
	}

	q := Quote{Weight: weight, Shipping: ship}
	var discount coupon.Discount
	if code := strings.TrimSpace(req.CouponCode); code != "" && s.Coupons != nil {
		preview, err := s.Coupons.Validate(ctx, code, subtotal, ship.Cost, req.UserID)
		var reason coupon.Reason
		switch {
		case err == nil:
			q.Coupon = &preview
			discount = coupon.Discount{Amount: preview.Discount, FreeShipping: preview.FreeShipping}
		case errors.As(err, &reason):
			q.CouponError = &CouponError{Code: string(reason), Message: reason.Message()}
		case errors.Is(err, coupon.ErrNotFound):
			q.CouponError = &CouponError{Code: "COUPON_NOT_FOUND", Message: "Coupon not found"}
		default:
			return Quote{}, err
		}
	}

	q.Summary = s.Pricer.Price(Input{Subtotal: subtotal, ShippingCost: ship.Cost, Discount: discount})
	s.Log.Debug().
		Str("subtotal", q.Subtotal.String()).
		Str("grand_total", q.GrandTotal.String()).
		Bool("coupon_applied", q.Coupon != nil).
		Msg("order priced")
	return q, nil
}
