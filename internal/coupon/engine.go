package coupon

import (
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/money"
)

// DiscountType selects the discount formula of a coupon.
type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixed        DiscountType = "fixed"
	DiscountFreeShipping DiscountType = "free_shipping"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixed, DiscountFreeShipping:
		return true
	}
	return false
}

// Reason identifies why a coupon cannot be applied. It doubles as an error value.
type Reason string

const (
	ReasonInactive             Reason = "inactive"
	ReasonNotYetActive         Reason = "not_yet_active"
	ReasonExpired              Reason = "expired"
	ReasonUsageLimitReached    Reason = "usage_limit_reached"
	ReasonPerUserLimitReached  Reason = "per_user_limit_reached"
	ReasonMinimumPurchaseUnmet Reason = "minimum_purchase_not_met"
	ReasonInvalidConfiguration Reason = "invalid_configuration"
)

var reasonMessages = map[Reason]string{
	ReasonInactive:             "This coupon is inactive",
	ReasonNotYetActive:         "This coupon is not yet active",
	ReasonExpired:              "This coupon has expired",
	ReasonUsageLimitReached:    "This coupon has reached its usage limit",
	ReasonPerUserLimitReached:  "You have already used this coupon the maximum number of times",
	ReasonMinimumPurchaseUnmet: "Minimum purchase not met for this coupon",
	ReasonInvalidConfiguration: "This coupon is misconfigured",
}

// Message returns the customer facing text for the reason.
func (r Reason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return string(r)
}

// Error implements error so reasons can be matched with errors.Is.
func (r Reason) Error() string { return r.Message() }

// Usage is a single redemption of a coupon.
type Usage struct {
	UserID  string    `json:"userId"`
	UsedAt  time.Time `json:"usedAt"`
	OrderNo string    `json:"orderNo"`
}

// Coupon is a point-in-time snapshot of a discount code.
type Coupon struct {
	ID              string           `json:"id"`
	Code            string           `json:"code"`
	Description     string           `json:"description,omitempty"`
	DiscountType    DiscountType     `json:"discountType"`
	DiscountValue   decimal.Decimal  `json:"discountValue"`
	MinimumPurchase decimal.Decimal  `json:"minimumPurchase"`
	MaxDiscount     *decimal.Decimal `json:"maxDiscount,omitempty"`
	StartDate       *time.Time       `json:"startDate,omitempty"`
	ExpiryDate      *time.Time       `json:"expiryDate"`
	UsageLimit      *int             `json:"usageLimit,omitempty"`
	UsagePerUser    int              `json:"usagePerUser"`
	UsedCount       int              `json:"usedCount"`
	UsedBy          []Usage          `json:"usedBy,omitempty"`
	IsActive        bool             `json:"isActive"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// Check is the outcome of a single eligibility rule.
type Check struct {
	Valid  bool   `json:"valid"`
	Reason Reason `json:"reason,omitempty"`
}

func pass() Check { return Check{Valid: true} }

func fail(r Reason) Check { return Check{Reason: r} }

func (c Check) err() error {
	if c.Valid {
		return nil
	}
	return c.Reason
}

// Discount is the computed effect of a coupon on an order.
type Discount struct {
	Amount       decimal.Decimal `json:"discount"`
	FreeShipping bool            `json:"freeShipping"`
}

// Request carries the order context a coupon is evaluated against.
type Request struct {
	Subtotal     decimal.Decimal
	ShippingCost decimal.Decimal
	UserID       string
	Now          time.Time
}

// NormalizeCode trims and upper-cases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CheckValidity applies the activity, date window and global usage rules in order.
func CheckValidity(c Coupon, now time.Time) Check {
	if !c.IsActive {
		return fail(ReasonInactive)
	}
	if c.ExpiryDate == nil {
		return fail(ReasonInvalidConfiguration)
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return fail(ReasonNotYetActive)
	}
	if now.After(*c.ExpiryDate) {
		return fail(ReasonExpired)
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return fail(ReasonUsageLimitReached)
	}
	return pass()
}

// CheckUserEligibility enforces the per-user redemption cap. An empty user
// identifier is a guest checkout and always passes.
func CheckUserEligibility(c Coupon, userID string) Check {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return pass()
	}
	used := lo.CountBy(c.UsedBy, func(u Usage) bool { return u.UserID == userID })
	if used >= c.perUserLimit() {
		return fail(ReasonPerUserLimitReached)
	}
	return pass()
}

// CheckMinimumPurchase reports whether subtotal meets the coupon floor.
func CheckMinimumPurchase(c Coupon, subtotal decimal.Decimal) bool {
	if !c.MinimumPurchase.IsPositive() {
		return true
	}
	return subtotal.GreaterThanOrEqual(c.MinimumPurchase)
}

// CalculateDiscount computes the discount for the given subtotal. For
// free-shipping coupons the discount equals the waived shipping cost.
func CalculateDiscount(c Coupon, subtotal, shippingCost decimal.Decimal) Discount {
	var out Discount
	switch c.DiscountType {
	case DiscountPercentage:
		out.Amount = money.Percent(subtotal, c.DiscountValue)
		if money.IsSet(c.MaxDiscount) && out.Amount.GreaterThan(*c.MaxDiscount) {
			out.Amount = *c.MaxDiscount
		}
	case DiscountFixed:
		out.Amount = decimal.Min(c.DiscountValue, subtotal)
	case DiscountFreeShipping:
		out.FreeShipping = true
		out.Amount = shippingCost
	}
	out.Amount = money.Round(out.Amount)
	return out
}

// Evaluate runs validity, user eligibility and minimum purchase checks in
// that order and returns the discount when all pass. The first failing
// check is returned as a Reason.
func Evaluate(c Coupon, req Request) (Discount, error) {
	if err := CheckValidity(c, req.Now).err(); err != nil {
		return Discount{}, err
	}
	if err := CheckUserEligibility(c, req.UserID).err(); err != nil {
		return Discount{}, err
	}
	if !CheckMinimumPurchase(c, req.Subtotal) {
		return Discount{}, ReasonMinimumPurchaseUnmet
	}
	return CalculateDiscount(c, req.Subtotal, req.ShippingCost), nil
}

// CanRedeem reports whether one more redemption by userID may be recorded.
func CanRedeem(c Coupon, userID string, now time.Time) error {
	if err := CheckValidity(c, now).err(); err != nil {
		return err
	}
	return CheckUserEligibility(c, userID).err()
}

func (c Coupon) perUserLimit() int {
	if c.UsagePerUser <= 0 {
		return 1
	}
	return c.UsagePerUser
}
