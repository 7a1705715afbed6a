package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/money"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

var (
	// ErrNotFound is returned when no coupon matches the code or id.
	ErrNotFound = errors.New("coupon not found")
	// ErrCodeTaken is returned when creating a coupon whose code already exists.
	ErrCodeTaken = errors.New("coupon code already exists")
	// ErrInvalidCoupon wraps admin payload problems.
	ErrInvalidCoupon = errors.New("invalid coupon")
	// ErrInvalidRedemption is returned when a redemption lacks code, user or order.
	ErrInvalidRedemption = errors.New("code, userId and orderNo are required")
)

// Store persists coupons and their usage history.
type Store interface {
	GetByCode(ctx context.Context, code string) (Coupon, error)
	List(ctx context.Context, p common.Pagination) ([]Coupon, int, error)
	Create(ctx context.Context, c Coupon) (Coupon, error)
	Update(ctx context.Context, c Coupon) (Coupon, error)
	Delete(ctx context.Context, id string) error
	UsagesByUser(ctx context.Context, couponID, userID string) ([]Usage, error)
	// RecordUsage atomically bumps used_count within the usage limit and
	// inserts the usage row. It reports false without error when the order
	// was already recorded for the coupon.
	RecordUsage(ctx context.Context, c Coupon, u Usage) (bool, error)
}

// Locker serialises work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Preview is the dry-run result of applying a coupon to an order.
type Preview struct {
	Code         string          `json:"code"`
	Description  string          `json:"description,omitempty"`
	DiscountType DiscountType    `json:"discountType"`
	Discount     decimal.Decimal `json:"discount"`
	FreeShipping bool            `json:"freeShipping"`
}

// Redemption asks to record one use of a coupon against an order.
type Redemption struct {
	Code    string `json:"code" validate:"required"`
	UserID  string `json:"userId" validate:"required"`
	OrderNo string `json:"orderNo" validate:"required"`
}

// Receipt describes a recorded redemption.
type Receipt struct {
	Code      string    `json:"code"`
	OrderNo   string    `json:"orderNo"`
	UsedAt    time.Time `json:"usedAt"`
	Duplicate bool      `json:"duplicate"`
}

// Service validates and redeems coupons and manages them for admins.
type Service struct {
	Store   Store
	Locker  Locker
	LockTTL time.Duration
	Metrics *obs.DomainMetrics
	Log     zerolog.Logger
	Now     func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) ready() error {
	if s == nil || s.Store == nil {
		return errors.New("coupon service not configured")
	}
	return nil
}

// load fetches the coupon by code and attaches the user's usage history.
func (s *Service) load(ctx context.Context, code, userID string) (Coupon, error) {
	c, err := s.Store.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return Coupon{}, err
	}
	if userID != "" {
		usages, err := s.Store.UsagesByUser(ctx, c.ID, userID)
		if err != nil {
			return Coupon{}, fmt.Errorf("load coupon usage: %w", err)
		}
		c.UsedBy = usages
	}
	return c, nil
}

// Validate previews code against the order without recording anything.
func (s *Service) Validate(ctx context.Context, code string, subtotal, shippingCost decimal.Decimal, userID string) (Preview, error) {
	if err := s.ready(); err != nil {
		return Preview{}, err
	}
	userID = strings.TrimSpace(userID)
	c, err := s.load(ctx, code, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.Metrics.CouponValidated("not_found")
		} else {
			s.Metrics.CouponValidated("error")
		}
		return Preview{}, err
	}
	d, err := Evaluate(c, Request{Subtotal: subtotal, ShippingCost: shippingCost, UserID: userID, Now: s.now()})
	if err != nil {
		var reason Reason
		if errors.As(err, &reason) {
			s.Metrics.CouponValidated(string(reason))
			s.Log.Debug().Str("code", c.Code).Str("reason", string(reason)).Msg("coupon rejected")
		}
		return Preview{}, err
	}
	s.Metrics.CouponValidated("applied")
	return Preview{
		Code:         c.Code,
		Description:  c.Description,
		DiscountType: c.DiscountType,
		Discount:     d.Amount,
		FreeShipping: d.FreeShipping,
	}, nil
}

// Redeem records r against its coupon. Replaying an order that was already
// recorded succeeds with Duplicate set.
func (s *Service) Redeem(ctx context.Context, r Redemption) (Receipt, error) {
	if err := s.ready(); err != nil {
		return Receipt{}, err
	}
	r.Code = NormalizeCode(r.Code)
	r.UserID = strings.TrimSpace(r.UserID)
	r.OrderNo = strings.TrimSpace(r.OrderNo)
	if r.Code == "" || r.UserID == "" || r.OrderNo == "" {
		s.Metrics.CouponRedeemed("rejected")
		return Receipt{}, ErrInvalidRedemption
	}

	var receipt Receipt
	redeem := func(ctx context.Context) error {
		var err error
		receipt, err = s.redeemLocked(ctx, r)
		return err
	}
	var err error
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, r.Code, s.LockTTL, redeem)
	} else {
		err = redeem(ctx)
	}

	switch {
	case err == nil && receipt.Duplicate:
		s.Metrics.CouponRedeemed("duplicate")
	case err == nil:
		s.Metrics.CouponRedeemed("recorded")
		s.Log.Info().Str("code", r.Code).Str("order_no", r.OrderNo).Msg("coupon redeemed")
	case IsRejection(err):
		s.Metrics.CouponRedeemed("rejected")
	default:
		s.Metrics.CouponRedeemed("error")
		s.Log.Error().Err(err).Str("code", r.Code).Str("order_no", r.OrderNo).Msg("coupon redemption failed")
	}
	return receipt, err
}

func (s *Service) redeemLocked(ctx context.Context, r Redemption) (Receipt, error) {
	c, err := s.load(ctx, r.Code, r.UserID)
	if err != nil {
		return Receipt{}, err
	}
	if prior, ok := lo.Find(c.UsedBy, func(u Usage) bool { return u.OrderNo == r.OrderNo }); ok {
		return Receipt{Code: c.Code, OrderNo: r.OrderNo, UsedAt: prior.UsedAt, Duplicate: true}, nil
	}
	now := s.now()
	if err := CanRedeem(c, r.UserID, now); err != nil {
		return Receipt{}, err
	}
	usage := Usage{UserID: r.UserID, OrderNo: r.OrderNo, UsedAt: now}
	recorded, err := s.Store.RecordUsage(ctx, c, usage)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Code: c.Code, OrderNo: r.OrderNo, UsedAt: now, Duplicate: !recorded}, nil
}

// IsRejection reports whether err is a business refusal rather than an
// infrastructure failure. Retrying a rejection cannot succeed.
func IsRejection(err error) bool {
	var reason Reason
	return errors.As(err, &reason) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidRedemption)
}

// List returns a page of coupons for the admin console.
func (s *Service) List(ctx context.Context, p common.Pagination) ([]Coupon, int, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}
	return s.Store.List(ctx, p)
}

// Create validates and stores a new coupon.
func (s *Service) Create(ctx context.Context, c Coupon) (Coupon, error) {
	if err := s.ready(); err != nil {
		return Coupon{}, err
	}
	c = prepare(c)
	if err := validateConfig(c); err != nil {
		return Coupon{}, err
	}
	now := s.now()
	c.ID = uuid.NewString()
	c.UsedCount = 0
	c.UsedBy = nil
	c.CreatedAt = now
	c.UpdatedAt = now
	return s.Store.Create(ctx, c)
}

// Update replaces the editable fields of coupon id. The usage counter is
// owned by redemptions and never overwritten.
func (s *Service) Update(ctx context.Context, id string, c Coupon) (Coupon, error) {
	if err := s.ready(); err != nil {
		return Coupon{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return Coupon{}, ErrNotFound
	}
	c = prepare(c)
	if err := validateConfig(c); err != nil {
		return Coupon{}, err
	}
	c.ID = id
	c.UpdatedAt = s.now()
	return s.Store.Update(ctx, c)
}

// Delete removes coupon id together with its usage history.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	return s.Store.Delete(ctx, id)
}

func prepare(c Coupon) Coupon {
	c.Code = NormalizeCode(c.Code)
	c.Description = strings.TrimSpace(c.Description)
	if c.UsagePerUser <= 0 {
		c.UsagePerUser = 1
	}
	c.DiscountValue = money.Round(c.DiscountValue)
	c.MinimumPurchase = money.Round(c.MinimumPurchase)
	return c
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCoupon, fmt.Sprintf(format, args...))
}

func validateConfig(c Coupon) error {
	switch {
	case c.Code == "":
		return invalid("code is required")
	case !c.DiscountType.Valid():
		return invalid("unknown discount type %q", c.DiscountType)
	case c.DiscountValue.IsNegative():
		return invalid("discount value must not be negative")
	case c.DiscountType == DiscountPercentage && c.DiscountValue.GreaterThan(decimal.NewFromInt(100)):
		return invalid("percentage must not exceed 100")
	case c.MinimumPurchase.IsNegative():
		return invalid("minimum purchase must not be negative")
	case c.MaxDiscount != nil && c.MaxDiscount.IsNegative():
		return invalid("max discount must not be negative")
	case c.ExpiryDate == nil:
		return invalid("expiry date is required")
	case c.StartDate != nil && c.StartDate.After(*c.ExpiryDate):
		return invalid("start date must not be after expiry date")
	case c.UsageLimit != nil && *c.UsageLimit < 0:
		return invalid("usage limit must not be negative")
	}
	return nil
}
