package coupon

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/common"
)

// Enqueuer hands redemptions to the background worker.
type Enqueuer interface {
	EnqueueRedemption(ctx context.Context, r Redemption) error
}

// Handler exposes coupon endpoints.
type Handler struct {
	Svc *Service
	// Queue, when set, defers redemptions to the worker and answers 202.
	Queue Enqueuer
	// DelegateRole may redeem on behalf of the userId in the body. Everyone
	// else redeems as the authenticated subject.
	DelegateRole string
}

type useRequest struct {
	Code    string `json:"code" validate:"required"`
	UserID  string `json:"userId"`
	OrderNo string `json:"orderNo" validate:"required"`
}

type validateRequest struct {
	Code         string           `json:"code" validate:"required"`
	Subtotal     *decimal.Decimal `json:"subtotal" validate:"required"`
	ShippingCost *decimal.Decimal `json:"shippingCost"`
	UserID       string           `json:"userId"`
}

type couponPayload struct {
	Code            string           `json:"code" validate:"required,max=64"`
	Description     string           `json:"description" validate:"max=500"`
	DiscountType    string           `json:"discountType" validate:"required,oneof=percentage fixed free_shipping"`
	DiscountValue   *decimal.Decimal `json:"discountValue" validate:"required"`
	MinimumPurchase *decimal.Decimal `json:"minimumPurchase"`
	MaxDiscount     *decimal.Decimal `json:"maxDiscount"`
	StartDate       *time.Time       `json:"startDate"`
	ExpiryDate      *time.Time       `json:"expiryDate" validate:"required"`
	UsageLimit      *int             `json:"usageLimit" validate:"omitempty,min=0"`
	UsagePerUser    int              `json:"usagePerUser" validate:"min=0"`
	IsActive        *bool            `json:"isActive"`
}

func (p couponPayload) toCoupon() Coupon {
	c := Coupon{
		Code:            p.Code,
		Description:     p.Description,
		DiscountType:    DiscountType(p.DiscountType),
		DiscountValue:   *p.DiscountValue,
		MinimumPurchase: decimal.Zero,
		MaxDiscount:     p.MaxDiscount,
		StartDate:       p.StartDate,
		ExpiryDate:      p.ExpiryDate,
		UsageLimit:      p.UsageLimit,
		UsagePerUser:    p.UsagePerUser,
		IsActive:        true,
	}
	if p.MinimumPurchase != nil {
		c.MinimumPurchase = *p.MinimumPurchase
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	return c
}

// Validate previews a coupon for the posted order totals.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if req.Subtotal.IsNegative() {
		common.WriteError(w, common.BadRequest("validation failed", map[string]string{"subtotal": "must not be negative"}))
		return
	}
	shipping := decimal.Zero
	if req.ShippingCost != nil {
		shipping = *req.ShippingCost
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID, _ = common.UserID(r.Context())
	}
	preview, err := h.Svc.Validate(r.Context(), req.Code, *req.Subtotal, shipping, userID)
	if err != nil {
		writeCouponError(w, err)
		return
	}
	common.Data(w, http.StatusOK, preview)
}

// Use records a coupon redemption, inline or through the worker queue.
// The caller must be authenticated.
func (h *Handler) Use(w http.ResponseWriter, r *http.Request) {
	caller, ok := common.UserID(r.Context())
	if !ok || caller == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var body useRequest
	if err := common.DecodeJSON(w, r, &body); err != nil {
		common.WriteError(w, err)
		return
	}
	req := Redemption{Code: body.Code, UserID: caller, OrderNo: body.OrderNo}
	if other := strings.TrimSpace(body.UserID); other != "" && other != caller {
		if h.DelegateRole == "" || !common.HasRole(r.Context(), h.DelegateRole) {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "cannot redeem a coupon for another user", nil)
			return
		}
		req.UserID = other
	}
	if h.Queue != nil {
		if err := h.Queue.EnqueueRedemption(r.Context(), req); err != nil {
			common.WriteError(w, common.NewAppError("QUEUE_UNAVAILABLE", "could not queue redemption", http.StatusServiceUnavailable, err))
			return
		}
		h.Svc.Metrics.CouponRedeemed("queued")
		common.Data(w, http.StatusAccepted, map[string]string{"status": "queued", "code": NormalizeCode(req.Code), "orderNo": req.OrderNo})
		return
	}
	receipt, err := h.Svc.Redeem(r.Context(), req)
	if err != nil {
		writeCouponError(w, err)
		return
	}
	common.Data(w, http.StatusOK, receipt)
}

// List returns a page of coupons.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := common.ParsePagination(r, 20, 100)
	items, total, err := h.Svc.List(r.Context(), page)
	if err != nil {
		writeCouponError(w, err)
		return
	}
	page.TotalItems = total
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": page})
}

// Create stores a new coupon.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload couponPayload
	if err := common.DecodeJSON(w, r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	c, err := h.Svc.Create(r.Context(), payload.toCoupon())
	if err != nil {
		writeCouponError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, c)
}

// Update replaces an existing coupon.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var payload couponPayload
	if err := common.DecodeJSON(w, r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	c, err := h.Svc.Update(r.Context(), chi.URLParam(r, "id"), payload.toCoupon())
	if err != nil {
		writeCouponError(w, err)
		return
	}
	common.Data(w, http.StatusOK, c)
}

// Delete removes a coupon.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeCouponError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeCouponError(w http.ResponseWriter, err error) {
	var reason Reason
	switch {
	case errors.As(err, &reason):
		common.JSONError(w, http.StatusUnprocessableEntity, string(reason), reason.Message(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "COUPON_NOT_FOUND", "Coupon not found", nil)
	case errors.Is(err, ErrCodeTaken):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "coupon code already exists", nil)
	case errors.Is(err, ErrInvalidCoupon), errors.Is(err, ErrInvalidRedemption):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	default:
		common.WriteError(w, err)
	}
}
