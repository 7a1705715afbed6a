package pricing

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/common"
)

// Handler exposes the order quote endpoint.
type Handler struct {
	Svc *Service
}

type quoteItem struct {
	Qty       int             `json:"qty" validate:"min=1"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Weight    decimal.Decimal `json:"weight"`
}

type quoteRequest struct {
	Items      []quoteItem      `json:"items" validate:"omitempty,dive"`
	Subtotal   *decimal.Decimal `json:"subtotal" validate:"required_without=Items"`
	Weight     *decimal.Decimal `json:"weight"`
	Country    string           `json:"country" validate:"omitempty,max=3"`
	CouponCode string           `json:"couponCode"`
	UserID     string           `json:"userId"`
}

// Quote prices an order.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	in := QuoteRequest{Country: req.Country, CouponCode: req.CouponCode, UserID: strings.TrimSpace(req.UserID)}
	if in.UserID == "" {
		in.UserID, _ = common.UserID(r.Context())
	}
	for _, it := range req.Items {
		if it.UnitPrice.IsNegative() || it.Weight.IsNegative() {
			common.WriteError(w, common.BadRequest("item prices and weights must not be negative", nil))
			return
		}
		in.Items = append(in.Items, Item(it))
	}
	if req.Subtotal != nil {
		in.Subtotal = *req.Subtotal
	}
	if req.Weight != nil {
		in.Weight = *req.Weight
	}
	if in.Subtotal.IsNegative() || in.Weight.IsNegative() {
		common.WriteError(w, common.BadRequest("subtotal and weight must not be negative", nil))
		return
	}
	q, err := h.Svc.Quote(r.Context(), in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, q)
}
