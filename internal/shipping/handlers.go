package shipping

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/common"
)

// Handler exposes shipping endpoints.
type Handler struct {
	Svc *Service
}

type calculateRequest struct {
	OrderTotal *decimal.Decimal `json:"orderTotal" validate:"required"`
	Weight     *decimal.Decimal `json:"weight"`
	Country    string           `json:"country" validate:"omitempty,max=3"`
}

type rulePayload struct {
	Name                  string           `json:"name" validate:"required,max=120"`
	Description           string           `json:"description" validate:"max=500"`
	Type                  string           `json:"type" validate:"required,oneof=flat_rate free weight_based price_based"`
	BaseRate              *decimal.Decimal `json:"baseRate"`
	FreeShippingThreshold *decimal.Decimal `json:"freeShippingThreshold"`
	WeightRates           []Tier           `json:"weightRates"`
	PriceRates            []Tier           `json:"priceRates"`
	ApplicableCountries   []string         `json:"applicableCountries" validate:"omitempty,dive,min=2,max=3"`
	ExcludedCountries     []string         `json:"excludedCountries" validate:"omitempty,dive,min=2,max=3"`
	Priority              int              `json:"priority"`
	IsActive              *bool            `json:"isActive"`
}

func (p rulePayload) toRule() Rule {
	r := Rule{
		Name:                  p.Name,
		Description:           p.Description,
		Type:                  RuleType(p.Type),
		FreeShippingThreshold: p.FreeShippingThreshold,
		WeightRates:           p.WeightRates,
		PriceRates:            p.PriceRates,
		ApplicableCountries:   p.ApplicableCountries,
		ExcludedCountries:     p.ExcludedCountries,
		Priority:              p.Priority,
		IsActive:              true,
	}
	if p.BaseRate != nil {
		r.BaseRate = *p.BaseRate
	}
	if p.IsActive != nil {
		r.IsActive = *p.IsActive
	}
	return r
}

// Calculate quotes shipping for an order total, weight and destination.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	sc := Context{OrderTotal: *req.OrderTotal, Country: req.Country}
	if req.Weight != nil {
		sc.Weight = *req.Weight
	}
	if sc.OrderTotal.IsNegative() || sc.Weight.IsNegative() {
		common.WriteError(w, common.BadRequest("orderTotal and weight must not be negative", nil))
		return
	}
	res, err := h.Svc.Quote(r.Context(), sc)
	if err != nil {
		writeShippingError(w, err)
		return
	}
	common.Data(w, http.StatusOK, res)
}

// List returns a page of rules.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := common.ParsePagination(r, 20, 100)
	items, total, err := h.Svc.List(r.Context(), page)
	if err != nil {
		writeShippingError(w, err)
		return
	}
	page.TotalItems = total
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": page})
}

// Create stores a new rule.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload rulePayload
	if err := common.DecodeJSON(w, r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	rule, err := h.Svc.Create(r.Context(), payload.toRule())
	if err != nil {
		writeShippingError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, rule)
}

// Update replaces an existing rule.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var payload rulePayload
	if err := common.DecodeJSON(w, r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	rule, err := h.Svc.Update(r.Context(), chi.URLParam(r, "id"), payload.toRule())
	if err != nil {
		writeShippingError(w, err)
		return
	}
	common.Data(w, http.StatusOK, rule)
}

// Delete removes a rule.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeShippingError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeShippingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "shipping rule not found", nil)
	case errors.Is(err, ErrInvalidRule):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	default:
		common.WriteError(w, err)
	}
}
