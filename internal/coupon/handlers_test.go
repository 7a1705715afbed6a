package coupon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/common"
)

type recordingQueue struct {
	got []Redemption
	err error
}

func (q *recordingQueue) EnqueueRedemption(_ context.Context, r Redemption) error {
	if q.err != nil {
		return q.err
	}
	q.got = append(q.got, r)
	return nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/coupons/validate", h.Validate)
	r.Post("/coupons/use", h.Use)
	r.Get("/admin/coupons", h.List)
	r.Post("/admin/coupons", h.Create)
	r.Put("/admin/coupons/{id}", h.Update)
	r.Delete("/admin/coupons/{id}", h.Delete)
	return r
}

// asUser serves h with the identity the auth middleware would attach.
func asUser(h http.Handler, userID string, roles ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := common.WithRoles(common.WithUserID(r.Context(), userID), roles)
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var env envelope
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	}
	return rr, env
}

func TestHandlerValidate(t *testing.T) {
	save := storedCoupon("SAVE10", DiscountPercentage, "20")
	save.MaxDiscount = decPtr("15")
	save.MinimumPurchase = dec("50")
	svc, _ := newService(t, newMemStore(save))
	router := newRouter(&Handler{Svc: svc})

	rr, env := do(t, router, http.MethodPost, "/coupons/validate", `{"code":"save10","subtotal":100,"shippingCost":5}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var preview struct {
		Code     string  `json:"code"`
		Discount float64 `json:"discount"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &preview))
	require.Equal(t, "SAVE10", preview.Code)
	require.Equal(t, 15.0, preview.Discount)

	rr, env = do(t, router, http.MethodPost, "/coupons/validate", `{"code":"SAVE10","subtotal":"20.00"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "minimum_purchase_not_met", env.Error.Code)
	require.Equal(t, "Minimum purchase not met for this coupon", env.Error.Message)

	rr, env = do(t, router, http.MethodPost, "/coupons/validate", `{"code":"GHOST","subtotal":20}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "COUPON_NOT_FOUND", env.Error.Code)

	rr, env = do(t, router, http.MethodPost, "/coupons/validate", `{"code":"SAVE10"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "is required", env.Error.Details["subtotal"])

	rr, _ = do(t, router, http.MethodPost, "/coupons/validate", `{"code":"SAVE10","subtotal":-1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerUseInline(t *testing.T) {
	svc, _ := newService(t, newMemStore(storedCoupon("SAVE10", DiscountFixed, "10")))
	router := asUser(newRouter(&Handler{Svc: svc}), "u-1")

	rr, env := do(t, router, http.MethodPost, "/coupons/use", `{"code":"SAVE10","userId":"u-1","orderNo":"ORD-1"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var receipt Receipt
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	require.Equal(t, "ORD-1", receipt.OrderNo)
	require.False(t, receipt.Duplicate)

	rr, env = do(t, router, http.MethodPost, "/coupons/use", `{"code":"SAVE10","userId":"u-1","orderNo":"ORD-2"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "per_user_limit_reached", env.Error.Code)

	rr, env = do(t, router, http.MethodPost, "/coupons/use", `{"code":"SAVE10"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, env.Error.Details, "orderNo")
}

func TestHandlerUseQueued(t *testing.T) {
	svc, metrics := newService(t, newMemStore())
	queue := &recordingQueue{}
	router := asUser(newRouter(&Handler{Svc: svc, Queue: queue}), "u-1")

	rr, _ := do(t, router, http.MethodPost, "/coupons/use", `{"code":"save10","userId":"u-1","orderNo":"ORD-1"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, queue.got, 1)
	require.Equal(t, "ORD-1", queue.got[0].OrderNo)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.CouponRedemptions.WithLabelValues("queued")))

	queue.err = errors.New("redis down")
	rr, env := do(t, router, http.MethodPost, "/coupons/use", `{"code":"save10","userId":"u-1","orderNo":"ORD-2"}`)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "QUEUE_UNAVAILABLE", env.Error.Code)
}

func TestHandlerUseIdentity(t *testing.T) {
	svc, _ := newService(t, newMemStore(storedCoupon("SAVE10", DiscountFixed, "10")))
	queue := &recordingQueue{}
	h := &Handler{Svc: svc, Queue: queue, DelegateRole: "admin"}
	body := `{"code":"SAVE10","userId":"u-1","orderNo":"ORD-9"}`

	rr, env := do(t, newRouter(h), http.MethodPost, "/coupons/use", body)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "UNAUTHORIZED", env.Error.Code)

	rr, env = do(t, asUser(newRouter(h), "u-2", "customer"), http.MethodPost, "/coupons/use", body)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "FORBIDDEN", env.Error.Code)
	require.Empty(t, queue.got)

	rr, _ = do(t, asUser(newRouter(h), "u-2"), http.MethodPost, "/coupons/use", `{"code":"SAVE10","orderNo":"ORD-10"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	rr, _ = do(t, asUser(newRouter(h), "ops-1", "admin"), http.MethodPost, "/coupons/use", body)
	require.Equal(t, http.StatusAccepted, rr.Code)

	require.Len(t, queue.got, 2)
	require.Equal(t, "u-2", queue.got[0].UserID, "body-less userId defaults to the caller")
	require.Equal(t, "u-1", queue.got[1].UserID, "delegate role redeems for the named user")
}

func TestHandlerAdminCRUD(t *testing.T) {
	store := newMemStore()
	svc, _ := newService(t, store)
	router := newRouter(&Handler{Svc: svc})

	body := `{"code":"spring15","discountType":"percentage","discountValue":15,"maxDiscount":25,
		"expiryDate":"2025-12-31T23:59:59Z","usageLimit":100}`
	rr, env := do(t, router, http.MethodPost, "/admin/coupons", body)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created Coupon
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.Equal(t, "SPRING15", created.Code)
	require.True(t, created.IsActive)
	require.Equal(t, 1, created.UsagePerUser)

	rr, env = do(t, router, http.MethodPost, "/admin/coupons", body)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "CONFLICT", env.Error.Code)

	rr, env = do(t, router, http.MethodPost, "/admin/coupons", `{"code":"BAD","discountType":"bogus","discountValue":1,"expiryDate":"2025-12-31T00:00:00Z"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, env.Error.Details["discountType"], "must be one of")

	rr, _ = do(t, router, http.MethodGet, "/admin/coupons?page=1&limit=10", "")
	require.Equal(t, http.StatusOK, rr.Code)

	update := `{"code":"SPRING15","discountType":"fixed","discountValue":5,"expiryDate":"2025-12-31T23:59:59Z","isActive":false}`
	rr, env = do(t, router, http.MethodPut, "/admin/coupons/"+created.ID, update)
	require.Equal(t, http.StatusOK, rr.Code)
	var updated Coupon
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	require.Equal(t, DiscountFixed, updated.DiscountType)
	require.False(t, updated.IsActive)

	rr, _ = do(t, router, http.MethodDelete, "/admin/coupons/"+created.ID, "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr, env = do(t, router, http.MethodDelete, "/admin/coupons/"+created.ID, "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "COUPON_NOT_FOUND", env.Error.Code)
}

func TestHandlerListError(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("boom")
	svc, _ := newService(t, store)
	rr, env := do(t, newRouter(&Handler{Svc: svc}), http.MethodGet, "/admin/coupons", "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "INTERNAL", env.Error.Code)
}
