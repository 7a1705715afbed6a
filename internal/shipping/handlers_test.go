package shipping

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/shipping/calculate", h.Calculate)
	r.Get("/admin/shipping-rules", h.List)
	r.Post("/admin/shipping-rules", h.Create)
	r.Put("/admin/shipping-rules/{id}", h.Update)
	r.Delete("/admin/shipping-rules/{id}", h.Delete)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	var env envelope
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	}
	return rr, env
}

func TestHandlerCalculate(t *testing.T) {
	svc, _, _ := newTestService(t, newMemStore(standardRule()))
	router := newRouter(&Handler{Svc: svc})

	rr, env := do(t, router, http.MethodPost, "/shipping/calculate", `{"orderTotal":100,"weight":2,"country":"GB"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Equal(t, 5.0, body["shippingCost"])
	require.Equal(t, "Standard", body["shippingMethod"])
	require.Equal(t, false, body["freeShipping"])
	require.Equal(t, 150.0, body["freeShippingThreshold"])

	rr, env = do(t, router, http.MethodPost, "/shipping/calculate", `{"orderTotal":100,"country":"US"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	body = map[string]any{}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Equal(t, 0.0, body["shippingCost"])
	require.Equal(t, true, body["noRule"])
	require.Equal(t, NoRuleMessage, body["message"])
	require.Nil(t, body["freeShippingThreshold"])

	rr, env = do(t, router, http.MethodPost, "/shipping/calculate", `{"weight":2}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "is required", env.Error.Details["orderTotal"])

	rr, _ = do(t, router, http.MethodPost, "/shipping/calculate", `{"orderTotal":-5}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerAdminRules(t *testing.T) {
	svc, _, _ := newTestService(t, newMemStore())
	router := newRouter(&Handler{Svc: svc})

	body := `{"name":"Heavy","type":"weight_based","baseRate":25,"weightRates":[{"min":0,"max":5,"rate":10}],"excludedCountries":["ie"]}`
	rr, env := do(t, router, http.MethodPost, "/admin/shipping-rules", body)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created Rule
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.Equal(t, RuleWeightBased, created.Type)
	require.Len(t, created.WeightRates, 1)
	require.Equal(t, []string{"IE"}, created.ExcludedCountries)
	require.True(t, created.IsActive)

	rr, env = do(t, router, http.MethodPost, "/admin/shipping-rules", `{"name":"Bad","type":"drone"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, env.Error.Details["type"], "must be one of")

	rr, _ = do(t, router, http.MethodGet, "/admin/shipping-rules", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = do(t, router, http.MethodPut, "/admin/shipping-rules/"+created.ID, `{"name":"Heavy","type":"flat_rate","baseRate":30,"isActive":false}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = do(t, router, http.MethodDelete, "/admin/shipping-rules/"+created.ID, "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr, env = do(t, router, http.MethodDelete, "/admin/shipping-rules/"+created.ID, "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "NOT_FOUND", env.Error.Code)
}
