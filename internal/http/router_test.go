package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"contramind/internal/platform/metrics"
	"contramind/pkg/platform/middleware/admin"
	"contramind/pkg/platform/middleware/request"
	"contramind/pkg/testutil"
)

func newTestRouter(checks map[string]HealthCheck) http.Handler {
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }
	return NewRouter(Routes{
		Public:     []func(chi.Router){func(r chi.Router) { r.Get("/public", ok) }},
		Admin:      []func(chi.Router){func(r chi.Router) { r.Post("/admin/thing", ok) }},
		AdminToken: "tok",
		Checks:     checks,
	}, metrics.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRouterMountsPublicAndAdminRoutes(t *testing.T) {
	router := newTestRouter(nil)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/public"))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(request.HeaderRequestID))

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/admin/thing"))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")

	req := testutil.NewRequest(t, http.MethodPost, "/admin/thing")
	req.Header.Set(admin.HeaderAdminToken, "tok")
	rr = testutil.DoRequest(router, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "contramind_http_requests_total")
}

func TestHealthz(t *testing.T) {
	healthy := newTestRouter(map[string]HealthCheck{"postgres": func(context.Context) error { return nil }})
	rr := testutil.DoRequest(healthy, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "status", "ok")

	degraded := newTestRouter(map[string]HealthCheck{"redis": func(context.Context) error { return errors.New("dial tcp: refused") }})
	rr = testutil.DoRequest(degraded, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	testutil.AssertJSONContains(t, rr, "status", "degraded")
}
