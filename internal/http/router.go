// Package httpapi assembles the HTTP surface from the module handlers.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"contramind/internal/platform/metrics"
	"contramind/pkg/platform/httputil"
	"contramind/pkg/platform/middleware/admin"
	"contramind/pkg/platform/middleware/metadata"
	"contramind/pkg/platform/middleware/request"
	"contramind/pkg/platform/middleware/requesttime"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

const healthTimeout = 2 * time.Second

// Routes lists what the router mounts. Admin routes sit behind the admin
// token; an empty token disables them.
type Routes struct {
	Public     []func(chi.Router)
	Admin      []func(chi.Router)
	AdminToken string
	Checks     map[string]HealthCheck
}

func NewRouter(routes Routes, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Logger(logger))
	r.Use(m.Middleware)

	r.Get("/healthz", healthHandler(routes.Checks))
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}
	for _, register := range routes.Public {
		register(r)
	}
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(routes.AdminToken, logger))
		for _, register := range routes.Admin {
			register(r)
		}
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: map[string]string{}}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
