package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"contramind/internal/anchor/models"
	dErrors "contramind/pkg/domain-errors"
	"contramind/pkg/platform/httputil"
	"contramind/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service is the anchor builder surface used over HTTP.
type Service interface {
	RunOnce(ctx context.Context) (*models.Anchor, error)
	Latest(ctx context.Context) (*models.Anchor, error)
	Get(ctx context.Context, id int64) (*models.Anchor, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/anchors/latest", h.HandleLatest)
	r.Get("/anchors/{id}", h.HandleGet)
}

// RegisterAdmin mounts the manual trigger. Mount it behind the admin token middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/anchors/run", h.HandleRun)
}

func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Latest(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromAnchor(a))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "anchor id must be a positive integer"))
		return
	}
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromAnchor(a))
}

// HandleRun handles POST /admin/anchors/run.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := h.service.RunOnce(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual anchor run failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	resp := RunResponse{Anchored: a != nil}
	if a != nil {
		resp.Anchor = FromAnchor(a)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
