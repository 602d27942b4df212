package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"contramind/internal/params/models"
	dErrors "contramind/pkg/domain-errors"
	"contramind/pkg/platform/httputil"
	"contramind/pkg/requestcontext"
)

// Service is the parameter administration port.
type Service interface {
	Snapshot(ctx context.Context) (models.Snapshot, error)
	SetThreshold(ctx context.Context, key string, value decimal.Decimal) (models.Snapshot, error)
	DeleteThreshold(ctx context.Context, key string) (models.Snapshot, error)
	AddCountry(ctx context.Context, country string) (models.Snapshot, error)
	RemoveCountry(ctx context.Context, country string) (models.Snapshot, error)
}

// Handler serves the admin parameter endpoints. Mount it behind the admin token
// middleware.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/params", h.HandleGet)
	r.Get("/admin/params/hash", h.HandleHash)
	r.Put("/admin/params/thresholds/{key}", h.HandleSetThreshold)
	r.Delete("/admin/params/thresholds/{key}", h.HandleDeleteThreshold)
	r.Post("/admin/params/allowlist", h.HandleAllowlist)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "load parameters", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSnapshot(snap))
}

func (h *Handler) HandleHash(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "load parameters", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, HashResponse{ParamHash: snap.Hash()})
}

func (h *Handler) HandleSetThreshold(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[SetThresholdRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	snap, err := h.service.SetThreshold(ctx, chi.URLParam(r, "key"), *req.Value)
	if err != nil {
		h.fail(ctx, w, "set threshold", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSnapshot(snap))
}

func (h *Handler) HandleDeleteThreshold(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := h.service.DeleteThreshold(ctx, chi.URLParam(r, "key"))
	if err != nil {
		h.fail(ctx, w, "delete threshold", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSnapshot(snap))
}

func (h *Handler) HandleAllowlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[AllowlistRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	var (
		snap models.Snapshot
		err  error
	)
	switch req.Action {
	case ActionAdd:
		snap, err = h.service.AddCountry(ctx, req.Country)
	case ActionRemove:
		snap, err = h.service.RemoveCountry(ctx, req.Country)
	}
	if err != nil {
		h.fail(ctx, w, "update allowlist", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSnapshot(snap))
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if !dErrors.Is(err, dErrors.CodeValidation) && !dErrors.Is(err, dErrors.CodeNotFound) {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

// SetThresholdRequest accepts the value as a JSON number or a numeric string.
type SetThresholdRequest struct {
	Value *decimal.Decimal `json:"value"`
}

func (r *SetThresholdRequest) Validate() error {
	if r.Value == nil {
		return dErrors.New(dErrors.CodeValidation, "value is required")
	}
	return nil
}

type AllowlistRequest struct {
	Country string `json:"country"`
	Action  string `json:"action"`
}

func (r *AllowlistRequest) Validate() error {
	r.Action = strings.ToLower(strings.TrimSpace(r.Action))
	if r.Action != ActionAdd && r.Action != ActionRemove {
		return dErrors.New(dErrors.CodeValidation, "action must be add or remove")
	}
	if strings.TrimSpace(r.Country) == "" {
		return dErrors.New(dErrors.CodeValidation, "country is required")
	}
	return nil
}

type ParamsResponse struct {
	Thresholds map[string]string `json:"thresholds"`
	Allowlist  []string          `json:"allowlist"`
	ParamHash  string            `json:"param_hash"`
}

type HashResponse struct {
	ParamHash string `json:"param_hash"`
}

func FromSnapshot(snap models.Snapshot) ParamsResponse {
	thresholds := make(map[string]string)
	for k, v := range snap.Thresholds() {
		thresholds[k] = v.String()
	}
	return ParamsResponse{
		Thresholds: thresholds,
		Allowlist:  snap.Allowlist(),
		ParamHash:  snap.Hash(),
	}
}
