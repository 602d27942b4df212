package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"contramind/internal/decision"
	"contramind/internal/kernel"
	dErrors "contramind/pkg/domain-errors"
	"contramind/pkg/platform/httputil"
	"contramind/pkg/requestcontext"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// Service defines the decision operations the handler needs.
type Service interface {
	Submit(ctx context.Context, key string, req kernel.Request) (*decision.Outcome, error)
}

// Replayer re-evaluates stored decisions for drift.
type Replayer interface {
	Replay(ctx context.Context, from, to int64) (decision.ReplayReport, error)
}

// Handler wires decision endpoints to the coordinator.
type Handler struct {
	service  Service
	replayer Replayer
	logger   *slog.Logger
}

// New constructs a decision handler with its dependencies.
func New(service Service, replayer Replayer, logger *slog.Logger) *Handler {
	return &Handler{service: service, replayer: replayer, logger: logger}
}

// Register mounts decision endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/decide", h.HandleDecide)
}

// RegisterAdmin mounts the drift replay. Mount it behind the admin token middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/replay", h.HandleReplay)
}

// HandleDecide handles POST /decide.
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	key, err := ParseIdempotencyKey(r.Header.Get(HeaderIdempotencyKey))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[DecideRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	outcome, err := h.service.Submit(ctx, key, req.KernelRequest())
	if err != nil {
		h.logger.ErrorContext(ctx, "decision failed",
			"request_id", requestID,
			"idempotency_key", key,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	body, err := FromOutcome(outcome).Encode()
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode decision", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode decision"))
		return
	}

	h.logger.InfoContext(ctx, "decision returned",
		"request_id", requestID,
		"idempotency_key", key,
		"decision", outcome.Decision,
		"ledger_id", outcome.LedgerID,
		"replayed", outcome.Replayed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	w.Header().Set(HeaderReplayed, strconv.FormatBool(outcome.Replayed))
	httputil.WriteRawJSON(w, http.StatusOK, body)
}

// HandleReplay handles GET /admin/replay?from=&to=.
func (h *Handler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, err := queryInt(r, "from")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := queryInt(r, "to")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, err := h.replayer.Replay(ctx, from, to)
	if err != nil {
		h.logger.ErrorContext(ctx, "replay failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, dErrors.New(dErrors.CodeValidation, name+" must be a non-negative integer")
	}
	return n, nil
}
