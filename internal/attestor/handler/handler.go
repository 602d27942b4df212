package handler

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"contramind/internal/attestor"
	"contramind/internal/proof"
	"contramind/pkg/canonical"
	dErrors "contramind/pkg/domain-errors"
	"contramind/pkg/platform/httputil"
	"contramind/pkg/requestcontext"
)

// Service is the attestor port used by the HTTP layer.
type Service interface {
	Sign(ctx context.Context, canonicalBundle []byte) (attestor.Signature, error)
	VerifyBundle(canonicalBundle, signature []byte, kid string) bool
	Verify(ctx context.Context, certificate string) (*proof.Claims, error)
	Keys() attestor.KeySet
	ActiveKey() (string, ed25519.PublicKey, error)
	Rotate(ctx context.Context, kid string) (attestor.KeySet, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the public signing and verification endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/sign", h.HandleSign)
	r.Post("/verify", h.HandleVerify)
	r.Post("/certificates/verify", h.HandleVerifyCertificate)
	r.Get("/keys", h.HandleKeys)
	r.Get("/pubkey", h.HandlePubkey)
}

// RegisterAdmin mounts key rotation. Mount it behind the admin token middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/keys/rotate", h.HandleRotate)
}

// HandleSign handles POST /sign: canonicalize an arbitrary bundle and sign it.
func (h *Handler) HandleSign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[SignRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	canon, err := canonical.FromJSONDecimal(req.Bundle)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "bundle is not canonicalizable"))
		return
	}
	sig, err := h.service.Sign(ctx, canon)
	if err != nil {
		h.fail(ctx, w, "sign bundle", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SignResponse{
		SignatureB64: sig.B64(),
		PublicKeyB64: base64.StdEncoding.EncodeToString(sig.PublicKey),
		DigestHex:    sig.DigestHex,
		KID:          sig.KID,
	})
}

// HandleVerify handles POST /verify. An omitted kid means the active key.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	canon, err := canonical.FromJSONDecimal(req.Bundle)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "bundle is not canonicalizable"))
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.SignatureB64)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "signature_b64 is not valid base64"))
		return
	}
	kid := req.KID
	if kid == "" {
		kid = h.service.Keys().ActiveKID
	}
	httputil.WriteJSON(w, http.StatusOK, VerifyResponse{Valid: h.service.VerifyBundle(canon, sig, kid)})
}

// HandleVerifyCertificate handles POST /certificates/verify. Verification
// failures are a normal answer, not an HTTP error.
func (h *Handler) HandleVerifyCertificate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CertificateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	claims, err := h.service.Verify(ctx, req.Certificate)
	if err != nil {
		if !dErrors.Is(err, dErrors.CodeVerificationFailed) {
			h.fail(ctx, w, "verify certificate", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, CertificateResponse{Valid: false, Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CertificateResponse{Valid: true, Payload: claims})
}

func (h *Handler) HandleKeys(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.service.Keys())
}

func (h *Handler) HandlePubkey(w http.ResponseWriter, r *http.Request) {
	kid, pub, err := h.service.ActiveKey()
	if err != nil {
		h.fail(r.Context(), w, "read active key", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PubkeyResponse{
		KID:          kid,
		PublicKeyB64: base64.StdEncoding.EncodeToString(pub),
	})
}

func (h *Handler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[RotateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	set, err := h.service.Rotate(ctx, req.KID)
	if err != nil {
		h.fail(ctx, w, "rotate key", err)
		return
	}
	h.logger.InfoContext(ctx, "key rotation requested",
		"request_id", requestcontext.RequestID(ctx),
		"kid", req.KID,
	)
	httputil.WriteJSON(w, http.StatusOK, set)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if !dErrors.Is(err, dErrors.CodeValidation) && !dErrors.Is(err, dErrors.CodeConflict) {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
