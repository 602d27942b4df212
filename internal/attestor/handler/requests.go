package handler

import (
	"encoding/json"
	"strings"

	"contramind/internal/attestor"
	dErrors "contramind/pkg/domain-errors"
)

type SignRequest struct {
	Bundle json.RawMessage `json:"bundle"`
}

func (r *SignRequest) Validate() error {
	if isEmptyJSON(r.Bundle) {
		return dErrors.New(dErrors.CodeValidation, "bundle is required")
	}
	return nil
}

type VerifyRequest struct {
	Bundle       json.RawMessage `json:"bundle"`
	SignatureB64 string          `json:"signature_b64"`
	KID          string          `json:"kid"`
}

func (r *VerifyRequest) Validate() error {
	if isEmptyJSON(r.Bundle) {
		return dErrors.New(dErrors.CodeValidation, "bundle is required")
	}
	if strings.TrimSpace(r.SignatureB64) == "" {
		return dErrors.New(dErrors.CodeValidation, "signature_b64 is required")
	}
	r.KID = strings.TrimSpace(r.KID)
	return nil
}

type CertificateRequest struct {
	Certificate string `json:"certificate"`
}

func (r *CertificateRequest) Validate() error {
	r.Certificate = strings.TrimSpace(r.Certificate)
	if r.Certificate == "" {
		return dErrors.New(dErrors.CodeValidation, "certificate is required")
	}
	return nil
}

type RotateRequest struct {
	KID string `json:"kid"`
}

func (r *RotateRequest) Validate() error {
	r.KID = strings.TrimSpace(r.KID)
	return attestor.ValidateKID(r.KID)
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
