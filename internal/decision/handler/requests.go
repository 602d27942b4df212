package handler

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"contramind/internal/kernel"
	paramsmodels "contramind/internal/params/models"
	dErrors "contramind/pkg/domain-errors"
)

const (
	maxContextIDLength      = 128
	maxIdempotencyKeyLength = 255
)

// DecideRequest is the HTTP request body for POST /decide. Amount accepts a
// JSON number or a numeric string. The dispute count is recent_disputes;
// recent is accepted as an alias and must agree when both are sent.
type DecideRequest struct {
	Amount         *decimal.Decimal `json:"amount"`
	Country        string           `json:"country"`
	TS             *time.Time       `json:"ts"`
	RecentDisputes *int             `json:"recent_disputes"`
	Recent         *int             `json:"recent"`
	ContextID      string           `json:"context_id"`
}

// DisallowUnknownFields makes a misspelled field a 400 rather than a zero value
// that would be signed.
func (*DecideRequest) DisallowUnknownFields() {}

// Validate implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *DecideRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.ContextID) > maxContextIDLength {
		return dErrors.New(dErrors.CodeValidation, "context_id must be at most 128 characters")
	}
	if r.Amount == nil {
		return dErrors.New(dErrors.CodeValidation, "amount is required")
	}
	if r.Amount.IsNegative() {
		return dErrors.New(dErrors.CodeValidation, "amount must not be negative")
	}
	country, err := paramsmodels.NormalizeCountry(r.Country)
	if err != nil {
		return err
	}
	r.Country = country
	if r.TS == nil || r.TS.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "ts is required")
	}
	if r.RecentDisputes != nil && r.Recent != nil && *r.RecentDisputes != *r.Recent {
		return dErrors.New(dErrors.CodeValidation, "recent_disputes and recent disagree")
	}
	if r.RecentDisputes == nil {
		r.RecentDisputes = r.Recent
	}
	if r.RecentDisputes != nil && *r.RecentDisputes < 0 {
		return dErrors.New(dErrors.CodeValidation, "recent_disputes must not be negative")
	}
	r.ContextID = strings.TrimSpace(r.ContextID)
	return nil
}

// KernelRequest converts a validated body. Timestamps are kept at second
// precision, the precision the signed bundle records.
func (r *DecideRequest) KernelRequest() kernel.Request {
	recent := 0
	if r.RecentDisputes != nil {
		recent = *r.RecentDisputes
	}
	return kernel.Request{
		Amount:         *r.Amount,
		Country:        r.Country,
		TS:             r.TS.UTC().Truncate(time.Second),
		RecentDisputes: recent,
		ContextID:      r.ContextID,
	}
}

// ParseIdempotencyKey validates the optional Idempotency-Key header.
func ParseIdempotencyKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if len(key) > maxIdempotencyKeyLength {
		return "", dErrors.New(dErrors.CodeValidation, "Idempotency-Key must be at most 255 characters")
	}
	return key, nil
}
