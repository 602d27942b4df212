package decision

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"contramind/internal/kernel"
	"contramind/internal/proof"
	"contramind/pkg/canonical"
)

// AutoKeyPrefix marks idempotency keys derived from the request body.
const AutoKeyPrefix = "auto:"

// InputsFor renders the request as it appears in the signed bundle.
func InputsFor(req kernel.Request) proof.Inputs {
	return proof.Inputs{
		Amount:    req.Amount.String(),
		Country:   req.Country,
		Recent:    req.RecentDisputes,
		TS:        proof.FormatTime(req.TS),
		ContextID: req.ContextID,
	}
}

// RequestFromInputs rebuilds the kernel request recorded in a bundle.
func RequestFromInputs(in proof.Inputs) (kernel.Request, error) {
	amount, err := decimal.NewFromString(in.Amount)
	if err != nil {
		return kernel.Request{}, fmt.Errorf("parse amount %q: %w", in.Amount, err)
	}
	ts, err := time.Parse(time.RFC3339, in.TS)
	if err != nil {
		return kernel.Request{}, fmt.Errorf("parse ts %q: %w", in.TS, err)
	}
	return kernel.Request{
		Amount:         amount,
		Country:        in.Country,
		TS:             ts.UTC(),
		RecentDisputes: in.Recent,
		ContextID:      in.ContextID,
	}, nil
}

// AutoKey derives an idempotency key from the canonical request, so an
// identical body without an Idempotency-Key header maps to the same decision.
func AutoKey(req kernel.Request) (string, error) {
	canon, err := canonical.Marshal(InputsFor(req))
	if err != nil {
		return "", fmt.Errorf("canonicalize request: %w", err)
	}
	return AutoKeyPrefix + canonical.DigestHex(canon), nil
}

func newBundle(req kernel.Request, result kernel.Result, decidedAt time.Time) proof.Bundle {
	return proof.Bundle{
		TS:          proof.FormatTime(decidedAt),
		Decision:    string(result.Decision),
		Obligations: result.Obligations,
		KernelID:    result.KernelID,
		ParamHash:   result.ParamHash,
		Inputs:      InputsFor(req),
	}
}
