package handler

import (
	"contramind/internal/decision"
	"contramind/pkg/canonical"
)

// DecideResponse is the HTTP response for POST /decide.
type DecideResponse struct {
	Decision     string   `json:"decision"`
	Obligations  []string `json:"obligations"`
	KernelID     string   `json:"kernel_id"`
	ParamHash    string   `json:"param_hash"`
	NeedsOneBit  bool     `json:"needs_one_bit"`
	KID          string   `json:"kid"`
	SignatureB64 string   `json:"signature_b64"`
	ProofID      string   `json:"proof_id"`
	Certificate  string   `json:"certificate"`
	LedgerID     int64    `json:"ledger_id"`
	TS           string   `json:"ts"`
}

// FromOutcome converts a finalized outcome to an HTTP response.
func FromOutcome(o *decision.Outcome) *DecideResponse {
	return &DecideResponse{
		Decision:     o.Decision,
		Obligations:  o.Obligations,
		KernelID:     o.KernelID,
		ParamHash:    o.ParamHash,
		NeedsOneBit:  o.NeedsOneBit,
		KID:          o.KID,
		SignatureB64: o.SignatureB64,
		ProofID:      o.ProofID,
		Certificate:  o.Certificate,
		LedgerID:     o.LedgerID,
		TS:           o.TS,
	}
}

// Encode renders the response in canonical JSON so repeats are byte-identical.
func (r *DecideResponse) Encode() ([]byte, error) {
	return canonical.Marshal(r)
}
