package decision

import (
	"fmt"

	"contramind/internal/kernel"
	"contramind/internal/ledger/models"
	"contramind/internal/proof"
)

// Outcome is a finalized decision as returned to callers. It is built only from
// the stored ledger row, so every replay renders the same bytes.
type Outcome struct {
	Decision     string
	Obligations  []string
	KernelID     string
	ParamHash    string
	NeedsOneBit  bool
	KID          string
	SignatureB64 string
	ProofID      string
	Certificate  string
	LedgerID     int64
	TS           string

	// Replayed is true when the row existed before this call.
	Replayed bool
}

// OutcomeFromEntry renders a final ledger entry. Pending entries are refused:
// they have no certificate and must never look like a decision.
func OutcomeFromEntry(entry *models.Entry) (*Outcome, error) {
	if entry == nil || !entry.IsFinal() {
		return nil, fmt.Errorf("ledger entry is not final")
	}
	bundle, err := proof.ParseBundle(entry.Bundle)
	if err != nil {
		return nil, err
	}
	obligations := bundle.Obligations
	if obligations == nil {
		obligations = []string{}
	}
	return &Outcome{
		Decision:     bundle.Decision,
		Obligations:  obligations,
		KernelID:     bundle.KernelID,
		ParamHash:    bundle.ParamHash,
		NeedsOneBit:  bundle.Decision == string(kernel.DecisionNeedOneBit),
		KID:          entry.KID,
		SignatureB64: entry.BundleSig,
		ProofID:      entry.ProofID,
		Certificate:  entry.Certificate,
		LedgerID:     entry.ID,
		TS:           bundle.TS,
	}, nil
}
