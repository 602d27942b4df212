package models

import (
	"time"
)

type Status string

const (
	// StatusPending rows are reserved but carry no certificate. They are never
	// returned to callers as a decision.
	StatusPending Status = "pending"
	// StatusFinal rows carry a certificate and are immutable.
	StatusFinal Status = "final"
)

// Entry is one ledger row.
//
// Invariants:
//   - IdempotencyKey is unique across the ledger
//   - ID is assigned by the store and strictly increasing in insertion order
//   - Bundle holds the canonical bytes that were signed; it never changes
//   - a final entry has BundleSig, KID, ProofID and Certificate set
type Entry struct {
	ID             int64
	IdempotencyKey string
	TS             time.Time
	Status         Status
	Decision       string
	KernelID       string
	ParamHash      string
	Bundle         []byte
	BundleSig      string // base64 std encoding
	KID            string
	ProofID        string
	Certificate    string
	CreatedAt      time.Time
	FinalizedAt    *time.Time
}

func (e *Entry) IsFinal() bool {
	return e.Status == StatusFinal
}

// Attachment is what the signer adds when it finalizes a pending entry.
type Attachment struct {
	BundleSig   string
	KID         string
	ProofID     string
	Certificate string
	FinalizedAt time.Time
}

// Apply finalizes a copy of the entry.
func (e Entry) Apply(a Attachment) *Entry {
	finalizedAt := a.FinalizedAt
	e.Status = StatusFinal
	e.BundleSig = a.BundleSig
	e.KID = a.KID
	e.ProofID = a.ProofID
	e.Certificate = a.Certificate
	e.FinalizedAt = &finalizedAt
	return &e
}
