// Package ports declares what the decision coordinator needs from the rest of
// the system.
package ports

import (
	"context"
	"time"

	"contramind/internal/attestor"
	"contramind/internal/kernel"
	ledgermodels "contramind/internal/ledger/models"
	paramsmodels "contramind/internal/params/models"
	"contramind/internal/proof"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks ParamsSource,Ledger,Attestor,OneBit

// ParamsSource returns a fresh parameter snapshot per decision.
type ParamsSource interface {
	Current(ctx context.Context) (paramsmodels.Snapshot, error)
}

// Ledger is the subset of the decision ledger the coordinator writes.
type Ledger interface {
	Reserve(ctx context.Context, entry *ledgermodels.Entry) (int64, error)
	Attach(ctx context.Context, key string, a ledgermodels.Attachment) (*ledgermodels.Entry, error)
	Get(ctx context.Context, key string) (*ledgermodels.Entry, error)
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*ledgermodels.Entry, error)
}

// Attestor signs a bundle and issues its certificate under one active key.
type Attestor interface {
	Attest(ctx context.Context, bundle proof.Bundle) (attestor.Attestation, error)
}

// OneBit resolves NEED_ONE_BIT with an external yes/no check.
type OneBit interface {
	Query(ctx context.Context, req kernel.Request) (bool, error)
}
