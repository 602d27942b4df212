package models

import (
	"time"

	"contramind/pkg/canonical"
)

// CheckpointType tags signed anchor checkpoints so they cannot be confused
// with decision bundles signed under the same key.
const CheckpointType = "anchor"

// Anchor commits ledger ids [FromID, ToID] to a Merkle root.
//
// Invariants:
//   - ranges are contiguous: FromID is the first ledger id after the previous ToID
//   - every entry in the range was final when the anchor was built
//   - anchors are insert-only
type Anchor struct {
	ID         int64
	CreatedAt  time.Time
	FromID     int64
	ToID       int64
	MerkleRoot string
	LeafCount  int
	KID        string
	Signature  string // base64 std encoding over the canonical checkpoint
}

// Checkpoint is the signed statement for an anchor.
type Checkpoint struct {
	Type       string `json:"type"`
	FromID     int64  `json:"from_id"`
	ToID       int64  `json:"to_id"`
	MerkleRoot string `json:"merkle_root"`
	LeafCount  int    `json:"leaf_count"`
}

func (a Anchor) Checkpoint() Checkpoint {
	return Checkpoint{
		Type:       CheckpointType,
		FromID:     a.FromID,
		ToID:       a.ToID,
		MerkleRoot: a.MerkleRoot,
		LeafCount:  a.LeafCount,
	}
}

// Canonical returns the bytes the attestor signs.
func (c Checkpoint) Canonical() ([]byte, error) {
	return canonical.Marshal(c)
}
