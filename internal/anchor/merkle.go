package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"contramind/internal/anchor/models"
	ledgermodels "contramind/internal/ledger/models"
)

var ErrEmptyTree = errors.New("merkle tree needs at least one leaf")

// LeafHash is the hex SHA-256 of a proof id.
func LeafHash(proofID string) string {
	return hashHex(proofID)
}

// MerkleRoot folds proof ids into a root. Each level pairs neighbours as
// sha256hex(left + right) over the hex strings; an odd last node moves up
// unchanged.
func MerkleRoot(proofIDs []string) (string, error) {
	if len(proofIDs) == 0 {
		return "", ErrEmptyTree
	}
	level := make([]string, len(proofIDs))
	for i, id := range proofIDs {
		level[i] = LeafHash(id)
	}
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashHex(level[i]+level[i+1]))
		}
		level = next
	}
	return level[0], nil
}

// VerifyRange recomputes the root of an anchored range from ledger entries
// and compares it with the recorded one. entries must be the ledger rows with
// ids in [a.FromID, a.ToID], in id order.
func VerifyRange(entries []*ledgermodels.Entry, a models.Anchor) error {
	if len(entries) != a.LeafCount {
		return fmt.Errorf("anchor %d covers %d entries, found %d", a.ID, a.LeafCount, len(entries))
	}
	proofIDs := make([]string, 0, len(entries))
	var prev int64
	for _, e := range entries {
		if e.ID < a.FromID || e.ID > a.ToID {
			return fmt.Errorf("entry %d is outside anchor %d range [%d, %d]", e.ID, a.ID, a.FromID, a.ToID)
		}
		if e.ID <= prev {
			return fmt.Errorf("entries are not in id order at %d", e.ID)
		}
		if !e.IsFinal() {
			return fmt.Errorf("entry %d is not final", e.ID)
		}
		prev = e.ID
		proofIDs = append(proofIDs, e.ProofID)
	}
	root, err := MerkleRoot(proofIDs)
	if err != nil {
		return err
	}
	if root != a.MerkleRoot {
		return fmt.Errorf("anchor %d root mismatch: recorded %s, computed %s", a.ID, a.MerkleRoot, root)
	}
	return nil
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
