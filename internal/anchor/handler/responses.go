package handler

import (
	"time"

	"contramind/internal/anchor/models"
)

type AnchorResponse struct {
	ID           int64     `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	FromID       int64     `json:"from_id"`
	ToID         int64     `json:"to_id"`
	MerkleRoot   string    `json:"merkle_root"`
	LeafCount    int       `json:"leaf_count"`
	KID          string    `json:"kid"`
	SignatureB64 string    `json:"signature_b64"`
}

type RunResponse struct {
	Anchored bool            `json:"anchored"`
	Anchor   *AnchorResponse `json:"anchor,omitempty"`
}

func FromAnchor(a *models.Anchor) *AnchorResponse {
	return &AnchorResponse{
		ID:           a.ID,
		CreatedAt:    a.CreatedAt,
		FromID:       a.FromID,
		ToID:         a.ToID,
		MerkleRoot:   a.MerkleRoot,
		LeafCount:    a.LeafCount,
		KID:          a.KID,
		SignatureB64: a.Signature,
	}
}

// Anchor converts a response back, for clients verifying a range offline.
func (r AnchorResponse) Anchor() models.Anchor {
	return models.Anchor{
		ID:         r.ID,
		CreatedAt:  r.CreatedAt,
		FromID:     r.FromID,
		ToID:       r.ToID,
		MerkleRoot: r.MerkleRoot,
		LeafCount:  r.LeafCount,
		KID:        r.KID,
		Signature:  r.SignatureB64,
	}
}
