package models

import "time"

// KeyRecord is the public, persisted view of a signing key. Private material is
// re-derived from the master seed and never stored.
type KeyRecord struct {
	KID         string
	PublicKey   string // base64
	Active      bool
	CreatedAt   time.Time
	ActivatedAt *time.Time
}
