// Package store persists policy thresholds and the country allowlist.
package store

import (
	"github.com/shopspring/decimal"
)

// Contents is the raw stored parameter set. Callers build a models.Snapshot from it.
type Contents struct {
	Thresholds map[string]decimal.Decimal
	Allowlist  []string
}

// IsEmpty reports whether nothing has been stored yet.
func (c Contents) IsEmpty() bool {
	return len(c.Thresholds) == 0 && len(c.Allowlist) == 0
}
