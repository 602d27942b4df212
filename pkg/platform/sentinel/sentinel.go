package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into domain errors:
//   - ErrNotFound: no row for the requested key or id
//   - ErrConflict: a unique or compare-and-set constraint rejected the write
//   - ErrInvalidState: the row exists but is in the wrong state for the operation
//   - ErrUnavailable: the backing resource cannot be reached right now
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
