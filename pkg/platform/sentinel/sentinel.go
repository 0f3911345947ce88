package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into domain errors:
//   - ErrNotFound: record does not exist in the store
//   - ErrReentrant: a state transaction was requested while one is already open
//     on the same call chain
//   - ErrReadOnly: a mutation was attempted inside a read-only view
//   - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound    = errors.New("not found")
	ErrReentrant   = errors.New("reentrant transaction")
	ErrReadOnly    = errors.New("read-only transaction")
	ErrUnavailable = errors.New("unavailable")
)
