package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, providers and ledger
// adapters return these (optionally wrapped) so services can translate them
// into domain errors.
//
// These describe the state of a dependency, not a validation failure:
// - ErrNotFound: the resource does not exist upstream or in a store
// - ErrUnavailable: the dependency could not be reached
// - ErrTimeout: the dependency did not answer within its bound
// - ErrInvalidState: the operation is not allowed in the current state
// - ErrSuperseded: a newer operation replaced this one before it finished
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("unavailable")
	ErrTimeout      = errors.New("timeout")
	ErrInvalidState = errors.New("invalid state")
	ErrSuperseded   = errors.New("superseded")
)
