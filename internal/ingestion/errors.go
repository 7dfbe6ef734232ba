package ingestion

import (
	"errors"
	"fmt"
)

// Gateway error kinds. Both are transient and recovered inside the synchronizer.
var (
	// ErrResultTooLarge is returned by a gateway when a historical query must be narrowed.
	ErrResultTooLarge = errors.New("result set too large")

	// ErrBlockNotFound is returned by a gateway when a block is not indexed yet.
	ErrBlockNotFound = errors.New("block not found")
)

var (
	// ErrChainBehind means the latest block is below recorded progress.
	ErrChainBehind = errors.New("chain head is behind recorded progress")

	// ErrRangeIrreducible means a single-block query still exceeds the provider limit.
	ErrRangeIrreducible = errors.New("single block range still too large")

	// ErrSubscriptionClosed means the live subscription ended.
	ErrSubscriptionClosed = errors.New("live subscription closed")
)

// SyncError is a pool-fatal synchronization failure. The pool's pipeline
// stops until the process is restarted.
type SyncError struct {
	Pool string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("synchronize pool %s: %v", e.Pool, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
