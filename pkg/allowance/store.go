package allowance

import (
	"context"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// Store provides durable, lockable storage for the singleton allowance
// state. storage.Database implements it.
type Store interface {
	// MutateAllowanceState runs fn with the current state under an
	// exclusive lock, serializing all callers. fn receives nil if no state
	// exists yet and a private copy otherwise. If fn returns a non-nil
	// state it is persisted before the lock is released; returning nil
	// discards the mutation. An error from fn aborts the transaction and
	// is returned unchanged. Storage failures (including lock-wait
	// timeouts) are returned as errors, never swallowed.
	MutateAllowanceState(ctx context.Context, fn func(cur *types.AllowanceState) (*types.AllowanceState, error)) error

	// GetAllowanceState returns the current state without locking, or nil
	// if none exists.
	GetAllowanceState(ctx context.Context) (*types.AllowanceState, error)
}
