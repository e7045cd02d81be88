package chainsync

import (
	"errors"
	"fmt"
)

// ErrChainRemoved is returned from StartSyncing when the chain was torn down
// via Remove before reaching its target. It signals cancellation, not
// failure: the orchestrator logs it and moves on without penalty or retry.
var ErrChainRemoved = errors.New("sync chain removed")

// MaxRetriesExceededError is returned from StartSyncing when a batch
// exhausted its retry budget. It is terminal for the chain: the orchestrator
// removes the chain and lets a fresh peer status event recreate one if still
// needed.
type MaxRetriesExceededError struct {
	StartHeight uint64
	Attempts    uint
	Err         error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("batch at height %d exceeded retry budget after %d attempts: %v", e.StartHeight, e.Attempts, e.Err)
}

func (e *MaxRetriesExceededError) Unwrap() error {
	return e.Err
}

// IsMaxRetriesExceededError returns whether err is or wraps a
// *MaxRetriesExceededError.
func IsMaxRetriesExceededError(err error) bool {
	var target *MaxRetriesExceededError
	return errors.As(err, &target)
}

// invalidTransitionError marks a batch state transition that the state
// machine does not permit. It always indicates a programming error in the
// chain logic, never bad peer data, so it is surfaced as irrecoverable.
type invalidTransitionError struct {
	from BatchState
	to   BatchState
}

func (e invalidTransitionError) Error() string {
	return fmt.Sprintf("invalid batch transition from %s to %s", e.from, e.to)
}
