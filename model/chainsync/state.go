package chainsync

import (
	"fmt"
	"strings"
)

// SyncState is the derived summary of the range-sync orchestrator, recomputed
// on demand from the current chain set. It is a tagged variant: exactly one
// of StateIdle, StateFinalized or StateHead.
type SyncState interface {
	fmt.Stringer

	// sealed so the variant set stays closed and switches stay exhaustive
	isSyncState()
}

// StateIdle means no sync chain is actively downloading.
type StateIdle struct{}

// StateFinalized means a finalized chain is actively syncing. At most one
// finalized chain is ever active, so it carries a single target.
type StateFinalized struct {
	Target ChainTarget
}

// StateHead means one or more head chains are syncing in parallel.
type StateHead struct {
	Targets []ChainTarget
}

func (StateIdle) isSyncState()      {}
func (StateFinalized) isSyncState() {}
func (StateHead) isSyncState()      {}

func (StateIdle) String() string {
	return "idle"
}

func (s StateFinalized) String() string {
	return fmt.Sprintf("finalized(%s)", s.Target)
}

func (s StateHead) String() string {
	targets := make([]string, 0, len(s.Targets))
	for _, target := range s.Targets {
		targets = append(targets, target.String())
	}
	return fmt.Sprintf("head(%s)", strings.Join(targets, ","))
}
