package chainsync

// ChainMetadata is a read-only snapshot of one sync chain, exposed for status
// reporting and metrics. It carries no references back into the chain's
// mutable state.
type ChainMetadata struct {
	ChainID         Identifier
	SyncType        SyncType
	Target          ChainTarget
	StartHeight     uint64
	ProcessedHeight uint64
	PeerCount       int
	IsSyncing       bool

	// IsStalled is true when the chain still has work to do but no peers to
	// do it with. A stalled chain is not failed; it waits for a new peer or
	// for the orchestrator to evict it.
	IsStalled bool
}
