package chainsync

// ChainConfig collects the tunable parameters of a sync chain. The defaults
// are sane for mainnet-like conditions; tests shrink them to exercise edge
// cases quickly.
type ChainConfig struct {
	// BatchSize is the number of contiguous heights downloaded and applied
	// as one unit.
	BatchSize uint64

	// MaxPendingBatches bounds the sliding window: how many batches ahead of
	// the processed height may be materialized (and thus downloaded) at a
	// time.
	MaxPendingBatches int

	// MaxDownloadAttempts is the number of download attempts per batch
	// before the whole chain is considered failed.
	MaxDownloadAttempts uint

	// MaxProcessingAttempts is the number of times a batch may be re-downloaded
	// and re-applied after failing validation before the whole chain is
	// considered failed. Invalid data cannot be quarantined to a sub-range
	// because application order is sequential, so the budget is small.
	MaxProcessingAttempts uint

	// MaxPeerFailures is the number of failed requests after which a peer is
	// dropped from the chain's pool.
	MaxPeerFailures uint

	// FinalityTolerance is how far a peer's claimed finalized height may
	// exceed ours before we classify it as requiring a finalized sync.
	FinalityTolerance uint64

	// ImportTolerance is how far a peer's head may exceed ours before we
	// classify it as requiring a head sync. Within tolerance, single-block
	// gossip suffices.
	ImportTolerance uint64
}

func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		BatchSize:             64,
		MaxPendingBatches:     5,
		MaxDownloadAttempts:   5,
		MaxProcessingAttempts: 3,
		MaxPeerFailures:       3,
		FinalityTolerance:     1,
		ImportTolerance:       16,
	}
}
