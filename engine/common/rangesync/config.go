package rangesync

import (
	"github.com/karim-en/lodestar/module/chainsync"
)

// defaultPeerEventQueueCapacity is the maximum number of buffered peer
// connect/disconnect events; events beyond it are dropped with a warning.
const defaultPeerEventQueueCapacity = 500

// defaultChainEventQueueCapacity bounds the channel carrying chain
// completion/failure events back into the event worker. It only needs to
// cover the number of concurrently running chains.
const defaultChainEventQueueCapacity = 64

// Config holds the engine's tunables on top of the per-chain configuration.
type Config struct {
	chainConfig            chainsync.ChainConfig
	peerEventQueueCapacity int
}

func DefaultConfig() *Config {
	return &Config{
		chainConfig:            chainsync.DefaultChainConfig(),
		peerEventQueueCapacity: defaultPeerEventQueueCapacity,
	}
}

// OptionFunc is a function that can be used to configure the engine.
type OptionFunc func(*Config)

// WithChainConfig overrides the configuration applied to every sync chain
// the engine creates.
func WithChainConfig(chainConfig chainsync.ChainConfig) OptionFunc {
	return func(cfg *Config) {
		cfg.chainConfig = chainConfig
	}
}

// WithPeerEventQueueCapacity overrides the capacity of the inbound peer
// event queue.
func WithPeerEventQueueCapacity(capacity int) OptionFunc {
	return func(cfg *Config) {
		cfg.peerEventQueueCapacity = capacity
	}
}

// WithBatchSize overrides the number of heights downloaded and applied as
// one unit.
func WithBatchSize(batchSize uint64) OptionFunc {
	return func(cfg *Config) {
		cfg.chainConfig.BatchSize = batchSize
	}
}

// WithMaxPendingBatches overrides the size of each chain's sliding window.
func WithMaxPendingBatches(maxPendingBatches int) OptionFunc {
	return func(cfg *Config) {
		cfg.chainConfig.MaxPendingBatches = maxPendingBatches
	}
}

// WithFinalityTolerance overrides how far a peer's finality may exceed ours
// before a finalized sync is required.
func WithFinalityTolerance(tolerance uint64) OptionFunc {
	return func(cfg *Config) {
		cfg.chainConfig.FinalityTolerance = tolerance
	}
}

// WithImportTolerance overrides how far a peer's head may exceed ours before
// a head sync is required.
func WithImportTolerance(tolerance uint64) OptionFunc {
	return func(cfg *Config) {
		cfg.chainConfig.ImportTolerance = tolerance
	}
}
