package metrics

import (
	"github.com/karim-en/lodestar/model/chainsync"
)

// NoopCollector satisfies the metrics interfaces without recording anything.
// Used in tests and in tools that don't expose metrics.
type NoopCollector struct{}

func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (nc *NoopCollector) ChainStarted(syncType chainsync.SyncType)                  {}
func (nc *NoopCollector) ChainComplete(syncType chainsync.SyncType)                 {}
func (nc *NoopCollector) ChainFailed(syncType chainsync.SyncType)                   {}
func (nc *NoopCollector) ActiveChains(count int)                                    {}
func (nc *NoopCollector) BatchDownloaded(syncType chainsync.SyncType, success bool) {}
func (nc *NoopCollector) BatchProcessed(syncType chainsync.SyncType, success bool)  {}
func (nc *NoopCollector) ProcessedHeight(syncType chainsync.SyncType, height uint64) {
}
func (nc *NoopCollector) PeerEventQueueSize(size uint) {}
