package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/karim-en/lodestar/model/chainsync"
)

const (
	namespaceSync      = "lodestar"
	subsystemRangeSync = "rangesync"
)

// ChainSyncCollector is the prometheus implementation of
// module.ChainSyncMetrics.
type ChainSyncCollector struct {
	chainsStarted      *prometheus.CounterVec
	chainsCompleted    *prometheus.CounterVec
	chainsFailed       *prometheus.CounterVec
	activeChains       prometheus.Gauge
	batchesSuccess     *prometheus.CounterVec
	batchesFailed      *prometheus.CounterVec
	processedHeight    *prometheus.GaugeVec
	peerEventQueueSize prometheus.Gauge
}

func NewChainSyncCollector() *ChainSyncCollector {
	return &ChainSyncCollector{
		chainsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:      "chains_started_total",
			Namespace: namespaceSync,
			Subsystem: subsystemRangeSync,
			Help:      "the number of sync chains started, by sync type",
		}, []string{"sync_type"}),

		chainsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:      "chains_completed_total",
			Namespace: namespaceSync,
			Subsystem: subsystemRangeSync,
			Help:      "the number of sync chains that reached their target, by sync type",
		}, []string{"sync_type"}),

		chainsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:      "chains_failed_total",
			Namespace: namespaceSync,
			Subsystem: subsystemRangeSync,
			Help:      "the number of sync chains that failed terminally, by sync type",
		}, []string{"sync_type"}),

		activeChains: promauto.NewGauge(prometheus.GaugeOpts{
			Name:      "active_chains",
			Namespace: namespaceSync,
			Subsystem: subsystemRangeSync,
			Help:      "the number of chains currently syncing",
		}),

		batchesSuccess: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:      "batches_total",
			Namespace: namespaceSync,
			Subsystem: subsystemRangeSync,
			Help:      "the number of successful batch operations, by sync type and stage",
		}, []string{"sync_type", "stage"}),

		batchesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:      "batches_failed_total",
			Namespace: namespaceSync,
			Subsystem: subsystemRangeSync,
			Help:      "the number of failed batch operations, by sync type and stage",
		}, []string{"sync_type", "stage"}),

		processedHeight: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name:      "processed_height",
			Namespace: namespaceSync,
			Subsystem: subsystemRangeSync,
			Help:      "the height through which blocks have been applied, by sync type",
		}, []string{"sync_type"}),

		peerEventQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name:      "peer_event_queue_size",
			Namespace: namespaceSync,
			Subsystem: subsystemRangeSync,
			Help:      "the number of buffered peer connect/disconnect events",
		}),
	}
}

func (c *ChainSyncCollector) ChainStarted(syncType chainsync.SyncType) {
	c.chainsStarted.WithLabelValues(syncType.String()).Inc()
}

func (c *ChainSyncCollector) ChainComplete(syncType chainsync.SyncType) {
	c.chainsCompleted.WithLabelValues(syncType.String()).Inc()
}

func (c *ChainSyncCollector) ChainFailed(syncType chainsync.SyncType) {
	c.chainsFailed.WithLabelValues(syncType.String()).Inc()
}

func (c *ChainSyncCollector) ActiveChains(count int) {
	c.activeChains.Set(float64(count))
}

func (c *ChainSyncCollector) BatchDownloaded(syncType chainsync.SyncType, success bool) {
	c.batch(syncType, "download", success).Inc()
}

func (c *ChainSyncCollector) BatchProcessed(syncType chainsync.SyncType, success bool) {
	c.batch(syncType, "process", success).Inc()
}

func (c *ChainSyncCollector) ProcessedHeight(syncType chainsync.SyncType, height uint64) {
	c.processedHeight.WithLabelValues(syncType.String()).Set(float64(height))
}

func (c *ChainSyncCollector) PeerEventQueueSize(size uint) {
	c.peerEventQueueSize.Set(float64(size))
}

func (c *ChainSyncCollector) batch(syncType chainsync.SyncType, stage string, success bool) prometheus.Counter {
	if success {
		return c.batchesSuccess.WithLabelValues(syncType.String(), stage)
	}
	return c.batchesFailed.WithLabelValues(syncType.String(), stage)
}
