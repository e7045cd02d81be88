package chainsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/karim-en/lodestar/model/chainsync"
	"github.com/karim-en/lodestar/module"
)

// SyncChain drives one sync target: it owns a peer pool and an ordered
// collection of batches bounded by a sliding window, paces batched downloads
// across the pool, applies completed batches strictly in height order, and
// escalates failure once a batch exhausts its retry budget.
//
// The download/apply loop runs in the goroutine that first calls
// StartSyncing. Downloads are issued as tasks on an internal worker pool
// sized to the window, so one slow peer never blocks the other window slots.
// All mutable state is guarded by a single mutex; external apply and fetch
// calls are made outside of it.
type SyncChain struct {
	log      zerolog.Logger
	cfg      ChainConfig
	chainID  chainsync.Identifier
	syncType chainsync.SyncType
	target   chainsync.ChainTarget

	fetcher   module.BlockFetcher
	processor module.BlockProcessor
	reporter  module.PeerReporter
	metrics   module.ChainSyncMetrics

	mu              sync.Mutex
	pool            *peerPool
	batches         map[uint64]*Batch
	startHeight     uint64
	processedHeight uint64

	// failure is set from a download task when a batch exhausts its retry
	// budget; the main loop picks it up on its next wake.
	failure error

	running *atomic.Bool // main loop started
	syncing *atomic.Bool // false while paused; downloads buffer, apply withholds
	removed *atomic.Bool

	work      module.Notifier
	downloads *workerpool.WorkerPool

	// lifecycle is cancelled by Remove, tearing the chain down regardless of
	// the context passed to StartSyncing.
	lifecycle context.Context
	teardown  context.CancelFunc
}

// NewSyncChain creates an idle chain toward the given target. The chain does
// nothing until a peer is added and StartSyncing is called.
func NewSyncChain(
	log zerolog.Logger,
	cfg ChainConfig,
	syncType chainsync.SyncType,
	startHeight uint64,
	target chainsync.ChainTarget,
	fetcher module.BlockFetcher,
	processor module.BlockProcessor,
	reporter module.PeerReporter,
	metrics module.ChainSyncMetrics,
) *SyncChain {
	chainID := target.ChainID(syncType)
	lifecycle, teardown := context.WithCancel(context.Background())
	return &SyncChain{
		log: log.With().
			Str("chain_id", chainID.String()).
			Str("sync_type", syncType.String()).
			Uint64("target_height", target.Height).
			Logger(),
		cfg:             cfg,
		chainID:         chainID,
		syncType:        syncType,
		target:          target,
		fetcher:         fetcher,
		processor:       processor,
		reporter:        reporter,
		metrics:         metrics,
		pool:            newPeerPool(),
		batches:         make(map[uint64]*Batch),
		startHeight:     startHeight,
		processedHeight: startHeight,
		running:         atomic.NewBool(false),
		syncing:         atomic.NewBool(false),
		removed:         atomic.NewBool(false),
		work:            module.NewNotifier(),
		downloads:       workerpool.New(cfg.MaxPendingBatches),
		lifecycle:       lifecycle,
		teardown:        teardown,
	}
}

func (c *SyncChain) ChainID() chainsync.Identifier { return c.chainID }
func (c *SyncChain) SyncType() chainsync.SyncType  { return c.syncType }
func (c *SyncChain) Target() chainsync.ChainTarget { return c.target }

// IsSyncing returns whether the chain is actively downloading and applying,
// as opposed to paused or not yet started.
func (c *SyncChain) IsSyncing() bool { return c.syncing.Load() }

// Started returns whether the chain's download/apply loop has been launched.
func (c *SyncChain) Started() bool { return c.running.Load() }

func (c *SyncChain) PeerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.len()
}

// HasPeer returns whether the given peer is in the chain's pool.
func (c *SyncChain) HasPeer(peerID chainsync.PeerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.has(peerID)
}

// AddPeer inserts the peer into the pool and wakes the loop, which may issue
// new downloads if the chain is running and un-paused.
func (c *SyncChain) AddPeer(peerID chainsync.PeerID) {
	c.mu.Lock()
	added := c.pool.add(peerID)
	c.mu.Unlock()

	if added {
		c.log.Debug().Str("peer_id", peerID.String()).Msg("peer added to chain pool")
		c.work.Notify()
	}
}

// RemovePeer removes the peer from the pool. Batches currently assigned to
// the peer are re-queued; their in-flight results, if any still arrive, are
// recognized as stale and dropped.
func (c *SyncChain) RemovePeer(peerID chainsync.PeerID) {
	c.mu.Lock()
	removed := c.pool.remove(peerID)
	if removed {
		for _, batch := range c.batches {
			if batch.State() == BatchDownloading && batch.AssignedPeer() == peerID {
				batch.failDownload(batch.nonce)
			}
		}
	}
	c.mu.Unlock()

	if removed {
		c.log.Debug().Str("peer_id", peerID.String()).Msg("peer removed from chain pool")
		c.work.Notify()
	}
}

// StartSyncing begins or resumes the download-and-apply loop.
//
// The first call owns the loop: it blocks until the target is reached (nil),
// the chain fails (*MaxRetriesExceededError or an unexpected apply error),
// the chain is removed (ErrChainRemoved), or ctx is cancelled. Subsequent
// calls are idempotent: they un-pause the running loop, fast-forward past
// localFinalizedHeight, and return nil immediately.
func (c *SyncChain) StartSyncing(ctx context.Context, localFinalizedHeight uint64) error {
	if c.removed.Load() {
		return ErrChainRemoved
	}

	c.fastForward(localFinalizedHeight)
	c.syncing.Store(true)
	c.work.Notify()

	if !c.running.CompareAndSwap(false, true) {
		// already running: this call only resumed it
		return nil
	}

	c.log.Info().Uint64("start_height", c.ProcessedHeight()).Msg("chain sync started")
	c.metrics.ChainStarted(c.syncType)

	// tie the loop's context to both the caller and the chain lifecycle, so
	// Remove tears the loop down even if the caller's context stays live
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.lifecycle.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	err := c.loop(runCtx)
	c.syncing.Store(false)
	return err
}

// loop is the chain's download-and-apply loop. Each pass issues downloads
// into free window slots, then applies completed batches in order, then
// sleeps until new work arrives.
func (c *SyncChain) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return c.exitErr(ctx)
		}

		err := c.issueDownloads(ctx)
		if err != nil {
			return err
		}

		done, err := c.processAvailable(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return c.exitErr(ctx)
			}
			return err
		}
		if done {
			c.log.Info().Uint64("target_height", c.target.Height).Msg("chain sync complete")
			return nil
		}

		if failure := c.takeFailure(); failure != nil {
			return failure
		}

		select {
		case <-ctx.Done():
			return c.exitErr(ctx)
		case <-c.work.Channel():
		}
	}
}

// exitErr distinguishes chain removal from caller cancellation.
func (c *SyncChain) exitErr(ctx context.Context) error {
	if c.removed.Load() {
		return ErrChainRemoved
	}
	return ctx.Err()
}

func (c *SyncChain) takeFailure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	failure := c.failure
	c.failure = nil
	return failure
}

// StopSyncing pauses the chain: no new downloads are issued and completed
// batches are withheld from application. In-flight downloads complete into
// the batch buffer so no work is discarded; application resumes when the
// chain is reselected and StartSyncing is called again.
func (c *SyncChain) StopSyncing() {
	if c.syncing.CompareAndSwap(true, false) {
		c.log.Debug().Msg("chain sync paused")
	}
}

// Remove tears the chain down unconditionally: the loop exits with
// ErrChainRemoved, all peers are released, and pending batches are
// discarded. In-flight download and apply calls are abandoned via context
// cancellation rather than awaited. Remove is idempotent.
func (c *SyncChain) Remove() {
	if !c.removed.CompareAndSwap(false, true) {
		return
	}

	c.syncing.Store(false)
	c.teardown()

	c.mu.Lock()
	for _, peerID := range c.pool.ids() {
		c.pool.remove(peerID)
	}
	c.batches = make(map[uint64]*Batch)
	c.mu.Unlock()

	c.work.Notify()
	// Stop waits for in-flight download tasks to return, so it runs off the
	// caller's path: in-flight work is abandoned, not awaited. Late results
	// are dropped by the nonce guard.
	go c.downloads.Stop()
	c.log.Debug().Msg("chain removed")
}

// Metadata returns a read-only snapshot of the chain for observability.
func (c *SyncChain) Metadata() chainsync.ChainMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return chainsync.ChainMetadata{
		ChainID:         c.chainID,
		SyncType:        c.syncType,
		Target:          c.target,
		StartHeight:     c.startHeight,
		ProcessedHeight: c.processedHeight,
		PeerCount:       c.pool.len(),
		IsSyncing:       c.syncing.Load(),
		IsStalled:       c.pool.len() == 0 && c.processedHeight < c.target.Height,
	}
}

// ProcessedHeight returns the height through which blocks have been applied.
func (c *SyncChain) ProcessedHeight() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processedHeight
}

// fastForward advances the processed height past a finality point reached
// through another path, pruning batches that fell entirely below it and
// re-aligning a batch the new height falls into.
func (c *SyncChain) fastForward(localFinalizedHeight uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if localFinalizedHeight <= c.processedHeight {
		return
	}
	height := localFinalizedHeight
	if height > c.target.Height {
		height = c.target.Height
	}
	c.processedHeight = height

	for start, batch := range c.batches {
		if batch.EndHeight() <= height {
			delete(c.batches, start)
			continue
		}
		// re-align a batch the new processed height cuts through, so batch
		// boundaries keep partitioning [processedHeight, target)
		if start < height {
			delete(c.batches, start)
			c.batches[height] = newBatch(height, batch.EndHeight()-height)
		}
	}
}

// issueDownloads materializes the window of batches ahead of the processed
// height and assigns every downloadable batch to the least busy peer. If the
// pool is empty the chain stalls silently until a peer arrives or the
// orchestrator evicts it.
func (c *SyncChain) issueDownloads(ctx context.Context) error {
	if !c.syncing.Load() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.extendWindow()

	for _, start := range c.sortedBatchHeights() {
		batch := c.batches[start]
		if batch.State() != BatchAwaitingDownload {
			continue
		}

		peerID, ok := c.pool.selectPeer()
		if !ok {
			// empty pool: stall, not an error
			return nil
		}

		nonce, err := batch.startDownload(peerID)
		if err != nil {
			return fmt.Errorf("could not assign batch download: %w", err)
		}
		c.pool.requestStarted(peerID)

		startHeight, count := batch.StartHeight(), batch.Count()
		c.downloads.Submit(func() {
			c.downloadBatch(ctx, peerID, startHeight, count, nonce)
		})

		c.log.Debug().
			Str("peer_id", peerID.String()).
			Uint64("batch_start", startHeight).
			Uint64("batch_count", count).
			Msg("batch download issued")
	}
	return nil
}

// extendWindow creates batches at the tail of the window until it holds
// MaxPendingBatches batches or reaches the target. Caller must hold the lock.
func (c *SyncChain) extendWindow() {
	nextStart := c.processedHeight
	for _, batch := range c.batches {
		if batch.EndHeight() > nextStart {
			nextStart = batch.EndHeight()
		}
	}

	for len(c.batches) < c.cfg.MaxPendingBatches && nextStart < c.target.Height {
		count := c.cfg.BatchSize
		if nextStart+count > c.target.Height {
			count = c.target.Height - nextStart
		}
		c.batches[nextStart] = newBatch(nextStart, count)
		nextStart += count
	}
}

func (c *SyncChain) sortedBatchHeights() []uint64 {
	heights := make([]uint64, 0, len(c.batches))
	for start := range c.batches {
		heights = append(heights, start)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights
}

// downloadBatch runs on the worker pool: it performs one download attempt and
// feeds the outcome back into the batch under the lock. Results of attempts
// superseded by peer removal or batch reset carry a stale nonce and are
// dropped.
func (c *SyncChain) downloadBatch(ctx context.Context, peerID chainsync.PeerID, startHeight uint64, count uint64, nonce uint64) {
	blocks, err := c.fetcher.FetchBlocksByRange(ctx, peerID, startHeight, count)

	action := module.ActionFailedRequest
	if err == nil {
		if verr := validateRange(startHeight, count, blocks); verr != nil {
			err = verr
			action = module.ActionMalformedResponse
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	batch, exists := c.batches[startHeight]
	if !exists {
		// batch was pruned while the request was in flight
		c.pool.requestFinished(peerID, err == nil)
		return
	}

	if err == nil {
		c.pool.requestFinished(peerID, true)
		if batch.completeDownload(nonce, blocks) {
			c.metrics.BatchDownloaded(c.syncType, true)
			c.work.Notify()
		}
		return
	}

	accepted := batch.failDownload(nonce)
	failures := c.pool.requestFinished(peerID, false)

	if ctx.Err() != nil {
		// cancellation, not a peer fault: no penalty, no escalation
		return
	}
	if !accepted {
		return
	}

	c.metrics.BatchDownloaded(c.syncType, false)
	c.reporter.ReportPeer(peerID, action, err.Error())
	c.log.Debug().
		Err(err).
		Str("peer_id", peerID.String()).
		Uint64("batch_start", startHeight).
		Uint("attempts", batch.DownloadAttempts()).
		Msg("batch download failed")

	if failures >= c.cfg.MaxPeerFailures {
		c.pool.remove(peerID)
		c.log.Warn().Str("peer_id", peerID.String()).Msg("peer dropped after repeated failures")
	}

	if batch.DownloadAttempts() >= c.cfg.MaxDownloadAttempts {
		c.failure = &MaxRetriesExceededError{
			StartHeight: startHeight,
			Attempts:    batch.DownloadAttempts(),
			Err:         err,
		}
	}

	c.work.Notify()
}

// processAvailable applies completed batches strictly in increasing height
// order. It returns done=true once the processed height reaches the target.
// A batch is only applied after every batch below it is done, which holds by
// construction: the next batch to apply always starts exactly at the
// processed height.
func (c *SyncChain) processAvailable(ctx context.Context) (bool, error) {
	for {
		c.mu.Lock()

		if !c.syncing.Load() {
			// paused: withhold application, keep the buffer
			c.mu.Unlock()
			return false, nil
		}
		if c.processedHeight >= c.target.Height {
			c.mu.Unlock()
			return true, nil
		}

		batch, exists := c.batches[c.processedHeight]
		if !exists || batch.State() != BatchAwaitingProcessing {
			c.mu.Unlock()
			return false, nil
		}

		blocks, err := batch.startProcessing()
		if err != nil {
			c.mu.Unlock()
			return false, fmt.Errorf("could not start batch processing: %w", err)
		}
		peerID := batch.AssignedPeer()
		c.mu.Unlock()

		// segments below a finalized checkpoint are trusted: full signature
		// verification may be skipped by the processor
		trusted := c.syncType == chainsync.Finalized
		applyErr := c.processor.ApplySegment(ctx, blocks, trusted)

		c.mu.Lock()
		if applyErr == nil {
			err = batch.completeProcessing()
			if err != nil {
				c.mu.Unlock()
				return false, fmt.Errorf("could not complete batch processing: %w", err)
			}
			c.processedHeight = batch.EndHeight()
			delete(c.batches, batch.StartHeight())
			c.metrics.BatchProcessed(c.syncType, true)
			c.metrics.ProcessedHeight(c.syncType, c.processedHeight)
			c.log.Debug().
				Uint64("batch_start", batch.StartHeight()).
				Uint64("processed_height", c.processedHeight).
				Msg("batch applied")
			c.mu.Unlock()
			continue
		}

		if errors.Is(applyErr, context.Canceled) || errors.Is(applyErr, context.DeadlineExceeded) {
			// cancellation, not bad data: keep the blocks for a resumed run
			batch.abortProcessing()
			c.mu.Unlock()
			return false, applyErr
		}

		if module.IsInvalidSegmentError(applyErr) {
			c.metrics.BatchProcessed(c.syncType, false)
			c.reporter.ReportPeer(peerID, module.ActionInvalidBlock, applyErr.Error())

			// the retry must come from a different peer
			c.pool.remove(peerID)

			err = batch.failProcessing()
			if err != nil {
				c.mu.Unlock()
				return false, fmt.Errorf("could not fail batch processing: %w", err)
			}
			c.log.Warn().
				Err(applyErr).
				Str("peer_id", peerID.String()).
				Uint64("batch_start", batch.StartHeight()).
				Uint("attempts", batch.ProcessingAttempts()).
				Msg("batch rejected by chain state")

			if batch.ProcessingAttempts() >= c.cfg.MaxProcessingAttempts {
				failure := &MaxRetriesExceededError{
					StartHeight: batch.StartHeight(),
					Attempts:    batch.ProcessingAttempts(),
					Err:         applyErr,
				}
				c.mu.Unlock()
				return false, failure
			}

			c.work.Notify()
			c.mu.Unlock()
			return false, nil
		}

		// unexpected processor error: terminal for the chain
		c.mu.Unlock()
		return false, fmt.Errorf("could not apply segment at height %d: %w", batch.StartHeight(), applyErr)
	}
}

// validateRange checks that the response is a contiguous, strictly increasing
// match of the requested range.
func validateRange(startHeight uint64, count uint64, blocks []*chainsync.Block) error {
	if uint64(len(blocks)) != count {
		return fmt.Errorf("expected %d blocks from height %d, got %d", count, startHeight, len(blocks))
	}
	for i, block := range blocks {
		expected := startHeight + uint64(i)
		if block.Height != expected {
			return fmt.Errorf("expected height %d at index %d, got %d", expected, i, block.Height)
		}
	}
	return nil
}
