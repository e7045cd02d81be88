package rangesync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/karim-en/lodestar/engine/common/fifoqueue"
	modelsync "github.com/karim-en/lodestar/model/chainsync"
	"github.com/karim-en/lodestar/module"
	"github.com/karim-en/lodestar/module/chainsync"
	"github.com/karim-en/lodestar/module/component"
	"github.com/karim-en/lodestar/module/irrecoverable"
)

// ErrUnknownTarget is returned by AddPeer when the peer's status lacks the
// block identifier of the target it claims. A claim without an identifier is
// a protocol error on the peer's side and cannot seed a sync chain.
var ErrUnknownTarget = errors.New("peer status is missing target block identifier")

// Engine is the range-sync orchestrator. It classifies peer status events
// into finalized or head sync targets, groups peers into one sync chain per
// target, and keeps the chain set converged on the policy: exactly one
// active finalized chain (the one with the largest peer pool), all eligible
// head chains active, everything else paused or evicted.
//
// Inbound peer events are buffered and drained by a single event worker, so
// the chain set is only ever mutated from one goroutine. Each chain's
// download/apply loop runs in its own goroutine and posts its terminal
// outcome back to the event worker, which re-evaluates the chain set with
// fresh local finality.
type Engine struct {
	component.Component

	log     zerolog.Logger
	metrics module.ChainSyncMetrics
	cfg     *Config

	fetcher   module.BlockFetcher
	processor module.BlockProcessor
	reporter  module.PeerReporter
	status    module.StatusProvider

	mu       sync.Mutex
	chains   map[modelsync.Identifier]*chainsync.SyncChain
	launched map[modelsync.Identifier]struct{}

	pendingPeerEvents *fifoqueue.FifoQueue
	peerEventNotifier module.Notifier

	chainEvents  chan chainEvent
	chainWorkers sync.WaitGroup
}

// New creates a range-sync engine wired to the given collaborators.
func New(
	log zerolog.Logger,
	metrics module.ChainSyncMetrics,
	fetcher module.BlockFetcher,
	processor module.BlockProcessor,
	reporter module.PeerReporter,
	status module.StatusProvider,
	opts ...OptionFunc,
) (*Engine, error) {

	cfg := DefaultConfig()
	for _, apply := range opts {
		apply(cfg)
	}

	pendingPeerEvents, err := fifoqueue.NewFifoQueue(
		cfg.peerEventQueueCapacity,
		fifoqueue.WithLengthObserver(func(length int) { metrics.PeerEventQueueSize(uint(length)) }),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue for peer events: %w", err)
	}

	e := &Engine{
		log:               log.With().Str("engine", "rangesync").Logger(),
		metrics:           metrics,
		cfg:               cfg,
		fetcher:           fetcher,
		processor:         processor,
		reporter:          reporter,
		status:            status,
		chains:            make(map[modelsync.Identifier]*chainsync.SyncChain),
		launched:          make(map[modelsync.Identifier]struct{}),
		pendingPeerEvents: pendingPeerEvents,
		peerEventNotifier: module.NewNotifier(),
		chainEvents:       make(chan chainEvent, defaultChainEventQueueCapacity),
	}

	e.Component = component.NewComponentManagerBuilder().
		AddWorker(e.eventProcessingLoop).
		Build()

	return e, nil
}

// AddPeer submits a peer status event for classification. The peer will be
// attached to the chain its status maps onto, after being detached from any
// chain it contributed to before. Never blocks; the heavy lifting happens on
// the event worker.
//
// Error returns:
//   - ErrUnknownTarget if the status claims a target without its block
//     identifier. This is a protocol error of the reporting layer and must
//     be handled by the caller; it does not affect engine state.
func (e *Engine) AddPeer(peerID modelsync.PeerID, local modelsync.Status, peer modelsync.Status) error {
	syncType, required := chainsync.ClassifyPeer(e.cfg.chainConfig, local, peer)
	if required {
		_, target := chainsync.SyncStart(syncType, local, peer)
		if target.BlockID == modelsync.ZeroID {
			return fmt.Errorf("cannot sync toward peer %s at height %d: %w", peerID, target.Height, ErrUnknownTarget)
		}
	}

	e.submitPeerEvent(peerConnected{peerID: peerID, local: local, peer: peer})
	return nil
}

// RemovePeer detaches the peer from every chain's pool. Chains left without
// peers stall and are evicted on the re-evaluation this triggers.
func (e *Engine) RemovePeer(peerID modelsync.PeerID) {
	e.submitPeerEvent(peerDisconnected{peerID: peerID})
}

func (e *Engine) submitPeerEvent(event interface{}) {
	if !e.pendingPeerEvents.Push(event) {
		e.log.Warn().Msgf("peer event queue full - discarding %T", event)
		return
	}
	e.peerEventNotifier.Notify()
}

// SyncState derives the current sync summary from the chain set. An actively
// syncing finalized chain always takes precedence over head chains.
func (e *Engine) SyncState() modelsync.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()

	var headTargets []modelsync.ChainTarget
	var finalized *chainsync.SyncChain

	for _, chain := range e.chains {
		if !chain.IsSyncing() {
			continue
		}
		switch chain.SyncType() {
		case modelsync.Finalized:
			if finalized == nil || chainIDLess(chain, finalized) {
				finalized = chain
			}
		case modelsync.Head:
			headTargets = append(headTargets, chain.Target())
		}
	}

	if finalized != nil {
		return modelsync.StateFinalized{Target: finalized.Target()}
	}
	if len(headTargets) > 0 {
		sort.Slice(headTargets, func(i, j int) bool {
			return headTargets[i].Height < headTargets[j].Height ||
				(headTargets[i].Height == headTargets[j].Height &&
					bytes.Compare(headTargets[i].BlockID[:], headTargets[j].BlockID[:]) < 0)
		})
		return modelsync.StateHead{Targets: headTargets}
	}
	return modelsync.StateIdle{}
}

// Metadata returns read-only snapshots of all current chains, ordered by
// chain ID.
func (e *Engine) Metadata() []modelsync.ChainMetadata {
	e.mu.Lock()
	defer e.mu.Unlock()

	metadata := make([]modelsync.ChainMetadata, 0, len(e.chains))
	for _, chain := range e.chains {
		metadata = append(metadata, chain.Metadata())
	}
	sort.Slice(metadata, func(i, j int) bool {
		return bytes.Compare(metadata[i].ChainID[:], metadata[j].ChainID[:]) < 0
	})
	return metadata
}

// eventProcessingLoop is the single worker that owns the chain set. Peer
// events, chain outcomes and shutdown all funnel through it, so no two
// re-evaluation passes ever interleave.
func (e *Engine) eventProcessingLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-e.peerEventNotifier.Channel():
			e.processAvailablePeerEvents(ctx)
		case event := <-e.chainEvents:
			e.onChainEvent(ctx, event)
		}
	}
}

// processAvailablePeerEvents drains the peer event queue.
func (e *Engine) processAvailablePeerEvents(ctx irrecoverable.SignalerContext) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		event, ok := e.pendingPeerEvents.Pop()
		if !ok {
			return
		}

		switch ev := event.(type) {
		case peerConnected:
			e.onPeerConnected(ctx, ev)
		case peerDisconnected:
			e.onPeerDisconnected(ctx, ev)
		default:
			// queue only ever holds the two event types above
			ctx.Throw(fmt.Errorf("invalid peer event type %T", event))
		}
	}
}

// onPeerConnected classifies the peer and attaches it to its target's chain,
// creating the chain on first claim of that target.
func (e *Engine) onPeerConnected(ctx irrecoverable.SignalerContext, ev peerConnected) {
	log := e.log.With().Str("peer_id", ev.peerID.String()).Logger()

	syncType, required := chainsync.ClassifyPeer(e.cfg.chainConfig, ev.local, ev.peer)

	var chainID modelsync.Identifier
	var startHeight uint64
	var target modelsync.ChainTarget
	if required {
		startHeight, target = chainsync.SyncStart(syncType, ev.local, ev.peer)
		chainID = target.ChainID(syncType)
	}

	e.mu.Lock()

	// a peer contributes to at most one chain at a time: detach it before
	// (re-)attaching, so a re-announcement never leaves a stale pool entry
	// behind. A peer that caught up is detached from everything.
	for id, chain := range e.chains {
		if id != chainID {
			chain.RemovePeer(ev.peerID)
		}
	}

	if !required {
		e.mu.Unlock()
		log.Debug().
			Uint64("peer_head", ev.peer.HeadHeight).
			Uint64("local_head", ev.local.HeadHeight).
			Msg("peer within tolerance - no range sync required")
		e.update(ctx, ev.local.FinalizedHeight)
		return
	}

	chain, exists := e.chains[chainID]
	if !exists {
		chain = chainsync.NewSyncChain(
			e.log,
			e.cfg.chainConfig,
			syncType,
			startHeight,
			target,
			e.fetcher,
			e.processor,
			e.reporter,
			e.metrics,
		)
		e.chains[chainID] = chain
		log.Info().
			Str("chain_id", chainID.String()).
			Str("sync_type", syncType.String()).
			Uint64("start_height", startHeight).
			Uint64("target_height", target.Height).
			Msg("sync chain created")
	}
	chain.AddPeer(ev.peerID)

	e.mu.Unlock()

	e.update(ctx, ev.local.FinalizedHeight)
}

// onPeerDisconnected removes the peer everywhere and re-evaluates; chains
// left empty are evicted by the update pass.
func (e *Engine) onPeerDisconnected(ctx irrecoverable.SignalerContext, ev peerDisconnected) {
	e.mu.Lock()
	for _, chain := range e.chains {
		chain.RemovePeer(ev.peerID)
	}
	e.mu.Unlock()

	e.update(ctx, e.status.LocalStatus().FinalizedHeight)
}

// onChainEvent handles the terminal outcome of one chain and re-evaluates
// the chain set against fresh local finality.
func (e *Engine) onChainEvent(ctx irrecoverable.SignalerContext, event chainEvent) {
	e.mu.Lock()
	chain, exists := e.chains[event.chainID]
	if exists {
		log := e.log.With().Str("chain_id", event.chainID.String()).Logger()
		switch {
		case event.err == nil:
			log.Info().Msg("sync chain completed")
			e.metrics.ChainComplete(chain.SyncType())
		case errors.Is(event.err, chainsync.ErrChainRemoved), errors.Is(event.err, context.Canceled):
			log.Debug().Msg("sync chain cancelled")
		default:
			log.Warn().Err(event.err).Msg("sync chain failed")
			e.metrics.ChainFailed(chain.SyncType())
		}
		chain.Remove()
		delete(e.chains, event.chainID)
		delete(e.launched, event.chainID)
	}
	e.mu.Unlock()

	e.update(ctx, e.status.LocalStatus().FinalizedHeight)
}

// update is the convergence pass: evict chains matching the removal
// predicate, then recompute which chains should be downloading and
// start/stop them accordingly. It is idempotent: a second pass over an
// unchanged chain set performs no additional actions.
func (e *Engine) update(ctx irrecoverable.SignalerContext, localFinalizedHeight uint64) {
	e.mu.Lock()

	for chainID, chain := range e.chains {
		if chainsync.ShouldRemoveChain(chain, localFinalizedHeight) {
			meta := chain.Metadata()
			e.log.Debug().
				Str("chain_id", chainID.String()).
				Uint64("processed_height", meta.ProcessedHeight).
				Int("peer_count", meta.PeerCount).
				Msg("evicting sync chain")
			chain.Remove()
			delete(e.chains, chainID)
			delete(e.launched, chainID)
		}
	}

	remaining := make([]*chainsync.SyncChain, 0, len(e.chains))
	for _, chain := range e.chains {
		remaining = append(remaining, chain)
	}
	toStart, toStop := chainsync.SelectActiveChains(remaining)

	for _, chain := range toStop {
		chain.StopSyncing()
	}
	for _, chain := range toStart {
		e.startChain(ctx, chain, localFinalizedHeight)
	}

	active := 0
	for _, chain := range e.chains {
		if chain.IsSyncing() {
			active++
		}
	}
	e.mu.Unlock()

	e.metrics.ActiveChains(active)
}

// startChain launches the chain's download/apply loop, or resumes it if it
// is already running but paused. Caller must hold e.mu; the launched set
// guarantees exactly one loop goroutine per chain.
func (e *Engine) startChain(ctx irrecoverable.SignalerContext, chain *chainsync.SyncChain, localFinalizedHeight uint64) {
	chainID := chain.ChainID()

	if _, exists := e.launched[chainID]; exists {
		if !chain.IsSyncing() {
			// resume path of StartSyncing returns immediately
			_ = chain.StartSyncing(ctx, localFinalizedHeight)
		}
		return
	}

	e.launched[chainID] = struct{}{}
	e.chainWorkers.Add(1)
	go func() {
		defer e.chainWorkers.Done()
		err := chain.StartSyncing(ctx, localFinalizedHeight)
		select {
		case e.chainEvents <- chainEvent{chainID: chainID, err: err}:
		default:
			// only reachable when the engine is already shutting down and
			// nobody drains the channel; the outcome is collected by shutdown
		}
	}()
}

// shutdown removes every chain, waits for their loops to wind down, and
// reports any genuine failures that surfaced during teardown.
func (e *Engine) shutdown() {
	e.mu.Lock()
	for chainID, chain := range e.chains {
		chain.Remove()
		delete(e.chains, chainID)
		delete(e.launched, chainID)
	}
	e.mu.Unlock()

	e.chainWorkers.Wait()

	var errs *multierror.Error
	for {
		select {
		case event := <-e.chainEvents:
			if event.err != nil &&
				!errors.Is(event.err, chainsync.ErrChainRemoved) &&
				!errors.Is(event.err, context.Canceled) {
				errs = multierror.Append(errs, fmt.Errorf("chain %s: %w", event.chainID, event.err))
			}
		default:
			if err := errs.ErrorOrNil(); err != nil {
				e.log.Warn().Err(err).Msg("chains failed during shutdown")
			}
			e.log.Info().Msg("range sync shut down")
			return
		}
	}
}

func chainIDLess(a *chainsync.SyncChain, b *chainsync.SyncChain) bool {
	aID, bID := a.ChainID(), b.ChainID()
	return bytes.Compare(aID[:], bID[:]) < 0
}
