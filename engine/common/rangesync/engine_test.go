package rangesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	modelsync "github.com/karim-en/lodestar/model/chainsync"
	"github.com/karim-en/lodestar/module"
	"github.com/karim-en/lodestar/module/chainsync"
	"github.com/karim-en/lodestar/module/irrecoverable"
	"github.com/karim-en/lodestar/module/metrics"
	"github.com/karim-en/lodestar/module/util"
	"github.com/karim-en/lodestar/utils/unittest"
)

func TestRangeSyncEngine(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

type EngineSuite struct {
	suite.Suite

	local     modelsync.Status
	fetcher   *testFetcher
	processor *countingProcessor
	reporter  *testReporter
	status    *testStatusProvider
	metrics   *queueSizeRecorder

	engine *Engine
	cancel context.CancelFunc
}

func (s *EngineSuite) SetupTest() {
	s.local = unittest.StatusFixture(100, 100)

	// the default fetcher parks every download until shutdown, so chains
	// created by a test stay alive for its assertions
	s.fetcher = &testFetcher{}
	s.fetcher.set(func(ctx context.Context, _ modelsync.PeerID, _ uint64, _ uint64) ([]*modelsync.Block, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s.processor = &countingProcessor{}
	s.reporter = &testReporter{}
	s.status = &testStatusProvider{status: s.local}
	s.metrics = &queueSizeRecorder{
		NoopCollector: metrics.NewNoopCollector(),
		sawQueued:     atomic.NewBool(false),
	}

	cfg := chainsync.DefaultChainConfig()
	cfg.BatchSize = 10
	cfg.MaxPendingBatches = 3

	var err error
	s.engine, err = New(
		unittest.Logger(),
		s.metrics,
		s.fetcher,
		s.processor,
		s.reporter,
		s.status,
		WithChainConfig(cfg),
	)
	s.Require().NoError(err)

	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(s.T(), context.Background())
	s.cancel = cancel
	s.engine.Start(ctx)
	unittest.RequireCloseBefore(s.T(), util.AllReady(s.engine), 5*time.Second, "engine should start")
}

func (s *EngineSuite) TearDownTest() {
	s.cancel()
	unittest.RequireCloseBefore(s.T(), util.AllDone(s.engine), 5*time.Second, "engine should shut down")
}

func (s *EngineSuite) addPeer(peerID modelsync.PeerID, peer modelsync.Status) {
	s.Require().NoError(s.engine.AddPeer(peerID, s.local, peer))
}

// TestAddPeerUnknownTarget checks that a status claim without the target's
// block identifier is rejected synchronously and leaves no trace.
func (s *EngineSuite) TestAddPeerUnknownTarget() {
	peer := unittest.StatusFixture(200, 204)
	peer.FinalizedBlockID = modelsync.ZeroID

	err := s.engine.AddPeer("peer-a", s.local, peer)
	s.Require().ErrorIs(err, ErrUnknownTarget)
	s.Assert().Empty(s.engine.Metadata())
}

// TestPeersWithSameTargetShareChain checks that peers claiming the identical
// target are pooled into one chain.
func (s *EngineSuite) TestPeersWithSameTargetShareChain() {
	peer := unittest.StatusFixture(200, 204)
	s.addPeer("peer-a", peer)
	s.addPeer("peer-b", peer)

	unittest.RequireEventually(s.T(), func() bool {
		metadata := s.engine.Metadata()
		return len(metadata) == 1 && metadata[0].PeerCount == 2
	}, 5*time.Second, 10*time.Millisecond, "both peers should pool into one chain")

	metadata := s.engine.Metadata()
	s.Assert().Equal(modelsync.Finalized, metadata[0].SyncType)
	s.Assert().Equal(uint64(200), metadata[0].Target.Height)
	s.Assert().True(metadata[0].IsSyncing)
}

// TestSingleActiveFinalizedChain checks the activation policy: with two
// finalized targets claimed, only the chain with more peers downloads.
func (s *EngineSuite) TestSingleActiveFinalizedChain() {
	popular := unittest.StatusFixture(200, 204)
	fringe := unittest.StatusFixture(300, 304)

	s.addPeer("peer-a", popular)
	s.addPeer("peer-b", popular)
	s.addPeer("peer-c", fringe)

	unittest.RequireEventually(s.T(), func() bool {
		metadata := s.engine.Metadata()
		if len(metadata) != 2 {
			return false
		}
		for _, meta := range metadata {
			if meta.PeerCount == 2 && !meta.IsSyncing {
				return false
			}
			if meta.PeerCount == 1 && meta.IsSyncing {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond, "only the larger pool should sync")

	state, ok := s.engine.SyncState().(modelsync.StateFinalized)
	s.Require().True(ok, "an active finalized chain must dominate the sync state")
	s.Assert().Equal(popular.FinalizedTarget(), state.Target)
}

// TestPeerMovesBetweenChains checks that a peer re-announcing a new target is
// detached from its former chain, which is then evicted as peerless.
func (s *EngineSuite) TestPeerMovesBetweenChains() {
	first := unittest.StatusFixture(200, 204)
	second := unittest.StatusFixture(300, 304)

	s.addPeer("peer-a", first)
	unittest.RequireEventually(s.T(), func() bool {
		metadata := s.engine.Metadata()
		return len(metadata) == 1 && metadata[0].Target.Height == 200
	}, 5*time.Second, 10*time.Millisecond, "first chain should form")

	s.addPeer("peer-a", second)
	unittest.RequireEventually(s.T(), func() bool {
		metadata := s.engine.Metadata()
		return len(metadata) == 1 && metadata[0].Target.Height == 300 && metadata[0].PeerCount == 1
	}, 5*time.Second, 10*time.Millisecond, "peer should move and the abandoned chain should be evicted")
}

// TestCaughtUpPeerDetachedFromChain checks that a peer re-announcing a status
// within both tolerances is detached from its former chain, which is then
// evicted as peerless, rather than lingering as a phantom contributor.
func (s *EngineSuite) TestCaughtUpPeerDetachedFromChain() {
	s.addPeer("peer-a", unittest.StatusFixture(200, 204))
	unittest.RequireEventually(s.T(), func() bool {
		metadata := s.engine.Metadata()
		return len(metadata) == 1 && metadata[0].PeerCount == 1
	}, 5*time.Second, 10*time.Millisecond, "chain should form")

	// the peer caught up: its new claim requires no range sync
	s.addPeer("peer-a", unittest.StatusFixture(100, 104))
	unittest.RequireEventually(s.T(), func() bool {
		return len(s.engine.Metadata()) == 0
	}, 5*time.Second, 10*time.Millisecond, "abandoned chain should go peerless and be evicted")
	s.Assert().Equal(modelsync.StateIdle{}, s.engine.SyncState())
}

// TestRemovePeerEvictsEmptyChain checks that disconnecting the last peer of
// a chain removes the chain and returns the engine to idle.
func (s *EngineSuite) TestRemovePeerEvictsEmptyChain() {
	s.addPeer("peer-a", unittest.StatusFixture(200, 204))
	unittest.RequireEventually(s.T(), func() bool {
		return len(s.engine.Metadata()) == 1
	}, 5*time.Second, 10*time.Millisecond, "chain should form")

	s.engine.RemovePeer("peer-a")
	unittest.RequireEventually(s.T(), func() bool {
		return len(s.engine.Metadata()) == 0
	}, 5*time.Second, 10*time.Millisecond, "peerless chain should be evicted")
	s.Assert().Equal(modelsync.StateIdle{}, s.engine.SyncState())
}

// TestHeadSyncState checks classification and state reporting for a peer
// ahead on head but not on finality.
func (s *EngineSuite) TestHeadSyncState() {
	// within finality tolerance, beyond import tolerance
	peer := unittest.StatusFixture(100, 140)
	s.addPeer("peer-a", peer)

	unittest.RequireEventually(s.T(), func() bool {
		metadata := s.engine.Metadata()
		return len(metadata) == 1 && metadata[0].SyncType == modelsync.Head && metadata[0].IsSyncing
	}, 5*time.Second, 10*time.Millisecond, "head chain should form and sync")

	state, ok := s.engine.SyncState().(modelsync.StateHead)
	s.Require().True(ok)
	s.Require().Len(state.Targets, 1)
	s.Assert().Equal(peer.HeadTarget(), state.Targets[0])
}

// TestPeerWithinToleranceIgnored checks that a peer the local node can keep
// up with through gossip creates no chain.
func (s *EngineSuite) TestPeerWithinToleranceIgnored() {
	s.addPeer("peer-a", unittest.StatusFixture(100, 110))

	time.Sleep(100 * time.Millisecond)
	s.Assert().Empty(s.engine.Metadata())
	s.Assert().Equal(modelsync.StateIdle{}, s.engine.SyncState())
}

// TestChainCompletionRemovesChain runs one chain to its target and checks
// that the completed chain is torn down and the engine returns to idle.
func (s *EngineSuite) TestChainCompletionRemovesChain() {
	s.fetcher.set(func(_ context.Context, _ modelsync.PeerID, startHeight uint64, count uint64) ([]*modelsync.Block, error) {
		return unittest.BlocksFixture(startHeight, count), nil
	})

	s.addPeer("peer-a", unittest.StatusFixture(200, 204))

	unittest.RequireEventually(s.T(), func() bool {
		return len(s.engine.Metadata()) == 0 && s.processor.blocksApplied() == 100
	}, 5*time.Second, 10*time.Millisecond, "chain should complete and be removed")
	s.Assert().Equal(modelsync.StateIdle{}, s.engine.SyncState())
}

// TestPeerEventsPassThroughMeasuredQueue checks that inbound peer events are
// buffered in the queue whose length feeds the metrics surface.
func (s *EngineSuite) TestPeerEventsPassThroughMeasuredQueue() {
	s.addPeer("peer-a", unittest.StatusFixture(200, 204))
	unittest.RequireEventually(s.T(), func() bool {
		return s.metrics.sawQueued.Load()
	}, 5*time.Second, 10*time.Millisecond, "queue length should be reported")
}

// TestShutdownWithActiveChain checks that shutdown tears down a chain whose
// downloads are still parked in flight.
func (s *EngineSuite) TestShutdownWithActiveChain() {
	s.addPeer("peer-a", unittest.StatusFixture(200, 204))
	unittest.RequireEventually(s.T(), func() bool {
		metadata := s.engine.Metadata()
		return len(metadata) == 1 && metadata[0].IsSyncing
	}, 5*time.Second, 10*time.Millisecond, "chain should be downloading")

	s.cancel()
	unittest.RequireCloseBefore(s.T(), s.engine.Done(), 5*time.Second, "shutdown should not hang on in-flight downloads")
}

// testFetcher delegates to a swappable function, so each test can choose the
// download behavior after the engine is built.
type testFetcher struct {
	mu sync.Mutex
	fn func(ctx context.Context, peerID modelsync.PeerID, startHeight uint64, count uint64) ([]*modelsync.Block, error)
}

func (f *testFetcher) set(fn func(ctx context.Context, peerID modelsync.PeerID, startHeight uint64, count uint64) ([]*modelsync.Block, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
}

func (f *testFetcher) FetchBlocksByRange(ctx context.Context, peerID modelsync.PeerID, startHeight uint64, count uint64) ([]*modelsync.Block, error) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, peerID, startHeight, count)
}

// countingProcessor applies every segment successfully, counting blocks.
type countingProcessor struct {
	applied atomic.Uint64
}

func (p *countingProcessor) ApplySegment(_ context.Context, blocks []*modelsync.Block, _ bool) error {
	p.applied.Add(uint64(len(blocks)))
	return nil
}

func (p *countingProcessor) blocksApplied() uint64 {
	return p.applied.Load()
}

// testReporter records peer reports.
type testReporter struct {
	mu      sync.Mutex
	reports []modelsync.PeerID
}

func (r *testReporter) ReportPeer(peerID modelsync.PeerID, _ module.PeerAction, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, peerID)
}

// queueSizeRecorder layers peer-event queue observation on the noop
// collector.
type queueSizeRecorder struct {
	*metrics.NoopCollector
	sawQueued *atomic.Bool
}

func (r *queueSizeRecorder) PeerEventQueueSize(size uint) {
	if size > 0 {
		r.sawQueued.Store(true)
	}
}

// testStatusProvider serves a swappable local status.
type testStatusProvider struct {
	mu     sync.Mutex
	status modelsync.Status
}

func (p *testStatusProvider) LocalStatus() modelsync.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
