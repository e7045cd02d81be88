package chainsync

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modelsync "github.com/karim-en/lodestar/model/chainsync"
	"github.com/karim-en/lodestar/module/metrics"
	"github.com/karim-en/lodestar/utils/unittest"
)

// TestClassifyPeer checks the decision between finalized sync, head sync and
// no sync at all, including the tolerance boundaries.
func TestClassifyPeer(t *testing.T) {
	cfg := DefaultChainConfig()
	cfg.FinalityTolerance = 1
	cfg.ImportTolerance = 16

	t.Run("peer far ahead on finality requires finalized sync", func(t *testing.T) {
		local := unittest.StatusFixture(10, 12)
		peer := unittest.StatusFixture(100, 104)

		syncType, required := ClassifyPeer(cfg, local, peer)
		require.True(t, required)
		assert.Equal(t, modelsync.Finalized, syncType)
	})

	t.Run("finality within tolerance falls through to head check", func(t *testing.T) {
		local := unittest.StatusFixture(10, 12)
		peer := unittest.StatusFixture(11, 40)

		syncType, required := ClassifyPeer(cfg, local, peer)
		require.True(t, required)
		assert.Equal(t, modelsync.Head, syncType)
	})

	t.Run("head within import tolerance requires no sync", func(t *testing.T) {
		local := unittest.StatusFixture(10, 12)
		peer := unittest.StatusFixture(11, 28)

		_, required := ClassifyPeer(cfg, local, peer)
		assert.False(t, required, "gossip can bridge the gap")
	})

	t.Run("head one beyond import tolerance requires head sync", func(t *testing.T) {
		local := unittest.StatusFixture(10, 12)
		peer := unittest.StatusFixture(11, 29)

		syncType, required := ClassifyPeer(cfg, local, peer)
		require.True(t, required)
		assert.Equal(t, modelsync.Head, syncType)
	})

	t.Run("peer behind us requires no sync", func(t *testing.T) {
		local := unittest.StatusFixture(100, 104)
		peer := unittest.StatusFixture(10, 12)

		_, required := ClassifyPeer(cfg, local, peer)
		assert.False(t, required)
	})
}

// TestSyncStart checks the start height and target of both sync kinds.
func TestSyncStart(t *testing.T) {
	t.Run("finalized sync spans local finality to peer finality", func(t *testing.T) {
		local := unittest.StatusFixture(10, 12)
		peer := unittest.StatusFixture(100, 104)

		startHeight, target := SyncStart(modelsync.Finalized, local, peer)
		assert.Equal(t, uint64(10), startHeight)
		assert.Equal(t, peer.FinalizedTarget(), target)
	})

	t.Run("head sync starts at local head", func(t *testing.T) {
		local := unittest.StatusFixture(40, 50)
		peer := unittest.StatusFixture(60, 80)

		startHeight, target := SyncStart(modelsync.Head, local, peer)
		assert.Equal(t, uint64(50), startHeight)
		assert.Equal(t, peer.HeadTarget(), target)
	})

	t.Run("head sync never starts beyond peer finality", func(t *testing.T) {
		local := unittest.StatusFixture(40, 50)
		peer := unittest.StatusFixture(45, 80)

		startHeight, _ := SyncStart(modelsync.Head, local, peer)
		assert.Equal(t, uint64(45), startHeight)
	})
}

// TestSelectActiveChains checks the activation policy: one finalized chain
// at a time (largest pool, ties by chain ID), all head chains concurrently.
func TestSelectActiveChains(t *testing.T) {
	t.Run("largest finalized pool wins", func(t *testing.T) {
		small := testChain(t, modelsync.Finalized, 0, 100, 1)
		large := testChain(t, modelsync.Finalized, 0, 200, 3)

		toStart, toStop := SelectActiveChains([]*SyncChain{small, large})
		require.Len(t, toStart, 1)
		require.Len(t, toStop, 1)
		assert.Equal(t, large.ChainID(), toStart[0].ChainID())
		assert.Equal(t, small.ChainID(), toStop[0].ChainID())
	})

	t.Run("equal pools break the tie by chain ID", func(t *testing.T) {
		a := testChain(t, modelsync.Finalized, 0, 100, 2)
		b := testChain(t, modelsync.Finalized, 0, 200, 2)
		expected := a
		aID, bID := a.ChainID(), b.ChainID()
		if bytes.Compare(bID[:], aID[:]) < 0 {
			expected = b
		}

		// stable regardless of input order
		for _, chains := range [][]*SyncChain{{a, b}, {b, a}} {
			toStart, toStop := SelectActiveChains(chains)
			require.Len(t, toStart, 1)
			require.Len(t, toStop, 1)
			assert.Equal(t, expected.ChainID(), toStart[0].ChainID())
		}
	})

	t.Run("head chains all run, alongside one finalized chain", func(t *testing.T) {
		finalized1 := testChain(t, modelsync.Finalized, 0, 100, 1)
		finalized2 := testChain(t, modelsync.Finalized, 0, 200, 2)
		head1 := testChain(t, modelsync.Head, 100, 150, 1)
		head2 := testChain(t, modelsync.Head, 100, 160, 1)

		toStart, toStop := SelectActiveChains([]*SyncChain{finalized1, head1, finalized2, head2})
		assert.Len(t, toStart, 3)
		require.Len(t, toStop, 1)
		assert.Equal(t, finalized1.ChainID(), toStop[0].ChainID())
	})

	t.Run("empty input selects nothing", func(t *testing.T) {
		toStart, toStop := SelectActiveChains(nil)
		assert.Empty(t, toStart)
		assert.Empty(t, toStop)
	})
}

// TestShouldRemoveChain checks the eviction predicate.
func TestShouldRemoveChain(t *testing.T) {
	t.Run("peerless chain is removed", func(t *testing.T) {
		chain := testChain(t, modelsync.Finalized, 0, 100, 0)
		assert.True(t, ShouldRemoveChain(chain, 0))
	})

	t.Run("completed chain is removed", func(t *testing.T) {
		chain := testChain(t, modelsync.Finalized, 100, 100, 1)
		assert.True(t, ShouldRemoveChain(chain, 0))
	})

	t.Run("chain overtaken by local finality is removed", func(t *testing.T) {
		chain := testChain(t, modelsync.Finalized, 10, 100, 1)
		assert.True(t, ShouldRemoveChain(chain, 50))
	})

	t.Run("healthy chain is kept", func(t *testing.T) {
		chain := testChain(t, modelsync.Finalized, 10, 100, 1)
		assert.False(t, ShouldRemoveChain(chain, 10))
	})
}

// testChain builds an idle chain with the given number of pooled peers. The
// collaborators are never invoked because the chain is never started.
func testChain(t *testing.T, syncType modelsync.SyncType, startHeight uint64, targetHeight uint64, peers int) *SyncChain {
	t.Helper()
	chain := NewSyncChain(
		zerolog.Nop(),
		DefaultChainConfig(),
		syncType,
		startHeight,
		unittest.ChainTargetFixture(targetHeight),
		nil,
		nil,
		nil,
		metrics.NewNoopCollector(),
	)
	for i := 0; i < peers; i++ {
		chain.AddPeer(unittest.PeerIDFixture())
	}
	return chain
}
