package chainsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modelsync "github.com/karim-en/lodestar/model/chainsync"
)

func TestPeerPoolMembership(t *testing.T) {
	pool := newPeerPool()
	peerID := unittestPeer("a")

	assert.Equal(t, 0, pool.len())
	assert.False(t, pool.has(peerID))

	assert.True(t, pool.add(peerID))
	assert.False(t, pool.add(peerID), "duplicate add must be rejected")
	assert.True(t, pool.has(peerID))
	assert.Equal(t, 1, pool.len())

	assert.True(t, pool.remove(peerID))
	assert.False(t, pool.remove(peerID), "double remove must be rejected")
	assert.Equal(t, 0, pool.len())
}

// TestPeerPoolSelection checks that assignment prefers the least-busy peer
// and breaks ties deterministically.
func TestPeerPoolSelection(t *testing.T) {
	pool := newPeerPool()

	_, ok := pool.selectPeer()
	assert.False(t, ok, "selection from empty pool must fail")

	pool.add(unittestPeer("b"))
	pool.add(unittestPeer("a"))
	pool.add(unittestPeer("c"))

	// all idle: lexicographically smallest wins
	selected, ok := pool.selectPeer()
	require.True(t, ok)
	assert.Equal(t, unittestPeer("a"), selected)

	// a becomes busy: selection moves to the next idle peer
	pool.requestStarted(unittestPeer("a"))
	selected, ok = pool.selectPeer()
	require.True(t, ok)
	assert.Equal(t, unittestPeer("b"), selected)

	pool.requestStarted(unittestPeer("b"))
	pool.requestStarted(unittestPeer("c"))
	pool.requestStarted(unittestPeer("c"))

	// a and b tie at one active request each
	selected, ok = pool.selectPeer()
	require.True(t, ok)
	assert.Equal(t, unittestPeer("a"), selected)

	// finishing a request makes the peer preferred again
	pool.requestFinished(unittestPeer("c"), true)
	pool.requestFinished(unittestPeer("c"), true)
	selected, ok = pool.selectPeer()
	require.True(t, ok)
	assert.Equal(t, unittestPeer("c"), selected)
}

func TestPeerPoolFailureTracking(t *testing.T) {
	pool := newPeerPool()
	peerID := unittestPeer("a")
	pool.add(peerID)

	pool.requestStarted(peerID)
	assert.Equal(t, uint(0), pool.requestFinished(peerID, true))

	pool.requestStarted(peerID)
	assert.Equal(t, uint(1), pool.requestFinished(peerID, false))
	pool.requestStarted(peerID)
	assert.Equal(t, uint(2), pool.requestFinished(peerID, false))

	// unknown peers accrue nothing
	assert.Equal(t, uint(0), pool.requestFinished(unittestPeer("ghost"), false))
}

func TestPeerPoolIDsSorted(t *testing.T) {
	pool := newPeerPool()
	pool.add(unittestPeer("c"))
	pool.add(unittestPeer("a"))
	pool.add(unittestPeer("b"))

	expected := []modelsync.PeerID{unittestPeer("a"), unittestPeer("b"), unittestPeer("c")}
	assert.Equal(t, expected, pool.ids())
}

func unittestPeer(name string) modelsync.PeerID {
	return modelsync.PeerID("peer-" + name)
}
