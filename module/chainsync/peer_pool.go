package chainsync

import (
	"sort"

	"github.com/karim-en/lodestar/model/chainsync"
)

// peerPool is the set of peers currently contributing download capacity to
// one chain. Peers are tracked by identifier only; their status was consumed
// at classification time and is not aliased here.
//
// peerPool is not safe for concurrent use; the owning chain serializes
// access.
type peerPool struct {
	peers map[chainsync.PeerID]*peerSlot
}

type peerSlot struct {
	// activeRequests is the number of batch downloads currently assigned to
	// the peer. Assignment prefers the least-busy peer to spread the window
	// across the pool.
	activeRequests uint

	// failedRequests counts download failures attributed to the peer. The
	// chain drops a peer once this passes the configured maximum.
	failedRequests uint
}

func newPeerPool() *peerPool {
	return &peerPool{
		peers: make(map[chainsync.PeerID]*peerSlot),
	}
}

// add inserts the peer into the pool. Returns false if it was already there.
func (p *peerPool) add(peerID chainsync.PeerID) bool {
	if _, exists := p.peers[peerID]; exists {
		return false
	}
	p.peers[peerID] = &peerSlot{}
	return true
}

// remove deletes the peer from the pool. Returns false if it wasn't there.
func (p *peerPool) remove(peerID chainsync.PeerID) bool {
	if _, exists := p.peers[peerID]; !exists {
		return false
	}
	delete(p.peers, peerID)
	return true
}

func (p *peerPool) has(peerID chainsync.PeerID) bool {
	_, exists := p.peers[peerID]
	return exists
}

func (p *peerPool) len() int {
	return len(p.peers)
}

// selectPeer picks the peer with the fewest active requests, breaking ties by
// identifier so selection is deterministic. Returns false if the pool is
// empty.
func (p *peerPool) selectPeer() (chainsync.PeerID, bool) {
	var best chainsync.PeerID
	found := false
	for peerID, slot := range p.peers {
		if !found || slot.activeRequests < p.peers[best].activeRequests ||
			(slot.activeRequests == p.peers[best].activeRequests && peerID < best) {
			best = peerID
			found = true
		}
	}
	return best, found
}

// requestStarted records a new download assignment for the peer.
func (p *peerPool) requestStarted(peerID chainsync.PeerID) {
	if slot, exists := p.peers[peerID]; exists {
		slot.activeRequests++
	}
}

// requestFinished records a finished download for the peer and, on failure,
// counts it against the peer. Returns the accumulated failure count.
func (p *peerPool) requestFinished(peerID chainsync.PeerID, success bool) uint {
	slot, exists := p.peers[peerID]
	if !exists {
		return 0
	}
	if slot.activeRequests > 0 {
		slot.activeRequests--
	}
	if !success {
		slot.failedRequests++
	}
	return slot.failedRequests
}

// ids returns the pool's peer identifiers in deterministic order.
func (p *peerPool) ids() []chainsync.PeerID {
	ids := make([]chainsync.PeerID, 0, len(p.peers))
	for peerID := range p.peers {
		ids = append(ids, peerID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
