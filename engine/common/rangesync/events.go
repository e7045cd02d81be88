package rangesync

import (
	"github.com/karim-en/lodestar/model/chainsync"
)

// peerConnected is the queued form of an AddPeer call: the peer's claimed
// status together with the local status it was classified against.
type peerConnected struct {
	peerID chainsync.PeerID
	local  chainsync.Status
	peer   chainsync.Status
}

// peerDisconnected is the queued form of a RemovePeer call.
type peerDisconnected struct {
	peerID chainsync.PeerID
}

// chainEvent reports the terminal outcome of a chain's StartSyncing loop
// back to the engine's event worker. A nil err means the chain reached its
// target.
type chainEvent struct {
	chainID chainsync.Identifier
	err     error
}
