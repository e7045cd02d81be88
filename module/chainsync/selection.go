package chainsync

import (
	"bytes"

	"github.com/karim-en/lodestar/model/chainsync"
)

// ClassifyPeer decides what kind of range sync, if any, a peer requires
// relative to the local status.
//
// A peer requires a finalized sync if its claimed finalized height exceeds
// ours by more than the finality tolerance: the local node is behind on
// finality. Otherwise, if its head exceeds ours beyond the import tolerance,
// it requires a head sync. A peer within both tolerances needs no range sync;
// single-block gossip suffices.
func ClassifyPeer(cfg ChainConfig, local chainsync.Status, peer chainsync.Status) (chainsync.SyncType, bool) {
	if peer.FinalizedHeight > local.FinalizedHeight+cfg.FinalityTolerance {
		return chainsync.Finalized, true
	}
	if peer.HeadHeight > local.HeadHeight+cfg.ImportTolerance {
		return chainsync.Head, true
	}
	return 0, false
}

// SyncStart computes the starting height and target of a sync toward the
// given peer.
//
// A finalized sync starts at the local finalized height and targets the
// peer's claimed finalized point. A head sync starts at the minimum of the
// local head and the peer's finalized height (never before a point the peer
// has not finalized) and targets the peer's head point.
func SyncStart(syncType chainsync.SyncType, local chainsync.Status, peer chainsync.Status) (uint64, chainsync.ChainTarget) {
	switch syncType {
	case chainsync.Finalized:
		return local.FinalizedHeight, peer.FinalizedTarget()
	case chainsync.Head:
		startHeight := local.HeadHeight
		if peer.FinalizedHeight < startHeight {
			startHeight = peer.FinalizedHeight
		}
		return startHeight, peer.HeadTarget()
	default:
		panic("unknown sync type")
	}
}

// SelectActiveChains partitions the given chains into those that should be
// actively downloading and those that should be paused.
//
// Among finalized chains, only the one with the largest peer pool may run;
// ties break by chain ID so repeated evaluation of an unchanged chain set is
// stable and never oscillates. All head chains run concurrently.
func SelectActiveChains(chains []*SyncChain) (toStart []*SyncChain, toStop []*SyncChain) {
	var bestFinalized *SyncChain

	for _, chain := range chains {
		switch chain.SyncType() {
		case chainsync.Head:
			toStart = append(toStart, chain)
		case chainsync.Finalized:
			if bestFinalized == nil || preferFinalized(chain, bestFinalized) {
				if bestFinalized != nil {
					toStop = append(toStop, bestFinalized)
				}
				bestFinalized = chain
			} else {
				toStop = append(toStop, chain)
			}
		}
	}

	if bestFinalized != nil {
		toStart = append(toStart, bestFinalized)
	}
	return toStart, toStop
}

// preferFinalized returns whether candidate should be the active finalized
// chain over current: larger peer pool wins, equal pools break the tie by
// ascending chain ID.
func preferFinalized(candidate *SyncChain, current *SyncChain) bool {
	candidatePeers := candidate.PeerCount()
	currentPeers := current.PeerCount()
	if candidatePeers != currentPeers {
		return candidatePeers > currentPeers
	}
	candidateID := candidate.ChainID()
	currentID := current.ChainID()
	return bytes.Compare(candidateID[:], currentID[:]) < 0
}

// ShouldRemoveChain returns whether the chain is stale, complete or useless:
// zero peers, target reached, or its unprocessed start has fallen behind the
// local finalized height (finality advanced past it through another path).
func ShouldRemoveChain(chain *SyncChain, localFinalizedHeight uint64) bool {
	meta := chain.Metadata()
	if meta.PeerCount == 0 {
		return true
	}
	if meta.ProcessedHeight >= meta.Target.Height {
		return true
	}
	if meta.ProcessedHeight < localFinalizedHeight {
		return true
	}
	return false
}
