package chainsync

// Status is the snapshot of a node's chain view used to classify peers: the
// latest finalized point and the current head. The same shape describes both
// the local node (via module.StatusProvider) and a remote peer's claim from
// its status handshake.
type Status struct {
	FinalizedHeight  uint64
	FinalizedBlockID Identifier
	HeadHeight       uint64
	HeadBlockID      Identifier
}

// FinalizedTarget returns the finalized point of the status as a sync target.
func (s Status) FinalizedTarget() ChainTarget {
	return ChainTarget{Height: s.FinalizedHeight, BlockID: s.FinalizedBlockID}
}

// HeadTarget returns the head point of the status as a sync target.
func (s Status) HeadTarget() ChainTarget {
	return ChainTarget{Height: s.HeadHeight, BlockID: s.HeadBlockID}
}
