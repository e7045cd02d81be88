package unittest

import (
	"fmt"
	"math/rand"

	"github.com/karim-en/lodestar/model/chainsync"
)

// IdentifierFixture returns a random 32-byte identifier.
func IdentifierFixture() chainsync.Identifier {
	var id chainsync.Identifier
	rand.Read(id[:])
	return id
}

// PeerIDFixture returns a random peer identifier.
func PeerIDFixture() chainsync.PeerID {
	return chainsync.PeerID(fmt.Sprintf("peer-%x", rand.Uint64()))
}

// ChainTargetFixture returns a sync target at the given height with a random
// block identifier.
func ChainTargetFixture(height uint64) chainsync.ChainTarget {
	return chainsync.ChainTarget{
		Height:  height,
		BlockID: IdentifierFixture(),
	}
}

// StatusFixture returns a status with random block identifiers at the given
// finalized and head heights.
func StatusFixture(finalizedHeight uint64, headHeight uint64) chainsync.Status {
	return chainsync.Status{
		FinalizedHeight:  finalizedHeight,
		FinalizedBlockID: IdentifierFixture(),
		HeadHeight:       headHeight,
		HeadBlockID:      IdentifierFixture(),
	}
}

// BlockFixture returns a block at the given height with random identifiers.
func BlockFixture(height uint64) *chainsync.Block {
	return &chainsync.Block{
		Height:   height,
		BlockID:  IdentifierFixture(),
		ParentID: IdentifierFixture(),
	}
}

// BlocksFixture returns count contiguous blocks starting at startHeight,
// each linked to its predecessor.
func BlocksFixture(startHeight uint64, count uint64) []*chainsync.Block {
	blocks := make([]*chainsync.Block, 0, count)
	parentID := IdentifierFixture()
	for i := uint64(0); i < count; i++ {
		block := BlockFixture(startHeight + i)
		block.ParentID = parentID
		parentID = block.BlockID
		blocks = append(blocks, block)
	}
	return blocks
}
