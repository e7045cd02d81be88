package chainsync

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// SyncType discriminates the two kinds of range sync a peer can require.
type SyncType int

const (
	// Finalized syncs toward a peer-claimed finalized checkpoint. The local
	// node is behind on finality and must catch up before anything else.
	Finalized SyncType = iota

	// Head syncs toward a peer's current chain tip beyond finality.
	Head
)

func (t SyncType) String() string {
	switch t {
	case Finalized:
		return "finalized"
	case Head:
		return "head"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ChainTarget identifies the destination a sync chain must reach before it is
// complete. It is immutable once assigned to a chain.
type ChainTarget struct {
	Height  uint64
	BlockID Identifier
}

// ChainID derives the deterministic identifier of a sync chain from its type
// and target. Two peers claiming the identical target collapse into one chain
// because they derive the same ID.
func (t ChainTarget) ChainID(syncType SyncType) Identifier {
	var buf [41]byte
	buf[0] = byte(syncType)
	binary.BigEndian.PutUint64(buf[1:9], t.Height)
	copy(buf[9:], t.BlockID[:])
	return sha256.Sum256(buf[:])
}

func (t ChainTarget) String() string {
	return fmt.Sprintf("%d@%s", t.Height, t.BlockID)
}
