package chainsync

import (
	"encoding/hex"
	"fmt"
)

// Identifier is a 32-byte opaque block or chain identifier. Block identifiers
// are assigned by the upstream block production layer; chain identifiers are
// derived deterministically from the sync target (see ChainTarget.ChainID).
type Identifier [32]byte

// ZeroID is the zero value of Identifier, used to signal a missing identifier.
var ZeroID = Identifier{}

// HexStringToIdentifier converts a hex string to an Identifier. The string
// must be exactly 64 hex characters.
func HexStringToIdentifier(s string) (Identifier, error) {
	var id Identifier
	n, err := hex.Decode(id[:], []byte(s))
	if err != nil {
		return id, err
	}
	if n != 32 {
		return id, fmt.Errorf("malformed identifier: expected 32 bytes, got %d", n)
	}
	return id, nil
}

func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// PeerID is the opaque identifier of a remote peer, assigned by the peer
// management layer. The sync core only uses it as a lookup key, never as
// mutable shared state.
type PeerID string

func (p PeerID) String() string {
	return string(p)
}
