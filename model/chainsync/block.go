package chainsync

// Block is the minimal view of a block the sync core needs: its position in
// the chain and its identifiers. Validation and execution of the payload are
// the concern of the block processor collaborator, so the payload stays
// opaque here.
type Block struct {
	Height   uint64
	BlockID  Identifier
	ParentID Identifier
	Payload  []byte
}
