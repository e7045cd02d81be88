package chainsync

import (
	"fmt"

	"github.com/karim-en/lodestar/model/chainsync"
)

// BatchState enumerates the states of a batch's download/apply state machine,
// ordered by progress.
type BatchState int

const (
	// BatchAwaitingDownload means the batch has no in-flight request and is
	// eligible for assignment to an idle peer.
	BatchAwaitingDownload BatchState = iota

	// BatchDownloading means exactly one download request is in flight.
	BatchDownloading

	// BatchAwaitingProcessing means the blocks are downloaded and buffered,
	// waiting for all lower batches to finish processing.
	BatchAwaitingProcessing

	// BatchProcessing means the blocks are being applied to chain state.
	BatchProcessing

	// BatchDone means the blocks were applied successfully.
	BatchDone

	// BatchFailed is reachable from BatchDownloading and BatchProcessing.
	// A failed batch either re-enters BatchAwaitingDownload for a retry or
	// escalates chain failure once its attempts exceed the configured
	// maximum.
	BatchFailed
)

func (s BatchState) String() string {
	switch s {
	case BatchAwaitingDownload:
		return "awaiting_download"
	case BatchDownloading:
		return "downloading"
	case BatchAwaitingProcessing:
		return "awaiting_processing"
	case BatchProcessing:
		return "processing"
	case BatchDone:
		return "done"
	case BatchFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Batch is one unit of sync work: a contiguous range of block heights
// downloaded from one peer and applied once all lower batches are done.
// Batch is not safe for concurrent use; the owning chain serializes access.
type Batch struct {
	startHeight uint64
	count       uint64
	state       BatchState

	// assignedPeer is the peer serving (or having served) the current
	// attempt. Only meaningful outside BatchAwaitingDownload.
	assignedPeer chainsync.PeerID

	// nonce increments on every transition into BatchDownloading, so results
	// of superseded download attempts can be recognized and dropped.
	nonce uint64

	downloadAttempts   uint
	processingAttempts uint

	blocks []*chainsync.Block
}

func newBatch(startHeight uint64, count uint64) *Batch {
	return &Batch{
		startHeight: startHeight,
		count:       count,
		state:       BatchAwaitingDownload,
	}
}

func (b *Batch) StartHeight() uint64 { return b.startHeight }
func (b *Batch) Count() uint64       { return b.count }
func (b *Batch) State() BatchState   { return b.state }

// EndHeight returns the first height after the batch's range.
func (b *Batch) EndHeight() uint64 { return b.startHeight + b.count }

func (b *Batch) AssignedPeer() chainsync.PeerID { return b.assignedPeer }

func (b *Batch) DownloadAttempts() uint   { return b.downloadAttempts }
func (b *Batch) ProcessingAttempts() uint { return b.processingAttempts }

// startDownload transitions the batch into BatchDownloading, assigning the
// given peer and counting the attempt. Returns the attempt nonce that a
// matching completeDownload or failDownload must present.
func (b *Batch) startDownload(peerID chainsync.PeerID) (uint64, error) {
	if b.state != BatchAwaitingDownload {
		return 0, invalidTransitionError{from: b.state, to: BatchDownloading}
	}
	b.state = BatchDownloading
	b.assignedPeer = peerID
	b.nonce++
	b.downloadAttempts++
	return b.nonce, nil
}

// completeDownload buffers the downloaded blocks and transitions into
// BatchAwaitingProcessing. A result presenting a stale nonce is dropped: the
// batch was re-queued (e.g. its peer was removed) while the request was in
// flight. Returns whether the result was accepted.
func (b *Batch) completeDownload(nonce uint64, blocks []*chainsync.Block) bool {
	if b.state != BatchDownloading || b.nonce != nonce {
		return false
	}
	b.state = BatchAwaitingProcessing
	b.blocks = blocks
	return true
}

// failDownload re-queues the batch for another download attempt. Stale
// results are dropped the same way as in completeDownload. Returns whether
// the failure was accepted.
func (b *Batch) failDownload(nonce uint64) bool {
	if b.state != BatchDownloading || b.nonce != nonce {
		return false
	}
	b.state = BatchFailed
	b.requeue()
	return true
}

// startProcessing hands the buffered blocks out for application.
func (b *Batch) startProcessing() ([]*chainsync.Block, error) {
	if b.state != BatchAwaitingProcessing {
		return nil, invalidTransitionError{from: b.state, to: BatchProcessing}
	}
	b.state = BatchProcessing
	return b.blocks, nil
}

// completeProcessing marks the batch applied.
func (b *Batch) completeProcessing() error {
	if b.state != BatchProcessing {
		return invalidTransitionError{from: b.state, to: BatchDone}
	}
	b.state = BatchDone
	b.blocks = nil
	return nil
}

// failProcessing discards the buffered blocks and re-queues the batch for a
// fresh download, counting the failed application attempt. The blocks are
// discarded because validation rejected them; the retry must come from a
// different peer.
func (b *Batch) failProcessing() error {
	if b.state != BatchProcessing {
		return invalidTransitionError{from: b.state, to: BatchFailed}
	}
	b.state = BatchFailed
	b.processingAttempts++
	b.requeue()
	return nil
}

// abortProcessing reverts an interrupted application back to
// BatchAwaitingProcessing, keeping the buffered blocks. Used on
// cancellation, where the data is not suspect and a resumed run may apply
// it without re-downloading.
func (b *Batch) abortProcessing() {
	if b.state == BatchProcessing {
		b.state = BatchAwaitingProcessing
	}
}

// requeue resets a failed batch to BatchAwaitingDownload, releasing the peer
// assignment and any buffered blocks.
func (b *Batch) requeue() {
	b.state = BatchAwaitingDownload
	b.assignedPeer = ""
	b.blocks = nil
}
