package module

import (
	"context"

	"github.com/karim-en/lodestar/model/chainsync"
)

// PeerAction classifies a peer report for the reputation layer. The sync core
// only names the action; scoring policy lives with the reputation layer.
type PeerAction string

const (
	// ActionFailedRequest covers timeouts, disconnects and transport errors
	// on a block range request.
	ActionFailedRequest PeerAction = "failed_request"

	// ActionMalformedResponse covers responses whose blocks do not match the
	// requested range (gaps, reordering, wrong heights).
	ActionMalformedResponse PeerAction = "malformed_response"

	// ActionInvalidBlock covers blocks that were downloaded successfully but
	// rejected by chain-state validation.
	ActionInvalidBlock PeerAction = "invalid_block"
)

// BlockFetcher is the wire-protocol collaborator used to download a
// contiguous range of blocks from one peer. The returned blocks must match
// the requested range exactly; the sync core verifies this and treats any
// mismatch as a download failure.
type BlockFetcher interface {
	// FetchBlocksByRange requests count blocks starting at startHeight from
	// the given peer. Timeout handling is internal to the fetcher; a timeout
	// surfaces as an ordinary error.
	FetchBlocksByRange(ctx context.Context, peerID chainsync.PeerID, startHeight uint64, count uint64) ([]*chainsync.Block, error)
}

// BlockProcessor is the chain-state collaborator that applies a downloaded
// segment of blocks. Validation and state-transition execution happen behind
// this interface; the sync core only reacts to the outcome.
type BlockProcessor interface {
	// ApplySegment applies the given blocks, in order, to chain state.
	// The trusted flag is set for segments below a finalized checkpoint,
	// where full signature verification may be skipped.
	// Expected error returns:
	//   - *InvalidSegmentError if a block was rejected by validation; the
	//     sync core penalizes the serving peer and retries from another.
	//   - context errors on cancellation, which are never penalized.
	ApplySegment(ctx context.Context, blocks []*chainsync.Block, trusted bool) error
}

// PeerReporter is the reputation collaborator. Reports are fire-and-forget:
// the sync core never waits on, or reacts to, scoring decisions.
type PeerReporter interface {
	ReportPeer(peerID chainsync.PeerID, action PeerAction, reason string)
}

// StatusProvider returns the local node's current chain status. It is polled
// after each chain completion so re-evaluation runs with fresh finality.
type StatusProvider interface {
	LocalStatus() chainsync.Status
}

// ChainSyncMetrics exposes the observability surface of the range-sync
// engine. Implementations must be safe for concurrent use.
type ChainSyncMetrics interface {
	// ChainStarted / ChainComplete / ChainFailed record sync chain lifecycle
	// transitions by sync type.
	ChainStarted(syncType chainsync.SyncType)
	ChainComplete(syncType chainsync.SyncType)
	ChainFailed(syncType chainsync.SyncType)

	// ActiveChains records the number of chains currently syncing.
	ActiveChains(count int)

	// BatchDownloaded and BatchProcessed record per-batch outcomes; failed
	// attempts are recorded separately from successes.
	BatchDownloaded(syncType chainsync.SyncType, success bool)
	BatchProcessed(syncType chainsync.SyncType, success bool)

	// ProcessedHeight records the height through which blocks have been
	// applied on the given chain type.
	ProcessedHeight(syncType chainsync.SyncType, height uint64)

	// PeerEventQueueSize records the number of buffered peer
	// connect/disconnect events awaiting classification.
	PeerEventQueueSize(size uint)
}
