package module

import (
	"errors"
	"fmt"
)

// InvalidSegmentError is returned by BlockProcessor.ApplySegment when a block
// in the segment is rejected by chain-state validation. Height identifies the
// offending block, informing retry and penalty decisions.
type InvalidSegmentError struct {
	Height uint64
	Err    error
}

func NewInvalidSegmentError(height uint64, err error) *InvalidSegmentError {
	return &InvalidSegmentError{Height: height, Err: err}
}

func (e *InvalidSegmentError) Error() string {
	return fmt.Sprintf("invalid block at height %d: %v", e.Height, e.Err)
}

func (e *InvalidSegmentError) Unwrap() error {
	return e.Err
}

// IsInvalidSegmentError returns whether err is or wraps an
// *InvalidSegmentError.
func IsInvalidSegmentError(err error) bool {
	var target *InvalidSegmentError
	return errors.As(err, &target)
}
