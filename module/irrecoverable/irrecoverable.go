package irrecoverable

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"go.uber.org/atomic"
)

// Signaler sends the error out. It is bound to exactly one error channel and
// delivers at most one error: components are torn down after the first
// irrecoverable error, so subsequent throws only log.
type Signaler struct {
	errChan   chan error
	errThrown *atomic.Bool
}

func NewSignaler() (*Signaler, <-chan error) {
	errChan := make(chan error, 1)
	return &Signaler{
		errChan:   errChan,
		errThrown: atomic.NewBool(false),
	}, errChan
}

// Throw is a narrow drop-in replacement for panic, log.Fatal, log.Panic, etc.
// anywhere there's something connected to the error channel. It only expects
// a single irrecoverable error to be thrown per error channel; subsequent
// errors are logged and dropped. Throw does not return.
func (s *Signaler) Throw(err error) {
	defer runtime.Goexit()
	if s.errThrown.CompareAndSwap(false, true) {
		s.errChan <- err
		close(s.errChan)
	} else {
		// the error channel was already closed by a previous throw
		fmt.Fprintf(os.Stderr, "additional irrecoverable error thrown after shutdown commenced: %v\n", err)
	}
}

// SignalerContext is a constrained drop-in replacement for context.Context
// that also carries a Signaler, so that code deep inside a component can
// throw irrecoverable errors without plumbing an extra return path.
type SignalerContext interface {
	context.Context
	Throw(err error) // delegates to the signaler
	sealed()         // private, to constrain implementations to WithSignaler
}

type signalerCtx struct {
	context.Context
	*Signaler
}

func (sc signalerCtx) sealed() {}

// WithSignaler is the One True Way of getting a SignalerContext.
func WithSignaler(parent context.Context) (SignalerContext, <-chan error) {
	sig, errChan := NewSignaler()
	return &signalerCtx{parent, sig}, errChan
}

// Throw enables throwing an irrecoverable error from any context.Context.
//
// If the context is not a SignalerContext, there is no signaler to receive
// the error, which indicates a component was started without one; this is a
// programming error, so we panic.
func Throw(ctx context.Context, err error) {
	signalerAbleContext, ok := ctx.(SignalerContext)
	if ok {
		signalerAbleContext.Throw(err)
	}
	panic(fmt.Sprintf("irrecoverable error signaler not found for context, please implement! Unhandled irrecoverable error: %v", err))
}
