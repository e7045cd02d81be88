package module

// Notifier is a concurrency primitive for informing worker routines about the
// arrival of new work unit(s). Notifiers essentially behave like channels in
// that they can be passed by value and still allow concurrent updates of the
// same internal state.
type Notifier struct {
	// Implementation:
	// The notifier is backed by a channel with capacity 1. Sending a
	// notification pushes an element to the channel without blocking: if the
	// channel already holds an unconsumed notification, the new one is
	// dropped, as the pending one already guarantees the consumer will wake
	// up and drain all available work. Consumers receive from Channel().
	notifier chan struct{}
}

// NewNotifier instantiates a Notifier.
func NewNotifier() Notifier {
	return Notifier{make(chan struct{}, 1)}
}

// Notify sends a notification. It never blocks: if no consumer is draining
// the channel and a notification is already pending, the new notification is
// merged into the pending one.
func (n Notifier) Notify() {
	select {
	case n.notifier <- struct{}{}:
	default:
	}
}

// Channel returns a channel for receiving notifications.
func (n Notifier) Channel() <-chan struct{} {
	return n.notifier
}
