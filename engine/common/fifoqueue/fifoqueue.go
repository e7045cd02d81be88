package fifoqueue

import (
	"fmt"
	"math"
	"sync"

	"github.com/ef-ds/deque"
)

// CapacityUnlimited is the largest supported queue capacity.
const CapacityUnlimited = math.MaxInt32

// FifoQueue implements a FIFO queue with max capacity and length observer.
// Elements that exceed the queue's capacity are silently dropped.
// FifoQueue is safe for concurrent use.
type FifoQueue struct {
	mu             sync.RWMutex
	queue          deque.Deque
	maxCapacity    int
	lengthObserver QueueLengthObserver
}

// ConstructorOption can be used to configure the FifoQueue on construction.
type ConstructorOption func(*FifoQueue) error

// QueueLengthObserver is a callback that is invoked with the queue's length
// after every push and pop.
type QueueLengthObserver func(int)

// WithLengthObserver adds a length observer to the queue, e.g. for monitoring
// queue saturation. The observer must be non-blocking as it is called while
// the queue holds its internal lock.
func WithLengthObserver(observer QueueLengthObserver) ConstructorOption {
	return func(queue *FifoQueue) error {
		if observer == nil {
			return fmt.Errorf("nil is not a valid QueueLengthObserver")
		}
		queue.lengthObserver = observer
		return nil
	}
}

// NewFifoQueue is the constructor for FifoQueue.
func NewFifoQueue(maxCapacity int, options ...ConstructorOption) (*FifoQueue, error) {
	if maxCapacity < 1 {
		return nil, fmt.Errorf("capacity for FifoQueue must be positive, got %d", maxCapacity)
	}

	queue := &FifoQueue{
		maxCapacity:    maxCapacity,
		lengthObserver: func(int) {},
	}
	for _, opt := range options {
		err := opt(queue)
		if err != nil {
			return nil, fmt.Errorf("failed to apply constructor option: %w", err)
		}
	}
	return queue, nil
}

// Push appends the given element to the end of the queue. Returns true if the
// element was stored, or false if the queue is at capacity.
func (q *FifoQueue) Push(element interface{}) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.queue.Len() >= q.maxCapacity {
		return false
	}

	q.queue.PushBack(element)
	q.lengthObserver(q.queue.Len())
	return true
}

// Pop removes and returns the queue's head element. Returns false if the
// queue is empty.
func (q *FifoQueue) Pop() (interface{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	element, ok := q.queue.PopFront()
	if !ok {
		return nil, false
	}

	q.lengthObserver(q.queue.Len())
	return element, true
}

// Head returns the queue's head element without removing it. Returns false if
// the queue is empty.
func (q *FifoQueue) Head() (interface{}, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.queue.Front()
}

// Len returns the current length of the queue.
func (q *FifoQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.queue.Len()
}
