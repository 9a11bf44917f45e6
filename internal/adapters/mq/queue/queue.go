// Package queue buffers committed store changes on their way to subscribers.
package queue

import (
	"context"
	"sync"

	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/pkg/metrics"
)

const defaultQueueCapacity = 4096

// Change is what flows through the queue.
type Change = model.Change

// Queue is a bounded FIFO of changes.
type Queue interface {
	// Enqueue adds c, waiting for space while the queue is full. It returns
	// false if the queue is closed or ctx ends first.
	Enqueue(ctx context.Context, c Change) bool

	// TryEnqueue adds c only if there is space right now.
	TryEnqueue(c Change) bool

	// Dequeue returns the receive side of the queue.
	Dequeue() <-chan Change

	// Done is closed once the queue is closed.
	Done() <-chan struct{}

	Len() int

	Close() error
}

// InMemoryQueue is a channel-backed Queue.
type InMemoryQueue struct {
	changes  chan Change
	capacity int

	closeOnce sync.Once
	done      chan struct{}
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a queue with options applied.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.changes = make(chan Change, q.capacity)
	q.done = make(chan struct{})

	metrics.UpdateFanoutQueueCapacity(q.capacity)
	metrics.UpdateFanoutQueueSize(0)
	return q
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, c Change) bool {
	select {
	case <-q.done:
		metrics.RecordChangeDropped("closed")
		return false
	default:
	}

	select {
	case q.changes <- c:
		metrics.RecordChangeEnqueued()
		metrics.UpdateFanoutQueueSize(len(q.changes))
		return true
	case <-ctx.Done():
		metrics.RecordChangeDropped("context_cancelled")
		return false
	case <-q.done:
		metrics.RecordChangeDropped("closed")
		return false
	}
}

func (q *InMemoryQueue) TryEnqueue(c Change) bool {
	select {
	case <-q.done:
		metrics.RecordChangeDropped("closed")
		return false
	default:
	}

	select {
	case q.changes <- c:
		metrics.RecordChangeEnqueued()
		metrics.UpdateFanoutQueueSize(len(q.changes))
		return true
	default:
		metrics.RecordChangeDropped("queue_full")
		return false
	}
}

func (q *InMemoryQueue) Dequeue() <-chan Change { return q.changes }

func (q *InMemoryQueue) Done() <-chan struct{} { return q.done }

func (q *InMemoryQueue) Len() int {
	n := len(q.changes)
	metrics.UpdateFanoutQueueSize(n)
	return n
}

// Close stops accepting changes. Buffered changes stay readable.
func (q *InMemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue) IsClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
