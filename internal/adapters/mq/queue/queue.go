// Package queue carries registry commands from producers to the worker pool.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/dispatch/internal/domain/model"
	"github.com/okian/dispatch/pkg/metrics"
)

const (
	component       = "queue"
	defaultCapacity = 10000
)

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a command. It fails with ErrFull instead of blocking, with
	// ErrClosed after Close, or with the context error.
	Enqueue(ctx context.Context, cmd model.Command) error

	// Dequeue returns a channel of commands that is closed once the queue is
	// closed and drained, or ctx is done.
	Dequeue(ctx context.Context) <-chan model.Command

	Len(ctx context.Context) int

	// Close stops accepting commands. Already queued commands are still
	// delivered.
	Close() error
	IsClosed() bool
}

// Option configures an InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum number of queued commands.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// InMemoryQueue implements Queue with a buffered channel.
type InMemoryQueue struct {
	commands chan model.Command
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a bounded in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.commands = make(chan model.Command, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return q
}

func (q *InMemoryQueue) publishSize() {
	size := len(q.commands)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

func (q *InMemoryQueue) reject(kind string, err error) error {
	metrics.RecordQueueEnqueueError()
	metrics.RecordErrorByComponent(component, kind)
	return err
}

// Enqueue adds cmd and stamps its EnqueuedAt.
func (q *InMemoryQueue) Enqueue(ctx context.Context, cmd model.Command) error { //nolint:gocritic // hugeParam: commands travel by value
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return q.reject("closed", ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return q.reject("context_cancelled", err)
	}

	cmd.EnqueuedAt = time.Now()
	select {
	case q.commands <- cmd:
		metrics.RecordQueueEnqueue()
		q.publishSize()
		return nil
	default:
		return q.reject("queue_full", ErrFull)
	}
}

// Dequeue returns a channel fed from the queue until it is closed or ctx is
// done.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan model.Command {
	out := make(chan model.Command)
	go func() {
		defer close(out)
		for cmd := range q.commands {
			select {
			case out <- cmd:
				metrics.RecordQueueDequeue()
				q.publishSize()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the number of queued commands.
func (q *InMemoryQueue) Len(ctx context.Context) int {
	q.publishSize()
	return len(q.commands)
}

// Close stops accepting commands. It is safe to call more than once.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.commands)
	q.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
