// Package worker executes queued registry commands and replies to their
// submitters.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/dispatch/internal/domain/model"
	"github.com/okian/dispatch/pkg/logger"
	"github.com/okian/dispatch/pkg/metrics"
)

const (
	component          = "worker"
	defaultWorkerCount = 4
	poolShutdownGrace  = 30 * time.Second
)

// ErrPanic wraps a panic raised while executing a command.
var ErrPanic = errors.New("command panicked")

// Executor applies a command. The registry implements it.
type Executor interface {
	Execute(ctx context.Context, cmd model.Command) (any, error)
}

// Queue is the consumer side of the command queue.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Command
}

// Worker processes commands until its source is exhausted.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker without draining the queue.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker reads commands from a channel and runs them through an
// Executor.
type InMemoryWorker struct {
	source   <-chan model.Command
	executor Executor
	name     string

	processed *atomic.Int64

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker reading from source.
func NewInMemoryWorker(source <-chan model.Command, executor Executor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		source:    source,
		executor:  executor,
		name:      component,
		processed: new(atomic.Int64),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case cmd, ok := <-w.source:
			if !ok {
				return
			}
			w.process(ctx, cmd)
		}
	}
}

// Shutdown signals the worker to stop and waits for the current command.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process executes cmd and sends exactly one Result on its reply channel.
func (w *InMemoryWorker) process(ctx context.Context, cmd model.Command) { //nolint:gocritic // hugeParam: commands travel by value
	start := time.Now()
	value, err := w.execute(ctx, cmd)
	metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	w.processed.Add(1)

	if err != nil {
		metrics.RecordWorkerError()
		w.logger.Debug(ctx, "command failed",
			logger.String("command_id", cmd.ID),
			logger.String("payload", fmt.Sprintf("%T", cmd.Payload)),
			logger.Error(err),
		)
	}
	if cmd.Reply == nil {
		return
	}
	select {
	case cmd.Reply <- model.Result{Value: value, Err: err}:
	default:
		metrics.RecordErrorByComponent(component, "reply_dropped")
		w.logger.Warn(ctx, "reply channel full, result dropped", logger.String("command_id", cmd.ID))
	}
}

func (w *InMemoryWorker) execute(ctx context.Context, cmd model.Command) (value any, err error) { //nolint:gocritic // hugeParam: commands travel by value
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordErrorByComponent(component, "panic")
			w.logger.Error(ctx, "command panicked", logger.String("command_id", cmd.ID), logger.Any("panic", r))
			value, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return w.executor.Execute(ctx, cmd)
}

// Pool runs several workers over one queue.
type Pool struct {
	workers   []*InMemoryWorker
	queue     Queue
	executor  Executor
	processed atomic.Int64

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers. A count below 1 picks a
// default based on the number of CPUs.
func NewPool(workerCount int, queue Queue, executor Executor) *Pool {
	if workerCount < 1 {
		workerCount = max(defaultWorkerCount, runtime.NumCPU())
	}
	return &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    queue,
		executor: executor,
		logger:   logger.Named("worker-pool"),
	}
}

// Start launches every worker. All workers share one dequeue channel.
func (p *Pool) Start(ctx context.Context) {
	source := p.queue.Dequeue(ctx)
	for i := range p.workers {
		w := NewInMemoryWorker(source, p.executor, WithName(component+"-"+strconv.Itoa(i)))
		w.processed = &p.processed
		p.workers[i] = w
		go w.Run(ctx)
	}
	metrics.UpdateWorkerCount(len(p.workers))
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns the number of commands executed so far.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Shutdown closes the queue so workers drain what is left, then waits for
// them. Workers still busy when ctx (or the default grace period) ends are
// told to stop.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownGrace)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		if w == nil {
			continue
		}
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker drain timed out", logger.Int("worker_id", i))
			_ = w.Shutdown(context.Background())
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut {
		return fmt.Errorf("worker pool: %w", context.DeadlineExceeded)
	}
	return nil
}
