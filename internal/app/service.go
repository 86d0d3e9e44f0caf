// Package service wires the dispatch registry behind a command bus: a
// deduper, a bounded queue and a worker pool. Mutations go through the bus,
// reads go straight to the registry.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/dispatch/internal/adapters/mq/queue"
	"github.com/okian/dispatch/internal/adapters/mq/worker"
	"github.com/okian/dispatch/internal/adapters/repository"
	"github.com/okian/dispatch/internal/domain/dedupe"
	"github.com/okian/dispatch/internal/domain/dispatch"
	"github.com/okian/dispatch/internal/domain/model"
	"github.com/okian/dispatch/pkg/logger"
	"github.com/okian/dispatch/pkg/metrics"
)

const stopTimeout = 10 * time.Second

// Service owns the registry and the command bus in front of it.
type Service struct {
	mu sync.RWMutex

	heat     *repository.TreapStore
	registry *dispatch.Registry
	deduper  dedupe.Deduper
	queue    *queue.InMemoryQueue
	pool     *worker.Pool

	workerCount     int
	queueSize       int
	dedupeSize      int
	seed            uint64
	topN            int
	systemInterval  time.Duration
	registryOptions []dispatch.Option

	started   bool
	startedAt time.Time
	cancel    context.CancelFunc
	stopCh    chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the command queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many command IDs are remembered. Values <= 0 keep
// every ID.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		s.dedupeSize = size
	}
}

// WithSeed fixes the heatmap store's priority seed.
func WithSeed(seed uint64) Option {
	return func(s *Service) {
		s.seed = seed
	}
}

// WithStatsTopN sets how many heatmap entries GetStats reports.
func WithStatsTopN(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.topN = n
		}
	}
}

// WithSystemMetricsInterval sets how often memory and goroutine gauges are
// refreshed.
func WithSystemMetricsInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.systemInterval = d
		}
	}
}

// WithRegistryOptions passes options through to the registry.
func WithRegistryOptions(opts ...dispatch.Option) Option {
	return func(s *Service) {
		s.registryOptions = append(s.registryOptions, opts...)
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Nothing runs until Start.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:    runtime.NumCPU(),
		queueSize:      10_000,
		dedupeSize:     100_000,
		seed:           uint64(time.Now().UnixNano()),
		topN:           5,
		systemInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components and launches the worker pool. The pool keeps
// running after ctx is done; use Stop to end it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	s.logger.Info(ctx, "starting dispatch service...")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.heat = repository.NewTreapStore(runCtx, repository.WithSeed(s.seed))
	s.registry = dispatch.New(s.heat, s.registryOptions...)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, s.registry)
	s.pool.Start(runCtx)

	s.cancel = cancel
	s.stopCh = make(chan struct{})
	go s.systemMetrics(s.stopCh)

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "dispatch service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop drains the queue, stops the workers and releases the heatmap store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping dispatch service...")
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
	}
	s.cancel()
	_ = s.heat.Close()
	close(s.stopCh)

	s.started = false
	s.logger.Info(ctx, "dispatch service stopped")
}

func (s *Service) systemMetrics(stop <-chan struct{}) {
	ticker := time.NewTicker(s.systemInterval)
	defer ticker.Stop()

	var m runtime.MemStats
	for {
		runtime.ReadMemStats(&m)
		metrics.UpdateSystemMemoryUsage(m.Alloc)
		metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Registry exposes the registry for reads. It is nil before Start.
func (s *Service) Registry() *dispatch.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry
}

// Enqueue hands cmd to the bus without waiting for its result. A command ID
// already seen is rejected with ErrDuplicateCommand. If the queue refuses the
// command its ID is forgotten so the caller may retry.
func (s *Service) Enqueue(ctx context.Context, cmd model.Command) error { //nolint:gocritic // hugeParam: commands travel by value
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return ErrNotStarted
	}
	if s.deduper.SeenAndRecord(ctx, cmd.ID) {
		metrics.RecordCommandDuplicate()
		s.logger.Debug(ctx, "duplicate command skipped", logger.String("command_id", cmd.ID))
		return fmt.Errorf("command %q: %w", cmd.ID, ErrDuplicateCommand)
	}
	if err := s.queue.Enqueue(ctx, cmd); err != nil {
		s.deduper.Unrecord(ctx, cmd.ID)
		return fmt.Errorf("enqueue command %q: %w", cmd.ID, err)
	}
	return nil
}

// Submit enqueues cmd and waits for its result.
func (s *Service) Submit(ctx context.Context, cmd model.Command) (any, error) { //nolint:gocritic // hugeParam: commands travel by value
	if cmd.Reply == nil {
		cmd.Reply = make(chan model.Result, 1)
	}
	if err := s.Enqueue(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case res := <-cmd.Reply:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do runs payload through the bus under a fresh command ID.
func (s *Service) Do(ctx context.Context, payload any) (any, error) {
	return s.Submit(ctx, model.NewCommand(payload))
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if s.started {
		stats["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())
		stats["queueLength"] = s.queue.Len(ctx)
		stats["dedupeEntries"] = s.deduper.Size()
		stats["processed"] = s.pool.Processed()
		stats["registry"] = s.registry.Counts(ctx)
		if top, err := s.registry.TopN(ctx, s.topN); err == nil {
			stats["heatmapTop"] = top
		}
	}
	return stats
}
