// Package repository holds the in-memory heatmap store.
package repository

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/dispatch/internal/domain/heatmap"
	"github.com/okian/dispatch/pkg/metrics"
)

// Treap-based, in-memory heatmap.Store implementation.
//
// Ordering: count DESC, then first-insertion sequence ASC.
// "less" means ranks earlier, so an in-order walk yields the
// heatmap from hottest to coldest.

var _ heatmap.Store = (*TreapStore)(nil)

const defaultMetricsUpdateInterval = 5 * time.Second

// record is the per-key state kept beside the tree.
type record struct {
	count int64
	seq   uint64
}

// treap node
type node struct {
	key   string
	count int64
	seq   uint64
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less reports whether (aCount, aSeq) ranks before (bCount, bSeq).
func less(aCount int64, aSeq uint64, bCount int64, bSeq uint64) bool {
	if aCount != bCount {
		return aCount > bCount
	}
	return aSeq < bSeq // first seen wins ties
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func insert(n, nn *node) *node {
	if n == nil {
		nn.size = 1
		return nn
	}
	if less(nn.count, nn.seq, n.count, n.seq) {
		n.left = insert(n.left, nn)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, nn)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

// remove detaches the node identified by (count, seq) and returns the new root
// together with the detached node so it can be reinserted without allocating.
func remove(n *node, count int64, seq uint64) (*node, *node) {
	if n == nil {
		return nil, nil
	}
	var found *node
	switch {
	case count == n.count && seq == n.seq:
		if n.left == nil {
			r := n.right
			n.left, n.right = nil, nil
			return r, n
		}
		if n.right == nil {
			l := n.left
			n.left, n.right = nil, nil
			return l, n
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right, found = remove(n.right, count, seq)
		} else {
			n = rotateLeft(n)
			n.left, found = remove(n.left, count, seq)
		}
	case less(count, seq, n.count, n.seq):
		n.left, found = remove(n.left, count, seq)
	default:
		n.right, found = remove(n.right, count, seq)
	}
	fix(n)
	return n, found
}

// collectTopN appends up to limit entries in rank order.
func collectTopN(n *node, limit int, out *[]heatmap.Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, heatmap.Entry{Rank: len(*out) + 1, Key: n.key, Count: n.count})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// TreapStore is a heatmap kept as a size-augmented treap.
type TreapStore struct {
	mu      sync.RWMutex
	root    *node
	byKey   map[string]record
	nextSeq uint64
	total   int64
	rng     *rand.Rand

	metricsUpdateInterval time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewTreapStore constructs a treap store and starts its gauge publisher.
// The publisher stops when ctx is done or Close is called.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		byKey:                 make(map[string]record),
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		stopChan:              make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	s.startMetricsUpdater(ctx)

	return s
}

// Close stops the background publisher. It is safe to call more than once.
func (s *TreapStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// Increment implements heatmap.Store in O(log n) expected time.
func (s *TreapStore) Increment(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperationLatency("heatmap_increment", float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKey[key]
	var nd *node
	if ok {
		s.root, nd = remove(s.root, rec.count, rec.seq)
	}
	if nd == nil {
		rec = record{seq: s.nextSeq}
		s.nextSeq++
		nd = &node{key: key, seq: rec.seq, prio: s.rng.Uint64()}
	}
	rec.count++
	nd.count = rec.count
	s.byKey[key] = rec
	s.root = insert(s.root, nd)
	s.total++

	return rec.count, nil
}

// Count returns the count for key.
func (s *TreapStore) Count(ctx context.Context, key string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byKey[key]
	return rec.count, ok
}

// TopN returns the n hottest keys.
func (s *TreapStore) TopN(ctx context.Context, n int) ([]heatmap.Entry, error) {
	if n < 0 {
		metrics.RecordErrorByComponent("heatmap", "invalid_limit")
		return nil, heatmap.ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := min(n, nsize(s.root))
	out := make([]heatmap.Entry, 0, limit)
	collectTopN(s.root, limit, &out)
	return out, nil
}

// Len returns the number of distinct keys.
func (s *TreapStore) Len(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

// Total returns the sum of all counts.
func (s *TreapStore) Total(ctx context.Context) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

func (s *TreapStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				s.updateMetrics()
				return
			case <-ticker.C:
				s.updateMetrics()
			}
		}
	}()
}

func (s *TreapStore) updateMetrics() {
	s.mu.RLock()
	keys, total := len(s.byKey), s.total
	s.mu.RUnlock()
	metrics.UpdateHeatmap(keys, total)
}
