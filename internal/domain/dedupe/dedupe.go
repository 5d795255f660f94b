// Package dedupe tracks keys with work in flight so the same key is never
// queued twice, and remembers who is waiting for each result.
package dedupe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrFull is returned by Track when a bounded tracker has no room for a new key.
var ErrFull = errors.New("in-flight tracker full")

// Tracker coalesces concurrent requests for the same key.
type Tracker[K comparable, W any] interface {
	// Track attaches w to key. first is true when key was not in flight, in
	// which case the caller owns starting the work. Joining an existing key
	// never fails; a new key fails with ErrFull when the tracker is at capacity.
	Track(ctx context.Context, key K, w W) (first bool, err error)

	// Release ends tracking of key and returns its waiters in arrival order.
	// Releasing an unknown key returns nil.
	Release(ctx context.Context, key K) []W

	// Pending reports whether key is in flight.
	Pending(key K) bool

	Size() int64
}

// node holds the waiters of one key.
type node[W any] struct {
	waiters []W
}

// reset clears the node state for reuse, keeping the backing array.
func (n *node[W]) reset() {
	clear(n.waiters)
	n.waiters = n.waiters[:0]
}

// inMemoryTracker implements Tracker with a mutex-guarded map.
// For bounded mode (maxSize > 0) new keys are refused once maxSize keys are in flight.
// For unbounded mode (maxSize <= 0) there is no limit.
type inMemoryTracker[K comparable, W any] struct {
	mu       sync.Mutex
	inflight map[K]*node[W]
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemoryTracker creates an in-memory tracker.
func NewInMemoryTracker[K comparable, W any](opts ...Option) Tracker[K, W] {
	cfg := options{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &inMemoryTracker[K, W]{
		inflight: make(map[K]*node[W]),
		maxSize:  cfg.maxSize,
	}
	t.nodePool = sync.Pool{
		New: func() any {
			return &node[W]{}
		},
	}
	return t
}

func (t *inMemoryTracker[K, W]) Track(_ context.Context, key K, w W) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n, ok := t.inflight[key]; ok {
		n.waiters = append(n.waiters, w)
		return false, nil
	}

	if t.maxSize > 0 && len(t.inflight) >= t.maxSize {
		return false, ErrFull
	}

	n := t.nodePool.Get().(*node[W])
	n.waiters = append(n.waiters, w)
	t.inflight[key] = n
	t.size.Add(1)
	return true, nil
}

func (t *inMemoryTracker[K, W]) Release(_ context.Context, key K) []W {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.inflight[key]
	if !ok {
		return nil
	}
	delete(t.inflight, key)
	t.size.Add(-1)

	waiters := make([]W, len(n.waiters))
	copy(waiters, n.waiters)

	n.reset()
	t.nodePool.Put(n)
	return waiters
}

func (t *inMemoryTracker[K, W]) Pending(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inflight[key]
	return ok
}

// Size returns the number of keys in flight.
func (t *inMemoryTracker[K, W]) Size() int64 {
	return t.size.Load()
}
