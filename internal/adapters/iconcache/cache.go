// Package iconcache is a bounded, recency-ordered bitmap cache keyed by icon
// content identity.
package iconcache

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"sync"

	"github.com/okian/geocluster/pkg/logger"
	"github.com/okian/geocluster/pkg/metrics"
)

const (
	defaultMaxEntries = 256
	defaultMaxBytes   = 32 << 20
)

// Key identifies a bitmap by its source and optional badge count.
type Key struct {
	SourceURL string
	Badge     uint32
	HasBadge  bool
}

// PlainKey returns a key without a badge.
func PlainKey(sourceURL string) Key { return Key{SourceURL: sourceURL} }

// BadgeKey returns a key with a badge count.
func BadgeKey(sourceURL string, badge uint32) Key {
	return Key{SourceURL: sourceURL, Badge: badge, HasBadge: true}
}

func (k Key) String() string {
	if !k.HasBadge {
		return k.SourceURL
	}
	return k.SourceURL + "#" + strconv.FormatUint(uint64(k.Badge), 10)
}

// entry is a node of the recency list; head is the most recently used.
type entry struct {
	key        Key
	bitmap     *image.RGBA
	cost       int
	prev, next *entry
}

func (e *entry) reset() {
	*e = entry{}
}

// Cache is safe for concurrent use. Entries are evicted least recently used
// first whenever either the entry or the byte ceiling would be exceeded.
type Cache struct {
	mu         sync.Mutex
	items      map[Key]*entry
	head, tail *entry
	bytes      int
	maxEntries int
	maxBytes   int
	entryPool  sync.Pool
	log        logger.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries sets the entry-count ceiling.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithMaxBytes sets the byte-budget ceiling.
func WithMaxBytes(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithLogger sets the cache logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		items:      make(map[Key]*entry),
		maxEntries: defaultMaxEntries,
		maxBytes:   defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.entryPool = sync.Pool{New: func() any { return &entry{} }}
	c.log = logger.OrDefault(c.log, "iconcache")
	return c
}

// Cost returns the number of bytes a bitmap is charged against the budget.
func Cost(bmp *image.RGBA) int {
	if bmp == nil {
		return 0
	}
	return len(bmp.Pix)
}

// Get returns a copy of the bitmap for key and marks it most recently used.
func (c *Cache) Get(key Key) (*image.RGBA, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		metrics.RecordCacheMiss()
		return nil, false
	}
	c.moveToFront(e)
	metrics.RecordCacheHit()
	return Clone(e.bitmap), true
}

// Contains reports whether key is cached without touching recency.
func (c *Cache) Contains(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Insert stores a copy of bmp under key, evicting older entries first so both
// ceilings hold after the insert. The caller keeps bmp. An entry larger than
// the whole byte budget is refused with ErrEntryTooLarge.
func (c *Cache) Insert(key Key, bmp *image.RGBA) error {
	if bmp == nil {
		return fmt.Errorf("%w: nil bitmap for %s", ErrNilBitmap, key)
	}
	cost := Cost(bmp)
	if cost > c.maxBytes {
		metrics.RecordCacheRejected()
		return fmt.Errorf("%w: %s costs %d bytes, budget %d", ErrEntryTooLarge, key, cost, c.maxBytes)
	}
	bmp = Clone(bmp)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.bytes += cost - e.cost
		e.bitmap, e.cost = bmp, cost
		c.moveToFront(e)
		c.evictLocked(0, false)
		c.publish()
		return nil
	}

	c.evictLocked(cost, true)

	e := c.entryPool.Get().(*entry)
	e.key, e.bitmap, e.cost = key, bmp, cost
	c.pushFront(e)
	c.items[key] = e
	c.bytes += cost
	c.publish()
	return nil
}

// EvictIfNeeded evicts least recently used entries until an entry costing
// extraCost bytes fits under both ceilings. It returns the number evicted.
func (c *Cache) EvictIfNeeded(extraCost int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.evictLocked(extraCost, true)
	c.publish()
	return n
}

// evictLocked trims the tail. With incoming set it makes room for one more
// entry of extraCost bytes. Must be called with c.mu held.
func (c *Cache) evictLocked(extraCost int, incoming bool) int {
	reserve := 0
	if incoming {
		reserve = 1
	}
	evicted := 0
	for c.tail != nil && (len(c.items)+reserve > c.maxEntries || c.bytes+extraCost > c.maxBytes) {
		victim := c.tail
		c.unlink(victim)
		delete(c.items, victim.key)
		c.bytes -= victim.cost
		victim.reset()
		c.entryPool.Put(victim)
		evicted++
	}
	if evicted > 0 {
		metrics.RecordCacheEvictions(evicted)
		c.log.Debug(context.Background(), "icon cache evicted",
			logger.Int("evicted", evicted),
			logger.Int("entries", len(c.items)),
			logger.Int("bytes", c.bytes),
		)
	}
	return evicted
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Bytes returns the total cost of cached entries.
func (c *Cache) Bytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.head; e != nil; {
		next := e.next
		e.reset()
		c.entryPool.Put(e)
		e = next
	}
	c.items = make(map[Key]*entry)
	c.head, c.tail, c.bytes = nil, nil, 0
	c.publish()
}

func (c *Cache) publish() {
	metrics.UpdateCacheUsage(len(c.items), c.bytes)
}

func (c *Cache) pushFront(e *entry) {
	e.prev, e.next = nil, c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *Cache) moveToFront(e *entry) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

// Clone returns a deep copy of src, or nil for nil.
func Clone(src *image.RGBA) *image.RGBA {
	if src == nil {
		return nil
	}
	dst := &image.RGBA{
		Pix:    make([]uint8, len(src.Pix)),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	copy(dst.Pix, src.Pix)
	return dst
}
