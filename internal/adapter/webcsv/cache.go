package webcsv

import (
	"context"
	"sync"

	"github.com/couchcryptid/field-survey-etl/internal/domain"
	"github.com/couchcryptid/field-survey-etl/internal/observability"
)

// Fetcher reads a CSV resource into a table.
type Fetcher interface {
	FetchCSV(ctx context.Context, uri string) (*domain.Table, error)
}

// CachedFetcher wraps a Fetcher with an in-memory LRU cache keyed by URI.
// Callers always receive their own copy of a cached table.
type CachedFetcher struct {
	inner   Fetcher
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedFetcher creates a cache decorator around a fetcher.
func NewCachedFetcher(inner Fetcher, maxEntries int, metrics *observability.Metrics) *CachedFetcher {
	return &CachedFetcher{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedFetcher) FetchCSV(ctx context.Context, uri string) (*domain.Table, error) {
	if tbl, ok := c.cache.get(uri); ok {
		c.metrics.WeatherCache.WithLabelValues("hit").Inc()
		return tbl.Clone(), nil
	}
	c.metrics.WeatherCache.WithLabelValues("miss").Inc()

	tbl, err := c.inner.FetchCSV(ctx, uri)
	if err != nil {
		return nil, err
	}
	c.cache.put(uri, tbl.Clone())
	return tbl, nil
}

// lruCache is a simple thread-safe LRU cache of tables.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value *domain.Table
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (*domain.Table, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value *domain.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
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
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
