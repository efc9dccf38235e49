package pipeline

import (
	"container/list"
	"sync"
	"time"

	"github.com/couchcryptid/water-chart-etl/internal/domain"
)

// RecentLoads remembers when each place was last loaded, bounded to the most
// recently used maxEntries places.
type RecentLoads struct {
	window time.Duration
	cache  *lruCache
}

// NewRecentLoads creates a tracker. Places loaded within window are recent; a
// zero window disables the check.
func NewRecentLoads(maxEntries int, window time.Duration) *RecentLoads {
	return &RecentLoads{
		window: window,
		cache:  newLRUCache(maxEntries),
	}
}

// LoadedAt returns when place was last recorded as loaded.
func (r *RecentLoads) LoadedAt(place domain.Place) (time.Time, bool) {
	return r.cache.get(place.URN)
}

// IsRecent reports whether place was loaded within the window.
func (r *RecentLoads) IsRecent(place domain.Place) bool {
	loadedAt, ok := r.cache.get(place.URN)
	return ok && domain.IsRecentEnough(loadedAt, r.window)
}

// Record marks place as loaded at loadedAt.
func (r *RecentLoads) Record(place domain.Place, loadedAt time.Time) {
	r.cache.put(place.URN, loadedAt)
}

// lruCache is a thread-safe LRU map from place URN to load time. The front
// of order is the most recently used entry.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
}

type entry struct {
	urn      string
	loadedAt time.Time
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

func (c *lruCache) get(urn string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[urn]
	if !ok {
		return time.Time{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).loadedAt, true
}

func (c *lruCache) put(urn string, loadedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[urn]; ok {
		el.Value.(*entry).loadedAt = loadedAt
		c.order.MoveToFront(el)
		return
	}

	c.entries[urn] = c.order.PushFront(&entry{urn: urn, loadedAt: loadedAt})
	for c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).urn)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
