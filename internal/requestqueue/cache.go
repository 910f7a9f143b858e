package requestqueue

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key       string
	data      any
	timestamp time.Time
	ttl       time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.timestamp) > e.ttl
}

// responseCache maps keys to results with per-entry TTL.
// Eviction over capacity removes the oldest inserted key still present;
// reads and overwrites never reorder entries.
type responseCache struct {
	capacity int
	entries  map[string]*list.Element
	order    *list.List
	mutex    sync.Mutex
	now      func() time.Time
}

func newResponseCache(capacity int, now func() time.Time) *responseCache {
	return &responseCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      now,
	}
}

// Get returns the cached value, deleting it first if it has expired
func (c *responseCache) Get(key string) (any, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if e.expired(c.now()) {
		c.removeElement(el)
		return nil, false
	}
	return e.data, true
}

// Set stores value under key, overwriting in place
func (c *responseCache) Set(key string, value any, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.data = value
		e.timestamp = c.now()
		e.ttl = ttl
		return
	}

	c.entries[key] = c.order.PushBack(&entry{
		key:       key,
		data:      value,
		timestamp: c.now(),
		ttl:       ttl,
	})
	if len(c.entries) > c.capacity {
		c.removeElement(c.order.Front())
	}
}

// PurgeExpired removes every expired entry and returns how many were dropped
func (c *responseCache) PurgeExpired() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	purged := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*entry).expired(now) {
			c.removeElement(el)
			purged++
		}
		el = next
	}
	return purged
}

// Clear drops all entries
func (c *responseCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the number of stored entries, expired ones included
func (c *responseCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

func (c *responseCache) removeElement(el *list.Element) {
	delete(c.entries, el.Value.(*entry).key)
	c.order.Remove(el)
}
