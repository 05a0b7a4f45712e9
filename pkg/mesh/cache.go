package mesh

import (
	"container/list"

	"github.com/bits-and-blooms/bloom/v3"
)

// defaultCacheWindow bounds the dedup set at 10,000 entries.
const defaultCacheWindow = 10_000

// messageCache is the deduplication set for one topic: a Bloom filter
// guards the common case (message definitely not seen) so a full map
// lookup is only paid when the filter reports a possible hit, and an
// LRU list bounds memory by evicting the oldest IDs past the window.
type messageCache struct {
	window int
	filter *bloom.BloomFilter
	lru    *list.List
	index  map[string]*list.Element
}

func newMessageCache(window int) *messageCache {
	if window <= 0 {
		window = defaultCacheWindow
	}
	return &messageCache{
		window: window,
		filter: bloom.NewWithEstimates(uint(window)*4, 0.01),
		lru:    list.New(),
		index:  make(map[string]*list.Element),
	}
}

// contains reports whether id is currently tracked.
func (c *messageCache) contains(id string) bool {
	if !c.filter.TestString(id) {
		return false
	}
	_, ok := c.index[id]
	return ok
}

// add inserts id if absent. Returns true if it was newly added, false
// if it was already present (a duplicate).
func (c *messageCache) add(id string) bool {
	if c.contains(id) {
		return false
	}
	c.filter.AddString(id)
	elem := c.lru.PushFront(id)
	c.index[id] = elem
	if c.lru.Len() > c.window {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.index, oldest.Value.(string))
		}
	}
	return true
}

// len returns the number of tracked IDs.
func (c *messageCache) len() int {
	return c.lru.Len()
}

// recent returns up to n of the most recently added IDs, newest first.
func (c *messageCache) recent(n int) []string {
	out := make([]string, 0, n)
	for e := c.lru.Front(); e != nil && len(out) < n; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

// missing filters ids down to those not currently tracked.
func (c *messageCache) missing(ids []string) []string {
	var out []string
	for _, id := range ids {
		if !c.contains(id) {
			out = append(out, id)
		}
	}
	return out
}
