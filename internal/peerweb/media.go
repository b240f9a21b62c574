package peerweb

import (
	"sync"

	"go.uber.org/zap"

	"peerweb/internal/vpath"
)

type mediaItem struct {
	key  string
	ent  mediaEntry
	size int64
	prev *mediaItem
	next *mediaItem
}

// mediaCache is the per-session LRU of large media, keyed by request URL.
type mediaCache struct {
	threshold int64
	maxBytes  int64

	overflowLog *rateLimitedLogger

	mu    sync.Mutex
	items map[string]*mediaItem
	head  *mediaItem
	tail  *mediaItem
	total int64
}

func newMediaCache(threshold, maxBytes int64, overflowLog *rateLimitedLogger) *mediaCache {
	return &mediaCache{
		threshold:   threshold,
		maxBytes:    maxBytes,
		overflowLog: overflowLog,
		items:       map[string]*mediaItem{},
	}
}

// Eligible reports whether a resource of this type and size is kept.
func (c *mediaCache) Eligible(contentType string, size int) bool {
	return vpath.IsMediaType(contentType) && int64(size) > c.threshold
}

func (c *mediaCache) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *mediaCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *mediaCache) Get(key string) (mediaEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return mediaEntry{}, false
	}
	c.moveToFront(it)
	return it.ent, true
}

// Put stores ent under key, evicting least recently used entries to stay
// within the byte budget. Entries larger than the whole budget are refused.
func (c *mediaCache) Put(key string, ent mediaEntry) bool {
	sz := int64(len(ent.Data))
	if c.maxBytes > 0 && sz > c.maxBytes {
		c.overflowLog.Warn("media larger than cache budget, not caching",
			zap.String("url", key), zap.Int64("bytes", sz), zap.Int64("max", c.maxBytes))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[key]; ok {
		c.total -= it.size
		it.ent = ent
		it.size = sz
		c.total += sz
		c.moveToFront(it)
		c.evictLocked()
		return true
	}

	it := &mediaItem{key: key, ent: ent, size: sz}
	c.items[key] = it
	c.addToFront(it)
	c.total += sz
	c.evictLocked()
	return true
}

func (c *mediaCache) evictLocked() {
	evicted := 0
	for c.maxBytes > 0 && c.total > c.maxBytes && c.tail != nil && c.tail != c.head {
		it := c.tail
		c.remove(it)
		delete(c.items, it.key)
		c.total -= it.size
		evicted++
	}
	if evicted > 0 {
		c.overflowLog.Warn("media cache overflow, evicting", zap.Int("evicted", evicted))
	}
}

// Clear drops every entry and returns how many there were.
func (c *mediaCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.items)
	c.items = map[string]*mediaItem{}
	c.head, c.tail = nil, nil
	c.total = 0
	return n
}

func (c *mediaCache) addToFront(it *mediaItem) {
	it.prev = nil
	it.next = c.head
	if c.head != nil {
		c.head.prev = it
	}
	c.head = it
	if c.tail == nil {
		c.tail = it
	}
}

func (c *mediaCache) remove(it *mediaItem) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		c.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		c.tail = it.prev
	}
	it.prev, it.next = nil, nil
}

func (c *mediaCache) moveToFront(it *mediaItem) {
	if c.head == it {
		return
	}
	c.remove(it)
	c.addToFront(it)
}
