// Package cache keeps recently used chunk payloads in RAM with LRU
// eviction. Entries inside the active streaming radius are pinned and never
// evicted regardless of recency.
package cache

import (
	"container/list"
	"fmt"

	"chunkforge.dev/internal/world/chunk"
)

// Cache is not safe for concurrent use; the streaming controller owns it
// from a single goroutine.
type Cache struct {
	capacity int
	ll       *list.List // front is most recently used
	items    map[chunk.Key]*list.Element
	pinned   map[chunk.Key]struct{}
}

type entry struct {
	key     chunk.Key
	payload *chunk.Payload
}

func New(capacity int) *Cache {
	if capacity < 1 {
		panic(fmt.Sprintf("cache: capacity must be >= 1, got %d", capacity))
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[chunk.Key]*list.Element, capacity+1),
		pinned:   make(map[chunk.Key]struct{}),
	}
}

// Get returns the cached payload and refreshes its recency.
func (c *Cache) Get(key chunk.Key) (*chunk.Payload, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).payload, true
}

// Peek returns the cached payload without touching recency.
func (c *Cache) Peek(key chunk.Key) (*chunk.Payload, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).payload, true
}

// Put inserts or replaces a payload as the most recently used entry, then
// evicts least-recently-used unpinned entries while over capacity. Evicted
// payloads are returned so the caller can persist dirty ones; when every
// entry is pinned the cache grows past capacity rather than evict.
func (c *Cache) Put(key chunk.Key, p *chunk.Payload) []*chunk.Payload {
	if el, ok := c.items[key]; ok {
		el.Value.(*entry).payload = p
		c.ll.MoveToFront(el)
		return nil
	}
	c.items[key] = c.ll.PushFront(&entry{key: key, payload: p})

	var evicted []*chunk.Payload
	for c.ll.Len() > c.capacity {
		victim := c.oldestUnpinned()
		if victim == nil {
			break
		}
		e := victim.Value.(*entry)
		c.ll.Remove(victim)
		delete(c.items, e.key)
		evicted = append(evicted, e.payload)
	}
	return evicted
}

func (c *Cache) oldestUnpinned() *list.Element {
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		if _, pin := c.pinned[el.Value.(*entry).key]; !pin {
			return el
		}
	}
	return nil
}

// Remove deletes an entry regardless of recency or pin state.
func (c *Cache) Remove(key chunk.Key) (*chunk.Payload, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, key)
	return e.payload, true
}

// SetPinned replaces the pin set; pinned entries survive eviction.
func (c *Cache) SetPinned(keys map[chunk.Key]struct{}) {
	c.pinned = make(map[chunk.Key]struct{}, len(keys))
	for k := range keys {
		c.pinned[k] = struct{}{}
	}
}

func (c *Cache) Pinned(key chunk.Key) bool {
	_, ok := c.pinned[key]
	return ok
}

func (c *Cache) Len() int {
	return c.ll.Len()
}

// Keys lists cached keys oldest first.
func (c *Cache) Keys() []chunk.Key {
	out := make([]chunk.Key, 0, c.ll.Len())
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		out = append(out, el.Value.(*entry).key)
	}
	return out
}
