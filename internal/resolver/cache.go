package resolver

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cache is a concurrency-safe string-keyed memo table.
type cache[V any] interface {
	Get(key string) (V, bool)
	Add(key string, v V)
	Len() int
}

// newCache returns an LRU bounded to size entries, or an unbounded map when
// size is zero or negative.
func newCache[V any](size int) cache[V] {
	if size > 0 {
		if c, err := lru.New[string, V](size); err == nil {
			return lruCache[V]{c: c}
		}
	}

	return &mapCache[V]{m: make(map[string]V)}
}

type mapCache[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

func (c *mapCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.m[key]

	return v, ok
}

func (c *mapCache[V]) Add(key string, v V) {
	c.mu.Lock()
	c.m[key] = v
	c.mu.Unlock()
}

func (c *mapCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.m)
}

type lruCache[V any] struct {
	c *lru.Cache[string, V]
}

func (c lruCache[V]) Get(key string) (V, bool) { return c.c.Get(key) }
func (c lruCache[V]) Add(key string, v V)      { c.c.Add(key, v) }
func (c lruCache[V]) Len() int                 { return c.c.Len() }
