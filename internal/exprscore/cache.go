package exprscore

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/expr-lang/expr/vm"
)

// DefaultCacheSize bounds the package-level program cache.
const DefaultCacheSize = 1000

var programs = NewCache(DefaultCacheSize)

// SetCacheSize resizes the package-level program cache, evicting the least
// recently used programs if it shrinks.
func SetCacheSize(size int) { programs.Resize(size) }

// CacheStats reports the package-level program cache statistics.
func CacheStats() (size int, hits, misses int64) { return programs.Stats() }

// Cache is a goroutine-safe LRU cache of compiled programs, keyed by
// expression source.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List
	maxSize int
	hits    int64
	misses  int64
}

type cacheEntry struct {
	key     string
	program *vm.Program
}

// NewCache returns a cache holding at most maxSize programs, DefaultCacheSize
// when maxSize is not positive.
func NewCache(maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = DefaultCacheSize
	}
	return &Cache{
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// Get returns the program cached under key, marking it recently used.
func (c *Cache) Get(key string) (*vm.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.lru.MoveToFront(elem)
	return elem.Value.(*cacheEntry).program, true
}

// Put caches program under key, replacing any previous program.
func (c *Cache) Put(key string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).program = program
		return
	}
	c.items[key] = c.lru.PushFront(&cacheEntry{key: key, program: program})
	c.evict()
}

// Resize changes the capacity, minimum one.
func (c *Cache) Resize(maxSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = max(maxSize, 1)
	c.evict()
}

func (c *Cache) evict() {
	for c.lru.Len() > c.maxSize {
		elem := c.lru.Back()
		delete(c.items, elem.Value.(*cacheEntry).key)
		c.lru.Remove(elem)
	}
}

// Len returns the number of cached programs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns the size and the hit and miss counts.
func (c *Cache) Stats() (size int, hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len(), c.hits, c.misses
}

func (c *Cache) String() string {
	size, hits, misses := c.Stats()
	return fmt.Sprintf("exprscore.Cache{size=%d, hits=%d, misses=%d}", size, hits, misses)
}
