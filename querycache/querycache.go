// Package querycache bounds the set of compiled queries an application
// keeps around by CacheKey, using an S3-FIFO eviction policy instead of a
// plain LRU. Small admission and main FIFO queues plus a ghost set of
// recently-evicted keys let a cache survive scan-heavy workloads (a bulk
// export touching thousands of distinct keys once each) without flushing
// the working set that actually repeats.
package querycache

import (
	"container/list"
	"context"
	"sync"

	qcompile "github.com/arjunmenon/qcompile"
	"github.com/arjunmenon/qcompile/query"
	"github.com/vmihailenco/msgpack/v5"
)

// entry is the value a Cache holds per key. Freq saturates at 3, matching
// the small counter S3-FIFO's main-queue eviction decrements before
// discarding.
type entry struct {
	key    string
	value  *query.CompiledQuery
	freq   uint8
	inMain bool
}

// Cache is a bounded, in-process S3-FIFO cache of compiled queries,
// optionally backed by an external Backend for cross-process sharing.
// The zero value is not usable; construct with New.
type Cache struct {
	mu sync.Mutex

	capacity  int
	admitCap  int
	mainCap   int
	ghostCap  int

	items map[string]*list.Element // live entries, in either queue

	admission *list.List // front = next eviction candidate
	main      *list.List

	ghost     *list.List               // FIFO of evicted keys, for the re-admission test
	ghostSet  map[string]*list.Element // key -> position in ghost

	backend qcompile.Backend
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithBackend attaches an external store that GetOrLoad consults on an
// in-process miss and writes each newly compiled entry to (as msgpack), so
// a cold process can rehydrate a key instead of recompiling it. Get, Set,
// Delete and eviction do not touch the store.
func WithBackend(b qcompile.Backend) Option {
	return func(c *Cache) { c.backend = b }
}

// New builds a Cache bounded to capacity entries, split 10% admission /
// 90% main per spec.md's resource model, with a ghost set sized to match
// the main queue.
func New(capacity int, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = 1000
	}
	admitCap := capacity / 10
	if admitCap < 1 {
		admitCap = 1
	}
	mainCap := capacity - admitCap

	c := &Cache{
		capacity:  capacity,
		admitCap:  admitCap,
		mainCap:   mainCap,
		ghostCap:  mainCap,
		items:     make(map[string]*list.Element, capacity),
		admission: list.New(),
		main:      list.New(),
		ghost:     list.New(),
		ghostSet:  make(map[string]*list.Element, mainCap),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached CompiledQuery for key, bumping its access
// frequency. It does not consult the Backend; callers that want the
// external store checked on a local miss should call GetOrLoad.
func (c *Cache) Get(key qcompile.CacheKey) (*query.CompiledQuery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key.String()
	el, ok := c.items[k]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if e.freq < 3 {
		e.freq++
	}
	return e.value, true
}

// Set inserts or refreshes key in the cache. New keys enter through the
// admission queue; a key currently in the ghost set is promoted straight
// to main, since a second sighting there means the admission queue
// evicted it too early.
func (c *Cache) Set(key qcompile.CacheKey, value *query.CompiledQuery) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key.String()
	if el, ok := c.items[k]; ok {
		e := el.Value.(*entry)
		e.value = value
		return
	}

	_, seenBefore := c.ghostSet[k]
	if seenBefore {
		c.removeFromGhost(k)
	}

	e := &entry{key: k, value: value}
	var el *list.Element
	if seenBefore {
		e.inMain = true
		el = c.main.PushBack(e)
		c.evictMainIfNeeded()
	} else {
		el = c.admission.PushBack(e)
		c.evictAdmissionIfNeeded()
	}
	c.items[k] = el
}

// Delete removes key from the cache, wherever it currently lives.
func (c *Cache) Delete(key qcompile.CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteLocked(key.String())
}

func (c *Cache) deleteLocked(k string) {
	el, ok := c.items[k]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	if e.inMain {
		c.main.Remove(el)
	} else {
		c.admission.Remove(el)
	}
	delete(c.items, k)
}

// Clear empties the cache, admission, main, and ghost queues alike.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.capacity)
	c.admission.Init()
	c.main.Init()
	c.ghost.Init()
	c.ghostSet = make(map[string]*list.Element, c.ghostCap)
}

// Len returns the number of live entries (admission + main), excluding
// ghost keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) evictAdmissionIfNeeded() {
	for c.admission.Len() > c.admitCap {
		front := c.admission.Front()
		e := front.Value.(*entry)
		c.admission.Remove(front)
		delete(c.items, e.key)

		if e.freq > 0 {
			e.inMain = true
			el := c.main.PushBack(e)
			c.items[e.key] = el
			c.evictMainIfNeeded()
		} else {
			c.addGhost(e.key)
		}
	}
}

func (c *Cache) evictMainIfNeeded() {
	for c.main.Len() > c.mainCap {
		front := c.main.Front()
		e := front.Value.(*entry)
		if e.freq > 0 {
			e.freq--
			c.main.MoveToBack(front)
			continue
		}
		c.main.Remove(front)
		delete(c.items, e.key)
		c.addGhost(e.key)
	}
}

func (c *Cache) addGhost(key string) {
	el := c.ghost.PushBack(key)
	c.ghostSet[key] = el
	for c.ghost.Len() > c.ghostCap {
		front := c.ghost.Front()
		c.ghost.Remove(front)
		delete(c.ghostSet, front.Value.(string))
	}
}

func (c *Cache) removeFromGhost(key string) {
	el, ok := c.ghostSet[key]
	if !ok {
		return
	}
	c.ghost.Remove(el)
	delete(c.ghostSet, key)
}

// GetOrLoad checks the in-process cache, then the Backend (if configured),
// then falls back to compile, a caller-supplied function producing a fresh
// CompiledQuery. A Backend hit repopulates the in-process cache as if by
// Set so repeated calls in the same process stop round-tripping through
// the Backend.
func (c *Cache) GetOrLoad(ctx context.Context, key qcompile.CacheKey, compile func() (*query.CompiledQuery, error)) (*query.CompiledQuery, error) {
	if cq, ok := c.Get(key); ok {
		return cq, nil
	}

	if c.backend != nil {
		raw, err := c.backend.Get(ctx, key.String())
		if err != nil {
			return nil, err
		}
		if raw != nil {
			var cq query.CompiledQuery
			if err := msgpack.Unmarshal(raw, &cq); err != nil {
				return nil, qcompile.NewError(qcompile.KindStateCorruption, "cache."+key.String(), "decoding cached entry for %q: %v", key.String(), err)
			}
			c.Set(key, &cq)
			return &cq, nil
		}
	}

	cq, err := compile()
	if err != nil {
		return nil, err
	}
	c.Set(key, cq)

	if c.backend != nil {
		raw, err := msgpack.Marshal(cq)
		if err != nil {
			return nil, qcompile.NewError(qcompile.KindStateCorruption, "cache."+key.String(), "encoding cache entry for %q: %v", key.String(), err)
		}
		if err := c.backend.Set(ctx, key.String(), raw, 0); err != nil {
			return nil, err
		}
	}
	return cq, nil
}
