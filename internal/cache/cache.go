// Package cache implements the namespaced in-memory cache used in front of
// the quote store and the HTTP surface. Each namespace has its own TTL and
// capacity; eviction is LRU within a namespace, expiry is lazy on read.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Policy controls one namespace.
type Policy struct {
	TTL        time.Duration
	MaxEntries int
}

// Stats is a point-in-time snapshot of one namespace's counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
	elem      *list.Element
}

type namespace struct {
	policy  Policy
	items   map[string]*entry
	order   *list.List // front = most recently used
	hits    int64
	misses  int64
	evicted int64
}

// Cache is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	namespaces map[string]*namespace
	defaults   Policy
	log        zerolog.Logger
	now        func() time.Time
}

// New returns a cache whose unregistered namespaces use the given default
// policy.
func New(defaults Policy, log zerolog.Logger) *Cache {
	if defaults.MaxEntries <= 0 {
		defaults.MaxEntries = 1000
	}
	if defaults.TTL <= 0 {
		defaults.TTL = 5 * time.Minute
	}
	return &Cache{
		namespaces: make(map[string]*namespace),
		defaults:   defaults,
		log:        log,
		now:        time.Now,
	}
}

// Register installs a dedicated policy for ns. Zero fields inherit the
// defaults. Registering an existing namespace replaces its policy but keeps
// its contents.
func (c *Cache) Register(ns string, p Policy) {
	if p.TTL <= 0 {
		p.TTL = c.defaults.TTL
	}
	if p.MaxEntries <= 0 {
		p.MaxEntries = c.defaults.MaxEntries
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.namespaces[ns]; ok {
		n.policy = p
		return
	}
	c.namespaces[ns] = &namespace{
		policy: p,
		items:  make(map[string]*entry),
		order:  list.New(),
	}
}

func (c *Cache) ns(name string) *namespace {
	n, ok := c.namespaces[name]
	if !ok {
		n = &namespace{
			policy: c.defaults,
			items:  make(map[string]*entry),
			order:  list.New(),
		}
		c.namespaces[name] = n
	}
	return n
}

// Get returns the cached value and whether it was present and fresh. An
// expired entry is removed and counted as both a miss and an eviction.
func (c *Cache) Get(ns, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.ns(ns)
	e, ok := n.items[key]
	if !ok {
		n.misses++
		return nil, false
	}
	// An entry exactly at its deadline is already stale.
	if !c.now().Before(e.expiresAt) {
		n.order.Remove(e.elem)
		delete(n.items, key)
		n.evicted++
		n.misses++
		return nil, false
	}
	n.order.MoveToFront(e.elem)
	n.hits++
	return e.value, true
}

// Put stores value under (ns, key), evicting the least recently used entry
// when the namespace is at capacity.
func (c *Cache) Put(ns, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.ns(ns)
	if e, ok := n.items[key]; ok {
		e.value = value
		e.expiresAt = c.now().Add(n.policy.TTL)
		n.order.MoveToFront(e.elem)
		return
	}
	for len(n.items) >= n.policy.MaxEntries {
		back := n.order.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*entry)
		n.order.Remove(back)
		delete(n.items, victim.key)
		n.evicted++
	}
	e := &entry{key: key, value: value, expiresAt: c.now().Add(n.policy.TTL)}
	e.elem = n.order.PushFront(e)
	n.items[key] = e
}

// Invalidate drops every entry in ns.
func (c *Cache) Invalidate(ns string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.namespaces[ns]
	if !ok {
		return
	}
	dropped := len(n.items)
	n.items = make(map[string]*entry)
	n.order.Init()
	if dropped > 0 {
		c.log.Debug().Str("namespace", ns).Int("entries", dropped).Msg("namespace invalidated")
	}
}

// InvalidateKey drops a single entry if present.
func (c *Cache) InvalidateKey(ns, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.namespaces[ns]
	if !ok {
		return
	}
	if e, ok := n.items[key]; ok {
		n.order.Remove(e.elem)
		delete(n.items, key)
	}
}

// Clear empties every namespace but keeps registered policies.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.namespaces {
		n.items = make(map[string]*entry)
		n.order.Init()
	}
}

// Stats reports the counters of one namespace.
func (c *Cache) Stats(ns string) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.namespaces[ns]
	if !ok {
		return Stats{}
	}
	return Stats{Hits: n.hits, Misses: n.misses, Evictions: n.evicted, Entries: len(n.items)}
}

// AllStats reports counters for every namespace seen so far.
func (c *Cache) AllStats() map[string]Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Stats, len(c.namespaces))
	for name, n := range c.namespaces {
		out[name] = Stats{Hits: n.hits, Misses: n.misses, Evictions: n.evicted, Entries: len(n.items)}
	}
	return out
}
