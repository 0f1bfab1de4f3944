// Package cache implements the node descriptor cache: an in-memory handle
// per active on-segment node, with a reference count, a transaction
// reference count, a sequence counter bumped on every mutation, and
// linkage into either a tree's active list or the global LRU.
//
// The intrusive doubly-linked list plus map-keyed-lookup shape is
// grounded on ClusterCockpit-cc-backend/pkg/lrucache/cache.go's
// cacheEntry{next,prev}/insertFront/unlinkEntry pattern, adapted from
// byte-budget/TTL eviction keyed by string to refcount/LRU-order eviction
// keyed by a segment address.
package cache

import (
	"sync"

	"github.com/cortx-go/m0btree/internal/addr"
	"github.com/cortx-go/m0btree/internal/node"
)

// Descriptor is the in-memory handle for a live node.
type Descriptor struct {
	Addr        addr.Addr
	Node        *node.Fixed
	Tree        interface{} // owning tree descriptor, opaque to this package
	Refcount    int
	TxnRefcount int
	Seq         uint64
	DelayedFree bool

	list       *List
	prev, next *Descriptor
}

// List is an intrusive doubly-linked list of descriptors, grounded on the
// teacher's insertFront/unlinkEntry pair. A tree's active list and the
// global LRU are both Lists; invariant 5 (a live descriptor is on exactly
// one list) holds because Descriptor carries a single prev/next pair.
type List struct {
	head, tail *Descriptor
}

// PushFront links d at the front of the list.
func (l *List) PushFront(d *Descriptor) {
	d.next = l.head
	d.prev = nil
	if l.head != nil {
		l.head.prev = d
	}
	l.head = d
	if l.tail == nil {
		l.tail = d
	}
	d.list = l
}

// Remove unlinks d from whichever list it is currently on. It is a no-op
// if d is not linked.
func (l *List) Remove(d *Descriptor) {
	if d.list != l {
		return
	}
	if d.prev != nil {
		d.prev.next = d.next
	} else {
		l.head = d.next
	}
	if d.next != nil {
		d.next.prev = d.prev
	} else {
		l.tail = d.prev
	}
	d.prev, d.next, d.list = nil, nil, nil
}

// Oldest returns the tail (least-recently-used) descriptor, or nil.
func (l *List) Oldest() *Descriptor { return l.tail }

// Empty reports whether the list has no descriptors.
func (l *List) Empty() bool { return l.head == nil }

// Loader loads the node frame for addr when it is not already cached.
type Loader func(a addr.Addr) (*node.Fixed, error)

// Logger is the minimal logging seam this package accepts; a nil Logger
// (the default) disables logging entirely. Defined locally, like
// internal/engine.Logger, so this package never depends on a concrete
// logging library.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Cache is the process-wide node descriptor cache: a map keyed by segment
// address plus the global LRU list of zero-refcount descriptors.
type Cache struct {
	mu     sync.Mutex
	lru    List
	byAddr map[addr.Addr]*Descriptor
	logger Logger
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{byAddr: make(map[addr.Addr]*Descriptor)}
}

// SetLogger wires an optional logger; purge/eviction events are logged
// through it when non-nil.
func (c *Cache) SetLogger(l Logger) { c.logger = l }

// Acquire looks up a by its opaque back-pointer (the byAddr map stands in
// for the frame's in-memory slot). If found, it bumps refcount and, if the
// descriptor was on the LRU, splices it onto active instead and rebinds
// its tree back-pointer. If not found, it loads the frame via load,
// installs a new descriptor, and links it onto active.
func (c *Cache) Acquire(a addr.Addr, active *List, owner interface{}, load Loader) (*Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.byAddr[a]; ok {
		d.Refcount++
		if d.list == &c.lru {
			c.lru.Remove(d)
			active.PushFront(d)
			d.Tree = owner
		}
		return d, nil
	}

	n, err := load(a)
	if err != nil {
		return nil, err
	}
	d := &Descriptor{Addr: a, Node: n, Tree: owner, Refcount: 1}
	c.byAddr[a] = d
	active.PushFront(d)
	return d, nil
}

// Release decrements d's refcount; at zero it is unlinked from its active
// list, its tree back-pointer is cleared, and it is pushed onto the
// global LRU.
func (c *Cache) Release(d *Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d.Refcount--
	if d.Refcount < 0 {
		d.Refcount = 0
	}
	if d.Refcount == 0 {
		if d.list != nil {
			d.list.Remove(d)
		}
		d.Tree = nil
		c.lru.PushFront(d)
	}
}

// Touch bumps d's sequence counter; callers do this on every mutation so
// optimistic descent can detect a stale snapshot at CHECK.
func (c *Cache) Touch(d *Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d.Seq++
}

// Purge evicts up to n oldest LRU descriptors with zero transaction
// refcount, returning the number actually evicted.
func (c *Cache) Purge(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	d := c.lru.Oldest()
	for evicted < n && d != nil {
		prev := d.prev
		if d.TxnRefcount == 0 {
			c.lru.Remove(d)
			delete(c.byAddr, d.Addr)
			evicted++
		}
		d = prev
	}
	if evicted > 0 && c.logger != nil {
		c.logger.Printf("cache: purged %d LRU descriptor(s)", evicted)
	}
	return evicted
}

// Len returns the number of descriptors currently cached (active or LRU).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byAddr)
}
