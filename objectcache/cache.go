// Package objectcache implements the key->object LRU cache with
// refcounted "checked out" state and the type-dispatch registry for lazy
// reconstruction described in spec §4.C.
package objectcache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/aff4/aff4/aff4error"
	"github.com/aff4/aff4/resolver"
	"github.com/aff4/aff4/urn"
)

// Object is any artefact that can be looked up by URN and lives in the
// cache: a Volume, an OS-backed file, or a read-mode Segment (spec §3).
// Write-mode segments are never put through the cache (spec §3
// Lifecycle) - they are constructed directly by the ZIP writer and owned
// by the caller.
type Object interface {
	URN() *urn.URN
	// Close flushes the object and releases its resources. The cache
	// calls this when evicting an object from the LRU tail.
	Close() error
}

// Constructor builds an Object for a URN whose declared resolver type
// matches the key it is registered under. It must read whatever further
// attributes it needs from the resolver itself (spec §4.C step 3).
type Constructor func(u *urn.URN, mode string) (Object, error)

type entry struct {
	obj     Object
	mode    string
	inUse   bool
	lruElem *list.Element // nil while inUse or not yet cached
}

// Cache is the object cache of §4.C. The zero value is not usable;
// construct one with New.
type Cache struct {
	mu       sync.Mutex
	resolver *resolver.Resolver
	registry map[string]Constructor
	objects  map[string]*entry
	lru      *list.List // of urn-value strings, front = most recently used
	softLimit int
}

// DefaultSoftLimit is the default number of not-in-use objects the cache
// will keep before evicting from the LRU tail.
const DefaultSoftLimit = 64

// New returns a Cache backed by r, with the given soft size limit. A
// limit <= 0 uses DefaultSoftLimit.
func New(r *resolver.Resolver, softLimit int) *Cache {
	if softLimit <= 0 {
		softLimit = DefaultSoftLimit
	}
	return &Cache{
		resolver:  r,
		registry:  make(map[string]Constructor),
		objects:   make(map[string]*entry),
		lru:       list.New(),
		softLimit: softLimit,
	}
}

// Register associates a resolver type tag (e.g. resolver.TypeZipVolume)
// with the constructor used to lazily reconstruct objects of that type.
func (c *Cache) Register(typeTag string, ctor Constructor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry[typeTag] = ctor
}

// Open implements spec §4.C open(urn, mode):
//  1. If urn is in cache and not in use, mark in-use and return it.
//  2. Otherwise resolve (urn, type) via the resolver; NotFound if unknown.
//  3. Invoke the registered constructor for that type.
//  4. Return the new object without inserting it into the LRU - it only
//     becomes eligible for eviction once the caller calls CacheReturn.
//
// An Open on a URN that is already checked out - whether by a prior Open
// awaiting CacheReturn, or by a write-mode segment holding the backing
// file open - fails with aff4error.ErrBusy (spec §4.C Contention, §5,
// testable property 4).
func (c *Cache) Open(u *urn.URN, mode string) (Object, error) {
	key := u.Value()

	c.mu.Lock()
	if e, ok := c.objects[key]; ok {
		if e.inUse {
			c.mu.Unlock()
			return nil, fmt.Errorf("objectcache: %s is checked out: %w", key, aff4error.ErrBusy)
		}
		e.inUse = true
		if e.lruElem != nil {
			c.lru.Remove(e.lruElem)
			e.lruElem = nil
		}
		obj := e.obj
		c.mu.Unlock()
		return obj, nil
	}

	typeVal, ok := c.resolver.Resolve(key, resolver.PredicateType)
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("objectcache: %s has no declared type: %w", key, aff4error.ErrNotFound)
	}
	ctor, ok := c.registry[typeVal.Text]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("objectcache: no constructor registered for type %q: %w", typeVal.Text, aff4error.ErrNotFound)
	}
	c.mu.Unlock()

	obj, err := ctor(u, mode)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.objects[key] = &entry{obj: obj, mode: mode, inUse: true}
	c.mu.Unlock()

	return obj, nil
}

// CacheReturn implements spec §4.C cache_return(obj): clears the in-use
// flag, inserts the object at the LRU head, then evicts from the tail
// (closing evicted objects) while the cache exceeds its soft limit.
func (c *Cache) CacheReturn(obj Object) {
	key := obj.URN().Value()

	c.mu.Lock()
	e, ok := c.objects[key]
	if !ok {
		// Returning something the cache never tracked (e.g. a write
		// segment) is a caller error we simply ignore - callers that
		// manage their own lifecycle shouldn't call CacheReturn.
		c.mu.Unlock()
		return
	}
	e.inUse = false
	e.lruElem = c.lru.PushFront(key)

	var toClose []Object
	for c.lru.Len() > c.softLimit {
		back := c.lru.Back()
		k := back.Value.(string)
		victim := c.objects[k]
		if victim.inUse {
			// Shouldn't happen given the invariant that only
			// not-in-use entries are ever in the LRU list, but guard
			// against it rather than evict something in use.
			break
		}
		c.lru.Remove(back)
		delete(c.objects, k)
		toClose = append(toClose, victim.obj)
	}
	c.mu.Unlock()

	for _, o := range toClose {
		_ = o.Close()
	}
}

// Drop removes obj from the cache without closing it, forgetting it
// entirely. Used by constructors that fail after partially registering
// themselves, to roll back per spec §7.
func (c *Cache) Drop(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.objects[key]; ok {
		if e.lruElem != nil {
			c.lru.Remove(e.lruElem)
		}
		delete(c.objects, key)
	}
}

// Len reports how many objects the cache currently tracks, in use or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}
