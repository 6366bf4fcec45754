// Package ircache bounds the cost of re-decoding a function body on every
// call: a fixed-capacity LRU keyed by an opaque key, holding its
// already-decoded []ir.Instruction. Capacity is fixed at construction, like
// every other bounded container in the core (internal/bound); eviction never
// grows the backing map past that ceiling.
package ircache

import (
	"container/list"

	"github.com/pulseengine/wrt-sub004/internal/concurrency"
)

// Decoder decodes a raw function body once; Cache calls it only on a miss.
type Decoder func(body []byte) (interface{}, error)

type entry struct {
	key   interface{}
	value interface{}
}

// lru is the LRU's mutable state: the doubly-linked list in recency order
// plus the key index into it.
type lru struct {
	ll    *list.List
	items map[interface{}]*list.Element
}

// Cache is a bounded least-recently-used cache from an opaque key (the engine
// passes a *wasm.Code pointer) to a decoded instruction stream. It
// holds no reference back to the Module that produced the key, so dropping
// every Instance referencing a Module lets the Module, and in turn the
// cache's entries for it, be collected normally.
//
// One Cache is shared read-only(-looking) across every Engine instantiated
// from the same Store (internal/engine.Config.Decoded's doc comment), so
// Get/Put must be safe under concurrent calls from different Engines'
// goroutines; the whole list/map pair is held behind one
// internal/concurrency.Guarded rather than trusted to single-threaded use.
type Cache struct {
	capacity int
	state    *concurrency.Guarded[lru]
}

func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		state: concurrency.NewGuarded(lru{
			ll:    list.New(),
			items: make(map[interface{}]*list.Element, capacity),
		}),
	}
}

// Get returns the cached value for key and marks it most-recently-used.
func (c *Cache) Get(key interface{}) (interface{}, bool) {
	var value interface{}
	var ok bool
	c.state.With(func(s *lru) {
		el, found := s.items[key]
		if !found {
			return
		}
		s.ll.MoveToFront(el)
		value = el.Value.(*entry).value
		ok = true
	})
	return value, ok
}

// Put inserts or updates key's value, evicting the least-recently-used entry
// if the cache is already at capacity.
func (c *Cache) Put(key, value interface{}) {
	c.state.With(func(s *lru) {
		if el, ok := s.items[key]; ok {
			el.Value.(*entry).value = value
			s.ll.MoveToFront(el)
			return
		}
		el := s.ll.PushFront(&entry{key: key, value: value})
		s.items[key] = el
		if s.ll.Len() > c.capacity {
			oldest := s.ll.Back()
			if oldest != nil {
				s.ll.Remove(oldest)
				delete(s.items, oldest.Value.(*entry).key)
			}
		}
	})
}

func (c *Cache) Len() int {
	n := 0
	c.state.With(func(s *lru) { n = s.ll.Len() })
	return n
}
