package dbuswire

import (
	"errors"
	"sync"
)

var errNotFound = errors.New("not found in cache")

// A cache memoizes a derivation keyed by K, including derivations
// that end in an error. Derivations are pure functions of the key, so
// concurrent duplicate work is harmless and no locking beyond the
// underlying map is needed.
type cache[K comparable, V any] struct {
	m sync.Map
}

type cacheEntry[V any] struct {
	val V
	err error
}

// Get returns the cached value or error for k. If k has no cached
// outcome yet, Get returns errNotFound.
func (c *cache[K, V]) Get(k K) (V, error) {
	ent, ok := c.m.Load(k)
	if !ok {
		var zero V
		return zero, errNotFound
	}
	e := ent.(cacheEntry[V])
	return e.val, e.err
}

func (c *cache[K, V]) Set(k K, v V) {
	c.m.Store(k, cacheEntry[V]{val: v})
}

func (c *cache[K, V]) SetErr(k K, err error) {
	var zero V
	c.m.Store(k, cacheEntry[V]{zero, err})
}
