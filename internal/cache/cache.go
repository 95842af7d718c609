// Package cache provides the bounded, expiring in-process caches injected into the
// pricing engine and the CAC resolver.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// TTL is a goroutine-safe LRU cache whose entries expire after a fixed duration.
// A nil *TTL is a valid, always-empty cache.
type TTL[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

// NewTTL builds a cache holding at most size entries for ttl each.
func NewTTL[K comparable, V any](size int, ttl time.Duration) *TTL[K, V] {
	if size <= 0 {
		size = 1
	}
	return &TTL[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

// Get returns the cached value for key, if present and not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	if c == nil {
		var zero V
		return zero, false
	}
	return c.lru.Get(key)
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *TTL[K, V]) Set(key K, value V) {
	if c == nil {
		return
	}
	c.lru.Add(key, value)
}

// Delete drops key from the cache.
func (c *TTL[K, V]) Delete(key K) {
	if c == nil {
		return
	}
	c.lru.Remove(key)
}

// Purge drops every entry.
func (c *TTL[K, V]) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

// Len reports the number of live entries.
func (c *TTL[K, V]) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
