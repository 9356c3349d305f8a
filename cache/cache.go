// Package cache implements the fixed-capacity, LRU-evicting page cache
// shared by every disk reader in the engine.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// PageID identifies a page by the file it lives in and its byte offset
// within that file. The same PageID space is shared by Sorted Run data
// pages, Static B-Tree Index pages, and Membership Filter bytes, so that
// hot upper layers of young runs can outlive colder data pages of older
// runs under one LRU.
type PageID struct {
	Path   string
	Offset int64
}

// Cache is a single-threaded, fixed-capacity LRU page cache. The engine is
// single-threaded with respect to the store, so no internal locking is
// required beyond what golang-lru already does.
type Cache struct {
	inner *lru.Cache[PageID, []byte]
}

// New creates a page cache with room for capacity pages. Capacity must be
// at least 1.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	inner, err := lru.New[PageID, []byte](capacity)
	if err != nil {
		// Only returns an error for capacity <= 0, which is excluded above.
		panic(err)
	}
	return &Cache{inner: inner}
}

// Lookup returns the cached page bytes for id, marking it most-recently-used
// on a hit.
func (c *Cache) Lookup(id PageID) ([]byte, bool) {
	return c.inner.Get(id)
}

// Insert adds page bytes under id, evicting the least-recently-used page if
// the cache is at capacity. A page already resident is left untouched
// (lookup/insert is best-effort, not strict write-through).
func (c *Cache) Insert(id PageID, page []byte) {
	if _, ok := c.inner.Peek(id); ok {
		return
	}
	c.inner.Add(id, page)
}

// Purge drops every entry for path. Used when a run's files are unlinked
// after compaction so stale entries do not linger referencing deleted
// files indefinitely (correctness only requires that they never be
// *returned*, but proactively purging keeps memory bounded).
func (c *Cache) Purge(path string) {
	for _, key := range c.inner.Keys() {
		if key.Path == path {
			c.inner.Remove(key)
		}
	}
}

// Len reports the number of resident pages.
func (c *Cache) Len() int {
	return c.inner.Len()
}
