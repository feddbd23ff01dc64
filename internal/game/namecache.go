package game

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultNameCacheCapacity is the minimum bound enforced on the name cache.
const DefaultNameCacheCapacity = 4096

// NameCache maps a player GUID to its resolved name, bounded with LRU
// eviction so a long-uptime connection never grows the cache unboundedly.
type NameCache struct {
	cache *lru.Cache[uint64, string]
}

// NewNameCache creates a cache bounded at capacity (clamped up to
// DefaultNameCacheCapacity).
func NewNameCache(capacity int) *NameCache {
	if capacity < DefaultNameCacheCapacity {
		capacity = DefaultNameCacheCapacity
	}
	c, _ := lru.New[uint64, string](capacity)
	return &NameCache{cache: c}
}

// Get returns the cached name for guid, if present.
func (n *NameCache) Get(guid uint64) (string, bool) {
	return n.cache.Get(guid)
}

// Put inserts or refreshes guid's name.
func (n *NameCache) Put(guid uint64, name string) {
	n.cache.Add(guid, name)
}

// Evict removes guid from the cache, in response to INVALIDATE_PLAYER.
func (n *NameCache) Evict(guid uint64) {
	n.cache.Remove(guid)
}

// Len returns the current number of cached entries.
func (n *NameCache) Len() int {
	return n.cache.Len()
}
