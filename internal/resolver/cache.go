package resolver

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	elements map[uuid.UUID]*CacheElement
}

type cacheEntry struct {
	id uuid.UUID
	e  *CacheElement
}

// cache is a lock-sharded map from identifier to element. Lookups by name
// or address scan every shard.
type cache struct {
	shards [shardCount]*shard
}

func newCache() *cache {
	c := &cache{}
	for i := range c.shards {
		c.shards[i] = &shard{elements: make(map[uuid.UUID]*CacheElement)}
	}
	return c
}

func (c *cache) shardFor(id uuid.UUID) *shard {
	return c.shards[binary.BigEndian.Uint32(id[12:])%shardCount]
}

func (c *cache) get(id uuid.UUID) (*CacheElement, bool) {
	s := c.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.elements[id]
	return e, ok
}

// loadOrStore inserts e unless id is already present, in which case the
// present element is returned with loaded set.
func (c *cache) loadOrStore(id uuid.UUID, e *CacheElement) (actual *CacheElement, loaded bool) {
	s := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.elements[id]; ok {
		return existing, true
	}
	s.elements[id] = e
	return e, false
}

func (c *cache) store(id uuid.UUID, e *CacheElement) {
	s := c.shardFor(id)
	s.mu.Lock()
	s.elements[id] = e
	s.mu.Unlock()
}

// each calls fn for every element until fn returns false. Elements added
// during the walk may or may not be seen.
func (c *cache) each(fn func(id uuid.UUID, e *CacheElement) bool) {
	for _, s := range c.shards {
		s.mu.RLock()
		snapshot := make([]cacheEntry, 0, len(s.elements))
		for id, e := range s.elements {
			snapshot = append(snapshot, cacheEntry{id, e})
		}
		s.mu.RUnlock()

		for _, entry := range snapshot {
			if !fn(entry.id, entry.e) {
				return
			}
		}
	}
}

func (c *cache) len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.elements)
		s.mu.RUnlock()
	}
	return n
}
