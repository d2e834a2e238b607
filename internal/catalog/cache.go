// Package catalog keeps the in-memory topic catalog: the mapping between
// stable topic ids and the mutable, case-insensitive name space, plus cached
// metadata snapshots and the aggregate topic map.
//
// The cache is loaded once at startup from the backend's three map-producing
// operations and is thereafter mutated only by the publish path. The query
// path reads it concurrently; a reader/writer lock makes the single-writer /
// multiple-reader discipline explicit, so a reader can observe a slightly
// stale entry but never a torn one. The backing store remains the source of
// truth: the cache is always re-derivable by reloading the three maps.
package catalog

import (
	"sort"
	"sync"

	"github.com/gridscope/historian/internal/storage"
)

// Cache is the shared topic catalog. The zero value is not usable; use New.
type Cache struct {
	mu    sync.RWMutex
	ids   map[string]int64              // topic key -> id
	names map[string]string             // topic key -> display name
	meta  map[int64]map[string]any      // topic id -> metadata snapshot
	agg   map[storage.AggTopicKey]int64 // aggregate triple -> agg id
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		ids:   make(map[string]int64),
		names: make(map[string]string),
		meta:  make(map[int64]map[string]any),
		agg:   make(map[storage.AggTopicKey]int64),
	}
}

// LoadTopics merges the startup topic maps into the cache.
func (c *Cache) LoadTopics(ids map[string]int64, names map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range ids {
		c.ids[k] = v
	}
	for k, v := range names {
		c.names[k] = v
	}
}

// LoadMeta merges the startup metadata snapshots into the cache.
func (c *Cache) LoadMeta(meta map[int64]map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, m := range meta {
		c.meta[id] = m
	}
}

// LoadAggTopics merges aggregate topic entries into the cache. Also used to
// refresh the map when a query references an aggregation configured after
// startup.
func (c *Cache) LoadAggTopics(agg map[storage.AggTopicKey]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range agg {
		c.agg[k] = v
	}
}

// TopicID resolves a topic key to its id.
func (c *Cache) TopicID(key string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[key]
	return id, ok
}

// DisplayName returns the most recently accepted display casing for a key.
func (c *Cache) DisplayName(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[key]
	return name, ok
}

// Metadata returns the cached metadata snapshot for a topic id. Missing
// entries yield an empty mapping so callers can compare structurally.
func (c *Cache) Metadata(id int64) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.meta[id]; ok {
		return m
	}
	return map[string]any{}
}

// AggTopicID resolves an aggregate triple to its agg id.
func (c *Cache) AggTopicID(key storage.AggTopicKey) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.agg[key]
	return id, ok
}

// SetTopic records a newly created topic: key -> id and key -> display name.
// Called only by the publish path.
func (c *Cache) SetTopic(key, displayName string, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[key] = id
	c.names[key] = displayName
}

// SetDisplayName updates the cached display casing for an existing key.
func (c *Cache) SetDisplayName(key, displayName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[key] = displayName
}

// SetMetadata replaces the cached metadata snapshot for a topic id.
func (c *Cache) SetMetadata(id int64, meta map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta[id] = meta
}

// SetAggTopic records one aggregate topic entry.
func (c *Cache) SetAggTopic(key storage.AggTopicKey, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agg[key] = id
}

// TopicNames returns all cached display names, sorted for stable output.
func (c *Cache) TopicNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.names))
	for _, name := range c.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of cached topics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}
