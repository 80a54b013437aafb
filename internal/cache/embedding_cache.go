// Package cache provides an LRU memoisation layer for text embeddings,
// so repeated queries and unchanged chunks never hit the inference
// runtime twice.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 2048

// EmbeddingCache memoises text-to-vector results. Keys combine the
// normalised text with the model identity, because embeddings from
// different models are not comparable.
type EmbeddingCache struct {
	mu      sync.Mutex
	entries map[string][]float32
	order   []string
	maxSize int
}

// NewEmbeddingCache creates a cache holding at most maxSize vectors.
func NewEmbeddingCache(maxSize int) *EmbeddingCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	return &EmbeddingCache{
		entries: make(map[string][]float32),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
	}
}

// Key builds the cache key for text under the given model identity.
// Whitespace runs are collapsed so trivially reformatted text still hits.
func Key(modelIdentity, text string) string {
	norm := strings.Join(strings.Fields(text), " ")
	h := sha256.New()
	h.Write([]byte(modelIdentity))
	h.Write([]byte{0})
	h.Write([]byte(norm))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Get returns the cached vector for key, if present.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	vec, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToEnd(key)
	return vec, true
}

// Put stores a vector under key, evicting the least recently used entry
// when full.
func (c *EmbeddingCache) Put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = vec
		c.moveToEnd(key)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = vec
	c.order = append(c.order, key)
}

// Purge drops every entry. Called on model switch, since vectors from
// the old model are invalid under the new one.
func (c *EmbeddingCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string][]float32)
	c.order = c.order[:0]
}

// Len returns the number of cached vectors.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *EmbeddingCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *EmbeddingCache) moveToEnd(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, key)
}
