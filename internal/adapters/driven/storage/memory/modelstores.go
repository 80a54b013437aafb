package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tablens/tablens-cli/internal/core/domain"
	"github.com/tablens/tablens-cli/internal/core/ports/driven"
)

// Ensure the model stores implement their interfaces.
var _ driven.ModelConfigStore = (*ModelConfigStore)(nil)
var _ driven.ModelCacheMetaStore = (*ModelCacheMetaStore)(nil)

// ModelConfigStore is an in-memory implementation of driven.ModelConfigStore.
type ModelConfigStore struct {
	mu  sync.RWMutex
	cfg *domain.ModelConfig
}

// NewModelConfigStore creates a new in-memory model config store.
func NewModelConfigStore() *ModelConfigStore {
	return &ModelConfigStore{}
}

// Save records cfg as the active model.
func (s *ModelConfigStore) Save(_ context.Context, cfg domain.ModelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = &cfg
	return nil
}

// Get returns the recorded config.
func (s *ModelConfigStore) Get(_ context.Context) (*domain.ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, domain.ErrNotFound
	}
	cfg := *s.cfg
	return &cfg, nil
}

// ModelCacheMetaStore is an in-memory implementation of
// driven.ModelCacheMetaStore.
type ModelCacheMetaStore struct {
	mu      sync.RWMutex
	entries map[string]domain.CacheEntry
}

// NewModelCacheMetaStore creates a new in-memory cache metadata store.
func NewModelCacheMetaStore() *ModelCacheMetaStore {
	return &ModelCacheMetaStore{entries: make(map[string]domain.CacheEntry)}
}

// Save stores or updates an entry keyed by model URL.
func (s *ModelCacheMetaStore) Save(_ context.Context, entry domain.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ModelURL] = entry
	return nil
}

// Get retrieves an entry by model URL.
func (s *ModelCacheMetaStore) Get(_ context.Context, modelURL string) (*domain.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[modelURL]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

// Delete removes an entry.
func (s *ModelCacheMetaStore) Delete(_ context.Context, modelURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, modelURL)
	return nil
}

// List returns all entries ordered oldest-first by FetchedAt.
func (s *ModelCacheMetaStore) List(_ context.Context) ([]domain.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CacheEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].FetchedAt.Before(out[b].FetchedAt) })
	return out, nil
}
