package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tablens/tablens-cli/internal/core/domain"
	"github.com/tablens/tablens-cli/internal/core/ports/driven"
)

// Ensure TabStateStore implements the interface.
var _ driven.TabStateStore = (*TabStateStore)(nil)

// TabStateStore is an in-memory implementation of driven.TabStateStore.
type TabStateStore struct {
	mu     sync.RWMutex
	states map[int]domain.TabDocumentState
}

// NewTabStateStore creates a new in-memory tab state store.
func NewTabStateStore() *TabStateStore {
	return &TabStateStore{states: make(map[int]domain.TabDocumentState)}
}

// Save stores or updates a tab's state.
func (s *TabStateStore) Save(_ context.Context, state domain.TabDocumentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.TabID] = state
	return nil
}

// Get retrieves a tab's state.
func (s *TabStateStore) Get(_ context.Context, tabID int) (*domain.TabDocumentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[tabID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &st, nil
}

// Delete drops a tab's state.
func (s *TabStateStore) Delete(_ context.Context, tabID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[tabID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.states, tabID)
	return nil
}

// List returns all tracked tab states ordered by tab ID.
func (s *TabStateStore) List(_ context.Context) ([]domain.TabDocumentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TabDocumentState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].TabID < out[b].TabID })
	return out, nil
}

// Clear drops all tab state.
func (s *TabStateStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[int]domain.TabDocumentState)
	return nil
}
