package hnsw

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tablens/tablens-cli/internal/core/domain"
	"github.com/tablens/tablens-cli/internal/core/ports/driven"
)

// Ensure Flat implements the interface.
var _ driven.VectorIndex = (*Flat)(nil)

// Flat is a brute-force exact-scan index. It satisfies the same port as
// the HNSW index and exists for small-scale correctness tests and as a
// reference for ranking behaviour. It does not persist.
type Flat struct {
	mu        sync.RWMutex
	dimension int
	max       int
	entries   map[string]*flatEntry
	nextSeq   uint64
	closed    bool
}

type flatEntry struct {
	vec        []float32
	meta       domain.ChunkMeta
	seq        uint64
	insertedAt time.Time
}

// NewFlat creates a brute-force index for the given dimension.
func NewFlat(dimension, maxElements int) (*Flat, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("flat: %w: dimension must be positive", domain.ErrInvalidInput)
	}
	if maxElements <= 0 {
		maxElements = DefaultMaxElements
	}
	return &Flat{
		dimension: dimension,
		max:       maxElements,
		entries:   make(map[string]*flatEntry),
	}, nil
}

// Insert adds or replaces the vector for chunkID.
func (f *Flat) Insert(_ context.Context, chunkID string, vector []float32, meta domain.ChunkMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return domain.ErrIndexClosed
	}
	if len(vector) != f.dimension {
		return fmt.Errorf("flat: %w: got %d, index is %d", domain.ErrDimensionMismatch, len(vector), f.dimension)
	}

	if _, exists := f.entries[chunkID]; !exists {
		for len(f.entries) >= f.max {
			f.evictOldest()
		}
	}

	f.entries[chunkID] = &flatEntry{
		vec:        normalised(vector),
		meta:       meta,
		seq:        f.nextSeq,
		insertedAt: time.Now(),
	}
	f.nextSeq++
	return nil
}

func (f *Flat) evictOldest() {
	var oldest string
	first := true
	for id, e := range f.entries {
		if first || e.seq < f.entries[oldest].seq {
			oldest = id
			first = false
		}
	}
	if !first {
		delete(f.entries, oldest)
	}
}

// Remove deletes the vector for chunkID.
func (f *Flat) Remove(_ context.Context, chunkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return domain.ErrIndexClosed
	}
	delete(f.entries, chunkID)
	return nil
}

// RemoveWhere deletes entries whose metadata matches the predicate.
func (f *Flat) RemoveWhere(_ context.Context, match func(domain.ChunkMeta) bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, domain.ErrIndexClosed
	}

	removed := 0
	for id, e := range f.entries {
		if match(e.meta) {
			delete(f.entries, id)
			removed++
		}
	}
	return removed, nil
}

// SweepOlderThan removes entries inserted before cutoff.
func (f *Flat) SweepOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, domain.ErrIndexClosed
	}

	removed := 0
	for id, e := range f.entries {
		if e.insertedAt.Before(cutoff) {
			delete(f.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Query scans every entry and returns the top k by cosine similarity,
// ties broken by most-recent insertion.
func (f *Flat) Query(_ context.Context, vector []float32, k int) ([]driven.VectorHit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, domain.ErrIndexClosed
	}
	if len(vector) != f.dimension {
		return nil, fmt.Errorf("flat: %w: got %d, index is %d", domain.ErrDimensionMismatch, len(vector), f.dimension)
	}
	if k <= 0 || len(f.entries) == 0 {
		return nil, nil
	}

	vec := normalised(vector)

	type scored struct {
		hit driven.VectorHit
		seq uint64
	}
	all := make([]scored, 0, len(f.entries))
	for id, e := range f.entries {
		all = append(all, scored{
			hit: driven.VectorHit{ChunkID: id, Similarity: dot(vec, e.vec), Meta: e.meta},
			seq: e.seq,
		})
	}

	sort.Slice(all, func(a, b int) bool {
		if all[a].hit.Similarity != all[b].hit.Similarity {
			return all[a].hit.Similarity > all[b].hit.Similarity
		}
		return all[a].seq > all[b].seq
	})

	if len(all) > k {
		all = all[:k]
	}
	hits := make([]driven.VectorHit, len(all))
	for i, s := range all {
		hits[i] = s.hit
	}
	return hits, nil
}

// Rebuild drops all entries and resets for a new dimension.
func (f *Flat) Rebuild(_ context.Context, dimension int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return domain.ErrIndexClosed
	}
	if dimension <= 0 {
		return fmt.Errorf("flat: %w: dimension must be positive", domain.ErrInvalidInput)
	}

	f.dimension = dimension
	f.entries = make(map[string]*flatEntry)
	return nil
}

// Dimension returns the configured vector dimension.
func (f *Flat) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dimension
}

// Size returns the number of entries.
func (f *Flat) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Persist is a no-op; Flat is an in-memory test double.
func (f *Flat) Persist(_ context.Context) error { return nil }

// Load is a no-op; Flat is an in-memory test double.
func (f *Flat) Load(_ context.Context) error { return nil }

// Close marks the index unusable.
func (f *Flat) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
