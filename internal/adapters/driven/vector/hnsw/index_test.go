package hnsw

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablens/tablens-cli/internal/core/domain"
	"github.com/tablens/tablens-cli/internal/core/ports/driven"
)

func testIndex(t *testing.T, dim int) *Index {
	t.Helper()
	idx, err := New(Config{Dimension: dim})
	require.NoError(t, err)
	return idx
}

func vec(vals ...float32) []float32 { return vals }

func meta(tabID int) domain.ChunkMeta {
	return domain.ChunkMeta{TabID: tabID, URL: fmt.Sprintf("https://example.com/%d", tabID)}
}

func TestInsertAndQuery(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t, 3)

	require.NoError(t, idx.Insert(ctx, "a", vec(1, 0, 0), meta(1)))
	require.NoError(t, idx.Insert(ctx, "b", vec(0, 1, 0), meta(2)))
	require.NoError(t, idx.Insert(ctx, "c", vec(0.9, 0.1, 0), meta(3)))

	hits, err := idx.Query(ctx, vec(1, 0, 0), 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "a", hits[0].ChunkID)
	assert.Equal(t, "c", hits[1].ChunkID)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
	assert.Equal(t, 1, hits[0].Meta.TabID)
}

func TestQueryDimensionMismatch(t *testing.T) {
	idx := testIndex(t, 3)

	_, err := idx.Query(context.Background(), vec(1, 0), 1)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	err = idx.Insert(context.Background(), "a", vec(1, 0), meta(1))
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

// Inserting the same chunk ID twice leaves exactly one entry reflecting
// the latest vector.
func TestInsertOverwriteIdempotence(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t, 3)

	require.NoError(t, idx.Insert(ctx, "a", vec(1, 0, 0), meta(1)))
	require.NoError(t, idx.Insert(ctx, "a", vec(0, 1, 0), meta(1)))

	assert.Equal(t, 1, idx.Size())

	hits, err := idx.Query(ctx, vec(0, 1, 0), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6, "query must see the latest vector")
}

// Equal-score results order by most-recent insertion first.
func TestQueryTieBreakFavoursFresherEntries(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t, 3)

	require.NoError(t, idx.Insert(ctx, "old", vec(1, 0, 0), meta(1)))
	require.NoError(t, idx.Insert(ctx, "new", vec(1, 0, 0), meta(2)))

	hits, err := idx.Query(ctx, vec(1, 0, 0), 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "new", hits[0].ChunkID)
	assert.Equal(t, "old", hits[1].ChunkID)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t, 3)

	require.NoError(t, idx.Insert(ctx, "a", vec(1, 0, 0), meta(1)))
	require.NoError(t, idx.Remove(ctx, "a"))
	require.NoError(t, idx.Remove(ctx, "absent"), "removing an absent ID is a no-op")

	assert.Equal(t, 0, idx.Size())
	hits, err := idx.Query(ctx, vec(1, 0, 0), 1)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRemoveWhereByTab(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, idx.Insert(ctx, fmt.Sprintf("t1-%d", i), vec(1, 0, 0), meta(1)))
	}
	require.NoError(t, idx.Insert(ctx, "t2-0", vec(0, 1, 0), meta(2)))

	removed, err := idx.RemoveWhere(ctx, func(m domain.ChunkMeta) bool { return m.TabID == 1 })
	require.NoError(t, err)
	assert.Equal(t, 5, removed)
	assert.Equal(t, 1, idx.Size())

	hits, err := idx.Query(ctx, vec(1, 0, 0), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "t2-0", hits[0].ChunkID)
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	idx, err := New(Config{Dimension: 3, MaxElements: 3})
	require.NoError(t, err)

	require.NoError(t, idx.Insert(ctx, "a", vec(1, 0, 0), meta(1)))
	require.NoError(t, idx.Insert(ctx, "b", vec(0, 1, 0), meta(2)))
	require.NoError(t, idx.Insert(ctx, "c", vec(0, 0, 1), meta(3)))
	require.NoError(t, idx.Insert(ctx, "d", vec(1, 1, 0), meta(4)))

	assert.Equal(t, 3, idx.Size())

	hits, err := idx.Query(ctx, vec(1, 0, 0), 10)
	require.NoError(t, err)
	ids := hitIDs(hits)
	assert.NotContains(t, ids, "a", "oldest insertion should be evicted")
	assert.Contains(t, ids, "d")
}

// Re-indexing the same tab over and over must not grow the graph without
// bound: tombstones get compacted once they dominate.
func TestReindexCompactsTombstones(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t, 3)

	for pass := 0; pass < 200; pass++ {
		for i := 0; i < 10; i++ {
			id := fmt.Sprintf("1:0:%d", i)
			require.NoError(t, idx.Insert(ctx, id, vec(float32(i+1), float32(pass%7), 1), meta(1)))
		}
	}

	assert.Equal(t, 10, idx.Size())
	assert.Less(t, len(idx.nodes), 2*minCompactNodes,
		"graph nodes must stay bounded across re-index passes")

	// The compacted graph still answers queries with the latest vectors.
	hits, err := idx.Query(ctx, vec(10, float32(199%7), 1), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "1:0:9", hits[0].ChunkID)
}

// Tombstones from removals get compacted too.
func TestRemoveWhereCompactsTombstones(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t, 3)

	for i := 0; i < 2*minCompactNodes; i++ {
		id := fmt.Sprintf("%d:0:0", i)
		require.NoError(t, idx.Insert(ctx, id, vec(float32(i+1), 1, 0), meta(i)))
	}

	removed, err := idx.RemoveWhere(ctx, func(m domain.ChunkMeta) bool { return m.TabID >= 10 })
	require.NoError(t, err)
	assert.Equal(t, 2*minCompactNodes-10, removed)

	assert.Equal(t, 10, idx.Size())
	assert.Equal(t, 10, len(idx.nodes), "compaction drops tombstoned nodes")
}

func TestSweepOlderThan(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t, 3)

	require.NoError(t, idx.Insert(ctx, "old", vec(1, 0, 0), meta(1)))
	cutoff := time.Now()
	require.NoError(t, idx.Insert(ctx, "fresh", vec(0, 1, 0), meta(2)))

	removed, err := idx.SweepOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, idx.Size())

	hits, err := idx.Query(ctx, vec(1, 0, 0), 10)
	require.NoError(t, err)
	assert.NotContains(t, hitIDs(hits), "old")
}

func TestRebuildResetsForNewDimension(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t, 3)

	require.NoError(t, idx.Insert(ctx, "a", vec(1, 0, 0), meta(1)))
	require.NoError(t, idx.Rebuild(ctx, 5))

	assert.Equal(t, 0, idx.Size())
	assert.Equal(t, 5, idx.Dimension())

	err := idx.Insert(ctx, "b", vec(1, 0, 0), meta(1))
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	require.NoError(t, idx.Insert(ctx, "b", vec(1, 0, 0, 0, 0), meta(1)))
}

func TestClosedIndexRejectsOperations(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t, 3)
	require.NoError(t, idx.Close())

	assert.ErrorIs(t, idx.Insert(ctx, "a", vec(1, 0, 0), meta(1)), domain.ErrIndexClosed)
	_, err := idx.Query(ctx, vec(1, 0, 0), 1)
	assert.ErrorIs(t, err, domain.ErrIndexClosed)
}

// The graph search must agree with an exhaustive scan on small sets.
func TestHNSWAgreesWithFlatScan(t *testing.T) {
	ctx := context.Background()
	const dim = 8
	const n = 200

	idx := testIndex(t, dim)
	flat, err := NewFlat(dim, 0)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42)) //nolint:gosec // test data
	for i := 0; i < n; i++ {
		v := make([]float32, dim)
		for d := range v {
			v[d] = rng.Float32()*2 - 1
		}
		id := fmt.Sprintf("c-%d", i)
		require.NoError(t, idx.Insert(ctx, id, v, meta(i%7)))
		require.NoError(t, flat.Insert(ctx, id, v, meta(i%7)))
	}

	query := make([]float32, dim)
	for d := range query {
		query[d] = rng.Float32()*2 - 1
	}

	wantHits, err := flat.Query(ctx, query, 10)
	require.NoError(t, err)
	gotHits, err := idx.Query(ctx, query, 10)
	require.NoError(t, err)
	require.Len(t, gotHits, 10)

	// HNSW is approximate; require strong overlap with the exact top 10
	// rather than identity.
	want := map[string]bool{}
	for _, h := range wantHits {
		want[h.ChunkID] = true
	}
	overlap := 0
	for _, h := range gotHits {
		if want[h.ChunkID] {
			overlap++
		}
	}
	assert.GreaterOrEqual(t, overlap, 8, "graph search diverged from exact scan")
}

func TestSimilarityHelpers(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity(vec(2, 0), vec(4, 0)), 1e-6)
	assert.InDelta(t, 0.0, Similarity(vec(1, 0), vec(0, 1)), 1e-6)
	assert.Zero(t, Similarity(vec(1, 0), vec(1, 0, 0)), "mismatched lengths score zero")

	scores := SimilarityBatch(vec(1, 0), [][]float32{vec(1, 0), vec(0, 1), vec(-1, 0)})
	require.Len(t, scores, 3)
	assert.InDelta(t, 1.0, scores[0], 1e-6)
	assert.InDelta(t, 0.0, scores[1], 1e-6)
	assert.InDelta(t, -1.0, scores[2], 1e-6)
}

func hitIDs(hits []driven.VectorHit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	return ids
}

func TestPersistLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := New(Config{Dimension: 3, Path: path})
	require.NoError(t, err)

	require.NoError(t, idx.Insert(ctx, "a", vec(1, 0, 0), meta(1)))
	require.NoError(t, idx.Insert(ctx, "b", vec(0, 1, 0), meta(2)))
	require.NoError(t, idx.Persist(ctx))
	require.NoError(t, idx.Close())

	reloaded, err := New(Config{Dimension: 3, Path: path})
	require.NoError(t, err)
	require.NoError(t, reloaded.Load(ctx))

	assert.Equal(t, 2, reloaded.Size())
	hits, err := reloaded.Query(ctx, vec(1, 0, 0), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.Equal(t, 1, hits[0].Meta.TabID, "metadata must survive the round trip")
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := New(Config{Dimension: 3, Path: path})
	require.NoError(t, err)

	require.NoError(t, idx.Load(context.Background()))
	assert.Equal(t, 0, idx.Size())
}

func TestLoadCorruptSnapshotStartsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := New(Config{Dimension: 3, Path: path})
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, "a", vec(1, 0, 0), meta(1)))
	require.NoError(t, idx.Persist(ctx))
	require.NoError(t, idx.Close())

	corruptEntry(t, path, "a")

	reloaded, err := New(Config{Dimension: 3, Path: path})
	require.NoError(t, err)
	require.NoError(t, reloaded.Load(ctx), "corruption must not fail the host")
	assert.Equal(t, 0, reloaded.Size(), "corrupt snapshot rebuilds empty")
}

func TestLoadDimensionChangeStartsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := New(Config{Dimension: 3, Path: path})
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, "a", vec(1, 0, 0), meta(1)))
	require.NoError(t, idx.Persist(ctx))
	require.NoError(t, idx.Close())

	reloaded, err := New(Config{Dimension: 8, Path: path})
	require.NoError(t, err)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, 0, reloaded.Size(), "snapshot from another dimension is discarded")
}
