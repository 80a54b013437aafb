package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

func TestChunkStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewChunkStore()

	chunks := []domain.Chunk{
		{ID: "1:1:1", TabID: 1, Text: "second", Position: 1},
		{ID: "1:1:0", TabID: 1, Text: "first", Position: 0},
		{ID: "2:1:0", TabID: 2, Text: "other tab", Position: 0},
	}
	require.NoError(t, store.SaveChunks(ctx, chunks))

	got, err := store.GetChunk(ctx, "1:1:0")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Text)

	byTab, err := store.ListByTab(ctx, 1)
	require.NoError(t, err)
	require.Len(t, byTab, 2)
	assert.Equal(t, "first", byTab[0].Text)
	assert.Equal(t, "second", byTab[1].Text)

	require.NoError(t, store.DeleteByTab(ctx, 1))
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.GetChunk(ctx, "1:1:0")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChunkStoreOverwriteOnConflict(t *testing.T) {
	ctx := context.Background()
	store := NewChunkStore()

	require.NoError(t, store.SaveChunks(ctx, []domain.Chunk{{ID: "1:1:0", TabID: 1, Text: "old"}}))
	require.NoError(t, store.SaveChunks(ctx, []domain.Chunk{{ID: "1:1:0", TabID: 1, Text: "new"}}))

	got, err := store.GetChunk(ctx, "1:1:0")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Text)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTabStateStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewTabStateStore()

	_, err := store.Get(ctx, 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.Save(ctx, domain.TabDocumentState{TabID: 7, State: domain.TabReady}))
	require.NoError(t, store.Save(ctx, domain.TabDocumentState{TabID: 3, State: domain.TabPending}))

	got, err := store.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.TabReady, got.State)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 3, list[0].TabID)

	require.NoError(t, store.Delete(ctx, 7))
	assert.ErrorIs(t, store.Delete(ctx, 7), domain.ErrNotFound)
}

func TestModelConfigStore(t *testing.T) {
	ctx := context.Background()
	store := NewModelConfigStore()

	_, err := store.Get(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cfg := domain.ModelConfig{Preset: "minilm-l6", Variant: domain.VariantQuantized, Dimension: 384}
	require.NoError(t, store.Save(ctx, cfg))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(cfg))
}

func TestModelCacheMetaStoreOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewModelCacheMetaStore()
	now := time.Now()

	require.NoError(t, store.Save(ctx, domain.CacheEntry{ModelURL: "u/new", FetchedAt: now}))
	require.NoError(t, store.Save(ctx, domain.CacheEntry{ModelURL: "u/old", FetchedAt: now.Add(-time.Hour)}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "u/old", list[0].ModelURL)

	require.NoError(t, store.Delete(ctx, "u/old"))
	_, err = store.Get(ctx, "u/old")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
