package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablens/tablens-cli/internal/adapters/driven/storage/memory"
	"github.com/tablens/tablens-cli/internal/adapters/driven/vector/hnsw"
	"github.com/tablens/tablens-cli/internal/chunker"
	"github.com/tablens/tablens-cli/internal/core/domain"
)

type searchFixture struct {
	search   *SearchOrchestrator
	indexer  *ContentIndexer
	embedder *fakeEmbedder
	index    *hnsw.Flat
	chunks   *memory.ChunkStore
}

func newSearchFixture(t *testing.T) *searchFixture {
	t.Helper()
	index, err := hnsw.NewFlat(testDims, 1000)
	require.NoError(t, err)
	embedder := newFakeEmbedder()
	chunks := memory.NewChunkStore()
	tabs := memory.NewTabStateStore()
	indexer := NewContentIndexer(embedder, index, chunks, tabs,
		chunker.New(chunker.WithMaxChars(120), chunker.WithOverlapChars(20)))
	return &searchFixture{
		search:   NewSearchOrchestrator(embedder, index, chunks, indexer),
		indexer:  indexer,
		embedder: embedder,
		index:    index,
		chunks:   chunks,
	}
}

func (f *searchFixture) indexTab(t *testing.T, tabID int, title, text string) {
	t.Helper()
	require.NoError(t, f.indexer.HandleContent(context.Background(), domain.TabContent{
		TabID: tabID,
		URL:   "https://example.com/" + title,
		Title: title,
		Text:  text,
	}))
}

func TestSearchFindsIndexedTab(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	f.indexTab(t, 1, "Gardening", "tomato plants need regular watering")
	f.indexTab(t, 2, "Finance", "quarterly earnings beat expectations")

	// The fake embedder hashes text, so search with an exact indexed chunk
	// text to guarantee the similarity ranking.
	resp, err := f.search.SearchTabs(ctx, "tomato plants need regular watering", domain.SearchOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.SearchOK, resp.Status)
	require.NotEmpty(t, resp.Matches)
	assert.Equal(t, 1, resp.Matches[0].TabID)
	assert.Equal(t, "Gardening", resp.Matches[0].Title)
	assert.Equal(t, 2, resp.TotalTabsSearched)
	require.NotEmpty(t, resp.Matches[0].Snippets)
	assert.InDelta(t, 1.0, resp.Matches[0].Score, 1e-5)
}

func TestSearchDeduplicatesPerTab(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	// Enough text for several chunks in one tab.
	f.indexTab(t, 1, "Long page", strings.Repeat("sentence about bees. ", 40))
	f.indexTab(t, 2, "Other", "unrelated text")

	resp, err := f.search.SearchTabs(ctx, "sentence about bees.", domain.SearchOptions{MaxTabs: 10})
	require.NoError(t, err)

	seen := map[int]bool{}
	for _, m := range resp.Matches {
		assert.False(t, seen[m.TabID], "tab %d returned twice", m.TabID)
		seen[m.TabID] = true
	}
}

func TestSearchCapsSnippetsPerTab(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	f.indexTab(t, 1, "Long page", strings.Repeat("repeated filler sentence here. ", 60))

	resp, err := f.search.SearchTabs(ctx, "repeated filler sentence here.", domain.SearchOptions{MaxTabs: 1})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Matches)
	assert.LessOrEqual(t, len(resp.Matches[0].Snippets), 3)
}

func TestSearchTruncatesSnippets(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	// A long title stays one chunk, so its snippet must be truncated.
	long := strings.Repeat("x", 400)
	f.indexTab(t, 1, long, "")

	resp, err := f.search.SearchTabs(ctx, long, domain.SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Matches)
	require.NotEmpty(t, resp.Matches[0].Snippets)
	got := resp.Matches[0].Snippets[0].Text
	assert.Len(t, []rune(got), maxSnippetChars+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestSearchEmptyQueryReturnsNoMatches(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	f.indexTab(t, 1, "Title", "content")

	for _, q := range []string{"", "   ", "\n\t"} {
		resp, err := f.search.SearchTabs(ctx, q, domain.SearchOptions{})
		require.NoError(t, err)
		assert.Equal(t, domain.SearchOK, resp.Status)
		assert.Empty(t, resp.Matches)
		assert.Equal(t, 1, resp.IndexStats.TotalTabs)
	}
}

func TestSearchEngineNotReadyIsUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	f.indexTab(t, 1, "Title", "content")

	f.embedder.mu.Lock()
	f.embedder.ready = false
	f.embedder.mu.Unlock()

	resp, err := f.search.SearchTabs(ctx, "anything", domain.SearchOptions{})
	require.NoError(t, err, "engine unavailability must not fail the call")
	assert.Equal(t, domain.SearchUnavailable, resp.Status)
	assert.Empty(t, resp.Matches)
	assert.NotEmpty(t, resp.StatusDetail)
}

func TestSearchEmbedFailureIsDegraded(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	f.indexTab(t, 1, "Title", "content")

	f.embedder.mu.Lock()
	f.embedder.err = errors.New("runtime fell over")
	f.embedder.mu.Unlock()

	resp, err := f.search.SearchTabs(ctx, "anything", domain.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SearchDegraded, resp.Status)
	assert.Contains(t, resp.StatusDetail, "embedding query failed")
}

func TestSearchSkipsHydrationMisses(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	f.indexTab(t, 1, "Title", "short body")

	// Chunk rows vanish but vectors stay: hydration misses are skipped.
	require.NoError(t, f.chunks.Clear(ctx))

	resp, err := f.search.SearchTabs(ctx, "short body", domain.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SearchOK, resp.Status)
	assert.Empty(t, resp.Matches)
}

func TestSearchHonoursMaxTabs(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	for i := 0; i < 10; i++ {
		f.indexTab(t, i, "Page", "shared content words")
	}

	resp, err := f.search.SearchTabs(ctx, "shared content words", domain.SearchOptions{MaxTabs: 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(resp.Matches), 3)
}

func TestSearchRanksTabsByBestChunk(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	f.indexTab(t, 1, "", "exact match text")
	f.indexTab(t, 2, "", "completely different content")

	resp, err := f.search.SearchTabs(ctx, "exact match text", domain.SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Matches)
	assert.Equal(t, 1, resp.Matches[0].TabID)
	for i := 1; i < len(resp.Matches); i++ {
		assert.GreaterOrEqual(t, resp.Matches[i-1].Score, resp.Matches[i].Score)
	}
}
