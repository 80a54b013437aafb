package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tablens/tablens-cli/internal/chunker"
	"github.com/tablens/tablens-cli/internal/core/domain"
	"github.com/tablens/tablens-cli/internal/core/ports/driven"
	"github.com/tablens/tablens-cli/internal/core/ports/driving"
	"github.com/tablens/tablens-cli/internal/logger"
)

// batchEmbedder is the slice of the semantic engine the indexer needs.
type batchEmbedder interface {
	Ready() bool
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ActiveModel() domain.ModelConfig
}

// tabGate serialises indexing passes for a single tab and tracks its
// indexing generation. refs counts the holder plus queued waiters; it is
// guarded by the indexer's mutex.
type tabGate struct {
	busy chan struct{}
	gen  uint64
	refs int
}

// ContentIndexer drives the per-tab document lifecycle: chunk, embed,
// replace in the vector index, and keep tab bookkeeping consistent.
// Passes for different tabs run concurrently; passes for the same tab
// are strictly serialised.
type ContentIndexer struct {
	embedder batchEmbedder
	index    driven.VectorIndex
	chunks   driven.ChunkStore
	tabs     driven.TabStateStore
	chunker  *chunker.Chunker

	mu    sync.Mutex
	gates map[int]*tabGate
}

var _ driving.Indexer = (*ContentIndexer)(nil)
var _ driving.IndexerAdmin = (*ContentIndexer)(nil)

// NewContentIndexer wires an indexer over the embedding engine, the vector
// index and the persistence stores.
func NewContentIndexer(
	embedder batchEmbedder,
	index driven.VectorIndex,
	chunks driven.ChunkStore,
	tabs driven.TabStateStore,
	ch *chunker.Chunker,
) *ContentIndexer {
	if ch == nil {
		ch = chunker.New()
	}
	return &ContentIndexer{
		embedder: embedder,
		index:    index,
		chunks:   chunks,
		tabs:     tabs,
		chunker:  ch,
	}
}

// acquireTab blocks until the caller holds the tab's gate or ctx is done.
func (ix *ContentIndexer) acquireTab(ctx context.Context, tabID int) (*tabGate, error) {
	ix.mu.Lock()
	g, ok := ix.gates[tabID]
	if !ok {
		if ix.gates == nil {
			ix.gates = make(map[int]*tabGate)
		}
		g = &tabGate{busy: make(chan struct{}, 1)}
		ix.gates[tabID] = g
	}
	g.refs++
	ix.mu.Unlock()

	select {
	case g.busy <- struct{}{}:
		return g, nil
	case <-ctx.Done():
		ix.mu.Lock()
		g.refs--
		ix.mu.Unlock()
		return nil, ctx.Err()
	}
}

// releaseTab hands the gate back. When drop is set and no other pass is
// holding or queued on the gate, its map entry is pruned so removed tabs
// do not accumulate bookkeeping.
func (ix *ContentIndexer) releaseTab(tabID int, g *tabGate, drop bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	g.refs--
	<-g.busy
	if drop && g.refs == 0 && ix.gates[tabID] == g {
		delete(ix.gates, tabID)
	}
}

// contentHash fingerprints a tab's indexable content. URL and title are
// part of the fingerprint because the title is itself indexed.
func contentHash(content domain.TabContent) string {
	h := sha256.New()
	h.Write([]byte(content.URL))
	h.Write([]byte{0})
	h.Write([]byte(content.Title))
	h.Write([]byte{0})
	h.Write([]byte(content.Text))
	return hex.EncodeToString(h.Sum(nil))
}

// HandleContent runs one indexing pass for a content-update event. Unchanged
// content (same fingerprint as the last successful pass) is skipped. On any
// failure the previously indexed content stays queryable and the tab is
// marked errored for retry on its next event.
func (ix *ContentIndexer) HandleContent(ctx context.Context, content domain.TabContent) error {
	if content.TabID < 0 {
		return fmt.Errorf("%w: invalid tab id %d", domain.ErrInvalidInput, content.TabID)
	}

	g, err := ix.acquireTab(ctx, content.TabID)
	if err != nil {
		return err
	}
	defer ix.releaseTab(content.TabID, g, false)

	hash := contentHash(content)
	prev, err := ix.tabs.Get(ctx, content.TabID)
	if err == nil && prev.State == domain.TabReady && prev.ContentHash == hash {
		logger.Debug("indexer: tab %d unchanged, skipping", content.TabID)
		return nil
	}

	g.gen++
	if err := ix.tabs.Save(ctx, domain.TabDocumentState{
		TabID:     content.TabID,
		URL:       content.URL,
		Title:     content.Title,
		State:     domain.TabPending,
		UpdatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("marking tab %d pending: %w", content.TabID, err)
	}

	newChunks := ix.buildChunks(content, g.gen)
	if len(newChunks) == 0 {
		// Nothing indexable; drop whatever the tab had before.
		return ix.removeTab(ctx, content.TabID)
	}

	texts := make([]string, len(newChunks))
	for i, c := range newChunks {
		texts[i] = c.Text
	}
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		ix.markError(ctx, content, fmt.Sprintf("embedding: %v", err))
		return fmt.Errorf("embedding tab %d: %w", content.TabID, err)
	}

	// Old entries come out only after embedding succeeded, so a failed
	// pass never leaves the tab half-indexed.
	if _, err := ix.index.RemoveWhere(ctx, func(m domain.ChunkMeta) bool {
		return m.TabID == content.TabID
	}); err != nil {
		ix.markError(ctx, content, fmt.Sprintf("removing stale vectors: %v", err))
		return fmt.Errorf("removing stale vectors for tab %d: %w", content.TabID, err)
	}
	if err := ix.chunks.DeleteByTab(ctx, content.TabID); err != nil {
		ix.markError(ctx, content, fmt.Sprintf("removing stale chunks: %v", err))
		return fmt.Errorf("removing stale chunks for tab %d: %w", content.TabID, err)
	}

	chunkIDs := make([]string, len(newChunks))
	for i := range newChunks {
		newChunks[i].Embedding = vecs[i]
		chunkIDs[i] = newChunks[i].ID
		meta := domain.ChunkMeta{
			TabID:       newChunks[i].TabID,
			URL:         newChunks[i].URL,
			Title:       newChunks[i].Title,
			SourceField: newChunks[i].SourceField,
			Position:    newChunks[i].Position,
		}
		if err := ix.index.Insert(ctx, newChunks[i].ID, vecs[i], meta); err != nil {
			// Roll the tab back to empty rather than exposing a partial set.
			if _, rbErr := ix.index.RemoveWhere(ctx, func(m domain.ChunkMeta) bool { return m.TabID == content.TabID }); rbErr != nil {
				logger.Warn("rolling back partial vectors for tab %d: %v", content.TabID, rbErr)
			}
			ix.markError(ctx, content, fmt.Sprintf("inserting vectors: %v", err))
			return fmt.Errorf("inserting vectors for tab %d: %w", content.TabID, err)
		}
	}

	if err := ix.chunks.SaveChunks(ctx, newChunks); err != nil {
		ix.markError(ctx, content, fmt.Sprintf("saving chunks: %v", err))
		return fmt.Errorf("saving chunks for tab %d: %w", content.TabID, err)
	}

	if err := ix.tabs.Save(ctx, domain.TabDocumentState{
		TabID:       content.TabID,
		URL:         content.URL,
		Title:       content.Title,
		ChunkIDs:    chunkIDs,
		ContentHash: hash,
		State:       domain.TabReady,
		UpdatedAt:   time.Now(),
	}); err != nil {
		return fmt.Errorf("marking tab %d ready: %w", content.TabID, err)
	}

	logger.Debug("indexer: tab %d indexed (%d chunks)", content.TabID, len(newChunks))
	return nil
}

// buildChunks cuts a tab's title and body into embeddable chunks with IDs
// unique to this indexing generation. The title, when present, occupies
// position 0.
func (ix *ContentIndexer) buildChunks(content domain.TabContent, gen uint64) []domain.Chunk {
	var out []domain.Chunk
	pos := 0
	if title := strings.TrimSpace(content.Title); title != "" {
		out = append(out, domain.Chunk{
			ID:          domain.ChunkID(content.TabID, gen, pos),
			TabID:       content.TabID,
			URL:         content.URL,
			Title:       content.Title,
			Text:        title,
			SourceField: domain.SourceTitle,
			Position:    pos,
		})
		pos++
	}
	for _, span := range ix.chunker.Chunk(content.Text) {
		out = append(out, domain.Chunk{
			ID:          domain.ChunkID(content.TabID, gen, pos),
			TabID:       content.TabID,
			URL:         content.URL,
			Title:       content.Title,
			Text:        span.Text,
			SourceField: domain.SourceContent,
			Position:    pos,
		})
		pos++
	}
	return out
}

func (ix *ContentIndexer) markError(ctx context.Context, content domain.TabContent, msg string) {
	if err := ix.tabs.Save(ctx, domain.TabDocumentState{
		TabID:     content.TabID,
		URL:       content.URL,
		Title:     content.Title,
		State:     domain.TabError,
		LastError: msg,
		UpdatedAt: time.Now(),
	}); err != nil {
		logger.Warn("indexer: recording error for tab %d: %v", content.TabID, err)
	}
}

// HandleTabRemoved drops everything indexed for a tab. Removing an unknown
// tab is a no-op.
func (ix *ContentIndexer) HandleTabRemoved(ctx context.Context, tabID int) error {
	if tabID < 0 {
		return fmt.Errorf("%w: invalid tab id %d", domain.ErrInvalidInput, tabID)
	}
	g, err := ix.acquireTab(ctx, tabID)
	if err != nil {
		return err
	}
	defer ix.releaseTab(tabID, g, true)
	return ix.removeTab(ctx, tabID)
}

func (ix *ContentIndexer) removeTab(ctx context.Context, tabID int) error {
	removed, err := ix.index.RemoveWhere(ctx, func(m domain.ChunkMeta) bool {
		return m.TabID == tabID
	})
	if err != nil {
		return fmt.Errorf("removing vectors for tab %d: %w", tabID, err)
	}
	if err := ix.chunks.DeleteByTab(ctx, tabID); err != nil {
		return fmt.Errorf("removing chunks for tab %d: %w", tabID, err)
	}
	if err := ix.tabs.Delete(ctx, tabID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("removing state for tab %d: %w", tabID, err)
	}
	logger.Debug("indexer: tab %d removed (%d vectors)", tabID, removed)
	return nil
}

// InvalidateForModel drops all indexed data when the embedding model
// changes. A dimension change additionally rebuilds the index structure.
// Registered with the engine's switch hook.
func (ix *ContentIndexer) InvalidateForModel(ctx context.Context, old, next domain.ModelConfig) error {
	logger.Info("indexer: invalidating index for model change %s -> %s", old.Identity(), next.Identity())
	if next.Dimension != old.Dimension {
		if err := ix.index.Rebuild(ctx, next.Dimension); err != nil {
			return fmt.Errorf("rebuilding index for dimension %d: %w", next.Dimension, err)
		}
	} else {
		if _, err := ix.index.RemoveWhere(ctx, func(domain.ChunkMeta) bool { return true }); err != nil {
			return fmt.Errorf("clearing index: %w", err)
		}
	}
	if err := ix.chunks.Clear(ctx); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}
	if err := ix.tabs.Clear(ctx); err != nil {
		return fmt.Errorf("clearing tab state: %w", err)
	}
	return nil
}

// ClearAll wipes every indexed tab, chunk and vector.
func (ix *ContentIndexer) ClearAll(ctx context.Context) error {
	if _, err := ix.index.RemoveWhere(ctx, func(domain.ChunkMeta) bool { return true }); err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}
	if err := ix.chunks.Clear(ctx); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}
	if err := ix.tabs.Clear(ctx); err != nil {
		return fmt.Errorf("clearing tab state: %w", err)
	}
	logger.Info("indexer: all indexes cleared")
	return nil
}

// Stats summarises the current index contents.
func (ix *ContentIndexer) Stats(ctx context.Context) (domain.IndexStats, error) {
	states, err := ix.tabs.List(ctx)
	if err != nil {
		return domain.IndexStats{}, fmt.Errorf("listing tab states: %w", err)
	}
	indexed := 0
	for _, s := range states {
		if s.State == domain.TabReady {
			indexed++
		}
	}
	total, err := ix.chunks.Count(ctx)
	if err != nil {
		return domain.IndexStats{}, fmt.Errorf("counting chunks: %w", err)
	}
	return domain.IndexStats{
		IndexedTabs: indexed,
		TotalTabs:   len(states),
		TotalChunks: total,
		IndexSize:   ix.index.Size(),
		EngineReady: ix.embedder.Ready(),
	}, nil
}

// ListTabs returns the bookkeeping state of every tracked tab.
func (ix *ContentIndexer) ListTabs(ctx context.Context) ([]domain.TabDocumentState, error) {
	return ix.tabs.List(ctx)
}

// TabChunks returns a tab's stored chunks ordered by position.
func (ix *ContentIndexer) TabChunks(ctx context.Context, tabID int) ([]domain.Chunk, error) {
	return ix.chunks.ListByTab(ctx, tabID)
}
