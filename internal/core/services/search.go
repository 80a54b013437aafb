package services

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/tablens/tablens-cli/internal/core/domain"
	"github.com/tablens/tablens-cli/internal/core/ports/driven"
	"github.com/tablens/tablens-cli/internal/core/ports/driving"
	"github.com/tablens/tablens-cli/internal/logger"
)

const (
	defaultMaxTabs     = 5
	defaultMaxSnippets = 3
	maxSnippetChars    = 200

	// Tabs hold several chunks each, so the index is queried for a
	// multiple of the requested tab count before deduplication.
	oversampleFactor = 4
)

// queryEmbedder is the slice of the semantic engine search needs.
type queryEmbedder interface {
	Ready() bool
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchOrchestrator answers semantic tab queries: embed the query, pull
// candidate chunks from the vector index, deduplicate per tab and hydrate
// snippets from the chunk store.
type SearchOrchestrator struct {
	embedder queryEmbedder
	index    driven.VectorIndex
	chunks   driven.ChunkStore
	admin    driving.IndexerAdmin
}

var _ driving.SearchService = (*SearchOrchestrator)(nil)

// NewSearchOrchestrator wires a search service.
func NewSearchOrchestrator(
	embedder queryEmbedder,
	index driven.VectorIndex,
	chunks driven.ChunkStore,
	admin driving.IndexerAdmin,
) *SearchOrchestrator {
	return &SearchOrchestrator{
		embedder: embedder,
		index:    index,
		chunks:   chunks,
		admin:    admin,
	}
}

// SearchTabs implements driving.SearchService. Failures after validation
// degrade the response status instead of failing the call.
func (s *SearchOrchestrator) SearchTabs(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	maxTabs := opts.MaxTabs
	if maxTabs <= 0 {
		maxTabs = defaultMaxTabs
	}
	maxSnippets := opts.MaxSnippets
	if maxSnippets <= 0 || maxSnippets > defaultMaxSnippets {
		maxSnippets = defaultMaxSnippets
	}

	resp := &domain.SearchResponse{Status: domain.SearchOK}
	if stats, err := s.admin.Stats(ctx); err == nil {
		resp.IndexStats = stats
		resp.TotalTabsSearched = stats.TotalTabs
	} else {
		logger.Warn("search: stats unavailable: %v", err)
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return resp, nil
	}

	if !s.embedder.Ready() {
		resp.Status = domain.SearchUnavailable
		resp.StatusDetail = "embedding engine not ready"
		return resp, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, domain.ErrEngineNotReady) {
			resp.Status = domain.SearchUnavailable
			resp.StatusDetail = "embedding engine not ready"
			return resp, nil
		}
		resp.Status = domain.SearchDegraded
		resp.StatusDetail = "embedding query failed: " + err.Error()
		return resp, nil
	}

	hits, err := s.index.Query(ctx, vec, maxTabs*oversampleFactor)
	if err != nil {
		resp.Status = domain.SearchDegraded
		resp.StatusDetail = "vector query failed: " + err.Error()
		return resp, nil
	}

	resp.Matches = s.groupByTab(ctx, hits, maxTabs, maxSnippets)
	return resp, nil
}

// groupByTab collapses chunk hits into per-tab matches. Hits arrive ordered
// by descending similarity, so the first hit seen for a tab is its best.
func (s *SearchOrchestrator) groupByTab(ctx context.Context, hits []driven.VectorHit, maxTabs, maxSnippets int) []domain.TabMatch {
	byTab := make(map[int]*domain.TabMatch)
	var order []int
	for _, hit := range hits {
		m, ok := byTab[hit.Meta.TabID]
		if !ok {
			byTab[hit.Meta.TabID] = &domain.TabMatch{
				TabID: hit.Meta.TabID,
				URL:   hit.Meta.URL,
				Title: hit.Meta.Title,
				Score: hit.Similarity,
			}
			order = append(order, hit.Meta.TabID)
			m = byTab[hit.Meta.TabID]
		}
		if len(m.Snippets) >= maxSnippets {
			continue
		}
		text, ok := s.snippetText(ctx, hit)
		if !ok {
			continue
		}
		m.Snippets = append(m.Snippets, domain.Snippet{Text: text, Score: hit.Similarity})
	}

	matches := make([]domain.TabMatch, 0, len(order))
	for _, tabID := range order {
		m := byTab[tabID]
		if len(m.Snippets) == 0 {
			continue
		}
		matches = append(matches, *m)
	}
	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})
	if len(matches) > maxTabs {
		matches = matches[:maxTabs]
	}
	return matches
}

// snippetText hydrates a hit's display text from the chunk store. A chunk
// deleted between query and hydration is skipped, not an error.
func (s *SearchOrchestrator) snippetText(ctx context.Context, hit driven.VectorHit) (string, bool) {
	chunk, err := s.chunks.GetChunk(ctx, hit.ChunkID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("search: hydrating chunk %s: %v", hit.ChunkID, err)
		}
		return "", false
	}
	return truncateSnippet(chunk.Text, maxSnippetChars), true
}

func truncateSnippet(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
