package driving

import (
	"context"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

// SearchService answers semantic queries over indexed tab content.
type SearchService interface {
	// SearchTabs embeds the query, retrieves the most similar chunks and
	// returns at most opts.MaxTabs distinct tabs, each represented by its
	// best-scoring chunk. Query-time failures are reported through
	// SearchResponse.Status, not the error return, so a degraded search
	// never fails the calling tool.
	SearchTabs(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error)
}
