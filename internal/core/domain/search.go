package domain

// SearchOptions configures a tab search.
type SearchOptions struct {
	// MaxTabs is the maximum number of distinct tabs to return.
	MaxTabs int

	// MaxSnippets caps the snippets returned per tab (1-3 by default).
	MaxSnippets int
}

// SearchStatus flags how a search request was served. Failures at query
// time degrade the result rather than failing the tool call.
type SearchStatus string

const (
	// SearchOK means the query ran against the live index.
	SearchOK SearchStatus = "ok"

	// SearchUnavailable means the embedding engine is not ready;
	// no semantic results are possible yet.
	SearchUnavailable SearchStatus = "unavailable"

	// SearchDegraded means the query partially failed and the result
	// set is empty or incomplete.
	SearchDegraded SearchStatus = "degraded"
)

// Snippet is one matching chunk presented with its score.
type Snippet struct {
	// Text is the chunk content, truncated for display.
	Text string `json:"text"`

	// Score is the cosine similarity to the query.
	Score float64 `json:"score"`
}

// TabMatch is one distinct tab in a search result, represented by its
// highest-scoring chunk.
type TabMatch struct {
	TabID int    `json:"tab_id"`
	URL   string `json:"url"`
	Title string `json:"title"`

	// Score is the score of the tab's best matching chunk.
	Score float64 `json:"score"`

	// Snippets are the tab's best matching chunks, ordered by score.
	Snippets []Snippet `json:"snippets"`
}

// SearchResponse is the full answer to a semantic tab search.
type SearchResponse struct {
	Matches           []TabMatch   `json:"matched_tabs"`
	TotalTabsSearched int          `json:"total_tabs_searched"`
	IndexStats        IndexStats   `json:"index_stats"`
	Status            SearchStatus `json:"status"`

	// StatusDetail explains a non-ok status.
	StatusDetail string `json:"status_detail,omitempty"`
}
