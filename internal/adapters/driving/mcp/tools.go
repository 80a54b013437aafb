package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

// SearchInput is the input schema for the tab search tool.
type SearchInput struct {
	Query       string `json:"query" jsonschema:"natural language query describing the tab content to find"`
	MaxTabs     int    `json:"max_tabs,omitempty" jsonschema:"maximum number of distinct tabs to return (default 5)"`
	MaxSnippets int    `json:"max_snippets,omitempty" jsonschema:"maximum snippets per tab (1-3, default 3)"`
}

// SearchOutput is the output schema for the tab search tool.
type SearchOutput struct {
	MatchedTabs       []TabMatchOutput `json:"matched_tabs"`
	TotalTabsSearched int              `json:"total_tabs_searched"`
	Status            string           `json:"status"`
	StatusDetail      string           `json:"status_detail,omitempty"`
	IndexStats        StatsOutput      `json:"index_stats"`
}

// TabMatchOutput represents one matched tab.
type TabMatchOutput struct {
	TabID    int             `json:"tab_id"`
	URL      string          `json:"url"`
	Title    string          `json:"title"`
	Score    float64         `json:"score"`
	Snippets []SnippetOutput `json:"snippets"`
}

// SnippetOutput is one matching chunk presented with its score.
type SnippetOutput struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// StatsOutput is the index statistics schema shared by search and stats tools.
type StatsOutput struct {
	IndexedTabs int    `json:"indexed_tabs"`
	TotalTabs   int    `json:"total_tabs"`
	TotalChunks int    `json:"total_chunks"`
	IndexSize   int    `json:"index_size"`
	EngineReady bool   `json:"engine_ready"`
	EngineState string `json:"engine_state,omitempty"`
}

// ClearInput is the input schema for the index clear tool.
type ClearInput struct {
	Confirm bool `json:"confirm" jsonschema:"must be true to clear all indexed data"`
}

// ClearOutput is the output schema for the index clear tool.
type ClearOutput struct {
	Cleared bool `json:"cleared"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_tabs_content",
		Description: "Semantically search the content of the user's open browser tabs",
	}, s.handleSearchTabs)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_index_stats",
		Description: "Report how many tabs and chunks are indexed and whether the embedding engine is ready",
	}, s.handleIndexStats)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "clear_indexes",
		Description: "Remove all indexed tab content; tabs re-index on their next content update",
	}, s.handleClearIndexes)
}

// handleSearchTabs handles the tab search tool invocation.
func (s *Server) handleSearchTabs(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	opts := domain.SearchOptions{
		MaxTabs:     input.MaxTabs,
		MaxSnippets: input.MaxSnippets,
	}
	resp, err := s.ports.Search.SearchTabs(ctx, input.Query, opts)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		MatchedTabs:       make([]TabMatchOutput, len(resp.Matches)),
		TotalTabsSearched: resp.TotalTabsSearched,
		Status:            string(resp.Status),
		StatusDetail:      resp.StatusDetail,
		IndexStats:        s.statsOutput(resp.IndexStats),
	}
	for i, m := range resp.Matches {
		snippets := make([]SnippetOutput, len(m.Snippets))
		for j, sn := range m.Snippets {
			snippets[j] = SnippetOutput{Text: sn.Text, Score: sn.Score}
		}
		output.MatchedTabs[i] = TabMatchOutput{
			TabID:    m.TabID,
			URL:      m.URL,
			Title:    m.Title,
			Score:    m.Score,
			Snippets: snippets,
		}
	}

	return nil, output, nil
}

// handleIndexStats handles the stats tool invocation.
func (s *Server) handleIndexStats(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ struct{},
) (*mcp.CallToolResult, StatsOutput, error) {
	stats, err := s.ports.Admin.Stats(ctx)
	if err != nil {
		return nil, StatsOutput{}, err
	}
	return nil, s.statsOutput(stats), nil
}

// handleClearIndexes handles the index clear tool invocation.
func (s *Server) handleClearIndexes(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ClearInput,
) (*mcp.CallToolResult, ClearOutput, error) {
	if !input.Confirm {
		return nil, ClearOutput{Cleared: false}, nil
	}
	if err := s.ports.Admin.ClearAll(ctx); err != nil {
		return nil, ClearOutput{}, err
	}
	return nil, ClearOutput{Cleared: true}, nil
}

func (s *Server) statsOutput(stats domain.IndexStats) StatsOutput {
	out := StatsOutput{
		IndexedTabs: stats.IndexedTabs,
		TotalTabs:   stats.TotalTabs,
		TotalChunks: stats.TotalChunks,
		IndexSize:   stats.IndexSize,
		EngineReady: stats.EngineReady,
	}
	if s.ports.Engine != nil {
		out.EngineState = string(s.ports.Engine.Status().State)
	}
	return out
}
