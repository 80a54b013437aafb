package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// uriScheme is the custom URI scheme for Tablens resources.
	uriScheme = "tablens://"
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	// Static resource for the tracked tab list.
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "tabs",
		Name:        "tabs",
		Description: "Indexing state of every tracked browser tab",
		MIMEType:    "application/json",
	}, s.handleTabsResource)

	// Template for a tab's indexed chunks.
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "tabs/{tabId}/chunks",
		Name:        "tab-chunks",
		Description: "Indexed text chunks for a specific tab",
		MIMEType:    "application/json",
	}, s.handleTabChunksResource)
}

// handleTabsResource returns the bookkeeping state of all tracked tabs.
func (s *Server) handleTabsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	states, err := s.ports.Admin.ListTabs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tabs: %w", err)
	}

	type tabInfo struct {
		TabID     int    `json:"tab_id"`
		URL       string `json:"url"`
		Title     string `json:"title"`
		State     string `json:"state"`
		Chunks    int    `json:"chunks"`
		LastError string `json:"last_error,omitempty"`
	}

	infos := make([]tabInfo, len(states))
	for i, st := range states {
		infos[i] = tabInfo{
			TabID:     st.TabID,
			URL:       st.URL,
			Title:     st.Title,
			State:     string(st.State),
			Chunks:    len(st.ChunkIDs),
			LastError: st.LastError,
		}
	}

	data, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling tabs: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// handleTabChunksResource returns the indexed chunks for one tab.
func (s *Server) handleTabChunksResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	tabID, ok := extractTabID(req.Params.URI)
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	chunks, err := s.ports.Admin.TabChunks(ctx, tabID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks for tab %d: %w", tabID, err)
	}

	type chunkInfo struct {
		ID          string `json:"id"`
		Position    int    `json:"position"`
		SourceField string `json:"source_field"`
		Text        string `json:"text"`
	}

	infos := make([]chunkInfo, len(chunks))
	for i := range chunks {
		infos[i] = chunkInfo{
			ID:          chunks[i].ID,
			Position:    chunks[i].Position,
			SourceField: string(chunks[i].SourceField),
			Text:        chunks[i].Text,
		}
	}

	data, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling chunks: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractTabID extracts the tab ID from a URI like tablens://tabs/{tabId}/chunks.
func extractTabID(uri string) (int, bool) {
	const prefix = uriScheme + "tabs/"
	const suffix = "/chunks"

	if !strings.HasPrefix(uri, prefix) || !strings.HasSuffix(uri, suffix) {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(uri, prefix), suffix)
	tabID, err := strconv.Atoi(raw)
	if err != nil || tabID < 0 {
		return 0, false
	}
	return tabID, true
}
