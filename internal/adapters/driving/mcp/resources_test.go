package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

func readRequest(uri string) *sdkmcp.ReadResourceRequest {
	return &sdkmcp.ReadResourceRequest{
		Params: &sdkmcp.ReadResourceParams{URI: uri},
	}
}

func TestHandleTabsResource(t *testing.T) {
	admin := &mockIndexerAdmin{states: []domain.TabDocumentState{
		{
			TabID:    1,
			URL:      "https://example.com/a",
			Title:    "First",
			State:    domain.TabReady,
			ChunkIDs: []string{"1:1:0", "1:1:1"},
		},
		{
			TabID:     2,
			URL:       "https://example.com/b",
			Title:     "Second",
			State:     domain.TabError,
			LastError: "embedding failed",
		},
	}}
	server, err := NewServer(&Ports{Search: &mockSearchService{}, Admin: admin})
	require.NoError(t, err)

	result, err := server.handleTabsResource(context.Background(), readRequest(uriScheme+"tabs"))
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, uriScheme+"tabs", result.Contents[0].URI)
	assert.Equal(t, "application/json", result.Contents[0].MIMEType)

	var infos []map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, float64(1), infos[0]["tab_id"])
	assert.Equal(t, "ready", infos[0]["state"])
	assert.Equal(t, float64(2), infos[0]["chunks"])
	assert.NotContains(t, infos[0], "last_error")
	assert.Equal(t, "error", infos[1]["state"])
	assert.Equal(t, "embedding failed", infos[1]["last_error"])
}

func TestHandleTabsResourceError(t *testing.T) {
	admin := &mockIndexerAdmin{err: errors.New("store down")}
	server, err := NewServer(&Ports{Search: &mockSearchService{}, Admin: admin})
	require.NoError(t, err)

	_, err = server.handleTabsResource(context.Background(), readRequest(uriScheme+"tabs"))
	assert.Error(t, err)
}

func TestHandleTabChunksResource(t *testing.T) {
	admin := &mockIndexerAdmin{chunks: []domain.Chunk{
		{ID: "7:2:0", TabID: 7, Position: 0, SourceField: domain.SourceTitle, Text: "Pasta Recipe"},
		{ID: "7:2:1", TabID: 7, Position: 1, SourceField: domain.SourceContent, Text: "boil for nine minutes"},
	}}
	server, err := NewServer(&Ports{Search: &mockSearchService{}, Admin: admin})
	require.NoError(t, err)

	result, err := server.handleTabChunksResource(context.Background(),
		readRequest(uriScheme+"tabs/7/chunks"))
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)

	var infos []map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "7:2:0", infos[0]["id"])
	assert.Equal(t, "title", infos[0]["source_field"])
	assert.Equal(t, "boil for nine minutes", infos[1]["text"])
}

func TestHandleTabChunksResourceBadURI(t *testing.T) {
	server, err := NewServer(&Ports{Search: &mockSearchService{}, Admin: &mockIndexerAdmin{}})
	require.NoError(t, err)

	_, err = server.handleTabChunksResource(context.Background(),
		readRequest(uriScheme+"tabs/abc/chunks"))
	assert.Error(t, err)
}

func TestExtractTabID(t *testing.T) {
	tests := []struct {
		name   string
		uri    string
		wantID int
		wantOK bool
	}{
		{"valid", uriScheme + "tabs/42/chunks", 42, true},
		{"zero", uriScheme + "tabs/0/chunks", 0, true},
		{"non-numeric", uriScheme + "tabs/abc/chunks", 0, false},
		{"negative", uriScheme + "tabs/-1/chunks", 0, false},
		{"missing suffix", uriScheme + "tabs/42", 0, false},
		{"wrong scheme", "http://tabs/42/chunks", 0, false},
		{"empty id", uriScheme + "tabs//chunks", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := extractTabID(tt.uri)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}
