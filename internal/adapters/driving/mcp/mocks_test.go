package mcp

import (
	"context"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

// mockSearchService is a mock implementation of driving.SearchService.
type mockSearchService struct {
	resp *domain.SearchResponse
	err  error

	gotQuery string
	gotOpts  domain.SearchOptions
}

func (m *mockSearchService) SearchTabs(
	_ context.Context,
	query string,
	opts domain.SearchOptions,
) (*domain.SearchResponse, error) {
	m.gotQuery = query
	m.gotOpts = opts
	return m.resp, m.err
}

// mockIndexerAdmin is a mock implementation of driving.IndexerAdmin.
type mockIndexerAdmin struct {
	stats  domain.IndexStats
	states []domain.TabDocumentState
	chunks []domain.Chunk
	err    error

	cleared bool
}

func (m *mockIndexerAdmin) Stats(_ context.Context) (domain.IndexStats, error) {
	return m.stats, m.err
}

func (m *mockIndexerAdmin) ListTabs(_ context.Context) ([]domain.TabDocumentState, error) {
	return m.states, m.err
}

func (m *mockIndexerAdmin) TabChunks(_ context.Context, _ int) ([]domain.Chunk, error) {
	return m.chunks, m.err
}

func (m *mockIndexerAdmin) ClearAll(_ context.Context) error {
	if m.err != nil {
		return m.err
	}
	m.cleared = true
	return nil
}

// mockEngineControl is a mock implementation of driving.EngineControl.
type mockEngineControl struct {
	status domain.EngineStatus
	err    error
}

func (m *mockEngineControl) Status() domain.EngineStatus {
	return m.status
}

func (m *mockEngineControl) Initialize(_ context.Context, _ domain.ModelConfig) error {
	return m.err
}

func (m *mockEngineControl) SwitchModel(_ context.Context, _ domain.ModelConfig) error {
	return m.err
}
