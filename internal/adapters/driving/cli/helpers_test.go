package cli

import (
	"context"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

// stubSearchService returns canned search responses.
type stubSearchService struct {
	resp *domain.SearchResponse
	err  error

	gotQuery string
	gotOpts  domain.SearchOptions
}

func (s *stubSearchService) SearchTabs(
	_ context.Context,
	query string,
	opts domain.SearchOptions,
) (*domain.SearchResponse, error) {
	s.gotQuery = query
	s.gotOpts = opts
	if s.resp == nil {
		return &domain.SearchResponse{Status: domain.SearchOK}, s.err
	}
	return s.resp, s.err
}

// stubIndexerAdmin returns canned admin data.
type stubIndexerAdmin struct {
	stats  domain.IndexStats
	states []domain.TabDocumentState
	err    error

	cleared bool
}

func (s *stubIndexerAdmin) Stats(_ context.Context) (domain.IndexStats, error) {
	return s.stats, s.err
}

func (s *stubIndexerAdmin) ListTabs(_ context.Context) ([]domain.TabDocumentState, error) {
	return s.states, s.err
}

func (s *stubIndexerAdmin) TabChunks(_ context.Context, _ int) ([]domain.Chunk, error) {
	return nil, s.err
}

func (s *stubIndexerAdmin) ClearAll(_ context.Context) error {
	if s.err != nil {
		return s.err
	}
	s.cleared = true
	return nil
}

// stubEngineControl returns a fixed status.
type stubEngineControl struct {
	status domain.EngineStatus
	err    error

	initialized bool
	switched    bool
}

func (s *stubEngineControl) Status() domain.EngineStatus {
	return s.status
}

func (s *stubEngineControl) Initialize(_ context.Context, _ domain.ModelConfig) error {
	if s.err == nil {
		s.initialized = true
	}
	return s.err
}

func (s *stubEngineControl) SwitchModel(_ context.Context, _ domain.ModelConfig) error {
	if s.err == nil {
		s.switched = true
	}
	return s.err
}

// setupTestServices installs stub services and returns a cleanup that
// restores the previous wiring.
func setupTestServices() (search *stubSearchService, admin *stubIndexerAdmin, engine *stubEngineControl, cleanup func()) {
	prevSearch, prevAdmin, prevEngine := searchService, indexerAdmin, engineControl

	search = &stubSearchService{}
	admin = &stubIndexerAdmin{}
	engine = &stubEngineControl{status: domain.EngineStatus{State: domain.EngineReady}}

	searchService = search
	indexerAdmin = admin
	engineControl = engine

	return search, admin, engine, func() {
		searchService = prevSearch
		indexerAdmin = prevAdmin
		engineControl = prevEngine
	}
}
