package mcp

import (
	"github.com/tablens/tablens-cli/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Search answers semantic tab queries.
	Search driving.SearchService

	// Admin exposes index introspection and reset.
	Admin driving.IndexerAdmin

	// Engine exposes embedding-engine status. Optional; stats fall back
	// to the index snapshot when absent.
	Engine driving.EngineControl
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Search == nil {
		return ErrMissingSearchService
	}
	if p.Admin == nil {
		return ErrMissingIndexerAdmin
	}
	return nil
}
