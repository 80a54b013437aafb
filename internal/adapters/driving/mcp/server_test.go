package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

func validPorts() *Ports {
	return &Ports{
		Search: &mockSearchService{resp: &domain.SearchResponse{Status: domain.SearchOK}},
		Admin:  &mockIndexerAdmin{},
		Engine: &mockEngineControl{},
	}
}

func TestNewServer(t *testing.T) {
	server, err := NewServer(validPorts())
	require.NoError(t, err)
	assert.NotNil(t, server)
}

func TestNewServerRequiresSearch(t *testing.T) {
	ports := validPorts()
	ports.Search = nil
	_, err := NewServer(ports)
	assert.ErrorIs(t, err, ErrMissingSearchService)
}

func TestNewServerRequiresAdmin(t *testing.T) {
	ports := validPorts()
	ports.Admin = nil
	_, err := NewServer(ports)
	assert.ErrorIs(t, err, ErrMissingIndexerAdmin)
}

func TestNewServerEngineOptional(t *testing.T) {
	ports := validPorts()
	ports.Engine = nil
	_, err := NewServer(ports)
	assert.NoError(t, err)
}
