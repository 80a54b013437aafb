// Package mcp provides an MCP (Model Context Protocol) server adapter for Tablens.
// It enables AI assistants to search the user's open browser tabs semantically.
package mcp

import "errors"

// ErrMissingSearchService is returned when the search service is not provided.
var ErrMissingSearchService = errors.New("mcp: search service is required")

// ErrMissingIndexerAdmin is returned when the indexer admin port is not provided.
var ErrMissingIndexerAdmin = errors.New("mcp: indexer admin is required")
