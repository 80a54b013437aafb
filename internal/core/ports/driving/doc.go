// Package driving provides interfaces exposed to external actors
// (primary/inbound ports): the MCP server, the CLI and tests.
package driving
