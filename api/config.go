// Package api provides an HTTP API server for inspecting and managing the
// memory ledger: memories, their state history, access logs, apps, and
// access rules. It also mounts the MCP endpoint that tool-calling clients
// connect to.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string
}
