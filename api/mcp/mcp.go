// Package mcp provides the MCP (Model Context Protocol) server exposing the
// memory tool surface: add, search, list, get-last and delete-all.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/recollectco/recollect/pkg/identity"
	"github.com/recollectco/recollect/pkg/memories"
	"github.com/recollectco/recollect/pkg/utils"
)

type Config struct {
	// Service is the memory query surface backing the tools.
	Service *memories.Service

	// Logger is the configured zap logger
	Logger *zap.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the memory tools.
func NewServer(c Config) (*Server, error) {
	if c.Service == nil {
		return nil, errors.New("memory service is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "recollect",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        addToolName,
		Description: addDescription,
	}, s.handleAdd)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        searchToolName,
		Description: searchDescription,
	}, s.handleSearch)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        listToolName,
		Description: listDescription,
	}, s.handleList)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        lastToolName,
		Description: lastDescription,
	}, s.handleGetLast)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        deleteAllToolName,
		Description: deleteAllDescription,
	}, s.handleDeleteAll)

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

type callerKey struct{}

// WithCaller binds the per-request identity pair into the context before the
// MCP handler runs. Tool handlers read it back with callerFromContext; the
// identity is never stored outside the request's context.
func WithCaller(ctx context.Context, c identity.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func callerFromContext(ctx context.Context) identity.Caller {
	c, _ := ctx.Value(callerKey{}).(identity.Caller)
	return c
}

// jsonResult serializes v as indented JSON into a TextContent block.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(raw)},
		},
	}, nil
}

// errorPayload is the structured error shape returned to callers. Tool
// failures are terminal for the caller, so they are reported as payloads
// rather than protocol errors.
type errorPayload struct {
	Error string `json:"error"`
}

func errorResult(msg string) *mcp.CallToolResult {
	raw, err := json.MarshalIndent(errorPayload{Error: msg}, "", "  ")
	if err != nil {
		raw = []byte(`{"error": "internal serialization failure"}`)
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(raw)},
		},
	}
}

// requireCaller validates that the transport bound a complete identity pair
// to this invocation.
func requireCaller(ctx context.Context) (identity.Caller, *mcp.CallToolResult) {
	caller := callerFromContext(ctx)
	if caller.UserID == "" {
		return caller, errorResult(identity.ErrMissingUserID.Error())
	}
	if caller.ClientName == "" {
		return caller, errorResult(identity.ErrMissingClientName.Error())
	}
	return caller, nil
}
