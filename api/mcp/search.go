package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/recollectco/recollect/pkg/memstore"
)

var (
	searchToolName    = "search_memory"
	searchDescription = "Search through stored memories. This method is called EVERYTIME the user asks anything."
)

// SearchInput represents the input arguments for the search_memory tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the search query text to find relevant memories"`
}

// SearchOutput represents the output of a memory search.
type SearchOutput struct {
	Query   string         `json:"query"`
	Results []memstore.Hit `json:"results"`
	Count   int            `json:"count"`
}

// handleSearch processes a search_memory request.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	caller, errRes := requireCaller(ctx)
	if errRes != nil {
		return errRes, SearchOutput{}, nil
	}

	s.config.Logger.Debug("MCP search request",
		zap.String("user_id", caller.UserID),
		zap.String("query", input.Query),
	)

	hits, err := s.config.Service.Search(ctx, caller, input.Query)
	if err != nil {
		s.config.Logger.Error("search_memory failed",
			zap.String("user_id", caller.UserID),
			zap.Error(err),
		)
		return errorResult("Error searching memory: " + err.Error()), SearchOutput{}, nil
	}

	if hits == nil {
		hits = []memstore.Hit{}
	}

	output := SearchOutput{
		Query:   input.Query,
		Results: hits,
		Count:   len(hits),
	}

	result, err := jsonResult(output)
	if err != nil {
		return errorResult("Failed to serialize results: " + err.Error()), SearchOutput{}, nil
	}
	return result, output, nil
}
