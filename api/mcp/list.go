package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/recollectco/recollect/pkg/memstore"
)

var (
	listToolName    = "list_memories"
	listDescription = "List all memories in the user's memory"
)

// ListInput represents the (empty) input arguments for the list_memories tool.
type ListInput struct{}

// ListOutput represents the output of a memory listing.
type ListOutput struct {
	Results []memstore.Summary `json:"results"`
	Count   int                `json:"count"`
}

// handleList processes a list_memories request.
func (s *Server) handleList(ctx context.Context, _ *mcp.CallToolRequest, _ ListInput) (*mcp.CallToolResult, ListOutput, error) {
	caller, errRes := requireCaller(ctx)
	if errRes != nil {
		return errRes, ListOutput{}, nil
	}

	summaries, err := s.config.Service.List(ctx, caller)
	if err != nil {
		s.config.Logger.Error("list_memories failed",
			zap.String("user_id", caller.UserID),
			zap.Error(err),
		)
		return errorResult("Error getting memories: " + err.Error()), ListOutput{}, nil
	}

	if summaries == nil {
		summaries = []memstore.Summary{}
	}

	output := ListOutput{
		Results: summaries,
		Count:   len(summaries),
	}

	result, err := jsonResult(output)
	if err != nil {
		return errorResult("Failed to serialize results: " + err.Error()), ListOutput{}, nil
	}
	return result, output, nil
}
