package mcp

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/recollectco/recollect/pkg/memories"
)

var (
	lastToolName    = "get_last_memory"
	lastDescription = "Fetches the most recently added memory for the user. If it's a file pointer, attempts to return file content."
)

// LastInput represents the (empty) input arguments for the get_last_memory tool.
type LastInput struct{}

// LastOutput wraps the most-recent-memory result.
type LastOutput struct {
	Result  *memories.RecentResult `json:"result,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// handleGetLast processes a get_last_memory request.
func (s *Server) handleGetLast(ctx context.Context, _ *mcp.CallToolRequest, _ LastInput) (*mcp.CallToolResult, LastOutput, error) {
	caller, errRes := requireCaller(ctx)
	if errRes != nil {
		return errRes, LastOutput{}, nil
	}

	recent, err := s.config.Service.GetMostRecent(ctx, caller)
	if err != nil {
		// Empty and fully-filtered memory sets are informational
		// outcomes, not errors.
		if errors.Is(err, memories.ErrNoMemories) || errors.Is(err, memories.ErrNoAccessibleMemories) {
			output := LastOutput{Message: err.Error()}
			result, jsonErr := jsonResult(output)
			if jsonErr != nil {
				return errorResult("Failed to serialize results: " + jsonErr.Error()), LastOutput{}, nil
			}
			return result, output, nil
		}

		s.config.Logger.Error("get_last_memory failed",
			zap.String("user_id", caller.UserID),
			zap.Error(err),
		)
		return errorResult("An unexpected error occurred: " + err.Error()), LastOutput{}, nil
	}

	output := LastOutput{Result: recent}
	result, err := jsonResult(output)
	if err != nil {
		return errorResult("Failed to serialize results: " + err.Error()), LastOutput{}, nil
	}
	return result, output, nil
}
