package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/recollectco/recollect/pkg/memories"
)

var (
	deleteAllToolName    = "delete_all_memories"
	deleteAllDescription = "Delete all memories in the user's memory. If a memory is a file pointer, only the pointer is deleted, not the underlying file."
)

// DeleteAllInput represents the (empty) input arguments for the
// delete_all_memories tool.
type DeleteAllInput struct{}

// handleDeleteAll processes a delete_all_memories request.
func (s *Server) handleDeleteAll(ctx context.Context, _ *mcp.CallToolRequest, _ DeleteAllInput) (*mcp.CallToolResult, memories.DeleteResult, error) {
	caller, errRes := requireCaller(ctx)
	if errRes != nil {
		return errRes, memories.DeleteResult{}, nil
	}

	confirmation, err := s.config.Service.DeleteAll(ctx, caller)
	if err != nil {
		s.config.Logger.Error("delete_all_memories failed",
			zap.String("user_id", caller.UserID),
			zap.Error(err),
		)
		return errorResult("Error deleting memories: " + err.Error()), memories.DeleteResult{}, nil
	}

	result, err := jsonResult(confirmation)
	if err != nil {
		return errorResult("Failed to serialize results: " + err.Error()), memories.DeleteResult{}, nil
	}
	return result, *confirmation, nil
}
