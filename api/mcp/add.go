package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/recollectco/recollect/pkg/memstore"
)

var (
	addToolName    = "add_memories"
	addDescription = "Add a new memory. If text is large or original_filename is provided, it might be stored as a file pointer."
)

// AddInput represents the input arguments for the add_memories tool.
type AddInput struct {
	Text             string `json:"text" jsonschema:"the memory text to store"`
	OriginalFilename string `json:"original_filename,omitempty" jsonschema:"optional original filename; forces file-pointer storage"`
}

// AddOutput is the raw ingestion response from the memory store.
type AddOutput struct {
	Results []memstore.Event `json:"results"`
}

// handleAdd processes an add_memories request.
func (s *Server) handleAdd(ctx context.Context, _ *mcp.CallToolRequest, input AddInput) (*mcp.CallToolResult, AddOutput, error) {
	caller, errRes := requireCaller(ctx)
	if errRes != nil {
		return errRes, AddOutput{}, nil
	}

	response, err := s.config.Service.Add(ctx, caller, input.Text, input.OriginalFilename)
	if err != nil {
		s.config.Logger.Error("add_memories failed",
			zap.String("user_id", caller.UserID),
			zap.Error(err),
		)
		return errorResult("Error adding memory: " + err.Error()), AddOutput{}, nil
	}

	output := AddOutput{Results: response.Results}
	if output.Results == nil {
		output.Results = []memstore.Event{}
	}

	result, err := jsonResult(output)
	if err != nil {
		return errorResult("Failed to serialize results: " + err.Error()), AddOutput{}, nil
	}
	return result, output, nil
}
