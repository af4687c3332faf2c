package testutils

import (
	"context"
	"errors"

	"github.com/recollectco/recollect/pkg/memstore"
)

// ErrScripted is the failure returned by mock collaborators when a Fail
// switch is set.
var ErrScripted = errors.New("scripted failure")

// MockStoreClient is a test memstore client that records calls and returns
// scripted results.
type MockStoreClient struct {
	// AddResponse is returned by Add when FailAdd is false.
	AddResponse *memstore.AddResponse

	// Summaries is returned by GetAll.
	Summaries []memstore.Summary

	// Hits is returned by Search.
	Hits []memstore.Hit

	// Deleted accumulates ids passed to Delete.
	Deleted []string

	// AddedTexts accumulates text passed to Add.
	AddedTexts []string

	// AddedMetadata accumulates metadata passed to Add.
	AddedMetadata []map[string]any

	// SearchIDs records the restriction set of the last Search call.
	SearchIDs []string

	FailAdd    bool
	FailGetAll bool
	FailSearch bool
	FailDelete bool
}

// NewMockStoreClient creates a mock with an empty scripted response.
func NewMockStoreClient() *MockStoreClient {
	return &MockStoreClient{
		AddResponse: &memstore.AddResponse{},
	}
}

func (m *MockStoreClient) Add(_ context.Context, text, _ string, metadata map[string]any) (*memstore.AddResponse, error) {
	if m.FailAdd {
		return nil, ErrScripted
	}
	m.AddedTexts = append(m.AddedTexts, text)
	m.AddedMetadata = append(m.AddedMetadata, metadata)
	return m.AddResponse, nil
}

func (m *MockStoreClient) GetAll(_ context.Context, _ string) ([]memstore.Summary, error) {
	if m.FailGetAll {
		return nil, ErrScripted
	}
	return m.Summaries, nil
}

func (m *MockStoreClient) Search(_ context.Context, _, _ string, limit int, ids []string) ([]memstore.Hit, error) {
	if m.FailSearch {
		return nil, ErrScripted
	}
	m.SearchIDs = ids
	if limit > 0 && len(m.Hits) > limit {
		return m.Hits[:limit], nil
	}
	return m.Hits, nil
}

func (m *MockStoreClient) Delete(_ context.Context, id string) error {
	if m.FailDelete {
		return ErrScripted
	}
	m.Deleted = append(m.Deleted, id)
	return nil
}

func (m *MockStoreClient) Close() error {
	return nil
}
