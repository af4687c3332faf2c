// Package mem0 provides a memstore client backed by a mem0-compatible REST
// API.
package mem0

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/recollectco/recollect/pkg/memstore"
)

// Config holds configuration for the mem0 client.
type Config struct {
	// URL is the mem0 server URL (e.g., "http://localhost:8765").
	URL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string
}

// Client implements memstore.Client against mem0's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new mem0-backed memstore client.
func NewClient(c Config, logger *zap.Logger) (*Client, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("mem0 URL is required")
	}

	return &Client{
		baseURL: c.URL,
		apiKey:  c.APIKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}, nil
}

type addRequest struct {
	Messages []message      `json:"messages"`
	UserID   string         `json:"user_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type searchRequest struct {
	Query  string   `json:"query"`
	UserID string   `json:"user_id"`
	Limit  int      `json:"limit,omitempty"`
	IDs    []string `json:"memory_ids,omitempty"`
}

type listResponse struct {
	Results []memstore.Summary `json:"results"`
}

type searchResponse struct {
	Results []memstore.Hit `json:"results"`
}

// Add ingests text for the user and returns the reported change events.
func (c *Client) Add(ctx context.Context, text, userID string, metadata map[string]any) (*memstore.AddResponse, error) {
	body := addRequest{
		Messages: []message{{Role: "user", Content: text}},
		UserID:   userID,
		Metadata: metadata,
	}

	var resp memstore.AddResponse
	if err := c.do(ctx, http.MethodPost, "/v1/memories/", body, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("mem0 add",
		zap.String("user_id", userID),
		zap.Int("events", len(resp.Results)),
	)

	return &resp, nil
}

// GetAll returns every memory summary known for the user.
func (c *Client) GetAll(ctx context.Context, userID string) ([]memstore.Summary, error) {
	query := url.Values{"user_id": {userID}}
	path := "/v1/memories/?" + query.Encode()

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Search returns similarity-ranked hits for the query.
func (c *Client) Search(ctx context.Context, userID, query string, limit int, ids []string) ([]memstore.Hit, error) {
	body := searchRequest{
		Query:  query,
		UserID: userID,
		Limit:  limit,
		IDs:    ids,
	}

	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/memories/search/", body, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Delete removes one memory from the index.
func (c *Client) Delete(ctx context.Context, id string) error {
	path := fmt.Sprintf("/v1/memories/%s/", url.PathEscape(id))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Close releases client resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", memstore.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return memstore.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mem0 %s %s returned %d: %s", method, path, resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
