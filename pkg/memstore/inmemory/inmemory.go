// Package inmemory provides an in-process memstore client with naive
// token-overlap similarity scoring. It backs local development and tests
// where no external memory service is available.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recollectco/recollect/pkg/memstore"
)

type document struct {
	id        string
	text      string
	metadata  map[string]any
	createdAt time.Time
	updatedAt time.Time
}

// Client is an in-memory memstore.Client. Safe for concurrent use.
type Client struct {
	mu    sync.RWMutex
	users map[string][]*document
}

// NewClient creates an empty in-memory memory store.
func NewClient() *Client {
	return &Client{
		users: make(map[string][]*document),
	}
}

// Add ingests text for the user. Re-adding text that normalizes to an
// existing document reports an UPDATE event for that document's id;
// otherwise a fresh id is assigned and an ADD event reported.
func (c *Client) Add(_ context.Context, text, userID string, metadata map[string]any) (*memstore.AddResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	normalized := normalize(text)

	for _, doc := range c.users[userID] {
		if normalize(doc.text) == normalized {
			doc.text = text
			doc.metadata = metadata
			doc.updatedAt = now
			return &memstore.AddResponse{
				Results: []memstore.Event{
					{ID: doc.id, Memory: doc.text, Kind: memstore.EventUpdate},
				},
			}, nil
		}
	}

	doc := &document{
		id:        uuid.New().String(),
		text:      text,
		metadata:  metadata,
		createdAt: now,
		updatedAt: now,
	}
	c.users[userID] = append(c.users[userID], doc)

	return &memstore.AddResponse{
		Results: []memstore.Event{
			{ID: doc.id, Memory: doc.text, Kind: memstore.EventAdd},
		},
	}, nil
}

// GetAll returns every memory summary for the user, insertion order.
func (c *Client) GetAll(_ context.Context, userID string) ([]memstore.Summary, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	docs := c.users[userID]
	summaries := make([]memstore.Summary, 0, len(docs))
	for _, doc := range docs {
		summaries = append(summaries, c.summary(doc))
	}
	return summaries, nil
}

// Search scores documents by token overlap with the query. A non-nil ids set
// restricts results to those identifiers.
func (c *Client) Search(_ context.Context, userID, query string, limit int, ids []string) ([]memstore.Hit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var allowed map[string]bool
	if ids != nil {
		allowed = make(map[string]bool, len(ids))
		for _, id := range ids {
			allowed[id] = true
		}
	}

	queryTokens := tokenize(query)

	var hits []memstore.Hit
	for _, doc := range c.users[userID] {
		if allowed != nil && !allowed[doc.id] {
			continue
		}
		score := overlap(queryTokens, tokenize(doc.text))
		if score == 0 {
			continue
		}
		hits = append(hits, memstore.Hit{
			Summary: c.summary(doc),
			Score:   score,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Delete removes one memory from the store.
func (c *Client) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, docs := range c.users {
		for i, doc := range docs {
			if doc.id == id {
				c.users[userID] = append(docs[:i], docs[i+1:]...)
				return nil
			}
		}
	}
	return memstore.ErrNotFound
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}

func (c *Client) summary(doc *document) memstore.Summary {
	return memstore.Summary{
		ID:        doc.id,
		Memory:    doc.text,
		CreatedAt: doc.createdAt.Format(time.RFC3339Nano),
		UpdatedAt: doc.updatedAt.Format(time.RFC3339Nano),
		Metadata:  doc.metadata,
	}
}

func normalize(s string) string {
	return strings.Join(tokenize(s), " ")
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func overlap(query, doc []string) float32 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}

	docSet := make(map[string]bool, len(doc))
	for _, tok := range doc {
		docSet[tok] = true
	}

	matched := 0
	for _, tok := range query {
		if docSet[tok] {
			matched++
		}
	}
	return float32(matched) / float32(len(query))
}
