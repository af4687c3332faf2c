// Package memstore defines the client interface to the external vector
// memory subsystem: the service that embeds, indexes and searches memory
// text. The subsystem is authoritative for memory identifiers; the ledger
// only reconciles the change events it reports.
package memstore

import (
	"context"
	"encoding/json"
)

// EventKind classifies a change event reported by the memory store after an
// ingestion. Unknown tags parse to EventUnknown and are skipped by the
// reconciler rather than treated as failures.
type EventKind string

const (
	EventAdd     EventKind = "ADD"
	EventUpdate  EventKind = "UPDATE"
	EventUnknown EventKind = ""
)

// ParseEventKind maps a wire tag onto an EventKind, with EventUnknown as the
// explicit default arm for tags this core does not handle.
func ParseEventKind(s string) EventKind {
	switch s {
	case string(EventAdd):
		return EventAdd
	case string(EventUpdate):
		return EventUpdate
	default:
		return EventUnknown
	}
}

// Event is one change reported by the memory store: the assigned identifier,
// the stored content string, and what happened.
type Event struct {
	ID     string    `json:"id"`
	Memory string    `json:"memory"`
	Kind   EventKind `json:"event"`

	// RawKind preserves the wire tag for logging when Kind is EventUnknown.
	RawKind string `json:"-"`
}

// UnmarshalJSON decodes the wire form, folding unrecognized event tags into
// EventUnknown while preserving the raw tag.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID     string `json:"id"`
		Memory string `json:"memory"`
		Event  string `json:"event"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	e.ID = wire.ID
	e.Memory = wire.Memory
	e.Kind = ParseEventKind(wire.Event)
	e.RawKind = wire.Event
	return nil
}

// MarshalJSON encodes the event with its original wire tag when the kind was
// not recognized.
func (e Event) MarshalJSON() ([]byte, error) {
	tag := string(e.Kind)
	if e.Kind == EventUnknown && e.RawKind != "" {
		tag = e.RawKind
	}
	return json.Marshal(struct {
		ID     string `json:"id"`
		Memory string `json:"memory"`
		Event  string `json:"event"`
	}{ID: e.ID, Memory: e.Memory, Event: tag})
}

// AddResponse is the raw result structure of an ingestion. It is returned to
// the caller unmodified so downstream tooling can see what was indexed.
type AddResponse struct {
	Results []Event `json:"results"`
}

// Summary is one known memory as reported by the store.
type Summary struct {
	ID        string         `json:"id"`
	Memory    string         `json:"memory"`
	Hash      string         `json:"hash,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Hit is one similarity-ranked search result.
type Hit struct {
	Summary
	Score float32 `json:"score"`
}

// Client is the contract this core requires of the vector memory subsystem.
type Client interface {
	// Add ingests text for a user and reports zero or more change events.
	Add(ctx context.Context, text, userID string, metadata map[string]any) (*AddResponse, error)

	// GetAll returns every memory summary known for the user.
	GetAll(ctx context.Context, userID string) ([]Summary, error)

	// Search returns similarity-ranked hits for the query, scoped to the
	// user. A non-nil ids set restricts results to those identifiers.
	Search(ctx context.Context, userID, query string, limit int, ids []string) ([]Hit, error)

	// Delete removes one memory from the index.
	Delete(ctx context.Context, id string) error

	// Close releases client resources.
	Close() error
}
