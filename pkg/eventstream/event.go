// Package eventstream publishes audit telemetry events after memory
// operations commit. Publishing is best-effort and happens outside the
// ledger's transaction boundary; a failed publish never fails the operation
// that produced it.
package eventstream

import "time"

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeAccessed is emitted after memories are read through an
	// access-filtered path.
	EventTypeAccessed = "recollect.memory.accessed"

	// EventTypeLifecycle is emitted after a lifecycle transition commits
	// (ingest reconciliation or bulk delete).
	EventTypeLifecycle = "recollect.memory.lifecycle"
)

// AuditEvent is a transport-neutral audit payload for one committed memory
// operation.
type AuditEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	UserID        string    `json:"user_id"`
	ClientName    string    `json:"client_name"`
	Operation     string    `json:"operation"`
	MemoryIDs     []string  `json:"memory_ids,omitempty"`
}
