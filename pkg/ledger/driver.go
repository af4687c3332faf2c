package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Tx is the set of ledger operations available inside one unit of work.
// Every mutation made through a Tx commits or rolls back atomically.
type Tx interface {
	// GetMemory returns the memory row by id, or ErrNotFound.
	GetMemory(id uuid.UUID) (*Memory, error)

	// CreateMemory inserts a new memory row.
	CreateMemory(m *Memory) error

	// UpdateMemory rewrites content, metadata, state and updated_at of an
	// existing row.
	UpdateMemory(m *Memory) error

	// MarkDeleted flips a row to StateDeleted and sets deleted_at.
	MarkDeleted(id uuid.UUID, at time.Time) error

	// AppendHistory appends one state-transition record.
	AppendHistory(h *StatusHistory) error

	// AppendAccessLog appends one read-access record.
	AppendAccessLog(l *AccessLog) error

	// MemoriesForUser returns all memory rows owned by the user.
	MemoriesForUser(userID uuid.UUID) ([]*Memory, error)

	// RulesForApp returns the access rules that apply to the app.
	RulesForApp(appID uuid.UUID) ([]*AccessRule, error)
}

// Driver is the ledger storage backend. WithTx is the transaction boundary:
// fn's mutations become visible only if fn returns nil.
type Driver interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Read-side helpers for the inspection API. Each runs in its own
	// implicit unit of work.
	Memory(ctx context.Context, id uuid.UUID) (*Memory, error)
	MemoriesForUser(ctx context.Context, userID uuid.UUID) ([]*Memory, error)
	HistoryForMemory(ctx context.Context, id uuid.UUID) ([]*StatusHistory, error)
	AccessLogsForUser(ctx context.Context, userID uuid.UUID) ([]*AccessLog, error)

	Close() error
}
