// Package ledger defines the relational system-of-record for memories: the
// memory rows themselves, their state-transition history, and the read-access
// audit trail. The ledger never originates memory identifiers; ids are
// assigned by the memory store on first ingestion and reused as primary keys.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a memory row.
type State string

const (
	StateActive   State = "active"
	StatePaused   State = "paused"
	StateArchived State = "archived"
	StateDeleted  State = "deleted"
)

// Valid reports whether s is one of the known lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StateActive, StatePaused, StateArchived, StateDeleted:
		return true
	}
	return false
}

// AccessType tags an access-log row with the read path that produced it.
const (
	AccessSearch         = "search"
	AccessList           = "list"
	AccessGetLastPointer = "get_last_pointer_check"
	AccessDeleteAll      = "delete_all"
)

// User is an owner identity. ExternalID is the caller-supplied user handle;
// ID is the internal row key.
type User struct {
	ID         uuid.UUID
	ExternalID string
	CreatedAt  time.Time
}

// App is a client application identity. Paused apps resolve but are rejected
// by mutating operations.
type App struct {
	ID        uuid.UUID
	Name      string
	OwnerID   uuid.UUID
	IsActive  bool
	CreatedAt time.Time
}

// Memory is one logical memory unit. Content is either the literal text or,
// for externalized payloads, a short description; pointer details live in
// Metadata.
type Memory struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	AppID     uuid.UUID
	Content   string
	Metadata  map[string]any
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// StatusHistory is one append-only state-transition record. OldState is nil
// when the memory did not previously exist in the ledger; it is never the
// StateDeleted sentinel for that case.
type StatusHistory struct {
	ID        uuid.UUID
	MemoryID  uuid.UUID
	ChangedBy uuid.UUID
	OldState  *State
	NewState  State
	ChangedAt time.Time
}

// AccessLog is one append-only read-access record. Rows are written only for
// memories that passed the access filter, in the same unit of work as the
// read that produced them.
type AccessLog struct {
	ID         uuid.UUID
	MemoryID   uuid.UUID
	AppID      uuid.UUID
	AccessType string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// RuleEffect is the outcome an access rule applies.
type RuleEffect string

const (
	EffectAllow RuleEffect = "allow"
	EffectDeny  RuleEffect = "deny"
)

// AccessRule grants or denies an app access to a memory. A nil MemoryID makes
// the rule app-wide. Deny rules win over allow; with no matching rule access
// defaults to allowed.
type AccessRule struct {
	ID        uuid.UUID
	AppID     uuid.UUID
	MemoryID  *uuid.UUID
	Effect    RuleEffect
	CreatedAt time.Time
}
