// Package identity resolves the caller-supplied (user, app) pair bound to a
// tool invocation into ledger identities. The pair is threaded through every
// core operation as an explicit Caller value so concurrent calls for
// different users cannot cross-contaminate.
package identity

import (
	"context"
	"errors"

	"github.com/recollectco/recollect/pkg/ledger"
)

// Caller is the identity pair supplied by the transport layer for one tool
// invocation.
type Caller struct {
	// UserID is the external user handle.
	UserID string

	// ClientName names the client application making the call.
	ClientName string
}

// Valid reports whether both identity components are present.
func (c Caller) Valid() bool {
	return c.UserID != "" && c.ClientName != ""
}

var (
	// ErrMissingUserID indicates the transport supplied no user identity.
	ErrMissingUserID = errors.New("user_id not provided")

	// ErrMissingClientName indicates the transport supplied no client identity.
	ErrMissingClientName = errors.New("client_name not provided")

	// ErrNotFound indicates the user or app context could not be resolved.
	ErrNotFound = errors.New("user or app context not found")
)

// Resolver maps a Caller onto ledger identities. Implementations may create
// rows on first sight; a paused app still resolves, with IsActive false.
type Resolver interface {
	Resolve(ctx context.Context, c Caller) (*ledger.User, *ledger.App, error)
}
