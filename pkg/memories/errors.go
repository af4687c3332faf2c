package memories

import (
	"errors"
	"fmt"
)

// ErrNoAccessibleMemories is returned by GetMostRecent when every candidate
// fails the access filter.
var ErrNoAccessibleMemories = errors.New("no accessible recent memories found")

// ErrNoMemories is returned by GetMostRecent when the store reports no
// memories at all for the user.
var ErrNoMemories = errors.New("no memories found")

// AppPausedError indicates the client app is administratively paused. The
// operation has no side effects when this is returned.
type AppPausedError struct {
	AppName string
}

func (e *AppPausedError) Error() string {
	return fmt.Sprintf("app %s is currently paused", e.AppName)
}

// IngestError indicates event reconciliation failed and the whole unit of
// work was rolled back. It always wraps the underlying cause.
type IngestError struct {
	Err error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest reconciliation failed: %v", e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// ExternalServiceError indicates a memory store or blob store call failed.
// Collaborator failures are caught at the call boundary and converted into
// this error rather than propagated as an unhandled fault.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}
