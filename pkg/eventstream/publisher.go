package eventstream

import "context"

// Publisher publishes audit events to an event stream backend.
type Publisher interface {
	Publish(ctx context.Context, event *AuditEvent) error
	Close() error
}
