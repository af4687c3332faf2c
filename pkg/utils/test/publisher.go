package testutils

import (
	"context"
	"sync"

	"github.com/recollectco/recollect/pkg/eventstream"
)

// MockPublisher is a test eventstream publisher that collects published
// events. Safe for concurrent use.
type MockPublisher struct {
	mu     sync.Mutex
	events []*eventstream.AuditEvent
}

// NewMockPublisher creates an empty collecting publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(_ context.Context, event *eventstream.AuditEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

// Events returns a snapshot of everything published so far.
func (m *MockPublisher) Events() []*eventstream.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*eventstream.AuditEvent, len(m.events))
	copy(out, m.events)
	return out
}
