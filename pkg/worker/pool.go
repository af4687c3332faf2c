// Package worker provides an asynchronous worker pool for publishing audit
// events through a configured eventstream.Publisher.
//
// The pool decouples audit publishing from the tool-call hot path: access and
// lifecycle events are enqueued after the ledger transaction commits, and a
// failed publish is logged rather than surfaced to the caller.
package worker

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/recollectco/recollect/pkg/eventstream"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// Config is the configuration options for the worker pool.
type Config struct {
	// Publisher is the eventstream backend audit events are written to.
	Publisher eventstream.Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool publishes audit events asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan *eventstream.AuditEvent
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	wp := &Pool{
		config: c,
		queue:  make(chan *eventstream.AuditEvent, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits an audit event for publishing.
// Returns true if enqueued, false if the queue is full, resulting in the
// event being dropped.
func (p *Pool) Enqueue(event *eventstream.AuditEvent) bool {
	if event == nil {
		return false
	}

	select {
	case p.queue <- event:
		p.logger.Debug("audit event queued",
			zap.String("event_type", event.EventType),
			zap.String("operation", event.Operation),
		)
		return true
	default:
		p.logger.Error("audit event not queued, queue full, event dropped",
			zap.String("event_type", event.EventType),
			zap.String("operation", event.Operation),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight events to drain.
// Call this during graceful shutdown after the servers have stopped.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls events off the queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for event := range p.queue {
		if err := p.config.Publisher.Publish(context.Background(), event); err != nil {
			p.logger.Error("async audit publish failed",
				zap.String("event_type", event.EventType),
				zap.String("operation", event.Operation),
				zap.Error(err),
			)
		}
	}

	p.logger.Debug("audit worker stopped", zap.Uint("worker_id", id))
}
