// Package memories implements the memory-lifecycle and query surface: the
// five user-facing operations composing the identity resolver, the ledger,
// the memory store, the blob store and the access filter. Every operation
// takes an explicit identity.Caller; no identity is ever held in package or
// process state.
package memories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recollectco/recollect/pkg/access"
	"github.com/recollectco/recollect/pkg/blob"
	"github.com/recollectco/recollect/pkg/eventstream"
	"github.com/recollectco/recollect/pkg/identity"
	"github.com/recollectco/recollect/pkg/ledger"
	"github.com/recollectco/recollect/pkg/memstore"
	"github.com/recollectco/recollect/pkg/worker"
)

const (
	// ContentThreshold is the character length above which text is
	// externalized to the blob store.
	ContentThreshold = 4000

	// SourceApp is the provenance tag recorded in every memory's metadata.
	SourceApp = "recollect"

	// searchLimit caps the similarity hits returned per search.
	searchLimit = 10
)

// Config holds the collaborators for a Service.
type Config struct {
	// Resolver maps caller identities onto ledger rows.
	Resolver identity.Resolver

	// Ledger is the relational system-of-record.
	Ledger ledger.Driver

	// Store is the external vector memory subsystem.
	Store memstore.Client

	// Blobs persists externalized payloads.
	Blobs *blob.Store

	// Audit optionally publishes post-commit audit events.
	Audit *worker.Pool

	// Logger is the configured zap logger.
	Logger *zap.Logger
}

// Service is the query surface over the memory lifecycle.
type Service struct {
	config Config
	logger *zap.Logger
}

// NewService creates the memory service.
func NewService(c Config) (*Service, error) {
	if c.Resolver == nil {
		return nil, errors.New("identity resolver is required")
	}
	if c.Ledger == nil {
		return nil, errors.New("ledger driver is required")
	}
	if c.Store == nil {
		return nil, errors.New("memory store client is required")
	}
	if c.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	return &Service{
		config: c,
		logger: c.Logger,
	}, nil
}

// resolve validates the caller and returns the ledger identities. Mutating
// operations additionally reject paused apps.
func (s *Service) resolve(ctx context.Context, caller identity.Caller, requireActive bool) (*ledger.User, *ledger.App, error) {
	user, app, err := s.config.Resolver.Resolve(ctx, caller)
	if err != nil {
		return nil, nil, err
	}
	if requireActive && !app.IsActive {
		return nil, nil, &AppPausedError{AppName: app.Name}
	}
	return user, app, nil
}

// Add ingests text as a memory for the caller. Large text, or any text
// carrying an original filename, is externalized to the blob store and only
// a pointer description is sent to the memory store. The change events
// reported by the store are folded into the ledger inside one transaction,
// and the store's raw response is returned.
func (s *Service) Add(ctx context.Context, caller identity.Caller, text, originalFilename string) (*memstore.AddResponse, error) {
	user, app, err := s.resolve(ctx, caller, true)
	if err != nil {
		return nil, err
	}

	contentToStore := text
	metadata := map[string]any{
		"source_app": SourceApp,
		"mcp_client": caller.ClientName,
	}

	if originalFilename != "" || len([]rune(text)) > ContentThreshold {
		pointer, err := s.config.Blobs.Put(caller.UserID, text, originalFilename)
		if err != nil {
			return nil, &ExternalServiceError{Op: "blob store write", Err: err}
		}

		for k, v := range pointer.Metadata() {
			metadata[k] = v
		}
		contentToStore = pointer.Description()

		s.logger.Info("externalized payload",
			zap.String("user_id", caller.UserID),
			zap.String("stored_filename", pointer.StoredFilename),
			zap.Int("size_bytes", pointer.SizeBytes),
		)
	}

	response, err := s.config.Store.Add(ctx, contentToStore, caller.UserID, metadata)
	if err != nil {
		return nil, &ExternalServiceError{Op: "memory store add", Err: err}
	}

	applied, err := s.reconcile(ctx, user, app, metadata, response.Results)
	if err != nil {
		return nil, &IngestError{Err: err}
	}

	s.publishAudit(caller, eventstream.EventTypeLifecycle, "add", eventIDs(response.Results))

	s.logger.Debug("memories ingested",
		zap.String("user_id", caller.UserID),
		zap.Int("events", len(response.Results)),
		zap.Int("applied", applied),
	)

	return response, nil
}

// Search returns similarity-ranked hits restricted to the caller's
// accessible memories. One access-log row is appended per returned hit.
func (s *Service) Search(ctx context.Context, caller identity.Caller, query string) ([]memstore.Hit, error) {
	user, app, err := s.resolve(ctx, caller, false)
	if err != nil {
		return nil, err
	}

	accessibleIDs, err := s.accessibleIDs(ctx, user, app)
	if err != nil {
		return nil, err
	}

	hits, err := s.config.Store.Search(ctx, caller.UserID, query, searchLimit, accessibleIDs)
	if err != nil {
		return nil, &ExternalServiceError{Op: "memory store search", Err: err}
	}

	accessible := make(map[string]bool, len(accessibleIDs))
	for _, id := range accessibleIDs {
		accessible[id] = true
	}

	filtered := make([]memstore.Hit, 0, len(hits))
	err = s.config.Ledger.WithTx(ctx, func(tx ledger.Tx) error {
		for _, hit := range hits {
			memID, err := uuid.Parse(hit.ID)
			if err != nil || !accessible[hit.ID] {
				continue
			}
			filtered = append(filtered, hit)
			if err := tx.AppendAccessLog(&ledger.AccessLog{
				MemoryID:   memID,
				AppID:      app.ID,
				AccessType: ledger.AccessSearch,
				Metadata: map[string]any{
					"query": query,
					"score": hit.Score,
					"hash":  hit.Hash,
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("logging search access: %w", err)
	}

	s.publishAudit(caller, eventstream.EventTypeAccessed, "search", hitIDs(filtered))

	return filtered, nil
}

// List returns every memory for the caller that passes the access filter,
// logging each accessible item.
func (s *Service) List(ctx context.Context, caller identity.Caller) ([]memstore.Summary, error) {
	user, app, err := s.resolve(ctx, caller, false)
	if err != nil {
		return nil, err
	}

	summaries, err := s.config.Store.GetAll(ctx, caller.UserID)
	if err != nil {
		return nil, &ExternalServiceError{Op: "memory store list", Err: err}
	}

	filtered := make([]memstore.Summary, 0, len(summaries))
	err = s.config.Ledger.WithTx(ctx, func(tx ledger.Tx) error {
		for _, summary := range summaries {
			memID, err := uuid.Parse(summary.ID)
			if err != nil {
				continue
			}

			mem, err := tx.GetMemory(memID)
			if err != nil {
				if errors.Is(err, ledger.ErrNotFound) {
					continue
				}
				return err
			}
			if mem.UserID != user.ID {
				continue
			}

			ok, err := access.Accessible(tx, mem, app.ID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			filtered = append(filtered, summary)
			if err := tx.AppendAccessLog(&ledger.AccessLog{
				MemoryID:   memID,
				AppID:      app.ID,
				AccessType: ledger.AccessList,
				Metadata:   map[string]any{"hash": summary.Hash},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("logging list access: %w", err)
	}

	s.publishAudit(caller, eventstream.EventTypeAccessed, "list", summaryIDs(filtered))

	return filtered, nil
}

// RecentResult is the outcome of GetMostRecent. For a resolvable pointer
// memory it carries the backing file's full content; otherwise it carries the
// memory summary as reported by the store.
type RecentResult struct {
	Type             string            `json:"type,omitempty"`
	OriginalFilename string            `json:"original_filename,omitempty"`
	StoredFilename   string            `json:"stored_filename,omitempty"`
	Content          string            `json:"content,omitempty"`
	RetrievedAt      string            `json:"retrieved_at,omitempty"`
	MemoryID         string            `json:"original_memory_id,omitempty"`
	PointerDetails   map[string]any    `json:"pointer_details,omitempty"`
	Memory           *memstore.Summary `json:"memory,omitempty"`
}

// GetMostRecent returns the most recently created accessible memory. If its
// ledger metadata marks it as a file pointer, the backing file content is
// returned inline; a missing or unreadable file degrades to returning the
// pointer record itself.
func (s *Service) GetMostRecent(ctx context.Context, caller identity.Caller) (*RecentResult, error) {
	user, app, err := s.resolve(ctx, caller, false)
	if err != nil {
		return nil, err
	}

	summaries, err := s.config.Store.GetAll(ctx, caller.UserID)
	if err != nil {
		return nil, &ExternalServiceError{Op: "memory store list", Err: err}
	}
	if len(summaries) == 0 {
		return nil, ErrNoMemories
	}

	// Newest first; sort is stable so ties preserve source order.
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt > summaries[j].CreatedAt
	})

	var (
		chosen       *memstore.Summary
		chosenLedger *ledger.Memory
	)
	err = s.config.Ledger.WithTx(ctx, func(tx ledger.Tx) error {
		for i := range summaries {
			summary := &summaries[i]
			memID, err := uuid.Parse(summary.ID)
			if err != nil {
				s.logger.Warn("skipping memory with invalid id", zap.String("id", summary.ID))
				continue
			}

			mem, err := tx.GetMemory(memID)
			if err != nil {
				if errors.Is(err, ledger.ErrNotFound) {
					continue
				}
				return err
			}
			if mem.UserID != user.ID {
				continue
			}

			ok, err := access.Accessible(tx, mem, app.ID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			if err := tx.AppendAccessLog(&ledger.AccessLog{
				MemoryID:   memID,
				AppID:      app.ID,
				AccessType: ledger.AccessGetLastPointer,
				Metadata:   map[string]any{"hash": summary.Hash},
			}); err != nil {
				return err
			}

			chosen = summary
			chosenLedger = mem
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolving most recent memory: %w", err)
	}
	if chosen == nil {
		return nil, ErrNoAccessibleMemories
	}

	s.publishAudit(caller, eventstream.EventTypeAccessed, "get_last", []string{chosen.ID})

	// The pointer fields recorded at ingest time live in the ledger's
	// metadata, not in the store's summary.
	details := chosenLedger.Metadata
	if details["type"] == blob.PointerType {
		if path, ok := details["file_path"].(string); ok {
			content, err := s.config.Blobs.Read(path)
			if err == nil {
				return &RecentResult{
					Type:             "file_content",
					OriginalFilename: stringField(details, "original_filename"),
					StoredFilename:   stringField(details, "stored_filename"),
					Content:          content,
					RetrievedAt:      time.Now().UTC().Format(time.RFC3339),
					MemoryID:         chosen.ID,
					PointerDetails:   details,
				}, nil
			}
			// Missing or unreadable backing file: fall back to the
			// pointer record instead of failing the operation.
			s.logger.Error("pointer file unreadable, returning pointer record",
				zap.String("memory_id", chosen.ID),
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}

	return &RecentResult{Memory: chosen}, nil
}

// DeleteResult confirms a bulk delete.
type DeleteResult struct {
	Message      string `json:"message"`
	DeletedCount int    `json:"deleted_count"`
}

// DeleteAll removes every accessible memory for the caller: each is deleted
// from the memory store, then the ledger rows flip to deleted with history
// and access-log rows appended, all in one transaction. Backing blob files
// are retained.
func (s *Service) DeleteAll(ctx context.Context, caller identity.Caller) (*DeleteResult, error) {
	user, app, err := s.resolve(ctx, caller, false)
	if err != nil {
		return nil, err
	}

	accessibleIDs, err := s.accessibleIDs(ctx, user, app)
	if err != nil {
		return nil, err
	}

	for _, id := range accessibleIDs {
		if err := s.config.Store.Delete(ctx, id); err != nil {
			return nil, &ExternalServiceError{Op: "memory store delete", Err: err}
		}
	}

	now := time.Now().UTC()
	oldState := ledger.StateActive
	err = s.config.Ledger.WithTx(ctx, func(tx ledger.Tx) error {
		for _, id := range accessibleIDs {
			memID, err := uuid.Parse(id)
			if err != nil {
				continue
			}

			if err := tx.MarkDeleted(memID, now); err != nil {
				return err
			}

			if err := tx.AppendHistory(&ledger.StatusHistory{
				MemoryID:  memID,
				ChangedBy: user.ID,
				OldState:  &oldState,
				NewState:  ledger.StateDeleted,
				ChangedAt: now,
			}); err != nil {
				return err
			}

			if err := tx.AppendAccessLog(&ledger.AccessLog{
				MemoryID:   memID,
				AppID:      app.ID,
				AccessType: ledger.AccessDeleteAll,
				Metadata:   map[string]any{"operation": "bulk_delete"},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording bulk delete: %w", err)
	}

	s.publishAudit(caller, eventstream.EventTypeLifecycle, "delete_all", accessibleIDs)

	return &DeleteResult{
		Message:      "Successfully deleted all memories",
		DeletedCount: len(accessibleIDs),
	}, nil
}

// accessibleIDs computes the caller's accessible memory identifier set in
// its own unit of work.
func (s *Service) accessibleIDs(ctx context.Context, user *ledger.User, app *ledger.App) ([]string, error) {
	ids := []string{}
	err := s.config.Ledger.WithTx(ctx, func(tx ledger.Tx) error {
		memories, err := tx.MemoriesForUser(user.ID)
		if err != nil {
			return err
		}
		for _, mem := range memories {
			ok, err := access.Accessible(tx, mem, app.ID)
			if err != nil {
				return err
			}
			if ok {
				ids = append(ids, mem.ID.String())
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("computing accessible set: %w", err)
	}
	return ids, nil
}

func (s *Service) publishAudit(caller identity.Caller, eventType, operation string, memoryIDs []string) {
	if s.config.Audit == nil {
		return
	}

	s.config.Audit.Enqueue(&eventstream.AuditEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.New().String(),
		EmittedAt:     time.Now().UTC(),
		UserID:        caller.UserID,
		ClientName:    caller.ClientName,
		Operation:     operation,
		MemoryIDs:     memoryIDs,
	})
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func eventIDs(events []memstore.Event) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		if e.ID != "" {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

func hitIDs(hits []memstore.Hit) []string {
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func summaryIDs(summaries []memstore.Summary) []string {
	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.ID)
	}
	return ids
}
