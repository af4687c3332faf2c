package memories_test

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/recollectco/recollect/pkg/blob"
	"github.com/recollectco/recollect/pkg/eventstream"
	"github.com/recollectco/recollect/pkg/identity"
	"github.com/recollectco/recollect/pkg/ledger"
	"github.com/recollectco/recollect/pkg/ledger/sqlite"
	"github.com/recollectco/recollect/pkg/logger"
	"github.com/recollectco/recollect/pkg/memories"
	"github.com/recollectco/recollect/pkg/memstore"
	testutils "github.com/recollectco/recollect/pkg/utils/test"
	"github.com/recollectco/recollect/pkg/worker"
)

var _ = Describe("Service", func() {
	var (
		svc    *memories.Service
		store  *sqlite.Store
		mock   *testutils.MockStoreClient
		blobs  *blob.Store
		tmpDir string
		ctx    context.Context
		caller identity.Caller
		user   *ledger.User
		app    *ledger.App
	)

	// ingest scripts the store to report one event and runs Add.
	ingest := func(id string, kind memstore.EventKind, text string) {
		mock.AddResponse = &memstore.AddResponse{
			Results: []memstore.Event{{ID: id, Memory: text, Kind: kind}},
		}
		_, err := svc.Add(ctx, caller, text, "")
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "memories-test-*")
		Expect(err).NotTo(HaveOccurred())

		store, err = sqlite.New(":memory:")
		Expect(err).NotTo(HaveOccurred())

		blobs, err = blob.NewStore(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		mock = testutils.NewMockStoreClient()
		ctx = context.Background()
		caller = identity.Caller{UserID: "alice", ClientName: "claude"}

		svc, err = memories.NewService(memories.Config{
			Resolver: store,
			Ledger:   store,
			Store:    mock,
			Blobs:    blobs,
			Logger:   logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())

		user, app, err = store.Resolve(ctx, caller)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		store.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("NewService", func() {
		It("requires every collaborator except the audit pool", func() {
			_, err := memories.NewService(memories.Config{})
			Expect(err).To(HaveOccurred())

			_, err = memories.NewService(memories.Config{
				Resolver: store,
				Ledger:   store,
				Store:    mock,
				Blobs:    blobs,
				Logger:   logger.Nop(),
			})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Add", func() {
		It("rejects an unidentified caller", func() {
			_, err := svc.Add(ctx, identity.Caller{ClientName: "claude"}, "text", "")
			Expect(err).To(MatchError(identity.ErrMissingUserID))

			_, err = svc.Add(ctx, identity.Caller{UserID: "alice"}, "text", "")
			Expect(err).To(MatchError(identity.ErrMissingClientName))
		})

		It("rejects a paused app without side effects", func() {
			Expect(store.SetAppActive(ctx, app.ID, false)).To(Succeed())

			_, err := svc.Add(ctx, caller, "text", "")
			var paused *memories.AppPausedError
			Expect(errors.As(err, &paused)).To(BeTrue())
			Expect(paused.AppName).To(Equal("claude"))
			Expect(mock.AddedTexts).To(BeEmpty())
		})

		It("sends short text to the store verbatim", func() {
			memID := uuid.New().String()
			ingest(memID, memstore.EventAdd, "I like coffee")

			Expect(mock.AddedTexts).To(Equal([]string{"I like coffee"}))
			Expect(mock.AddedMetadata[0]).To(HaveKeyWithValue("source_app", "recollect"))
			Expect(mock.AddedMetadata[0]).To(HaveKeyWithValue("mcp_client", "claude"))
			Expect(mock.AddedMetadata[0]).NotTo(HaveKey("type"))
		})

		It("creates an active ledger row with a creation history record", func() {
			memID := uuid.New().String()
			ingest(memID, memstore.EventAdd, "I like coffee")

			mem, err := store.Memory(ctx, uuid.MustParse(memID))
			Expect(err).NotTo(HaveOccurred())
			Expect(mem.State).To(Equal(ledger.StateActive))
			Expect(mem.UserID).To(Equal(user.ID))
			Expect(mem.AppID).To(Equal(app.ID))

			history, err := store.HistoryForMemory(ctx, uuid.MustParse(memID))
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(1))
			Expect(history[0].OldState).To(BeNil())
			Expect(history[0].NewState).To(Equal(ledger.StateActive))
		})

		It("externalizes text above the content threshold", func() {
			long := strings.Repeat("a", memories.ContentThreshold+1)
			memID := uuid.New().String()
			ingest(memID, memstore.EventAdd, long)

			Expect(mock.AddedTexts[0]).To(ContainSubstring("Content pointer"))
			Expect(mock.AddedMetadata[0]).To(HaveKeyWithValue("type", blob.PointerType))

			path, ok := mock.AddedMetadata[0]["file_path"].(string)
			Expect(ok).To(BeTrue())
			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal(long))
		})

		It("keeps text exactly at the threshold inline", func() {
			exact := strings.Repeat("a", memories.ContentThreshold)
			ingest(uuid.New().String(), memstore.EventAdd, exact)

			Expect(mock.AddedTexts[0]).To(Equal(exact))
			Expect(mock.AddedMetadata[0]).NotTo(HaveKey("type"))
		})

		It("externalizes short text when an original filename is supplied", func() {
			memID := uuid.New().String()
			mock.AddResponse = &memstore.AddResponse{
				Results: []memstore.Event{{ID: memID, Memory: "pointer", Kind: memstore.EventAdd}},
			}
			_, err := svc.Add(ctx, caller, "short", "report.txt")
			Expect(err).NotTo(HaveOccurred())

			Expect(mock.AddedTexts[0]).To(Equal("Stored file: report.txt (Content pointer)"))
			Expect(mock.AddedMetadata[0]).To(HaveKeyWithValue("original_filename", "report.txt"))
		})

		It("measures the threshold in runes, not bytes", func() {
			// Multibyte runes: over the threshold in bytes, under it in runes.
			text := strings.Repeat("é", memories.ContentThreshold-1)
			ingest(uuid.New().String(), memstore.EventAdd, text)

			Expect(mock.AddedTexts[0]).To(Equal(text))
		})

		It("reactivates an existing row on a repeat ADD, recording the prior state", func() {
			memID := uuid.New().String()
			ingest(memID, memstore.EventAdd, "I like coffee")

			// Pause the row out-of-band.
			Expect(store.WithTx(ctx, func(tx ledger.Tx) error {
				mem, err := tx.GetMemory(uuid.MustParse(memID))
				if err != nil {
					return err
				}
				mem.State = ledger.StatePaused
				return tx.UpdateMemory(mem)
			})).To(Succeed())

			ingest(memID, memstore.EventAdd, "I like coffee a lot")

			mem, err := store.Memory(ctx, uuid.MustParse(memID))
			Expect(err).NotTo(HaveOccurred())
			Expect(mem.State).To(Equal(ledger.StateActive))
			Expect(mem.Content).To(Equal("I like coffee a lot"))

			history, err := store.HistoryForMemory(ctx, uuid.MustParse(memID))
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))
			Expect(*history[1].OldState).To(Equal(ledger.StatePaused))
			Expect(history[1].NewState).To(Equal(ledger.StateActive))
		})

		It("appends an active to active transition on a repeat ADD of a live row", func() {
			memID := uuid.New().String()
			ingest(memID, memstore.EventAdd, "I like coffee")
			ingest(memID, memstore.EventAdd, "I like coffee a lot")

			mem, err := store.Memory(ctx, uuid.MustParse(memID))
			Expect(err).NotTo(HaveOccurred())
			Expect(mem.State).To(Equal(ledger.StateActive))
			Expect(mem.Content).To(Equal("I like coffee a lot"))

			history, err := store.HistoryForMemory(ctx, uuid.MustParse(memID))
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))

			var repeat *ledger.StatusHistory
			for _, h := range history {
				if h.OldState != nil {
					repeat = h
				}
			}
			Expect(repeat).NotTo(BeNil())
			Expect(*repeat.OldState).To(Equal(ledger.StateActive))
			Expect(repeat.NewState).To(Equal(ledger.StateActive))
		})

		It("creates the row when an UPDATE arrives for an id the ledger never saw", func() {
			memID := uuid.New().String()
			ingest(memID, memstore.EventUpdate, "revised text")

			mem, err := store.Memory(ctx, uuid.MustParse(memID))
			Expect(err).NotTo(HaveOccurred())
			Expect(mem.State).To(Equal(ledger.StateActive))
			Expect(mem.Content).To(Equal("revised text"))

			history, err := store.HistoryForMemory(ctx, uuid.MustParse(memID))
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(1))
			Expect(history[0].OldState).To(BeNil())
		})

		It("skips events with kinds it does not drive", func() {
			memID := uuid.New().String()
			mock.AddResponse = &memstore.AddResponse{
				Results: []memstore.Event{{ID: memID, Memory: "noop", Kind: memstore.EventUnknown, RawKind: "NOOP"}},
			}
			resp, err := svc.Add(ctx, caller, "noop", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Results).To(HaveLen(1))

			_, err = store.Memory(ctx, uuid.MustParse(memID))
			Expect(err).To(MatchError(ledger.ErrNotFound))
		})

		It("skips incomplete and malformed events without failing the batch", func() {
			goodID := uuid.New().String()
			mock.AddResponse = &memstore.AddResponse{
				Results: []memstore.Event{
					{ID: "", Memory: "no id", Kind: memstore.EventAdd},
					{ID: "not-a-uuid", Memory: "bad id", Kind: memstore.EventAdd},
					{ID: goodID, Memory: "good", Kind: memstore.EventAdd},
				},
			}
			_, err := svc.Add(ctx, caller, "good", "")
			Expect(err).NotTo(HaveOccurred())

			mem, err := store.Memory(ctx, uuid.MustParse(goodID))
			Expect(err).NotTo(HaveOccurred())
			Expect(mem.Content).To(Equal("good"))
		})

		It("wraps store failures as external service errors", func() {
			mock.FailAdd = true
			_, err := svc.Add(ctx, caller, "text", "")

			var external *memories.ExternalServiceError
			Expect(errors.As(err, &external)).To(BeTrue())
			Expect(errors.Is(err, testutils.ErrScripted)).To(BeTrue())
		})
	})

	Describe("Search", func() {
		var memID string

		BeforeEach(func() {
			memID = uuid.New().String()
			ingest(memID, memstore.EventAdd, "I drink coffee every morning")

			mock.Hits = []memstore.Hit{
				{Summary: memstore.Summary{ID: memID, Memory: "I drink coffee every morning"}, Score: 0.9},
			}
		})

		It("returns hits and logs each access", func() {
			hits, err := svc.Search(ctx, caller, "coffee")
			Expect(err).NotTo(HaveOccurred())
			Expect(hits).To(HaveLen(1))
			Expect(hits[0].ID).To(Equal(memID))

			logs, err := store.AccessLogsForUser(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(logs).To(HaveLen(1))
			Expect(logs[0].AccessType).To(Equal(ledger.AccessSearch))
			Expect(logs[0].Metadata).To(HaveKeyWithValue("query", "coffee"))
		})

		It("restricts the store query to the accessible id set", func() {
			_, err := svc.Search(ctx, caller, "coffee")
			Expect(err).NotTo(HaveOccurred())
			Expect(mock.SearchIDs).To(Equal([]string{memID}))
		})

		It("filters out hits denied by an access rule", func() {
			Expect(store.PutAccessRule(ctx, &ledger.AccessRule{
				AppID:  app.ID,
				Effect: ledger.EffectDeny,
			})).To(Succeed())

			hits, err := svc.Search(ctx, caller, "coffee")
			Expect(err).NotTo(HaveOccurred())
			Expect(hits).To(BeEmpty())
			Expect(mock.SearchIDs).To(BeEmpty())

			logs, err := store.AccessLogsForUser(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(logs).To(BeEmpty())
		})

		It("works for a paused app since search is read-only", func() {
			Expect(store.SetAppActive(ctx, app.ID, false)).To(Succeed())

			_, err := svc.Search(ctx, caller, "coffee")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("List", func() {
		var memID string

		BeforeEach(func() {
			memID = uuid.New().String()
			ingest(memID, memstore.EventAdd, "I drink coffee every morning")
		})

		It("returns accessible summaries and logs each access", func() {
			mock.Summaries = []memstore.Summary{{ID: memID, Memory: "I drink coffee every morning"}}

			summaries, err := svc.List(ctx, caller)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(1))

			logs, err := store.AccessLogsForUser(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(logs).To(HaveLen(1))
			Expect(logs[0].AccessType).To(Equal(ledger.AccessList))
		})

		It("skips summaries the ledger has no row for", func() {
			mock.Summaries = []memstore.Summary{
				{ID: memID, Memory: "known"},
				{ID: uuid.New().String(), Memory: "unknown to the ledger"},
			}

			summaries, err := svc.List(ctx, caller)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(1))
			Expect(summaries[0].ID).To(Equal(memID))
		})

		It("hides memories denied to the calling app", func() {
			scopedID := uuid.MustParse(memID)
			Expect(store.PutAccessRule(ctx, &ledger.AccessRule{
				AppID:    app.ID,
				MemoryID: &scopedID,
				Effect:   ledger.EffectDeny,
			})).To(Succeed())
			mock.Summaries = []memstore.Summary{{ID: memID, Memory: "denied"}}

			summaries, err := svc.List(ctx, caller)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(BeEmpty())
		})

		It("hides other users' memories even if the store reports them", func() {
			otherCaller := identity.Caller{UserID: "bob", ClientName: "claude"}
			otherID := uuid.New().String()
			mock.AddResponse = &memstore.AddResponse{
				Results: []memstore.Event{{ID: otherID, Memory: "bob's memory", Kind: memstore.EventAdd}},
			}
			_, err := svc.Add(ctx, otherCaller, "bob's memory", "")
			Expect(err).NotTo(HaveOccurred())

			mock.Summaries = []memstore.Summary{{ID: otherID, Memory: "bob's memory"}}

			summaries, err := svc.List(ctx, caller)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(BeEmpty())
		})
	})

	Describe("GetMostRecent", func() {
		It("returns ErrNoMemories when the store is empty", func() {
			_, err := svc.GetMostRecent(ctx, caller)
			Expect(err).To(MatchError(memories.ErrNoMemories))
		})

		It("returns ErrNoAccessibleMemories when every candidate is filtered", func() {
			memID := uuid.New().String()
			ingest(memID, memstore.EventAdd, "hidden")

			Expect(store.PutAccessRule(ctx, &ledger.AccessRule{
				AppID:  app.ID,
				Effect: ledger.EffectDeny,
			})).To(Succeed())
			mock.Summaries = []memstore.Summary{{ID: memID, Memory: "hidden"}}

			_, err := svc.GetMostRecent(ctx, caller)
			Expect(err).To(MatchError(memories.ErrNoAccessibleMemories))
		})

		It("picks the newest accessible memory and logs the check", func() {
			oldID := uuid.New().String()
			newID := uuid.New().String()
			ingest(oldID, memstore.EventAdd, "old")
			ingest(newID, memstore.EventAdd, "new")

			mock.Summaries = []memstore.Summary{
				{ID: oldID, Memory: "old", CreatedAt: "2026-01-01T00:00:00Z"},
				{ID: newID, Memory: "new", CreatedAt: "2026-02-01T00:00:00Z"},
			}

			result, err := svc.GetMostRecent(ctx, caller)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Memory).NotTo(BeNil())
			Expect(result.Memory.ID).To(Equal(newID))

			logs, err := store.AccessLogsForUser(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(logs).To(HaveLen(1))
			Expect(logs[0].AccessType).To(Equal(ledger.AccessGetLastPointer))
		})

		It("inlines the backing file content for a pointer memory", func() {
			long := strings.Repeat("b", memories.ContentThreshold+10)
			memID := uuid.New().String()
			ingest(memID, memstore.EventAdd, long)

			mock.Summaries = []memstore.Summary{{ID: memID, Memory: "pointer", CreatedAt: "2026-01-01T00:00:00Z"}}

			result, err := svc.GetMostRecent(ctx, caller)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Type).To(Equal("file_content"))
			Expect(result.Content).To(Equal(long))
			Expect(result.MemoryID).To(Equal(memID))
			Expect(result.PointerDetails).To(HaveKeyWithValue("type", blob.PointerType))
		})

		It("falls back to the pointer record when the backing file is gone", func() {
			long := strings.Repeat("c", memories.ContentThreshold+10)
			memID := uuid.New().String()
			ingest(memID, memstore.EventAdd, long)

			path, ok := mock.AddedMetadata[0]["file_path"].(string)
			Expect(ok).To(BeTrue())
			Expect(os.Remove(path)).To(Succeed())

			mock.Summaries = []memstore.Summary{{ID: memID, Memory: "pointer", CreatedAt: "2026-01-01T00:00:00Z"}}

			result, err := svc.GetMostRecent(ctx, caller)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Type).To(BeEmpty())
			Expect(result.Memory).NotTo(BeNil())
			Expect(result.Memory.ID).To(Equal(memID))
		})
	})

	Describe("DeleteAll", func() {
		var memID string

		BeforeEach(func() {
			memID = uuid.New().String()
			ingest(memID, memstore.EventAdd, "to be deleted")
		})

		It("deletes from the store and flips ledger rows to deleted", func() {
			result, err := svc.DeleteAll(ctx, caller)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.DeletedCount).To(Equal(1))
			Expect(result.Message).To(Equal("Successfully deleted all memories"))
			Expect(mock.Deleted).To(Equal([]string{memID}))

			mem, err := store.Memory(ctx, uuid.MustParse(memID))
			Expect(err).NotTo(HaveOccurred())
			Expect(mem.State).To(Equal(ledger.StateDeleted))
			Expect(mem.DeletedAt).NotTo(BeNil())

			history, err := store.HistoryForMemory(ctx, uuid.MustParse(memID))
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))
			Expect(history[1].NewState).To(Equal(ledger.StateDeleted))
			Expect(*history[1].OldState).To(Equal(ledger.StateActive))

			logs, err := store.AccessLogsForUser(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(logs).To(HaveLen(1))
			Expect(logs[0].AccessType).To(Equal(ledger.AccessDeleteAll))
			Expect(logs[0].Metadata).To(HaveKeyWithValue("operation", "bulk_delete"))
		})

		It("retains backing blob files", func() {
			long := strings.Repeat("d", memories.ContentThreshold+10)
			ingest(uuid.New().String(), memstore.EventAdd, long)
			path, ok := mock.AddedMetadata[1]["file_path"].(string)
			Expect(ok).To(BeTrue())

			_, err := svc.DeleteAll(ctx, caller)
			Expect(err).NotTo(HaveOccurred())

			_, err = os.Stat(path)
			Expect(err).NotTo(HaveOccurred())
		})

		It("leaves denied memories untouched", func() {
			Expect(store.PutAccessRule(ctx, &ledger.AccessRule{
				AppID:  app.ID,
				Effect: ledger.EffectDeny,
			})).To(Succeed())

			result, err := svc.DeleteAll(ctx, caller)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.DeletedCount).To(BeZero())
			Expect(mock.Deleted).To(BeEmpty())

			mem, err := store.Memory(ctx, uuid.MustParse(memID))
			Expect(err).NotTo(HaveOccurred())
			Expect(mem.State).To(Equal(ledger.StateActive))
		})

		It("aborts without ledger mutations when a store delete fails", func() {
			mock.FailDelete = true

			_, err := svc.DeleteAll(ctx, caller)
			var external *memories.ExternalServiceError
			Expect(errors.As(err, &external)).To(BeTrue())

			mem, err := store.Memory(ctx, uuid.MustParse(memID))
			Expect(err).NotTo(HaveOccurred())
			Expect(mem.State).To(Equal(ledger.StateActive))
		})
	})

	Describe("audit events", func() {
		var (
			publisher *testutils.MockPublisher
			pool      *worker.Pool
			audited   *memories.Service
		)

		BeforeEach(func() {
			publisher = testutils.NewMockPublisher()

			var err error
			pool, err = worker.NewPool(&worker.Config{
				Publisher: publisher,
				Logger:    logger.Nop(),
			})
			Expect(err).NotTo(HaveOccurred())

			audited, err = memories.NewService(memories.Config{
				Resolver: store,
				Ledger:   store,
				Store:    mock,
				Blobs:    blobs,
				Audit:    pool,
				Logger:   logger.Nop(),
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("publishes a lifecycle event after add", func() {
			id := uuid.New().String()
			mock.AddResponse = &memstore.AddResponse{
				Results: []memstore.Event{{ID: id, Memory: "remember this", Kind: memstore.EventAdd}},
			}
			_, err := audited.Add(ctx, caller, "remember this", "")
			Expect(err).NotTo(HaveOccurred())

			pool.Close()

			events := publisher.Events()
			Expect(events).To(HaveLen(1))
			Expect(events[0].SchemaVersion).To(Equal(eventstream.SchemaVersionV1))
			Expect(events[0].EventType).To(Equal(eventstream.EventTypeLifecycle))
			Expect(events[0].Operation).To(Equal("add"))
			Expect(events[0].UserID).To(Equal(caller.UserID))
			Expect(events[0].ClientName).To(Equal(caller.ClientName))
			Expect(events[0].MemoryIDs).To(Equal([]string{id}))
			Expect(events[0].EventID).NotTo(BeEmpty())
		})

		It("publishes an accessed event after search", func() {
			id := uuid.New().String()
			mock.AddResponse = &memstore.AddResponse{
				Results: []memstore.Event{{ID: id, Memory: "likes coffee", Kind: memstore.EventAdd}},
			}
			_, err := audited.Add(ctx, caller, "likes coffee", "")
			Expect(err).NotTo(HaveOccurred())

			mock.Hits = []memstore.Hit{{Summary: memstore.Summary{ID: id, Memory: "likes coffee"}, Score: 0.9}}
			_, err = audited.Search(ctx, caller, "coffee")
			Expect(err).NotTo(HaveOccurred())

			pool.Close()

			events := publisher.Events()
			Expect(events).To(HaveLen(2))
			Expect(events[1].EventType).To(Equal(eventstream.EventTypeAccessed))
			Expect(events[1].Operation).To(Equal("search"))
			Expect(events[1].MemoryIDs).To(Equal([]string{id}))
		})
	})
})
