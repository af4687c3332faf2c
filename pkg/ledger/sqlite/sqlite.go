// Package sqlite provides the SQLite-backed ledger store. The dbPath can be
// a file path or ":memory:" for an in-memory database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/recollectco/recollect/pkg/identity"
	"github.com/recollectco/recollect/pkg/ledger"
)

// Store implements ledger.Driver and identity.Resolver over a single SQLite
// database holding the memories, history, access-log, identity and
// access-rule tables.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the ledger database and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: databases coherent (each SQLite
	// connection would otherwise get its own) and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS apps (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		UNIQUE(owner_id, name),
		FOREIGN KEY (owner_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		app_id TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		state TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME,
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (app_id) REFERENCES apps(id)
	);

	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
	CREATE INDEX IF NOT EXISTS idx_memories_state ON memories(state);

	CREATE TABLE IF NOT EXISTS memory_status_history (
		id TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL,
		changed_by TEXT NOT NULL,
		old_state TEXT,
		new_state TEXT NOT NULL,
		changed_at DATETIME NOT NULL,
		FOREIGN KEY (memory_id) REFERENCES memories(id)
	);

	CREATE INDEX IF NOT EXISTS idx_history_memory ON memory_status_history(memory_id);

	CREATE TABLE IF NOT EXISTS memory_access_logs (
		id TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL,
		app_id TEXT NOT NULL,
		access_type TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (memory_id) REFERENCES memories(id),
		FOREIGN KEY (app_id) REFERENCES apps(id)
	);

	CREATE INDEX IF NOT EXISTS idx_access_logs_memory ON memory_access_logs(memory_id);

	CREATE TABLE IF NOT EXISTS access_rules (
		id TEXT PRIMARY KEY,
		app_id TEXT NOT NULL,
		memory_id TEXT,
		effect TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (app_id) REFERENCES apps(id)
	);

	CREATE INDEX IF NOT EXISTS idx_access_rules_app ON access_rules(app_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside one transaction. fn's mutations are committed only
// if fn returns nil; any error rolls the whole unit of work back.
func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	t := &storeTx{ctx: ctx, tx: sqlTx}
	if err := fn(t); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// storeTx binds one *sql.Tx to the context of its unit of work.
type storeTx struct {
	ctx context.Context
	tx  *sql.Tx
}

const memoryColumns = "id, user_id, app_id, content, metadata, state, created_at, updated_at, deleted_at"

func scanMemory(row interface{ Scan(...any) error }) (*ledger.Memory, error) {
	var (
		m         ledger.Memory
		id        string
		userID    string
		appID     string
		metaJSON  string
		state     string
		deletedAt sql.NullTime
	)

	err := row.Scan(&id, &userID, &appID, &m.Content, &metaJSON, &state, &m.CreatedAt, &m.UpdatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan memory: %w", err)
	}

	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid memory id %q: %w", id, err)
	}
	if m.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", userID, err)
	}
	if m.AppID, err = uuid.Parse(appID); err != nil {
		return nil, fmt.Errorf("invalid app id %q: %w", appID, err)
	}

	if err := json.Unmarshal([]byte(metaJSON), &m.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode memory metadata: %w", err)
	}

	m.State = ledger.State(state)
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}

	return &m, nil
}

func encodeMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(raw), nil
}

func (t *storeTx) GetMemory(id uuid.UUID) (*ledger.Memory, error) {
	row := t.tx.QueryRowContext(t.ctx,
		"SELECT "+memoryColumns+" FROM memories WHERE id = ?", id.String())
	return scanMemory(row)
}

func (t *storeTx) CreateMemory(m *ledger.Memory) error {
	if m == nil {
		return ledger.ErrNilMemory
	}

	metaJSON, err := encodeMetadata(m.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}

	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO memories (id, user_id, app_id, content, metadata, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.UserID.String(), m.AppID.String(),
		m.Content, metaJSON, string(m.State), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

func (t *storeTx) UpdateMemory(m *ledger.Memory) error {
	if m == nil {
		return ledger.ErrNilMemory
	}

	metaJSON, err := encodeMetadata(m.Metadata)
	if err != nil {
		return err
	}

	m.UpdatedAt = time.Now().UTC()

	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE memories SET content = ?, metadata = ?, state = ?, updated_at = ?
		WHERE id = ?`,
		m.Content, metaJSON, string(m.State), m.UpdatedAt, m.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update memory: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (t *storeTx) MarkDeleted(id uuid.UUID, at time.Time) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE memories SET state = ?, deleted_at = ?, updated_at = ?
		WHERE id = ?`,
		string(ledger.StateDeleted), at, at, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark memory deleted: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (t *storeTx) AppendHistory(h *ledger.StatusHistory) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.ChangedAt.IsZero() {
		h.ChangedAt = time.Now().UTC()
	}

	var oldState sql.NullString
	if h.OldState != nil {
		oldState = sql.NullString{String: string(*h.OldState), Valid: true}
	}

	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO memory_status_history (id, memory_id, changed_by, old_state, new_state, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID.String(), h.MemoryID.String(), h.ChangedBy.String(),
		oldState, string(h.NewState), h.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (t *storeTx) AppendAccessLog(l *ledger.AccessLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	metaJSON, err := encodeMetadata(l.Metadata)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO memory_access_logs (id, memory_id, app_id, access_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.MemoryID.String(), l.AppID.String(),
		l.AccessType, metaJSON, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append access log: %w", err)
	}
	return nil
}

func (t *storeTx) MemoriesForUser(userID uuid.UUID) ([]*ledger.Memory, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		"SELECT "+memoryColumns+" FROM memories WHERE user_id = ? ORDER BY created_at, id",
		userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

func (t *storeTx) RulesForApp(appID uuid.UUID) ([]*ledger.AccessRule, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT id, app_id, memory_id, effect, created_at
		FROM access_rules WHERE app_id = ? ORDER BY created_at, id`,
		appID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query access rules: %w", err)
	}
	defer rows.Close()

	var rules []*ledger.AccessRule
	for rows.Next() {
		var (
			r        ledger.AccessRule
			id       string
			appIDStr string
			memoryID sql.NullString
			effect   string
		)
		if err := rows.Scan(&id, &appIDStr, &memoryID, &effect, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan access rule: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid rule id %q: %w", id, err)
		}
		if r.AppID, err = uuid.Parse(appIDStr); err != nil {
			return nil, fmt.Errorf("invalid rule app id %q: %w", appIDStr, err)
		}
		if memoryID.Valid {
			mid, err := uuid.Parse(memoryID.String)
			if err != nil {
				return nil, fmt.Errorf("invalid rule memory id %q: %w", memoryID.String, err)
			}
			r.MemoryID = &mid
		}
		r.Effect = ledger.RuleEffect(effect)
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

func collectMemories(rows *sql.Rows) ([]*ledger.Memory, error) {
	var memories []*ledger.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// Memory returns a single memory row outside any caller transaction.
func (s *Store) Memory(ctx context.Context, id uuid.UUID) (*ledger.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+memoryColumns+" FROM memories WHERE id = ?", id.String())
	return scanMemory(row)
}

// MemoriesForUser returns all memory rows owned by the user.
func (s *Store) MemoriesForUser(ctx context.Context, userID uuid.UUID) ([]*ledger.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+memoryColumns+" FROM memories WHERE user_id = ? ORDER BY created_at, id",
		userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// HistoryForMemory returns the state-transition trail for a memory, oldest
// first.
func (s *Store) HistoryForMemory(ctx context.Context, id uuid.UUID) ([]*ledger.StatusHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, changed_by, old_state, new_state, changed_at
		FROM memory_status_history WHERE memory_id = ? ORDER BY changed_at, id`,
		id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var history []*ledger.StatusHistory
	for rows.Next() {
		var (
			h         ledger.StatusHistory
			idStr     string
			memoryID  string
			changedBy string
			oldState  sql.NullString
			newState  string
		)
		if err := rows.Scan(&idStr, &memoryID, &changedBy, &oldState, &newState, &h.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		if h.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid history id %q: %w", idStr, err)
		}
		if h.MemoryID, err = uuid.Parse(memoryID); err != nil {
			return nil, fmt.Errorf("invalid history memory id %q: %w", memoryID, err)
		}
		if h.ChangedBy, err = uuid.Parse(changedBy); err != nil {
			return nil, fmt.Errorf("invalid history user id %q: %w", changedBy, err)
		}
		if oldState.Valid {
			st := ledger.State(oldState.String)
			h.OldState = &st
		}
		h.NewState = ledger.State(newState)
		history = append(history, &h)
	}
	return history, rows.Err()
}

// AccessLogsForUser returns every access-log row for memories owned by the
// user, newest first.
func (s *Store) AccessLogsForUser(ctx context.Context, userID uuid.UUID) ([]*ledger.AccessLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.memory_id, l.app_id, l.access_type, l.metadata, l.created_at
		FROM memory_access_logs l
		JOIN memories m ON m.id = l.memory_id
		WHERE m.user_id = ?
		ORDER BY l.created_at DESC, l.id`,
		userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query access logs: %w", err)
	}
	defer rows.Close()

	var logs []*ledger.AccessLog
	for rows.Next() {
		var (
			l        ledger.AccessLog
			idStr    string
			memoryID string
			appID    string
			metaJSON string
		)
		if err := rows.Scan(&idStr, &memoryID, &appID, &l.AccessType, &metaJSON, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan access log: %w", err)
		}
		if l.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid log id %q: %w", idStr, err)
		}
		if l.MemoryID, err = uuid.Parse(memoryID); err != nil {
			return nil, fmt.Errorf("invalid log memory id %q: %w", memoryID, err)
		}
		if l.AppID, err = uuid.Parse(appID); err != nil {
			return nil, fmt.Errorf("invalid log app id %q: %w", appID, err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &l.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode log metadata: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// Resolve implements identity.Resolver with get-or-create semantics: unseen
// users and apps are provisioned on first contact, matching the behavior of
// the surrounding host system. A paused app resolves with IsActive false.
func (s *Store) Resolve(ctx context.Context, c identity.Caller) (*ledger.User, *ledger.App, error) {
	if c.UserID == "" {
		return nil, nil, identity.ErrMissingUserID
	}
	if c.ClientName == "" {
		return nil, nil, identity.ErrMissingClientName
	}

	user, err := s.getOrCreateUser(ctx, c.UserID)
	if err != nil {
		return nil, nil, err
	}

	app, err := s.getOrCreateApp(ctx, user.ID, c.ClientName)
	if err != nil {
		return nil, nil, err
	}

	return user, app, nil
}

// UserByExternalID looks up a user by their external handle without creating
// one. Returns ledger.ErrNotFound for unseen handles.
func (s *Store) UserByExternalID(ctx context.Context, externalID string) (*ledger.User, error) {
	u := &ledger.User{}
	var idStr string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, external_id, created_at FROM users WHERE external_id = ?",
		externalID).Scan(&idStr, &u.ExternalID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if u.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", idStr, err)
	}
	return u, nil
}

func (s *Store) getOrCreateUser(ctx context.Context, externalID string) (*ledger.User, error) {
	u := &ledger.User{}
	var idStr string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, external_id, created_at FROM users WHERE external_id = ?",
		externalID).Scan(&idStr, &u.ExternalID, &u.CreatedAt)
	if err == nil {
		if u.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", idStr, err)
		}
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	u = &ledger.User{
		ID:         uuid.New(),
		ExternalID: externalID,
		CreatedAt:  time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, external_id, created_at) VALUES (?, ?, ?)",
		u.ID.String(), u.ExternalID, u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (s *Store) getOrCreateApp(ctx context.Context, ownerID uuid.UUID, name string) (*ledger.App, error) {
	a := &ledger.App{}
	var idStr, ownerStr string
	var active int
	err := s.db.QueryRowContext(ctx,
		"SELECT id, owner_id, name, is_active, created_at FROM apps WHERE owner_id = ? AND name = ?",
		ownerID.String(), name).Scan(&idStr, &ownerStr, &a.Name, &active, &a.CreatedAt)
	if err == nil {
		if a.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid app id %q: %w", idStr, err)
		}
		if a.OwnerID, err = uuid.Parse(ownerStr); err != nil {
			return nil, fmt.Errorf("invalid app owner id %q: %w", ownerStr, err)
		}
		a.IsActive = active != 0
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up app: %w", err)
	}

	a = &ledger.App{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO apps (id, owner_id, name, is_active, created_at) VALUES (?, ?, ?, 1, ?)",
		a.ID.String(), a.OwnerID.String(), a.Name, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create app: %w", err)
	}
	return a, nil
}

// Apps lists all registered apps.
func (s *Store) Apps(ctx context.Context) ([]*ledger.App, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, owner_id, name, is_active, created_at FROM apps ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query apps: %w", err)
	}
	defer rows.Close()

	var apps []*ledger.App
	for rows.Next() {
		a := &ledger.App{}
		var idStr, ownerStr string
		var active int
		if err := rows.Scan(&idStr, &ownerStr, &a.Name, &active, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan app: %w", err)
		}
		if a.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid app id %q: %w", idStr, err)
		}
		if a.OwnerID, err = uuid.Parse(ownerStr); err != nil {
			return nil, fmt.Errorf("invalid app owner id %q: %w", ownerStr, err)
		}
		a.IsActive = active != 0
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// SetAppActive pauses or resumes an app. Paused apps are rejected by mutating
// tool calls until resumed.
func (s *Store) SetAppActive(ctx context.Context, appID uuid.UUID, active bool) error {
	val := 0
	if active {
		val = 1
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE apps SET is_active = ? WHERE id = ?", val, appID.String())
	if err != nil {
		return fmt.Errorf("failed to update app: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// PutAccessRule records an allow or deny rule for an app, optionally scoped
// to a single memory.
func (s *Store) PutAccessRule(ctx context.Context, r *ledger.AccessRule) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	var memoryID sql.NullString
	if r.MemoryID != nil {
		memoryID = sql.NullString{String: r.MemoryID.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO access_rules (id, app_id, memory_id, effect, created_at) VALUES (?, ?, ?, ?, ?)",
		r.ID.String(), r.AppID.String(), memoryID, string(r.Effect), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert access rule: %w", err)
	}
	return nil
}
