package store

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/memvault/memvault/internal/event"
)

// timeLayout is RFC 3339 with fixed-width nanoseconds. Every timestamp is
// stored in UTC with this layout, so lexical order equals chronological
// order and MAX(updated_at) works as a modification watermark.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// Store is the SQLite-backed persistence layer. Entries, consents, and
// everything derived from them (chunks, jobs, the search index, the graph
// projection) live in one database so a mutation and its bookkeeping
// commit atomically. Domain events are published only after commit.
type Store struct {
	db      *sql.DB
	events  *event.Bus
	entropy *rand.Rand

	idMu sync.Mutex

	ftsMu        sync.Mutex
	ftsWatermark string
}

// Open opens or creates a SQLite database at the given path.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// SetEvents attaches the bus that receives post-commit domain events.
func (s *Store) SetEvents(bus *event.Bus) {
	s.events = bus
}

func (s *Store) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id           TEXT PRIMARY KEY,
		email        TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS consents (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id            TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		agent_identifier   TEXT NOT NULL,
		scopes             TEXT NOT NULL,
		sensitivity_levels TEXT NOT NULL,
		status             TEXT NOT NULL DEFAULT 'pending',
		version            INTEGER NOT NULL,
		issued_at          TEXT NOT NULL,
		updated_at         TEXT NOT NULL,
		revoked_at         TEXT,
		UNIQUE (user_id, agent_identifier, version)
	);
	CREATE INDEX IF NOT EXISTS idx_consents_lookup ON consents(user_id, agent_identifier, status);

	CREATE TABLE IF NOT EXISTS entries (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		title       TEXT NOT NULL,
		content     TEXT NOT NULL,
		sensitivity TEXT NOT NULL DEFAULT 'public',
		entry_type  TEXT NOT NULL DEFAULT 'note',
		version     INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_updated ON entries(updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_sensitivity ON entries(sensitivity);

	CREATE TABLE IF NOT EXISTS entry_chunks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id    INTEGER NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		content     TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		UNIQUE (entry_id, seq)
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		entry_id   INTEGER PRIMARY KEY REFERENCES entries(id) ON DELETE CASCADE,
		vector     BLOB NOT NULL,
		dimension  INTEGER NOT NULL,
		model_name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS condensation_jobs (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id      INTEGER NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
		status        TEXT NOT NULL DEFAULT 'pending',
		scheduled_for TEXT NOT NULL,
		started_at    TEXT,
		completed_at  TEXT,
		attempts      INTEGER NOT NULL DEFAULT 0,
		summary       TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_due ON condensation_jobs(status, scheduled_for, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_entry ON condensation_jobs(entry_id, status);

	CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		name            TEXT NOT NULL,
		target_url      TEXT NOT NULL,
		secret          TEXT NOT NULL,
		events          TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'active',
		failure_count   INTEGER NOT NULL DEFAULT 0,
		last_success_at TEXT,
		last_failure_at TEXT,
		last_error      TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS graph_nodes (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		node_type    TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		metadata     TEXT,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL,
		UNIQUE (node_type, reference_id)
	);

	CREATE TABLE IF NOT EXISTS graph_edges (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id  INTEGER NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
		target_id  INTEGER NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
		relation   TEXT NOT NULL,
		weight     REAL NOT NULL DEFAULT 1.0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (source_id, target_id, relation)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_target ON graph_edges(target_id);

	CREATE TABLE IF NOT EXISTS api_keys (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		key               TEXT NOT NULL UNIQUE,
		name              TEXT NOT NULL,
		is_active         INTEGER NOT NULL DEFAULT 1,
		rate_limit        INTEGER NOT NULL,
		rate_limit_window INTEGER NOT NULL,
		last_used_at      TEXT,
		created_at        TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_records (
		id          TEXT PRIMARY KEY,
		actor       TEXT NOT NULL DEFAULT '',
		action      TEXT NOT NULL,
		object_type TEXT NOT NULL DEFAULT '',
		object_id   TEXT NOT NULL DEFAULT '',
		metadata    TEXT,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_records(created_at DESC);

	CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(title, content);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
