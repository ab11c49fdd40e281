// Package store is the Persistence Store (spec.md §4.1): a single SQLite
// file holding the downloads/download_segments/batches/settings/rules
// tables, opened with mattn/go-sqlite3 the way
// seedbox_downloader/internal/storage/sqlite/init.go opens its downloads.db,
// extended with WAL mode and a busy timeout. Open caps the pool at one
// connection, so all reads and writes from the engine and control API are
// serialized through it.
package store

import (
	"database/sql"
	"fmt"

	// Registers the sqlite3 driver with database/sql.
	_ "github.com/mattn/go-sqlite3"

	"github.com/z-dmr/zdmr/internal/zdmrlog"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id                TEXT PRIMARY KEY,
	batch_id          TEXT NOT NULL DEFAULT '',
	original_url      TEXT NOT NULL,
	resolved_url      TEXT NOT NULL DEFAULT '',
	dest_dir          TEXT NOT NULL,
	forced_proxy_url  TEXT NOT NULL DEFAULT '',
	content_length    INTEGER NOT NULL DEFAULT -1,
	etag              TEXT NOT NULL DEFAULT '',
	last_modified     TEXT NOT NULL DEFAULT '',
	supports_ranges   TEXT NOT NULL DEFAULT 'unknown',
	mirror_used       TEXT NOT NULL DEFAULT '',
	temp_path         TEXT NOT NULL DEFAULT '',
	final_filename    TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	error_code        TEXT NOT NULL DEFAULT '',
	error_message     TEXT NOT NULL DEFAULT '',
	bytes_downloaded  INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	started_at        TEXT,
	completed_at      TEXT
);

CREATE INDEX IF NOT EXISTS idx_downloads_created_at ON downloads(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_downloads_status ON downloads(status);

CREATE TABLE IF NOT EXISTS download_segments (
	download_id       TEXT NOT NULL,
	ordinal           INTEGER NOT NULL,
	start             INTEGER NOT NULL,
	end_exclusive     INTEGER NOT NULL,
	bytes_written     INTEGER NOT NULL DEFAULT 0,
	done              INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (download_id, ordinal)
);

CREATE TABLE IF NOT EXISTS batches (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	dest_dir          TEXT NOT NULL,
	forced_proxy      INTEGER NOT NULL DEFAULT 0,
	on_collision      TEXT NOT NULL DEFAULT 'rename',
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rules (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	pattern TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	kind    TEXT NOT NULL,
	payload TEXT NOT NULL
);
`

// Store is the handle onto zdmr.sqlite3; every access goes through one
// connection.
type Store struct {
	db *sql.DB
}

// Open opens (and, if needed, creates) the database at path and runs the
// idempotent schema migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; sqlite serializes anyway

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.seedDefaults(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding defaults: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// fatal wraps a store-level I/O error per spec.md §4.1: such errors are
// fatal to the affected operation and must be surfaced distinctly from
// network errors, never silently dropped.
func fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	logger := zdmrlog.Component("store")
	logger.Error().Err(err).Str("op", op).Msg("store I/O error")
	return fmt.Errorf("store: %s: %w", op, err)
}
