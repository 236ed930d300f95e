package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer for scan sessions and dependency
// analyses.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
-- Scan tables

CREATE TABLE IF NOT EXISTS scan_sessions (
  id               TEXT PRIMARY KEY,
  target           TEXT NOT NULL,
  target_path      TEXT,
  scope            TEXT,
  state            TEXT NOT NULL,
  total            INTEGER NOT NULL,
  processed        INTEGER NOT NULL,
  match_count      INTEGER NOT NULL,
  soft_error_count INTEGER NOT NULL,
  batch_size       INTEGER NOT NULL,
  ticks            INTEGER NOT NULL,
  scripts_hash     TEXT,
  started_at       TIMESTAMP,
  finished_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS matches (
  id              INTEGER PRIMARY KEY,
  session_id      TEXT NOT NULL REFERENCES scan_sessions(id) ON DELETE CASCADE,
  seq             INTEGER NOT NULL,
  item_id         TEXT NOT NULL,
  owner           TEXT,
  identifier      TEXT NOT NULL,
  classification  TEXT
);

CREATE TABLE IF NOT EXISTS item_errors (
  id              INTEGER PRIMARY KEY,
  session_id      TEXT NOT NULL REFERENCES scan_sessions(id) ON DELETE CASCADE,
  item_id         TEXT NOT NULL,
  owner           TEXT,
  message         TEXT NOT NULL
);

-- Analysis tables

CREATE TABLE IF NOT EXISTS analyses (
  id              TEXT PRIMARY KEY,
  scope           TEXT NOT NULL,
  status          TEXT NOT NULL,
  node_count      INTEGER NOT NULL,
  edge_count      INTEGER NOT NULL,
  max_layer       INTEGER NOT NULL,
  cycle_nodes     TEXT,
  created_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS artifacts (
  analysis_id     TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
  path            TEXT NOT NULL,
  owner           TEXT,
  identity        TEXT NOT NULL,
  hash            TEXT,
  layer           INTEGER NOT NULL,
  PRIMARY KEY (analysis_id, path)
);

CREATE TABLE IF NOT EXISTS dependencies (
  analysis_id     TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
  from_path       TEXT NOT NULL,
  to_path         TEXT NOT NULL,
  PRIMARY KEY (analysis_id, from_path, to_path)
);

-- Indexes

CREATE INDEX IF NOT EXISTS idx_scan_sessions_started ON scan_sessions(started_at);
CREATE INDEX IF NOT EXISTS idx_matches_session ON matches(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_matches_item ON matches(item_id);
CREATE INDEX IF NOT EXISTS idx_item_errors_session ON item_errors(session_id);
CREATE INDEX IF NOT EXISTS idx_analyses_scope ON analyses(scope, created_at);
CREATE INDEX IF NOT EXISTS idx_artifacts_layer ON artifacts(analysis_id, layer);
CREATE INDEX IF NOT EXISTS idx_dependencies_to ON dependencies(analysis_id, to_path);
`
