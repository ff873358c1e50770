// Package sqlite provides a single-file backend for manifests and resumption
// snapshots, so a single-binary deployment needs no external services.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"atlas-game-engine/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS manifests (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshots (
	session_id TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store persists manifests and snapshots in SQLite. It serves the same
// loader and snapshot interfaces as the Postgres and Redis backends.
type Store struct {
	db *sql.DB
}

// Open opens the database file and ensures the schema exists.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutManifest inserts or replaces a manifest document.
func (s *Store) PutManifest(ctx context.Context, gameID string, doc []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manifests (id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		gameID, string(doc), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("put manifest: %w", err)
	}
	return nil
}

func (s *Store) LoadManifest(ctx context.Context, gameID string) ([]byte, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM manifests WHERE id=?`, gameID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrManifestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	return []byte(raw), nil
}

func (s *Store) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		snap.Session.SessionID, string(raw), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE session_id=?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}
