package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	kind       TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// SQLiteStore implements Store on a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close() //nolint:errcheck,gosec // best-effort close on init failure
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close() //nolint:errcheck,gosec // best-effort close on init failure
		return nil, fmt.Errorf("create schema: %w", err)
	}

	slog.Info("initialized sqlite store", "path", path)
	return &SQLiteStore{db: db}, nil
}

// LoadRecords returns the records stored for kind.
func (s *SQLiteStore) LoadRecords(ctx context.Context, kind string) ([]json.RawMessage, error) {
	var payload []byte
	found := true
	err := retryableCtx(ctx, func() error {
		err := s.db.QueryRowContext(ctx, "SELECT payload FROM records WHERE kind = ?", kind).Scan(&payload)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kind, err)
	}
	if !found {
		return nil, nil
	}

	var list recordList
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return list.Records, nil
}

// SaveRecords replaces the records stored for kind.
func (s *SQLiteStore) SaveRecords(ctx context.Context, kind string, records []json.RawMessage) error {
	now := time.Now().UTC()
	payload, err := json.Marshal(recordList{UpdatedAt: now, Records: records})
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}

	err = retryableCtx(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO records (kind, payload, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(kind) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
			kind, payload, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", kind, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
