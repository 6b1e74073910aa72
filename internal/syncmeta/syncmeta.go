// Package syncmeta persists per-device sync bookkeeping.
//
// It holds the device id, the last successful sync time, the ledger of delta
// files already processed and the local deletions not yet pushed.
package syncmeta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	keyDeviceID     = "device_id"
	keyLastSyncTime = "last_sync_time"
)

// Store reads and writes sync metadata in the local database.
type Store struct {
	db *sql.DB
}

// New creates a metadata store on an open connection.
// Call InitSchema before use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// InitSchema creates the metadata tables if they don't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS sync_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS processed_files (
		name TEXT PRIMARY KEY,
		processed_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_deletes (
		uuid TEXT PRIMARY KEY,
		deleted_at INTEGER NOT NULL
	);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize sync metadata schema: %w", err)
	}
	return nil
}

// DeviceID returns this device's id, generating and persisting one on first use.
// The id never changes afterwards.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	id, err := s.get(ctx, keyDeviceID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	// INSERT OR IGNORE keeps the first id if two callers race.
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sync_metadata (key, value) VALUES (?, ?)`,
		keyDeviceID, uuid.NewString())
	if err != nil {
		return "", fmt.Errorf("failed to store device id: %w", err)
	}
	return s.get(ctx, keyDeviceID)
}

// LastSyncTime returns the time of the last completed sync pass.
// The zero time means never.
func (s *Store) LastSyncTime(ctx context.Context) (time.Time, error) {
	raw, err := s.get(ctx, keyLastSyncTime)
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last sync time %q: %w", raw, err)
	}
	return time.UnixMilli(ms), nil
}

// SetLastSyncTime records a completed pass. Values older than the stored one
// are ignored so the time never moves backwards.
func (s *Store) SetLastSyncTime(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
		WHERE CAST(excluded.value AS INTEGER) > CAST(sync_metadata.value AS INTEGER)
	`, keyLastSyncTime, strconv.FormatInt(t.UnixMilli(), 10))
	if err != nil {
		return fmt.Errorf("failed to set last sync time: %w", err)
	}
	return nil
}

// ProcessedFiles returns the ledger of delta files that were pushed or pulled.
func (s *Store) ProcessedFiles(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM processed_files`)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed files: %w", err)
	}
	defer rows.Close()

	files := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan processed file: %w", err)
		}
		files[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating processed files: %w", err)
	}
	return files, nil
}

// AddProcessedFile appends name to the ledger. Adding a known name is a no-op.
func (s *Store) AddProcessedFile(ctx context.Context, name string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_files (name, processed_at) VALUES (?, ?)`,
		name, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record processed file %s: %w", name, err)
	}
	return nil
}

// AddPendingDeletes remembers local deletions until a delta carrying them is
// stored remotely. Re-adding a uuid keeps its first deletion time.
func (s *Store) AddPendingDeletes(ctx context.Context, uuids []string, at time.Time) error {
	if len(uuids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range uuids {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO pending_deletes (uuid, deleted_at) VALUES (?, ?)`,
			id, at.UnixMilli()); err != nil {
			return fmt.Errorf("failed to record pending delete %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pending deletes: %w", err)
	}
	return nil
}

// PendingDeletes returns the unpushed deletions keyed by uuid.
func (s *Store) PendingDeletes(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uuid, deleted_at FROM pending_deletes`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deletes: %w", err)
	}
	defer rows.Close()

	deletes := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var ms int64
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan pending delete: %w", err)
		}
		deletes[id] = time.UnixMilli(ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending deletes: %w", err)
	}
	return deletes, nil
}

// ClearPendingDeletes forgets the given deletions. Either all of them are
// forgotten or none.
func (s *Store) ClearPendingDeletes(ctx context.Context, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range uuids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_deletes WHERE uuid = ?`, id); err != nil {
			return fmt.Errorf("failed to clear pending delete %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cleared deletes: %w", err)
	}
	return nil
}

// Reset clears the ledger and the last sync time. The device id is kept.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM processed_files`); err != nil {
		return fmt.Errorf("failed to clear processed files: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_metadata WHERE key = ?`, keyLastSyncTime); err != nil {
		return fmt.Errorf("failed to clear last sync time: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}
