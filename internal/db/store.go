// Package db provides the local relational task store backed by embedded SQLite.
//
// The store is the device-local source of truth for the task list. Rows are
// keyed by an integer row id; the task uuid lives in its own indexed column.
// The uuid index is deliberately not UNIQUE: a crash between a local write
// and its document mirror can leave duplicates behind, and the reconciliation
// engine repairs them instead of failing writes.
//
// Architecture:
//   - Database file: <data dir>/tasks.db
//   - WAL mode: concurrent readers during writes
//   - Schema: tasks (+ sync metadata tables owned by package syncmeta)
//
// Only the reconciliation engine writes to the store once it is running.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/vifly/tasksApp/internal/schema"
)

// DB wraps the SQLite connection with task-specific queries.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in WAL mode. If the file doesn't exist it is
// created; call InitSchema before use.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	store, err := db.Open("~/.tasksync/tasks.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
// The sync metadata store shares this connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tasks table if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',  -- JSON array
		created_at INTEGER NOT NULL,      -- epoch millis
		updated_at INTEGER NOT NULL,      -- epoch millis
		is_pinned INTEGER NOT NULL DEFAULT 0,
		custom_sort_order INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_uuid ON tasks(uuid);
	CREATE INDEX IF NOT EXISTS idx_tasks_order ON tasks(is_pinned, custom_sort_order);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// ListTasks returns every row, including rows that share a uuid.
// Rows come back in insertion order.
func (db *DB) ListTasks(ctx context.Context) ([]*schema.Task, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, uuid, content, tags, created_at, updated_at, is_pinned, custom_sort_order
		FROM tasks
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// GetTaskByUUID returns the newest row carrying uuid.
// Returns sql.ErrNoRows if no row matches.
func (db *DB) GetTaskByUUID(ctx context.Context, uuid string) (*schema.Task, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, uuid, content, tags, created_at, updated_at, is_pinned, custom_sort_order
		FROM tasks
		WHERE uuid = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`, uuid)
	if err != nil {
		return nil, fmt.Errorf("failed to query task %s: %w", uuid, err)
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, sql.ErrNoRows
	}
	return tasks[0], nil
}

// InsertTask inserts a new row and returns its row id.
// The task's LocalID is set to the new id.
func (db *DB) InsertTask(ctx context.Context, task *schema.Task) (int64, error) {
	if err := task.Validate(); err != nil {
		return 0, fmt.Errorf("invalid task: %w", err)
	}

	tagsJSON, err := marshalTags(task.Tags)
	if err != nil {
		return 0, err
	}

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO tasks (uuid, content, tags, created_at, updated_at, is_pinned, custom_sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		task.UUID,
		task.Content,
		tagsJSON,
		task.CreatedAt.UnixMilli(),
		task.UpdatedAt.UnixMilli(),
		boolToInt(task.IsPinned),
		task.Weight,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert task %s: %w", task.UUID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read row id for task %s: %w", task.UUID, err)
	}
	task.LocalID = id
	return id, nil
}

// UpdateTask overwrites every persisted field of the rows matching task.UUID.
// Timestamps are written as given; callers decide whether to touch them.
func (db *DB) UpdateTask(ctx context.Context, task *schema.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	tagsJSON, err := marshalTags(task.Tags)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx, `
		UPDATE tasks SET
			content = ?,
			tags = ?,
			created_at = ?,
			updated_at = ?,
			is_pinned = ?,
			custom_sort_order = ?
		WHERE uuid = ?
	`,
		task.Content,
		tagsJSON,
		task.CreatedAt.UnixMilli(),
		task.UpdatedAt.UnixMilli(),
		boolToInt(task.IsPinned),
		task.Weight,
		task.UUID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", task.UUID, err)
	}
	return nil
}

// DeleteTasks removes rows by row id.
// Returns nil for ids that don't exist (idempotent).
func (db *DB) DeleteTasks(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `DELETE FROM tasks WHERE id IN (` + placeholders(len(ids)) + `)`
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete %d tasks: %w", len(ids), err)
	}
	return nil
}

// DeleteTasksByUUID removes every row carrying one of the given uuids.
// Returns nil for uuids that don't exist (idempotent).
func (db *DB) DeleteTasksByUUID(ctx context.Context, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}

	args := make([]any, len(uuids))
	for i, u := range uuids {
		args[i] = u
	}

	query := `DELETE FROM tasks WHERE uuid IN (` + placeholders(len(uuids)) + `)`
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete tasks by uuid: %w", err)
	}
	return nil
}

// GetTaskCount returns the total number of rows.
func (db *DB) GetTaskCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get task count: %w", err)
	}
	return count, nil
}

// scanTasks is a helper function to scan multiple tasks from query results.
func scanTasks(rows *sql.Rows) ([]*schema.Task, error) {
	var tasks []*schema.Task

	for rows.Next() {
		var task schema.Task
		var tagsJSON string
		var createdAt, updatedAt int64
		var pinned int

		err := rows.Scan(
			&task.LocalID,
			&task.UUID,
			&task.Content,
			&tagsJSON,
			&createdAt,
			&updatedAt,
			&pinned,
			&task.Weight,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		task.CreatedAt = schema.FromMillis(createdAt)
		task.UpdatedAt = schema.FromMillis(updatedAt)
		task.IsPinned = pinned != 0

		if tagsJSON != "" && tagsJSON != "null" {
			if err := json.Unmarshal([]byte(tagsJSON), &task.Tags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tags of task %s: %w", task.UUID, err)
			}
		}
		if task.Tags == nil {
			task.Tags = []string{}
		}

		tasks = append(tasks, &task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	return string(data), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
