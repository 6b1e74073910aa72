package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vifly/tasksApp/internal/schema"
)

// openTestDB opens a fresh store with the schema initialized.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return store
}

func newTask(uuid, content string, updatedMs int64) *schema.Task {
	return &schema.Task{
		UUID:      uuid,
		Content:   content,
		Tags:      []string{"home"},
		CreatedAt: schema.FromMillis(1000),
		UpdatedAt: schema.FromMillis(updatedMs),
		Weight:    100,
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "tasks.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer store.Close()

	if store.Path() != path {
		t.Errorf("Path() = %q, want %q", store.Path(), path)
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	store := openTestDB(t)

	if err := store.InitSchema(); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}

	var count int
	err := store.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='tasks'`).Scan(&count)
	if err != nil {
		t.Fatalf("failed to query sqlite_master: %v", err)
	}
	if count != 1 {
		t.Errorf("tasks table count = %d, want 1", count)
	}
}

func TestInsertAndList(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	task := newTask("u1", "Buy milk", 2000)
	id, err := store.InsertTask(ctx, task)
	if err != nil {
		t.Fatalf("InsertTask() failed: %v", err)
	}
	if id == 0 || task.LocalID != id {
		t.Errorf("LocalID = %d, id = %d", task.LocalID, id)
	}

	tasks, err := store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(tasks))
	}
	if !schema.Equal(tasks[0], task) {
		t.Errorf("stored task = %+v, want %+v", tasks[0], task)
	}
	if tasks[0].LocalID != id {
		t.Errorf("LocalID = %d, want %d", tasks[0].LocalID, id)
	}
}

func TestInsertTask_AllowsDuplicateUUID(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	if _, err := store.InsertTask(ctx, newTask("dup", "a", 2000)); err != nil {
		t.Fatalf("first InsertTask() failed: %v", err)
	}
	if _, err := store.InsertTask(ctx, newTask("dup", "b", 3000)); err != nil {
		t.Fatalf("second InsertTask() failed: %v", err)
	}

	count, err := store.GetTaskCount(ctx)
	if err != nil {
		t.Fatalf("GetTaskCount() failed: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	newest, err := store.GetTaskByUUID(ctx, "dup")
	if err != nil {
		t.Fatalf("GetTaskByUUID() failed: %v", err)
	}
	if newest.Content != "b" {
		t.Errorf("GetTaskByUUID() content = %q, want %q", newest.Content, "b")
	}
}

func TestInsertTask_RejectsInvalid(t *testing.T) {
	store := openTestDB(t)

	_, err := store.InsertTask(context.Background(), &schema.Task{Content: "no uuid"})
	if err == nil {
		t.Fatal("InsertTask() succeeded for task without uuid")
	}
}

func TestUpdateTask_WritesTimestampsVerbatim(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	task := newTask("u1", "Buy milk", 5000)
	if _, err := store.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask() failed: %v", err)
	}

	// An older remote version must land as-is.
	older := task.Clone()
	older.Content = "Buy oat milk"
	older.UpdatedAt = schema.FromMillis(1500)
	older.IsPinned = true
	older.Tags = []string{"shop", "urgent"}
	if err := store.UpdateTask(ctx, older); err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}

	got, err := store.GetTaskByUUID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetTaskByUUID() failed: %v", err)
	}
	if !schema.Equal(got, older) {
		t.Errorf("updated task = %+v, want %+v", got, older)
	}
	if got.LocalID != task.LocalID {
		t.Errorf("LocalID changed: %d -> %d", task.LocalID, got.LocalID)
	}
}

func TestDeleteTasks(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	a := newTask("a", "a", 2000)
	b := newTask("b", "b", 2000)
	c := newTask("c", "c", 2000)
	for _, task := range []*schema.Task{a, b, c} {
		if _, err := store.InsertTask(ctx, task); err != nil {
			t.Fatalf("InsertTask() failed: %v", err)
		}
	}

	if err := store.DeleteTasks(ctx, []int64{a.LocalID, 9999}); err != nil {
		t.Fatalf("DeleteTasks() failed: %v", err)
	}
	if err := store.DeleteTasksByUUID(ctx, []string{"c", "missing"}); err != nil {
		t.Fatalf("DeleteTasksByUUID() failed: %v", err)
	}
	if err := store.DeleteTasks(ctx, nil); err != nil {
		t.Fatalf("DeleteTasks(nil) failed: %v", err)
	}

	tasks, err := store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].UUID != "b" {
		t.Errorf("remaining tasks = %v, want only b", tasks)
	}
}

func TestGetTaskByUUID_NotFound(t *testing.T) {
	store := openTestDB(t)

	_, err := store.GetTaskByUUID(context.Background(), "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetTaskByUUID() error = %v, want sql.ErrNoRows", err)
	}
}

func TestListTasks_EmptyTags(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	task := &schema.Task{UUID: "u1", Content: "x"}
	task.SetDefaults(time.UnixMilli(5000))
	task.Tags = nil
	if _, err := store.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask() failed: %v", err)
	}

	tasks, err := store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if tasks[0].Tags == nil || len(tasks[0].Tags) != 0 {
		t.Errorf("Tags = %#v, want empty non-nil slice", tasks[0].Tags)
	}
}
