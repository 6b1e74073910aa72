package reconcile

import (
	"context"
	"time"

	"github.com/vifly/tasksApp/internal/schema"
)

// Document is the replicated task document.
//
// Implementations must merge updates commutatively, associatively and
// idempotently. The engine never calls a Document concurrently.
type Document interface {
	// AddTask records a new task from its JSON encoding.
	AddTask(taskJSON []byte) error

	// UpdateTask replaces the task stored under uuid.
	UpdateTask(uuid string, taskJSON []byte) error

	// DeleteTask removes uuid. Deleting an unknown uuid is not an error.
	DeleteTask(uuid string) error

	// RestoreFromJSON replaces the whole state with a JSON array of tasks.
	// Only used to seed the document from the local store.
	RestoreFromJSON(tasksJSON []byte) error

	// GetAllTasksJSON returns the merged live state as a JSON array.
	GetAllTasksJSON() ([]byte, error)

	// GetUpdate returns the local changes not yet acknowledged, or nil.
	GetUpdate() ([]byte, error)

	// AckUpdate confirms that the bytes from the last GetUpdate were stored
	// remotely. Changes made since then stay pending.
	AckUpdate() error

	// ApplyUpdate merges an update produced by any device. Malformed bytes
	// return an error and leave the state untouched.
	ApplyUpdate(update []byte) error
}

// LocalStore is the device-local relational task table.
//
// Several rows may carry the same uuid after a crash; the engine repairs
// that on Initialize and Repair.
type LocalStore interface {
	// ListTasks returns every row with its LocalID set.
	ListTasks(ctx context.Context) ([]*schema.Task, error)

	// InsertTask adds a row and returns its LocalID.
	InsertTask(ctx context.Context, task *schema.Task) (int64, error)

	// UpdateTask overwrites the rows matching task.UUID, timestamps included.
	UpdateTask(ctx context.Context, task *schema.Task) error

	// DeleteTasks removes rows by LocalID.
	DeleteTasks(ctx context.Context, ids []int64) error

	// DeleteTasksByUUID removes every row carrying one of uuids.
	DeleteTasksByUUID(ctx context.Context, uuids []string) error
}

// DeleteLog persists local deletions until a delta carrying them has been
// stored remotely. Restoring the document from the local store drops
// tombstones, so without it a deletion made shortly before a restart would
// never reach other devices.
type DeleteLog interface {
	AddPendingDeletes(ctx context.Context, uuids []string, at time.Time) error
	PendingDeletes(ctx context.Context) (map[string]time.Time, error)
	ClearPendingDeletes(ctx context.Context, uuids []string) error
}

// timedDeleter is implemented by documents that can stamp a tombstone with
// the time the deletion happened.
type timedDeleter interface {
	DeleteTaskAt(uuid string, at time.Time) error
}

// ChangeCounts summarizes what a document-to-local pass wrote.
type ChangeCounts struct {
	Added   int
	Updated int
	Deleted int
}

// Total returns the number of rows written.
func (c ChangeCounts) Total() int {
	return c.Added + c.Updated + c.Deleted
}
