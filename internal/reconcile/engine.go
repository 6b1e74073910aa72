package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vifly/tasksApp/internal/schema"
)

// ErrNotInitialized is returned by operations that read or export the
// document before Initialize has seeded it from the local store.
var ErrNotInitialized = errors.New("reconcile engine not initialized")

// Engine keeps the local store and the replicated document consistent.
//
// Every operation holds a single mutex, so store and document are never
// observed half-updated. Writes go to the store first and are mirrored into
// the document afterwards. A failed mirror is remembered and replayed from
// the local row before the next reconcile or export.
type Engine struct {
	mu     sync.Mutex
	store  LocalStore
	doc    Document
	clock  clockwork.Clock
	logger *log.Logger

	initialized atomic.Bool
	dirty       map[string]struct{}

	// unapplied is set while imported deltas have not reached the local
	// store yet.
	unapplied bool

	deletes         DeleteLog
	exportedDeletes []string

	notifier notifier
}

// New creates an engine over store and doc.
//
// If clock is nil the real clock is used. If logger is nil, a default logger
// writing to stderr is used.
func New(store LocalStore, doc Document, clock clockwork.Clock, logger *log.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &Engine{
		store:  store,
		doc:    doc,
		clock:  clock,
		logger: logger,
		dirty:  make(map[string]struct{}),
	}
}

// SetDeleteLog makes deletions survive a restart until they are pushed.
// Call it before Initialize.
func (e *Engine) SetDeleteLog(l DeleteLog) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deletes = l
}

// Initialize repairs the local store and seeds the document from it.
// Only the first successful call does any work; concurrent callers wait
// for it.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.initialized.Load() {
		e.mu.Unlock()
		return nil
	}
	err := e.initializeLocked(ctx)
	if err == nil {
		e.initialized.Store(true)
	}
	e.mu.Unlock()

	if err != nil {
		return err
	}
	e.notifier.notify()
	return nil
}

func (e *Engine) initializeLocked(ctx context.Context) error {
	if _, err := e.repairLocked(ctx, false); err != nil {
		return fmt.Errorf("failed to repair local store: %w", err)
	}

	tasks, err := e.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list local tasks: %w", err)
	}
	data, err := schema.MarshalTasks(tasks)
	if err != nil {
		return err
	}
	if err := e.doc.RestoreFromJSON(data); err != nil {
		return fmt.Errorf("failed to seed document: %w", err)
	}
	if err := e.replayDeletesLocked(ctx, tasks); err != nil {
		return err
	}

	e.logger.Printf("Initialized document with %d tasks", len(tasks))
	return nil
}

// replayDeletesLocked puts back the tombstones of deletions not yet pushed.
// A uuid that exists locally again was re-added by a newer remote edit, so
// its deletion is dropped.
func (e *Engine) replayDeletesLocked(ctx context.Context, local []*schema.Task) error {
	if e.deletes == nil {
		return nil
	}
	pending, err := e.deletes.PendingDeletes(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pending deletes: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	present := make(map[string]struct{}, len(local))
	for _, t := range local {
		present[t.UUID] = struct{}{}
	}

	var revived []string
	for uuid, at := range pending {
		if _, ok := present[uuid]; ok {
			revived = append(revived, uuid)
			continue
		}
		if err := e.deleteAt(uuid, at); err != nil {
			return fmt.Errorf("failed to replay deletion of %s: %w", uuid, err)
		}
	}
	if len(revived) > 0 {
		if err := e.deletes.ClearPendingDeletes(ctx, revived); err != nil {
			return err
		}
	}
	e.logger.Printf("Replayed %d pending deletions", len(pending)-len(revived))
	return nil
}

func (e *Engine) deleteAt(uuid string, at time.Time) error {
	if d, ok := e.doc.(timedDeleter); ok {
		return d.DeleteTaskAt(uuid, at)
	}
	return e.doc.DeleteTask(uuid)
}

// Initialized reports whether Initialize has completed.
func (e *Engine) Initialized() bool {
	return e.initialized.Load()
}

// GetAll returns every local row.
func (e *Engine) GetAll(ctx context.Context) ([]*schema.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tasks, err := e.store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// Add inserts task into the store and mirrors it into the document.
// Missing fields are defaulted; task.LocalID is set on success.
func (e *Engine) Add(ctx context.Context, task *schema.Task) error {
	e.mu.Lock()
	task.SetDefaults(e.clock.Now())
	if _, err := e.store.InsertTask(ctx, task); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to add task: %w", err)
	}
	e.mirrorLocked(task.UUID, func() error {
		payload, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return e.doc.AddTask(payload)
	})
	e.mu.Unlock()

	e.notifier.notify()
	return nil
}

// Update writes every task to the store and mirrors each into the document.
// The batch stops at the first store failure; tasks written before it stay
// written and mirrored.
func (e *Engine) Update(ctx context.Context, tasks ...*schema.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	e.mu.Lock()
	var written int
	var err error
	for _, task := range tasks {
		if err = e.store.UpdateTask(ctx, task); err != nil {
			err = fmt.Errorf("failed to update task %s: %w", task.UUID, err)
			break
		}
		e.mirrorLocked(task.UUID, func() error { return e.mirrorTask(task) })
		written++
	}
	e.mu.Unlock()

	if written > 0 {
		e.notifier.notify()
	}
	return err
}

// Delete removes every row carrying one of uuids and mirrors the deletions.
func (e *Engine) Delete(ctx context.Context, uuids ...string) error {
	if len(uuids) == 0 {
		return nil
	}

	e.mu.Lock()
	if err := e.store.DeleteTasksByUUID(ctx, uuids); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to delete tasks: %w", err)
	}
	if e.deletes != nil {
		if err := e.deletes.AddPendingDeletes(ctx, uuids, e.clock.Now()); err != nil {
			e.logger.Printf("Warning: failed to record pending deletes: %v", err)
		}
	}
	for _, uuid := range uuids {
		e.mirrorLocked(uuid, func() error { return e.doc.DeleteTask(uuid) })
	}
	e.mu.Unlock()

	e.notifier.notify()
	return nil
}

// SyncDocumentToLocal makes the local store match the merged document.
//
// Items missing locally are inserted, items whose persisted fields differ
// are overwritten in place and local rows absent from the document are
// deleted. Subscribers are notified when anything changed.
func (e *Engine) SyncDocumentToLocal(ctx context.Context) (ChangeCounts, error) {
	e.mu.Lock()
	counts, err := e.syncToLocalLocked(ctx)
	e.mu.Unlock()

	if counts.Total() > 0 {
		e.logger.Printf("Applied document to local store: %d added, %d updated, %d deleted",
			counts.Added, counts.Updated, counts.Deleted)
		e.notifier.notify()
	}
	return counts, err
}

func (e *Engine) syncToLocalLocked(ctx context.Context) (ChangeCounts, error) {
	var counts ChangeCounts

	if !e.initialized.Load() {
		return counts, ErrNotInitialized
	}
	if err := e.remirrorLocked(ctx); err != nil {
		return counts, err
	}

	remote, err := e.documentTasksLocked()
	if err != nil {
		return counts, err
	}

	local, err := e.store.ListTasks(ctx)
	if err != nil {
		return counts, fmt.Errorf("failed to list local tasks: %w", err)
	}
	rows := make(map[string][]*schema.Task, len(local))
	for _, t := range local {
		rows[t.UUID] = append(rows[t.UUID], t)
	}

	seen := make(map[string]struct{}, len(remote))
	for _, task := range remote {
		if _, dup := seen[task.UUID]; dup {
			continue
		}
		seen[task.UUID] = struct{}{}

		existing := rows[task.UUID]
		if len(existing) == 0 {
			if _, err := e.store.InsertTask(ctx, task); err != nil {
				return counts, fmt.Errorf("failed to insert task %s: %w", task.UUID, err)
			}
			counts.Added++
			continue
		}
		if !allEqual(existing, task) {
			if err := e.store.UpdateTask(ctx, task); err != nil {
				return counts, fmt.Errorf("failed to update task %s: %w", task.UUID, err)
			}
			counts.Updated++
		}
	}

	var stale []int64
	for _, t := range local {
		if _, ok := seen[t.UUID]; !ok {
			stale = append(stale, t.LocalID)
		}
	}
	if len(stale) > 0 {
		if err := e.store.DeleteTasks(ctx, stale); err != nil {
			return counts, fmt.Errorf("failed to delete %d tasks: %w", len(stale), err)
		}
		counts.Deleted += len(stale)
	}
	e.unapplied = false

	if counts.Total() > 0 {
		if _, err := e.repairPinsLocked(ctx, true); err != nil {
			return counts, err
		}
	}
	return counts, nil
}

// documentTasksLocked decodes the live items of the document.
func (e *Engine) documentTasksLocked() ([]*schema.Task, error) {
	data, err := e.doc.GetAllTasksJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	items, err := schema.SplitArray(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document state: %w", err)
	}
	now := e.clock.Now()
	tasks := make([]*schema.Task, 0, len(items))
	for i, item := range items {
		task, err := schema.Decode(item, now)
		if err != nil {
			return nil, fmt.Errorf("failed to parse document item %d: %w", i, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// RefreshFromLocal brings the document up to date with rows another process
// wrote to the local store since Initialize. Rows missing from the document
// or differing from it are mirrored in, and document items without a local
// row are deleted, so the next export carries those changes.
//
// While imported deltas are not yet applied locally, a document item
// without a local row may be a remote addition, so only deletions found in
// the delete log are mirrored, and a differing row is mirrored only when it
// is newer than the document item.
func (e *Engine) RefreshFromLocal(ctx context.Context) (ChangeCounts, error) {
	e.mu.Lock()
	counts, err := e.refreshLocked(ctx)
	e.mu.Unlock()

	if counts.Total() > 0 {
		e.logger.Printf("Refreshed document from local store: %d added, %d updated, %d deleted",
			counts.Added, counts.Updated, counts.Deleted)
		e.notifier.notify()
	}
	return counts, err
}

func (e *Engine) refreshLocked(ctx context.Context) (ChangeCounts, error) {
	var counts ChangeCounts

	if !e.initialized.Load() {
		return counts, ErrNotInitialized
	}
	if err := e.remirrorLocked(ctx); err != nil {
		return counts, err
	}
	if _, err := e.repairLocked(ctx, true); err != nil {
		return counts, fmt.Errorf("failed to repair local store: %w", err)
	}

	docTasks, err := e.documentTasksLocked()
	if err != nil {
		return counts, err
	}
	inDoc := make(map[string]*schema.Task, len(docTasks))
	for _, t := range docTasks {
		inDoc[t.UUID] = t
	}

	local, err := e.store.ListTasks(ctx)
	if err != nil {
		return counts, fmt.Errorf("failed to list local tasks: %w", err)
	}
	present := make(map[string]struct{}, len(local))
	for _, t := range local {
		present[t.UUID] = struct{}{}

		cur, ok := inDoc[t.UUID]
		switch {
		case !ok:
			counts.Added++
		case schema.Equal(cur, t):
			continue
		case e.unapplied && !t.UpdatedAt.After(cur.UpdatedAt):
			continue
		default:
			counts.Updated++
		}
		if err := e.mirrorTask(t); err != nil {
			return counts, fmt.Errorf("failed to mirror task %s: %w", t.UUID, err)
		}
	}

	var pending map[string]time.Time
	if e.deletes != nil {
		if pending, err = e.deletes.PendingDeletes(ctx); err != nil {
			return counts, fmt.Errorf("failed to read pending deletes: %w", err)
		}
	}
	for uuid := range inDoc {
		if _, ok := present[uuid]; ok {
			continue
		}
		at, ok := pending[uuid]
		if !ok {
			if e.unapplied {
				continue
			}
			at = e.clock.Now()
		}
		if err := e.deleteAt(uuid, at); err != nil {
			return counts, fmt.Errorf("failed to mirror deletion of %s: %w", uuid, err)
		}
		counts.Deleted++
	}
	return counts, nil
}

func allEqual(rows []*schema.Task, want *schema.Task) bool {
	for _, r := range rows {
		if !schema.Equal(r, want) {
			return false
		}
	}
	return true
}

// ExportDelta returns the document changes not yet acknowledged, or nil.
func (e *Engine) ExportDelta(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized.Load() {
		return nil, ErrNotInitialized
	}
	if err := e.remirrorLocked(ctx); err != nil {
		return nil, err
	}
	delta, err := e.doc.GetUpdate()
	if err != nil {
		return nil, fmt.Errorf("failed to export delta: %w", err)
	}

	e.exportedDeletes = nil
	if delta != nil && e.deletes != nil {
		pending, err := e.deletes.PendingDeletes(ctx)
		if err != nil {
			e.logger.Printf("Warning: failed to read pending deletes: %v", err)
		}
		for uuid := range pending {
			e.exportedDeletes = append(e.exportedDeletes, uuid)
		}
	}
	return delta, nil
}

// AckDelta confirms that the last exported delta was stored remotely.
func (e *Engine) AckDelta(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.doc.AckUpdate(); err != nil {
		return fmt.Errorf("failed to acknowledge delta: %w", err)
	}
	if len(e.exportedDeletes) > 0 {
		if err := e.deletes.ClearPendingDeletes(ctx, e.exportedDeletes); err != nil {
			e.logger.Printf("Warning: failed to clear pending deletes: %v", err)
		}
	}
	e.exportedDeletes = nil
	return nil
}

// ImportDelta merges a remote delta into the document. The local store is
// only touched by the next SyncDocumentToLocal.
func (e *Engine) ImportDelta(ctx context.Context, delta []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized.Load() {
		return ErrNotInitialized
	}
	if err := e.doc.ApplyUpdate(delta); err != nil {
		return fmt.Errorf("failed to import delta: %w", err)
	}
	e.unapplied = true
	return nil
}

// Subscribe returns a channel signalled after data changes and a function
// that cancels the subscription. Signals coalesce: a slow reader sees at
// least one signal after the latest change.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	return e.notifier.subscribe()
}

// mirrorLocked applies fn to the document, remembering uuid on failure so
// the next reconcile or export replays it.
func (e *Engine) mirrorLocked(uuid string, fn func() error) {
	if err := fn(); err != nil {
		e.logger.Printf("Warning: failed to mirror task %s into document: %v", uuid, err)
		e.dirty[uuid] = struct{}{}
		return
	}
	delete(e.dirty, uuid)
}

func (e *Engine) mirrorTask(task *schema.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return e.doc.UpdateTask(task.UUID, payload)
}

// remirrorLocked replays failed mirrors from the current local rows.
func (e *Engine) remirrorLocked(ctx context.Context) error {
	if len(e.dirty) == 0 {
		return nil
	}

	tasks, err := e.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tasks for re-mirror: %w", err)
	}
	latest := make(map[string]*schema.Task, len(tasks))
	for _, t := range tasks {
		if cur, ok := latest[t.UUID]; !ok || keepOver(t, cur) {
			latest[t.UUID] = t
		}
	}

	for uuid := range e.dirty {
		var err error
		if t, ok := latest[uuid]; ok {
			err = e.mirrorTask(t)
		} else {
			err = e.doc.DeleteTask(uuid)
		}
		if err != nil {
			return fmt.Errorf("failed to re-mirror task %s: %w", uuid, err)
		}
		delete(e.dirty, uuid)
		e.logger.Printf("Re-mirrored task %s into document", uuid)
	}
	return nil
}
