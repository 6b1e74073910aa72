package crdt

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vifly/tasksApp/internal/schema"
)

// element is the replicated state of one task. Elements are totally ordered
// by compare and merge keeps the greater one.
type element struct {
	stamp   int64
	actor   string
	deleted bool
	payload []byte
}

// compare orders elements by stamp, then tombstone over live, then actor and
// finally payload bytes, so concurrent writes resolve the same way everywhere.
func (e element) compare(o element) int {
	if c := cmp.Compare(e.stamp, o.stamp); c != 0 {
		return c
	}
	if e.deleted != o.deleted {
		if e.deleted {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(e.actor, o.actor); c != 0 {
		return c
	}
	return bytes.Compare(e.payload, o.payload)
}

// Document is a last-writer-wins element map of tasks keyed by uuid.
//
// Local writes are tracked as pending until a delta covering them has been
// exported and acknowledged. Merging remote deltas never creates pending
// entries: every device reads every other device's files directly.
//
// Document is safe for concurrent use.
type Document struct {
	mu    sync.Mutex
	actor string
	clock clockwork.Clock

	elems map[string]element

	pending     map[string]uint64 // uuid -> write sequence
	seq         uint64
	exportedSeq uint64
}

// New creates an empty document owned by actor, normally the device id.
func New(actor string, clock clockwork.Clock) *Document {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Document{
		actor:   actor,
		clock:   clock,
		elems:   make(map[string]element),
		pending: make(map[string]uint64),
	}
}

// Actor returns the id stamped on local writes.
func (d *Document) Actor() string {
	return d.actor
}

// AddTask records a task. Adding an existing uuid overwrites it.
func (d *Document) AddTask(taskJSON []byte) error {
	t, err := schema.Decode(taskJSON, d.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to add task: %w", err)
	}
	return d.put(t)
}

// UpdateTask replaces the task stored under uuid.
func (d *Document) UpdateTask(uuid string, taskJSON []byte) error {
	t, err := schema.Decode(taskJSON, d.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", uuid, err)
	}
	t.UUID = uuid
	return d.put(t)
}

// DeleteTask leaves a tombstone for uuid. Deleting an unknown uuid still
// records the tombstone so a concurrent older add cannot resurrect it.
func (d *Document) DeleteTask(uuid string) error {
	if uuid == "" {
		return fmt.Errorf("failed to delete task: uuid is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.elems[uuid]; ok && cur.deleted {
		return nil
	}
	d.writeLocked(uuid, nil, true)
	return nil
}

// DeleteTaskAt leaves a tombstone for uuid stamped no earlier than at. It
// replays a deletion recorded before the document was restored, so the
// tombstone keeps its original time instead of beating later remote edits.
func (d *Document) DeleteTaskAt(uuid string, at time.Time) error {
	if uuid == "" {
		return fmt.Errorf("failed to delete task: uuid is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cur, ok := d.elems[uuid]
	if ok && cur.deleted {
		return nil
	}
	stamp := at.UnixMilli()
	if ok && stamp <= cur.stamp {
		stamp = cur.stamp + 1
	}
	d.storeLocked(uuid, element{stamp: stamp, actor: d.actor, deleted: true})
	return nil
}

func (d *Document) put(t *schema.Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", t.UUID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeLocked(t.UUID, payload, false)
	return nil
}

func (d *Document) writeLocked(uuid string, payload []byte, deleted bool) {
	stamp := d.clock.Now().UnixMilli()
	if cur, ok := d.elems[uuid]; ok && stamp <= cur.stamp {
		stamp = cur.stamp + 1
	}
	d.storeLocked(uuid, element{stamp: stamp, actor: d.actor, deleted: deleted, payload: payload})
}

func (d *Document) storeLocked(uuid string, e element) {
	d.elems[uuid] = e
	d.seq++
	d.pending[uuid] = d.seq
}

// RestoreFromJSON replaces the whole state with the given task array.
//
// Each element is stamped with the task's updated_at so that rows restored
// after a restart lose against newer edits from other devices. Tombstones
// are dropped and every restored task becomes pending.
func (d *Document) RestoreFromJSON(tasksJSON []byte) error {
	tasks, err := schema.UnmarshalTasks(tasksJSON, d.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to restore document: %w", err)
	}

	elems := make(map[string]element, len(tasks))
	for _, t := range tasks {
		payload, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode task %s: %w", t.UUID, err)
		}
		e := element{stamp: t.UpdatedAt.UnixMilli(), actor: d.actor, payload: payload}
		if cur, ok := elems[t.UUID]; ok && cur.compare(e) >= 0 {
			continue
		}
		elems[t.UUID] = e
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.elems = elems
	d.pending = make(map[string]uint64, len(elems))
	d.exportedSeq = 0
	d.seq++
	for uuid := range elems {
		d.pending[uuid] = d.seq
	}
	return nil
}

// GetAllTasksJSON returns the live tasks as a JSON array ordered by uuid.
func (d *Document) GetAllTasksJSON() ([]byte, error) {
	d.mu.Lock()
	items := make([]json.RawMessage, 0, len(d.elems))
	for _, uuid := range d.sortedKeysLocked() {
		e := d.elems[uuid]
		if e.deleted {
			continue
		}
		items = append(items, json.RawMessage(e.payload))
	}
	d.mu.Unlock()

	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tasks: %w", err)
	}
	return data, nil
}

// GetUpdate encodes every pending local change, or returns nil when there is
// nothing to send. Pending changes stay pending until AckUpdate.
func (d *Document) GetUpdate() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(d.pending))
	for uuid := range d.pending {
		keys = append(keys, uuid)
	}
	slices.Sort(keys)

	delta := &deltaWire{Version: deltaVersion, Actor: d.actor}
	for _, uuid := range keys {
		e := d.elems[uuid]
		delta.Entries = append(delta.Entries, entryWire{
			UUID:    uuid,
			Stamp:   e.stamp,
			Actor:   e.actor,
			Deleted: e.deleted,
			Payload: e.payload,
		})
	}

	data, err := encodeDelta(delta)
	if err != nil {
		return nil, err
	}
	d.exportedSeq = d.seq
	return data, nil
}

// AckUpdate marks the changes covered by the last GetUpdate as delivered.
// Writes made after that GetUpdate remain pending.
func (d *Document) AckUpdate() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for uuid, seq := range d.pending {
		if seq <= d.exportedSeq {
			delete(d.pending, uuid)
		}
	}
	d.exportedSeq = 0
	return nil
}

// ApplyUpdate merges a delta produced by GetUpdate on any device. Merging is
// commutative, associative and idempotent. An empty update is a no-op and a
// malformed one returns an error without changing state.
func (d *Document) ApplyUpdate(update []byte) error {
	if len(update) == 0 {
		return nil
	}
	delta, err := decodeDelta(update)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, w := range delta.Entries {
		e := element{stamp: w.Stamp, actor: w.Actor, deleted: w.Deleted, payload: w.Payload}
		if e.deleted {
			e.payload = nil
		}
		if cur, ok := d.elems[w.UUID]; ok && cur.compare(e) >= 0 {
			continue
		}
		d.elems[w.UUID] = e
	}
	return nil
}

// Len returns the number of live tasks.
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, e := range d.elems {
		if !e.deleted {
			n++
		}
	}
	return n
}

// Pending returns the number of local changes not yet acknowledged.
func (d *Document) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Document) sortedKeysLocked() []string {
	keys := make([]string, 0, len(d.elems))
	for uuid := range d.elems {
		keys = append(keys, uuid)
	}
	slices.Sort(keys)
	return keys
}

func validPayload(uuid string, payload []byte) error {
	t, err := schema.Decode(payload, time.Now())
	if err != nil {
		return err
	}
	if t.UUID != uuid {
		return fmt.Errorf("payload uuid %q does not match entry", t.UUID)
	}
	return nil
}
