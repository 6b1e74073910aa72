// Package schema defines the task record shared by the local store, the
// replicated document and the import/export format.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Task is a single entry of the task list.
//
// UUID is the stable cross-device identity. LocalID is assigned by the local
// store and means nothing outside of it. Timestamps carry millisecond
// precision, matching the wire format.
type Task struct {
	// ===== Identity =====
	LocalID int64
	UUID    string

	// ===== Content =====
	Content string
	Tags    []string // set semantics, order is irrelevant

	// ===== Timestamps =====
	CreatedAt time.Time
	UpdatedAt time.Time

	// ===== Ordering =====
	IsPinned bool
	Weight   int64
}

// taskJSON is the wire representation. Pointer fields distinguish a missing
// key from a zero value so defaults can be applied per field.
type taskJSON struct {
	UUID            *string  `json:"uuid"`
	Content         *string  `json:"content"`
	IsPinned        *bool    `json:"is_pinned"`
	CreatedAt       *int64   `json:"created_at"`
	UpdatedAt       *int64   `json:"updated_at"`
	Tags            []string `json:"tags"`
	CustomSortOrder *int64   `json:"custom_sort_order"`
}

// New creates a task with a fresh UUID stamped at now.
func New(content string, tags []string, now time.Time) *Task {
	t := &Task{
		UUID:      uuid.NewString(),
		Content:   content,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.SetDefaults(now)
	return t
}

// FromMillis converts epoch milliseconds to a time value.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if t.UUID == "" {
		return fmt.Errorf("uuid is required")
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if t.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	if t.UpdatedAt.UnixMilli() < t.CreatedAt.UnixMilli() {
		return fmt.Errorf("updated_at (%d) is before created_at (%d)",
			t.UpdatedAt.UnixMilli(), t.CreatedAt.UnixMilli())
	}
	return nil
}

// SetDefaults applies default values for optional fields.
// Timestamps are truncated to millisecond precision.
func (t *Task) SetDefaults(now time.Time) {
	if t.UUID == "" {
		t.UUID = uuid.NewString()
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	t.CreatedAt = FromMillis(t.CreatedAt.UnixMilli())
	t.UpdatedAt = FromMillis(t.UpdatedAt.UnixMilli())
	if t.UpdatedAt.Before(t.CreatedAt) {
		t.UpdatedAt = t.CreatedAt
	}
}

// Touch sets UpdatedAt to now, never moving it backwards.
func (t *Task) Touch(now time.Time) {
	now = FromMillis(now.UnixMilli())
	if now.After(t.UpdatedAt) {
		t.UpdatedAt = now
	}
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	c.Tags = slices.Clone(t.Tags)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return &c
}

// HasTag reports whether the task carries tag.
func (t *Task) HasTag(tag string) bool {
	return slices.Contains(t.Tags, tag)
}

// Equal reports whether a and b agree on every persisted field. LocalID is
// ignored, tags are compared as sets and timestamps at millisecond precision.
func Equal(a, b *Task) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.UUID == b.UUID &&
		a.Content == b.Content &&
		a.IsPinned == b.IsPinned &&
		a.Weight == b.Weight &&
		a.CreatedAt.UnixMilli() == b.CreatedAt.UnixMilli() &&
		a.UpdatedAt.UnixMilli() == b.UpdatedAt.UnixMilli() &&
		sameTags(a.Tags, b.Tags)
}

func sameTags(a, b []string) bool {
	x := normalizeTags(a)
	y := normalizeTags(b)
	return slices.Equal(x, y)
}

func normalizeTags(tags []string) []string {
	out := slices.Clone(tags)
	slices.Sort(out)
	return slices.Compact(out)
}

// MarshalJSON encodes the task in the wire format shared by the document
// engine and import/export.
func (t Task) MarshalJSON() ([]byte, error) {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	created := t.CreatedAt.UnixMilli()
	updated := t.UpdatedAt.UnixMilli()
	return json.Marshal(taskJSON{
		UUID:            &t.UUID,
		Content:         &t.Content,
		IsPinned:        &t.IsPinned,
		CreatedAt:       &created,
		UpdatedAt:       &updated,
		Tags:            tags,
		CustomSortOrder: &t.Weight,
	})
}

// UnmarshalJSON decodes the wire format. Missing fields take their defaults
// with the current time for timestamps; use Decode to control the clock.
func (t *Task) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data, time.Now())
	if err != nil {
		return err
	}
	*t = *decoded
	return nil
}

// Decode parses a single task object, applying defaults stamped at now:
// a new uuid, is_pinned=false, created_at/updated_at=now, tags=[] and
// custom_sort_order=0.
func Decode(data []byte, now time.Time) (*Task, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("task must be a JSON object")
	}

	var w taskJSON
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("failed to parse task: %w", err)
	}

	t := &Task{Tags: w.Tags}
	if w.UUID != nil {
		t.UUID = *w.UUID
	}
	if w.Content != nil {
		t.Content = *w.Content
	}
	if w.IsPinned != nil {
		t.IsPinned = *w.IsPinned
	}
	if w.CreatedAt != nil {
		t.CreatedAt = FromMillis(*w.CreatedAt)
	}
	if w.UpdatedAt != nil {
		t.UpdatedAt = FromMillis(*w.UpdatedAt)
	}
	if w.CustomSortOrder != nil {
		t.Weight = *w.CustomSortOrder
	}
	t.SetDefaults(now)
	return t, nil
}

// MarshalTasks encodes tasks as a JSON array.
func MarshalTasks(tasks []*Task) ([]byte, error) {
	if tasks == nil {
		tasks = []*Task{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tasks: %w", err)
	}
	return data, nil
}

// UnmarshalTasks decodes a JSON array of tasks. Any malformed element fails
// the whole array; use SplitArray for per-item tolerance.
func UnmarshalTasks(data []byte, now time.Time) ([]*Task, error) {
	items, err := SplitArray(data)
	if err != nil {
		return nil, err
	}
	tasks := make([]*Task, 0, len(items))
	for i, item := range items {
		t, err := Decode(item, now)
		if err != nil {
			return nil, fmt.Errorf("invalid task at index %d: %w", i, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// SplitArray splits a JSON array into its raw elements without decoding them.
func SplitArray(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("expected a JSON array of tasks")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("expected a JSON array of tasks: %w", err)
	}
	return items, nil
}
