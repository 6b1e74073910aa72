package schema

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTask_Validate(t *testing.T) {
	now := time.UnixMilli(1_760_000_000_000)

	tests := []struct {
		name    string
		task    Task
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid task",
			task:    Task{UUID: "u1", Content: "Buy milk", CreatedAt: now, UpdatedAt: now},
			wantErr: false,
		},
		{
			name:    "missing uuid",
			task:    Task{Content: "Buy milk", CreatedAt: now, UpdatedAt: now},
			wantErr: true,
			errMsg:  "uuid is required",
		},
		{
			name:    "missing created_at",
			task:    Task{UUID: "u1", UpdatedAt: now},
			wantErr: true,
			errMsg:  "created_at is required",
		},
		{
			name:    "updated before created",
			task:    Task{UUID: "u1", CreatedAt: now, UpdatedAt: now.Add(-time.Second)},
			wantErr: true,
			errMsg:  "is before created_at",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.errMsg)
			}
		})
	}
}

func TestDecode_Defaults(t *testing.T) {
	now := time.UnixMilli(1_760_000_000_123)

	task, err := Decode([]byte(`{"content":"Buy milk"}`), now)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}

	if task.UUID == "" {
		t.Error("expected a generated uuid")
	}
	if task.IsPinned {
		t.Error("expected is_pinned=false by default")
	}
	if task.CreatedAt.UnixMilli() != now.UnixMilli() || task.UpdatedAt.UnixMilli() != now.UnixMilli() {
		t.Errorf("expected timestamps to default to now, got %v / %v", task.CreatedAt, task.UpdatedAt)
	}
	if task.Tags == nil || len(task.Tags) != 0 {
		t.Errorf("expected empty tags, got %v", task.Tags)
	}
	if task.Weight != 0 {
		t.Errorf("expected weight 0, got %d", task.Weight)
	}
}

func TestDecode_Rejects(t *testing.T) {
	now := time.Now()

	for _, input := range []string{`[]`, `"text"`, `null`, `{"content": 5}`, `{"tags": "x"}`, ``} {
		if _, err := Decode([]byte(input), now); err == nil {
			t.Errorf("Decode(%q) expected an error", input)
		}
	}
}

func TestDecode_ClampsUpdatedAt(t *testing.T) {
	task, err := Decode([]byte(`{"uuid":"u1","created_at":2000,"updated_at":1000}`), time.Now())
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if task.UpdatedAt.UnixMilli() != 2000 {
		t.Errorf("expected updated_at clamped to 2000, got %d", task.UpdatedAt.UnixMilli())
	}
}

func TestTask_JSONWireFormat(t *testing.T) {
	task := &Task{
		UUID:      "u1",
		Content:   "Buy milk",
		Tags:      []string{"home"},
		CreatedAt: FromMillis(1000),
		UpdatedAt: FromMillis(2000),
		IsPinned:  true,
		Weight:    100,
	}

	data, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal into map failed: %v", err)
	}
	for _, key := range []string{"uuid", "content", "is_pinned", "created_at", "updated_at", "tags", "custom_sort_order"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}

	decoded, err := Decode(data, time.Now())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !Equal(task, decoded) {
		t.Errorf("decoded task differs: got %+v, want %+v", decoded, task)
	}
}

func TestEqual(t *testing.T) {
	base := &Task{
		UUID:      "u1",
		Content:   "a",
		Tags:      []string{"x", "y"},
		CreatedAt: FromMillis(1000),
		UpdatedAt: FromMillis(2000),
		Weight:    5,
	}

	same := base.Clone()
	same.Tags = []string{"y", "x"}
	same.LocalID = 42
	if !Equal(base, same) {
		t.Error("tag order and LocalID must not affect equality")
	}

	mutations := map[string]func(*Task){
		"content":    func(t *Task) { t.Content = "b" },
		"tags":       func(t *Task) { t.Tags = []string{"x"} },
		"pinned":     func(t *Task) { t.IsPinned = true },
		"weight":     func(t *Task) { t.Weight = 6 },
		"created_at": func(t *Task) { t.CreatedAt = FromMillis(1001) },
		"updated_at": func(t *Task) { t.UpdatedAt = FromMillis(2001) },
	}
	for name, mutate := range mutations {
		changed := base.Clone()
		mutate(changed)
		if Equal(base, changed) {
			t.Errorf("change to %s not detected", name)
		}
	}
}

func TestUnmarshalTasks(t *testing.T) {
	now := time.Now()

	tasks, err := UnmarshalTasks([]byte(`[{"uuid":"u1","content":"a"},{"uuid":"u2","content":"b"}]`), now)
	if err != nil {
		t.Fatalf("UnmarshalTasks failed: %v", err)
	}
	if len(tasks) != 2 || tasks[0].UUID != "u1" || tasks[1].UUID != "u2" {
		t.Errorf("unexpected tasks: %+v", tasks)
	}

	if _, err := UnmarshalTasks([]byte(`{"uuid":"u1"}`), now); err == nil {
		t.Error("expected error for non-array input")
	}
	if _, err := UnmarshalTasks([]byte(`[{"uuid":"u1"}, 7]`), now); err == nil {
		t.Error("expected error for malformed element")
	}
}

func TestTask_Touch(t *testing.T) {
	task := &Task{UUID: "u1", CreatedAt: FromMillis(1000), UpdatedAt: FromMillis(5000)}

	task.Touch(FromMillis(4000))
	if task.UpdatedAt.UnixMilli() != 5000 {
		t.Errorf("Touch must not move updated_at backwards, got %d", task.UpdatedAt.UnixMilli())
	}

	task.Touch(FromMillis(6000))
	if task.UpdatedAt.UnixMilli() != 6000 {
		t.Errorf("expected updated_at 6000, got %d", task.UpdatedAt.UnixMilli())
	}
}
