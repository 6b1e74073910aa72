// Package backup exports the task list to a file and imports it back.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vifly/tasksApp/internal/ordering"
	"github.com/vifly/tasksApp/internal/schema"
)

// Format selects the export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a flag value or file extension to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json or yaml)", s)
	}
}

// Engine is the part of the reconciliation engine used here.
type Engine interface {
	GetAll(ctx context.Context) ([]*schema.Task, error)
	Add(ctx context.Context, task *schema.Task) error
	Update(ctx context.Context, tasks ...*schema.Task) error
	Repair(ctx context.Context) (bool, error)
}

// Report contains statistics about an import.
type Report struct {
	Imported int
	Skipped  int
	Errors   []string
}

// record is the YAML form of a task; field names match the JSON format.
type record struct {
	UUID            string   `yaml:"uuid"`
	Content         string   `yaml:"content"`
	IsPinned        bool     `yaml:"is_pinned"`
	CreatedAt       int64    `yaml:"created_at"`
	UpdatedAt       int64    `yaml:"updated_at"`
	Tags            []string `yaml:"tags"`
	CustomSortOrder int64    `yaml:"custom_sort_order"`
}

// Export returns every task in display order, encoded as format.
func Export(ctx context.Context, engine Engine, format Format) ([]byte, error) {
	tasks, err := engine.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	ordering.Sort(tasks)

	switch format {
	case FormatJSON, "":
		if tasks == nil {
			tasks = []*schema.Task{}
		}
		data, err := json.MarshalIndent(tasks, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tasks: %w", err)
		}
		return append(data, '\n'), nil
	case FormatYAML:
		records := make([]record, len(tasks))
		for i, t := range tasks {
			tags := t.Tags
			if tags == nil {
				tags = []string{}
			}
			records[i] = record{
				UUID:            t.UUID,
				Content:         t.Content,
				IsPinned:        t.IsPinned,
				CreatedAt:       t.CreatedAt.UnixMilli(),
				UpdatedAt:       t.UpdatedAt.UnixMilli(),
				Tags:            tags,
				CustomSortOrder: t.Weight,
			}
		}
		data, err := yaml.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tasks: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// Import merges a JSON array of tasks into the local list.
//
// Elements are decoded one at a time; an element that is not an object,
// has mistyped fields or has no content is skipped. A known uuid updates
// the existing task, anything else is inserted. Elements without a weight
// are placed in file order below now. When several imported elements are
// pinned the last one stays pinned and every other task is unpinned.
// Duplicate or shared weights left behind are fixed by a repair after the
// batch.
func Import(ctx context.Context, engine Engine, data []byte, now time.Time) (*Report, error) {
	items, err := schema.SplitArray(data)
	if err != nil {
		return nil, err
	}

	existing, err := engine.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		known[t.UUID] = struct{}{}
	}

	report := &Report{}
	skip := func(i int, reason string) {
		report.Skipped++
		report.Errors = append(report.Errors, fmt.Sprintf("item %d: %s", i, reason))
	}

	var pinned string
	base := ordering.NewWeight(now)
	for i, item := range items {
		task, err := schema.Decode(item, now)
		if err != nil {
			skip(i, err.Error())
			continue
		}
		task.Content = strings.TrimSpace(task.Content)
		if task.Content == "" {
			skip(i, "empty content")
			continue
		}
		if task.Weight == 0 {
			task.Weight = base - int64(i)*ordering.Step
		}

		if _, ok := known[task.UUID]; ok {
			err = engine.Update(ctx, task)
		} else {
			err = engine.Add(ctx, task)
		}
		if err != nil {
			skip(i, err.Error())
			continue
		}
		known[task.UUID] = struct{}{}
		report.Imported++
		if task.IsPinned {
			pinned = task.UUID
		}
	}

	if pinned != "" {
		if err := unpinOthers(ctx, engine, pinned, now); err != nil {
			return report, err
		}
	}

	if report.Imported > 0 {
		if _, err := engine.Repair(ctx); err != nil {
			return report, fmt.Errorf("failed to repair after import: %w", err)
		}
	}
	return report, nil
}

func unpinOthers(ctx context.Context, engine Engine, keep string, now time.Time) error {
	all, err := engine.GetAll(ctx)
	if err != nil {
		return err
	}
	var updates []*schema.Task
	for _, t := range all {
		if t.IsPinned && t.UUID != keep {
			t.IsPinned = false
			t.Touch(now)
			updates = append(updates, t)
		}
	}
	if err := engine.Update(ctx, updates...); err != nil {
		return fmt.Errorf("failed to unpin tasks after import: %w", err)
	}
	return nil
}

// WriteFile writes data to path via a temp file and rename.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
