// Package tasks implements the user-facing task operations on top of the
// reconciliation engine and the ordering rules.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/vifly/tasksApp/internal/ordering"
	"github.com/vifly/tasksApp/internal/reconcile"
	"github.com/vifly/tasksApp/internal/schema"
)

var (
	// ErrNotFound is returned when no task matches an id or prefix.
	ErrNotFound = errors.New("task not found")

	// ErrAmbiguous is returned when a prefix matches several tasks.
	ErrAmbiguous = errors.New("task id prefix is ambiguous")

	// ErrEmptyContent is returned when a task would have no content.
	ErrEmptyContent = errors.New("task content is empty")
)

// Service exposes task operations in display order.
type Service struct {
	engine *reconcile.Engine
	clock  clockwork.Clock
}

// NewService creates a service. The engine must be initialized.
func NewService(engine *reconcile.Engine, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{engine: engine, clock: clock}
}

// List returns every task in display order.
func (s *Service) List(ctx context.Context) ([]*schema.Task, error) {
	tasks, err := s.engine.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	ordering.Sort(tasks)
	return tasks, nil
}

// Create adds a task at the top of the unpinned list.
func (s *Service) Create(ctx context.Context, content string, tags []string) (*schema.Task, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	now := s.clock.Now()
	task := schema.New(content, normalizeTags(tags), now)
	task.Weight = ordering.NewWeight(now)
	if err := s.engine.Add(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Edit replaces the content and, when tags is non-nil, the tags of a task.
// An empty content keeps the current one.
func (s *Service) Edit(ctx context.Context, uuid, content string, tags []string) (*schema.Task, error) {
	current, err := s.get(ctx, uuid)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if c := strings.TrimSpace(content); c != "" {
		next.Content = c
	}
	if tags != nil {
		next.Tags = normalizeTags(tags)
	}
	if schema.Equal(current, next) {
		return current, nil
	}
	next.Touch(s.clock.Now())

	if err := s.engine.Update(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Remove deletes tasks by uuid.
func (s *Service) Remove(ctx context.Context, uuids ...string) error {
	return s.engine.Delete(ctx, uuids...)
}

// TogglePin pins the task, unpinning any other, or unpins it if pinned.
// All affected rows are written as one batch.
func (s *Service) TogglePin(ctx context.Context, uuid string) (*schema.Task, error) {
	tasks, err := s.engine.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	updates, err := ordering.Pin(tasks, uuid, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}
	if err := s.engine.Update(ctx, updates...); err != nil {
		return nil, err
	}
	return updates[len(updates)-1], nil
}

// Move places the task between the task shown directly above it (after)
// and the one directly below it (before). Either may be empty to move to
// an end of the list. When the neighbors' weights leave no room, the list
// is rebalanced.
func (s *Service) Move(ctx context.Context, uuid, after, before string) error {
	tasks, err := s.List(ctx)
	if err != nil {
		return err
	}

	find := func(id string) (*schema.Task, error) {
		if id == "" {
			return nil, nil
		}
		i := slices.IndexFunc(tasks, func(t *schema.Task) bool { return t.UUID == id })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return tasks[i], nil
	}
	target, err := find(uuid)
	if err != nil {
		return err
	}
	prev, err := find(after)
	if err != nil {
		return err
	}
	next, err := find(before)
	if err != nil {
		return err
	}
	if prev == target || next == target {
		return fmt.Errorf("cannot move task %s next to itself", uuid)
	}

	now := s.clock.Now()
	weight := ordering.Between(prev, next, now)
	collision := ordering.Collides(weight, prev, next)
	if collision {
		// Share next's weight; the rebalance ranks the more recently
		// touched target above it.
		weight = next.Weight
	}

	moved := target.Clone()
	moved.Weight = weight
	moved.Touch(now)
	if err := s.engine.Update(ctx, moved); err != nil {
		return err
	}

	if collision {
		if _, err := s.engine.Repair(ctx); err != nil {
			return fmt.Errorf("failed to rebalance after move: %w", err)
		}
	}
	return nil
}

// Resolve finds the task whose uuid equals or uniquely starts with prefix.
func (s *Service) Resolve(ctx context.Context, prefix string) (*schema.Task, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, ErrNotFound
	}
	tasks, err := s.engine.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	var match *schema.Task
	for _, t := range tasks {
		if t.UUID == prefix {
			return t, nil
		}
		if strings.HasPrefix(t.UUID, prefix) {
			if match != nil && match.UUID != t.UUID {
				return nil, fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
			}
			match = t
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, prefix)
	}
	return match, nil
}

func (s *Service) get(ctx context.Context, uuid string) (*schema.Task, error) {
	tasks, err := s.engine.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.UUID == uuid {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, uuid)
}

// normalizeTags trims, drops empties and removes duplicates, keeping the
// first occurrence order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}
