// Package ordering computes the user-visible order of the task list.
//
// Order is carried by an integer weight per task: higher weights come first,
// a pinned task always leads, and ties fall back to creation time. Weights
// start at the creation time in epoch millis and drag-reordering picks the
// midpoint of the two neighbors, so most moves touch a single row. When
// midpoints run out or weights collide, Rebalance spreads the whole list out
// again by Step.
package ordering

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/vifly/tasksApp/internal/schema"
)

// Step is the gap between adjacent weights after a rebalance, and the offset
// used when a task is dropped at either end of the list.
const Step int64 = 1_000_000

// Compare orders tasks for display: pinned first, then weight descending,
// then newest first.
func Compare(a, b *schema.Task) int {
	if a.IsPinned != b.IsPinned {
		if a.IsPinned {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
		return c
	}
	return b.CreatedAt.Compare(a.CreatedAt)
}

// Sort sorts tasks in place into display order.
func Sort(tasks []*schema.Task) {
	slices.SortStableFunc(tasks, Compare)
}

// NewWeight returns the weight for a freshly created or touched task.
func NewWeight(now time.Time) int64 {
	return now.UnixMilli()
}

// Between returns a weight that places a task between prev and next in
// display order. Either neighbor may be nil when the drop target is an end
// of the list.
func Between(prev, next *schema.Task, now time.Time) int64 {
	switch {
	case prev != nil && next != nil:
		return prev.Weight + (next.Weight-prev.Weight)/2
	case prev != nil:
		return prev.Weight - Step
	case next != nil:
		return next.Weight + Step
	default:
		return NewWeight(now)
	}
}

// Collides reports whether weight fails to separate the neighbors, which
// happens once their weights are adjacent integers.
func Collides(weight int64, prev, next *schema.Task) bool {
	return (prev != nil && prev.Weight == weight) || (next != nil && next.Weight == weight)
}

// NeedsRebalance reports whether any task lacks a weight or shares one.
func NeedsRebalance(tasks []*schema.Task) bool {
	seen := make(map[int64]struct{}, len(tasks))
	for _, t := range tasks {
		if t.Weight == 0 {
			return true
		}
		if _, ok := seen[t.Weight]; ok {
			return true
		}
		seen[t.Weight] = struct{}{}
	}
	return false
}

// Rebalance assigns evenly spaced weights that preserve the current order.
//
// Tasks are ordered by pinned, weight descending and then most recently
// updated, and receive now, now-Step, now-2*Step and so on. Rows whose weight
// changes are touched. The input is not modified; the changed rows are
// returned as copies in their new order.
func Rebalance(tasks []*schema.Task, now time.Time) []*schema.Task {
	ordered := slices.Clone(tasks)
	slices.SortStableFunc(ordered, func(a, b *schema.Task) int {
		if a.IsPinned != b.IsPinned {
			if a.IsPinned {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
			return c
		}
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})

	base := NewWeight(now)
	var changed []*schema.Task
	for i, t := range ordered {
		weight := base - int64(i)*Step
		if t.Weight == weight {
			continue
		}
		c := t.Clone()
		c.Weight = weight
		c.Touch(now)
		changed = append(changed, c)
	}
	return changed
}

// Pin toggles the pinned state of the task with targetUUID and returns every
// row that must be written: the target and any other task that was pinned.
// Pinning or unpinning moves the target to the top of its section.
func Pin(tasks []*schema.Task, targetUUID string, now time.Time) ([]*schema.Task, error) {
	idx := slices.IndexFunc(tasks, func(t *schema.Task) bool { return t.UUID == targetUUID })
	if idx < 0 {
		return nil, fmt.Errorf("task %s not found", targetUUID)
	}

	var updates []*schema.Task
	for i, t := range tasks {
		if i == idx || !t.IsPinned {
			continue
		}
		c := t.Clone()
		c.IsPinned = false
		c.Touch(now)
		updates = append(updates, c)
	}

	target := tasks[idx].Clone()
	target.IsPinned = !target.IsPinned
	target.Weight = NewWeight(now)
	target.Touch(now)
	return append(updates, target), nil
}
