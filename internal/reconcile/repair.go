package reconcile

import (
	"context"
	"fmt"

	"github.com/vifly/tasksApp/internal/ordering"
	"github.com/vifly/tasksApp/internal/schema"
)

// Repair removes duplicate rows, keeps at most one task pinned and
// rebalances weights when any are missing or shared. Rewritten rows are
// mirrored into the document once the engine is initialized, so the fix
// syncs. It reports whether anything changed.
func (e *Engine) Repair(ctx context.Context) (bool, error) {
	e.mu.Lock()
	changed, err := e.repairLocked(ctx, e.initialized.Load())
	e.mu.Unlock()

	if changed {
		e.notifier.notify()
	}
	return changed, err
}

func (e *Engine) repairLocked(ctx context.Context, mirror bool) (bool, error) {
	tasks, err := e.store.ListTasks(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list tasks: %w", err)
	}

	changed := false

	kept, dupIDs := splitDuplicates(tasks)
	if len(dupIDs) > 0 {
		if err := e.store.DeleteTasks(ctx, dupIDs); err != nil {
			return false, fmt.Errorf("failed to delete duplicate rows: %w", err)
		}
		e.logger.Printf("Removed %d duplicate task rows", len(dupIDs))
		changed = true
		tasks = kept
	}

	unpinned, err := e.unpinExtraLocked(ctx, tasks, mirror)
	if err != nil {
		return changed, err
	}
	changed = changed || unpinned

	if ordering.NeedsRebalance(tasks) {
		updates := ordering.Rebalance(tasks, e.clock.Now())
		for _, t := range updates {
			if err := e.store.UpdateTask(ctx, t); err != nil {
				return changed, fmt.Errorf("failed to rebalance task %s: %w", t.UUID, err)
			}
			changed = true
			if mirror {
				e.mirrorLocked(t.UUID, func() error { return e.mirrorTask(t) })
			}
		}
		if len(updates) > 0 {
			e.logger.Printf("Rebalanced weights of %d tasks", len(updates))
		}
	}

	return changed, nil
}

// repairPinsLocked only enforces the single pin. It runs after merges, where
// two devices may each have pinned a different task.
func (e *Engine) repairPinsLocked(ctx context.Context, mirror bool) (bool, error) {
	tasks, err := e.store.ListTasks(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list tasks: %w", err)
	}
	return e.unpinExtraLocked(ctx, tasks, mirror)
}

// unpinExtraLocked keeps the most recently updated pinned task pinned and
// unpins and touches the others. tasks are modified in place.
// Ties go to the greater uuid so every device keeps the same task.
func (e *Engine) unpinExtraLocked(ctx context.Context, tasks []*schema.Task, mirror bool) (bool, error) {
	var keep *schema.Task
	var extra []*schema.Task
	for _, t := range tasks {
		if !t.IsPinned {
			continue
		}
		switch {
		case keep == nil:
			keep = t
		case pinnedOver(t, keep):
			extra = append(extra, keep)
			keep = t
		default:
			extra = append(extra, t)
		}
	}
	if len(extra) == 0 {
		return false, nil
	}

	now := e.clock.Now()
	for _, t := range extra {
		t.IsPinned = false
		t.Touch(now)
		if err := e.store.UpdateTask(ctx, t); err != nil {
			return true, fmt.Errorf("failed to unpin task %s: %w", t.UUID, err)
		}
		if mirror {
			e.mirrorLocked(t.UUID, func() error { return e.mirrorTask(t) })
		}
	}
	e.logger.Printf("Unpinned %d tasks, keeping %s pinned", len(extra), keep.UUID)
	return true, nil
}

// splitDuplicates keeps one row per uuid and returns the LocalIDs of the
// others. The kept row has the greatest UpdatedAt, ties going to the highest
// LocalID. Kept rows preserve input order.
func splitDuplicates(tasks []*schema.Task) (kept []*schema.Task, drop []int64) {
	best := make(map[string]*schema.Task, len(tasks))
	for _, t := range tasks {
		if cur, ok := best[t.UUID]; !ok || keepOver(t, cur) {
			best[t.UUID] = t
		}
	}
	if len(best) == len(tasks) {
		return tasks, nil
	}

	for _, t := range tasks {
		if best[t.UUID] == t {
			kept = append(kept, t)
		} else {
			drop = append(drop, t.LocalID)
		}
	}
	return kept, drop
}

// keepOver reports whether row a should be kept over row b.
func keepOver(a, b *schema.Task) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.LocalID > b.LocalID
}

func pinnedOver(a, b *schema.Task) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.UUID > b.UUID
}
