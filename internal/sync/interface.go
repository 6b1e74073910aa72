// Package sync runs sync passes between the local task list and the shared
// folder.
package sync

import (
	"context"
	"time"

	"github.com/vifly/tasksApp/internal/reconcile"
)

// Status is the outcome of a sync pass.
type Status string

const (
	// StatusSuccess means the pass pushed, pulled and reconciled. Individual
	// remote files may still have failed; see Result.PullFailed.
	StatusSuccess Status = "success"

	// StatusNotConfigured means no remote is set. Nothing was attempted.
	StatusNotConfigured Status = "not_configured"

	// StatusFailed means the pass stopped early. Local changes that were not
	// pushed stay pending for the next pass.
	StatusFailed Status = "failed"
)

// Result describes a finished sync pass.
type Result struct {
	Status  Status
	Message string
	Trigger string

	// Pushed is the name of the uploaded delta file, or empty.
	Pushed string

	// Pulled counts remote files merged; PullFailed counts remote files that
	// failed to download or merge and will be retried.
	Pulled     int
	PullFailed int

	// Changes are the local rows written by reconciliation.
	Changes reconcile.ChangeCounts

	Duration time.Duration
}

// Syncer performs sync passes.
//
// A pass is refresh, push, pull, reconcile, commit:
//
//  0. Refresh: fold local rows written by other processes into the document.
//  1. Push: export pending local changes as one delta file and upload it.
//  2. Pull: download and merge every remote delta file not seen before.
//  3. Reconcile: apply the merged document onto the local store.
//  4. Commit: record the time of the pass.
//
// The syncer is resilient: a remote file that fails to download or merge is
// logged and counted, and the pass continues with the other files. That file
// is retried on the next pass.
type Syncer interface {
	// Sync runs one pass. trigger names what started it ("manual",
	// "periodic", "watch", ...) and is only used for logging.
	//
	// A missing configuration returns StatusNotConfigured with a nil error.
	// A failed pass returns StatusFailed together with the error.
	//
	// Example:
	//   res, err := syncer.Sync(ctx, "manual")
	Sync(ctx context.Context, trigger string) (*Result, error)
}

// Engine is the part of the reconciliation engine a pass drives.
type Engine interface {
	// RefreshFromLocal folds local rows written by other processes into the
	// document before it is exported.
	RefreshFromLocal(ctx context.Context) (reconcile.ChangeCounts, error)
	ExportDelta(ctx context.Context) ([]byte, error)
	AckDelta(ctx context.Context) error
	ImportDelta(ctx context.Context, delta []byte) error
	SyncDocumentToLocal(ctx context.Context) (reconcile.ChangeCounts, error)
}

// Metadata is the per-device sync bookkeeping.
type Metadata interface {
	DeviceID(ctx context.Context) (string, error)
	ProcessedFiles(ctx context.Context) (map[string]struct{}, error)
	AddProcessedFile(ctx context.Context, name string, at time.Time) error
	SetLastSyncTime(ctx context.Context, t time.Time) error
}

// Flusher is implemented by log sinks that buffer output.
type Flusher interface {
	Flush() error
}
