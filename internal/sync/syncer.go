package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/vifly/tasksApp/internal/blob"
	"github.com/vifly/tasksApp/internal/metrics"
	"github.com/vifly/tasksApp/internal/remote"
)

// Config holds the collaborators of a Syncer.
type Config struct {
	Engine Engine
	Meta   Metadata

	// Connect opens the blob client for the current settings. It returns
	// remote.ErrNotConfigured when no remote is set.
	Connect func() (blob.Client, error)

	// Optional.
	Clock   clockwork.Clock
	Logger  *log.Logger
	Flusher Flusher
	Metrics *metrics.Metrics
}

// syncer implements the Syncer interface.
type syncer struct {
	engine  Engine
	meta    Metadata
	connect func() (blob.Client, error)
	clock   clockwork.Clock
	logger  *log.Logger
	flusher Flusher
	metrics *metrics.Metrics
}

// New creates a new Syncer instance.
//
// The engine must be initialized before the first pass.
//
// If cfg.Logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	syncer := sync.New(sync.Config{
//	    Engine:  engine,
//	    Meta:    syncmeta.New(store.RawDB()),
//	    Connect: remote.Connector(loadSettings),
//	})
//	res, err := syncer.Sync(ctx, "manual")
func New(cfg Config) Syncer {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &syncer{
		engine:  cfg.Engine,
		meta:    cfg.Meta,
		connect: cfg.Connect,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		flusher: cfg.Flusher,
		metrics: cfg.Metrics,
	}
}

// Sync implements Syncer.Sync.
func (s *syncer) Sync(ctx context.Context, trigger string) (res *Result, err error) {
	start := s.clock.Now()
	res = &Result{Trigger: trigger}

	defer func() {
		res.Duration = s.clock.Since(start)
		if err != nil {
			res.Status = StatusFailed
			res.Message = err.Error()
			s.logger.Printf("Sync failed (%s): %v", trigger, err)
		}
		if res.Status != StatusNotConfigured {
			s.metrics.RecordPass(string(res.Status), res.Duration)
		}
		if s.flusher != nil {
			if ferr := s.flusher.Flush(); ferr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to flush log: %v\n", ferr)
			}
		}
	}()

	client, err := s.connect()
	if errors.Is(err, remote.ErrNotConfigured) {
		res.Status = StatusNotConfigured
		res.Message = "sync is not configured"
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to open remote: %w", err)
	}

	s.logger.Printf("Starting sync (%s)", trigger)

	deviceID, err := s.meta.DeviceID(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to read device id: %w", err)
	}

	if _, err := s.engine.RefreshFromLocal(ctx); err != nil {
		return res, fmt.Errorf("failed to refresh document: %w", err)
	}

	if res.Pushed, err = s.push(ctx, client, deviceID); err != nil {
		return res, err
	}

	if err := s.pull(ctx, client, deviceID, res); err != nil {
		return res, err
	}

	res.Changes, err = s.engine.SyncDocumentToLocal(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to reconcile: %w", err)
	}
	s.metrics.RecordChanges(res.Changes.Added, res.Changes.Updated, res.Changes.Deleted)

	if err := s.meta.SetLastSyncTime(ctx, s.clock.Now()); err != nil {
		return res, fmt.Errorf("failed to record sync time: %w", err)
	}

	res.Status = StatusSuccess
	res.Message = summarize(res)
	s.logger.Printf("Sync complete (%s): %s", trigger, res.Message)
	return res, nil
}

// push uploads pending local changes as one delta file and returns its name,
// or "" when there was nothing to push.
func (s *syncer) push(ctx context.Context, client blob.Client, deviceID string) (string, error) {
	delta, err := s.engine.ExportDelta(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to export delta: %w", err)
	}
	if len(delta) == 0 {
		return "", nil
	}

	name := blob.UpdateName(deviceID, s.clock.Now())
	path := blob.UpdatePath(name)

	err = client.PutFile(ctx, path, delta)
	if errors.Is(err, blob.ErrCollectionMissing) {
		s.logger.Printf("Creating remote collection %s", blob.UpdatesDir)
		if err := client.CreateDirectory(ctx, blob.UpdatesDir); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", blob.UpdatesDir, err)
		}
		err = client.PutFile(ctx, path, delta)
	}
	if err != nil {
		return "", fmt.Errorf("failed to push %s: %w", name, err)
	}

	// The file is stored; a failed ack only means it is sent again.
	if err := s.engine.AckDelta(ctx); err != nil {
		s.logger.Printf("Warning: failed to acknowledge %s: %v", name, err)
	}
	if err := s.meta.AddProcessedFile(ctx, name, s.clock.Now()); err != nil {
		s.logger.Printf("Warning: failed to record %s as processed: %v", name, err)
	}
	s.metrics.RecordPush()
	s.logger.Printf("Pushed %s (%d bytes)", name, len(delta))
	return name, nil
}

// pull merges every remote delta file not yet processed, oldest first.
func (s *syncer) pull(ctx context.Context, client blob.Client, deviceID string, res *Result) error {
	names, err := client.ListFiles(ctx, blob.UpdatesDir)
	if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrCollectionMissing) {
		names = nil
	} else if err != nil {
		return fmt.Errorf("failed to list remote deltas: %w", err)
	}

	processed, err := s.meta.ProcessedFiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to read processed files: %w", err)
	}

	candidates := make([]string, 0, len(names))
	for _, name := range names {
		if _, done := processed[name]; done {
			continue
		}
		if strings.Contains(name, deviceID) {
			continue
		}
		candidates = append(candidates, name)
	}
	blob.SortByTimestamp(candidates)

	for _, name := range candidates {
		if err := s.pullOne(ctx, client, name); err != nil {
			s.logger.Printf("Warning: failed to merge %s (will retry): %v", name, err)
			res.PullFailed++
			s.metrics.RecordPullFailure()
			continue
		}
		res.Pulled++
		s.metrics.RecordPull()
	}
	return nil
}

func (s *syncer) pullOne(ctx context.Context, client blob.Client, name string) error {
	data, err := client.GetFile(ctx, blob.UpdatePath(name))
	if err != nil {
		return err
	}
	if err := s.engine.ImportDelta(ctx, data); err != nil {
		return err
	}
	if err := s.meta.AddProcessedFile(ctx, name, s.clock.Now()); err != nil {
		// Merging is idempotent, so a missed ledger entry only costs a re-merge.
		s.logger.Printf("Warning: failed to record %s as processed: %v", name, err)
	}
	s.logger.Printf("Merged %s (%d bytes)", name, len(data))
	return nil
}

func summarize(res *Result) string {
	var parts []string
	if res.Pushed != "" {
		parts = append(parts, "pushed 1 delta")
	}
	parts = append(parts, fmt.Sprintf("pulled %d", res.Pulled))
	if res.PullFailed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", res.PullFailed))
	}
	c := res.Changes
	parts = append(parts, fmt.Sprintf("%d added, %d updated, %d deleted", c.Added, c.Updated, c.Deleted))
	return strings.Join(parts, "; ")
}
