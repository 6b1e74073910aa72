// Package daemon keeps the task list in sync in the background.
//
// The daemon:
//  1. Runs a sync pass on a fixed interval when auto-sync is enabled
//  2. Runs a pass shortly after another device drops a delta file into a
//     shared directory it can watch
//  3. Forwards local changes and pass results to the dashboard
//  4. Guarantees at most one pass at a time across processes
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"

	tasksync "github.com/vifly/tasksApp/internal/sync"
)

// DefaultDebounce is how long the shared folder must stay quiet before a
// watch-triggered pass runs.
const DefaultDebounce = 500 * time.Millisecond

// LockFile is the name of the lock file guarding sync passes.
const LockFile = "sync.lock"

// lockRetryDelay is how often Acquire retries a taken lock.
const lockRetryDelay = 50 * time.Millisecond

// ErrBusy is returned by RunOnce and Acquire when another process holds the
// lock.
var ErrBusy = errors.New("another sync is already running")

// Acquire takes the exclusive lock on lockPath, retrying until wait elapses.
// Commands that write the local store hold it so they never interleave with
// a pass. It returns ErrBusy when the lock stays taken and a function that
// releases the lock otherwise.
func Acquire(ctx context.Context, lockPath string, wait time.Duration) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	lock := flock.New(lockPath)
	locked, err := lock.TryLockContext(waitCtx, lockRetryDelay)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !locked {
		return nil, ErrBusy
	}
	return func() { _ = lock.Unlock() }, nil
}

// RunOnce runs one pass while holding an exclusive lock on lockPath. If the
// lock is taken it returns ErrBusy without running.
func RunOnce(ctx context.Context, syncer tasksync.Syncer, lockPath, trigger string) (*tasksync.Result, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !locked {
		return nil, ErrBusy
	}
	defer func() { _ = lock.Unlock() }()

	return syncer.Sync(ctx, trigger)
}

// Notifier is implemented by the reconciliation engine.
type Notifier interface {
	Subscribe() (<-chan struct{}, func())
}

// EventHandler receives daemon events, typically the dashboard handler.
type EventHandler interface {
	OnDataChanged()
	OnSyncComplete(res *tasksync.Result)
}

// Config holds configuration for the daemon.
type Config struct {
	Syncer tasksync.Syncer

	// LockPath is the file lock shared with manual syncs. Empty disables it.
	LockPath string

	// AutoSync enables the periodic job and the directory watcher.
	AutoSync bool

	// Interval between periodic passes
	Interval time.Duration

	// WatchDir is a local updates directory to watch; empty disables watching.
	WatchDir string

	// Debounce for watch-triggered passes (default: DefaultDebounce)
	Debounce time.Duration

	// Optional
	Notifier Notifier
	Handler  EventHandler
	Clock    clockwork.Clock
	Logger   *log.Logger
}

// Daemon schedules sync passes and forwards events.
type Daemon struct {
	config  Config
	logger  *log.Logger
	trigger atomic.Pointer[string]

	mu  sync.Mutex
	job gocron.Job
}

// New creates a new Daemon instance.
func New(cfg Config) (*Daemon, error) {
	if cfg.Syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if cfg.AutoSync && cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Daemon{config: cfg, logger: cfg.Logger}, nil
}

// Start runs the daemon until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Println("Starting daemon")

	var wg sync.WaitGroup
	defer wg.Wait()

	if d.config.Notifier != nil {
		changes, cancel := d.config.Notifier.Subscribe()
		defer cancel()
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.forwardChanges(ctx, changes)
		}()
	}

	if !d.config.AutoSync {
		d.logger.Println("Auto-sync is disabled; no periodic sync scheduled")
		<-ctx.Done()
		d.logger.Println("Daemon stopped")
		return nil
	}

	scheduler, err := gocron.NewScheduler(gocron.WithClock(d.config.Clock))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	job, err := scheduler.NewJob(
		gocron.DurationJob(d.config.Interval),
		gocron.NewTask(func() { d.runPass(ctx) }),
		gocron.WithName("sync"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("failed to schedule sync: %w", err)
	}
	d.mu.Lock()
	d.job = job
	d.mu.Unlock()

	scheduler.Start()
	d.logger.Printf("Syncing every %s", d.config.Interval)

	if d.config.WatchDir != "" {
		watcher, err := d.startWatcher()
		if err != nil {
			d.logger.Printf("Warning: not watching %s: %v", d.config.WatchDir, err)
		} else {
			defer func() { _ = watcher.Stop() }()
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.forwardWatch(ctx, watcher)
			}()
		}
	}

	<-ctx.Done()
	d.logger.Println("Shutdown signal received")
	if err := scheduler.Shutdown(); err != nil {
		d.logger.Printf("Error stopping scheduler: %v", err)
	}
	d.logger.Println("Daemon stopped")
	return nil
}

// TriggerNow runs a pass as soon as possible. Without auto-sync it is a
// no-op.
func (d *Daemon) TriggerNow(trigger string) error {
	d.mu.Lock()
	job := d.job
	d.mu.Unlock()
	if job == nil {
		return nil
	}
	d.trigger.Store(&trigger)
	return job.RunNow()
}

func (d *Daemon) startWatcher() (*FileWatcher, error) {
	if err := os.MkdirAll(d.config.WatchDir, 0755); err != nil {
		return nil, err
	}
	watcher, err := NewFileWatcher(d.config.Debounce)
	if err != nil {
		return nil, err
	}
	if err := watcher.Start(d.config.WatchDir); err != nil {
		_ = watcher.Stop()
		return nil, err
	}
	d.logger.Printf("Watching %s", d.config.WatchDir)
	return watcher, nil
}

func (d *Daemon) forwardWatch(ctx context.Context, watcher *FileWatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-watcher.Fires():
			if err := d.TriggerNow("watch"); err != nil {
				d.logger.Printf("Failed to trigger sync: %v", err)
			}
		case err := <-watcher.Errors():
			d.logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) forwardChanges(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if d.config.Handler != nil {
				d.config.Handler.OnDataChanged()
			}
		}
	}
}

func (d *Daemon) runPass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	trigger := "periodic"
	if t := d.trigger.Swap(nil); t != nil {
		trigger = *t
	}

	var (
		res *tasksync.Result
		err error
	)
	if d.config.LockPath != "" {
		res, err = RunOnce(ctx, d.config.Syncer, d.config.LockPath, trigger)
	} else {
		res, err = d.config.Syncer.Sync(ctx, trigger)
	}

	switch {
	case errors.Is(err, ErrBusy):
		d.logger.Printf("Skipping %s sync: %v", trigger, err)
		return
	case err != nil:
		d.logger.Printf("Sync (%s) failed: %v", trigger, err)
	}
	if res != nil && d.config.Handler != nil {
		d.config.Handler.OnSyncComplete(res)
	}
}
