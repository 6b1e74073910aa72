package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vifly/tasksApp/internal/config"
	"github.com/vifly/tasksApp/internal/crdt"
	"github.com/vifly/tasksApp/internal/daemon"
	"github.com/vifly/tasksApp/internal/db"
	"github.com/vifly/tasksApp/internal/logging"
	"github.com/vifly/tasksApp/internal/metrics"
	"github.com/vifly/tasksApp/internal/reconcile"
	"github.com/vifly/tasksApp/internal/remote"
	"github.com/vifly/tasksApp/internal/sync"
	"github.com/vifly/tasksApp/internal/syncmeta"
	"github.com/vifly/tasksApp/internal/tasks"
)

const dbFile = "tasks.db"

// lockWait is how long a command waits for a running sync pass to finish.
const lockWait = 30 * time.Second

// app holds everything a command needs, opened from the data directory.
type app struct {
	dir      string
	sink     *logging.Sink
	store    *db.DB
	meta     *syncmeta.Store
	deviceID string
	engine   *reconcile.Engine
	tasks    *tasks.Service
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	release func()
}

// dataDir resolves the data directory from the flag, $TASKSYNC_HOME or the
// home directory.
func dataDir() (string, error) {
	if dataDirFlag != "" {
		return filepath.Abs(dataDirFlag)
	}
	if env := os.Getenv(config.EnvPrefix + "_HOME"); env != "" {
		return filepath.Abs(env)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".tasksync"), nil
}

func configPath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, config.FileName), nil
}

func loadSettings() (*config.Settings, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// openLog opens the diagnostic log sink without touching the database.
func openLog() (*logging.Sink, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	var echo io.Writer
	if verboseFlag {
		echo = os.Stderr
	}
	return logging.Open(filepath.Join(dir, logging.DefaultFile), echo)
}

// openApp takes the sync lock, opens the local store and seeds the document
// from it. The lock is held until Close or unlock, so commands never write
// the store while a pass runs in another process.
func openApp(ctx context.Context) (*app, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	release, err := daemon.Acquire(ctx, filepath.Join(dir, daemon.LockFile), lockWait)
	if errors.Is(err, daemon.ErrBusy) {
		return nil, fmt.Errorf("%w; try again when it finishes", err)
	}
	if err != nil {
		return nil, err
	}

	sink, err := openLog()
	if err != nil {
		release()
		return nil, err
	}
	a := &app{dir: dir, sink: sink, release: release}

	a.store, err = db.Open(filepath.Join(dir, dbFile))
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.open(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	if err := a.store.InitSchemaContext(ctx); err != nil {
		return err
	}

	a.meta = syncmeta.New(a.store.RawDB())
	if err := a.meta.InitSchema(ctx); err != nil {
		return err
	}
	deviceID, err := a.meta.DeviceID(ctx)
	if err != nil {
		return err
	}
	a.deviceID = deviceID

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)

	a.engine = reconcile.New(a.store, crdt.New(deviceID, nil), nil, a.sink.Logger("[reconcile] "))
	a.engine.SetDeleteLog(a.meta)
	if err := a.engine.Initialize(ctx); err != nil {
		return err
	}
	a.tasks = tasks.NewService(a.engine, nil)
	return nil
}

func (a *app) syncer() sync.Syncer {
	return sync.New(sync.Config{
		Engine:  a.engine,
		Meta:    a.meta,
		Connect: remote.Connector(loadSettings),
		Logger:  a.sink.Logger("[sync] "),
		Flusher: a.sink,
		Metrics: a.metrics,
	})
}

func (a *app) lockPath() string {
	return filepath.Join(a.dir, daemon.LockFile)
}

// unlock releases the sync lock early. The daemon holds it only during
// passes and refreshes its document from the store at the start of each.
func (a *app) unlock() {
	if a.release != nil {
		a.release()
		a.release = nil
	}
}

// Close releases the store, flushes the log and drops the lock.
func (a *app) Close() error {
	var firstErr error
	if a.store != nil {
		firstErr = a.store.Close()
	}
	if err := a.sink.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	a.unlock()
	return firstErr
}

// withApp opens the app, runs fn and closes the app.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}()
	return fn(a)
}
