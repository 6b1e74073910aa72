package daemon

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vifly/tasksApp/internal/blob"
)

// FileWatcher watches a shared-folder updates directory for new delta files
// and fires once per burst of changes.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	fires    chan struct{}
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewFileWatcher returns an idle watcher; nothing fires before Start.
// A non-positive debounce uses DefaultDebounce.
func NewFileWatcher(debounce time.Duration) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &FileWatcher{
		watcher:  watcher,
		debounce: debounce,
		fires:    make(chan struct{}, 1),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching dir for delta files.
func (fw *FileWatcher) Start(dir string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}
	if err := fw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()
	return nil
}

// Stop stops watching and waits for the event loop to exit. It is safe to
// call more than once, and on a watcher that was never started.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)
	err := fw.watcher.Close()
	fw.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Fires returns a channel that receives once the directory has been quiet
// for the debounce interval after a delta file appeared or changed. Fires
// coalesce while unread.
func (fw *FileWatcher) Fires() <-chan struct{} {
	return fw.fires
}

// Errors carries fsnotify errors. Errors are dropped while the channel is full.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	timer := time.NewTimer(fw.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !fw.relevant(event) {
				continue
			}
			timer.Reset(fw.debounce)

		case <-timer.C:
			select {
			case fw.fires <- struct{}{}:
			default:
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			default:
			}
		}
	}
}

// relevant reports whether event is the creation or rewrite of a delta file.
// Temp files written by other devices are skipped until they are renamed.
func (fw *FileWatcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	name := filepath.Base(event.Name)
	return blob.IsDelta(name)
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}
