package daemon

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation
type EventOp string

const (
	OpCreate EventOp = "create"
	OpModify EventOp = "modify"
	OpDelete EventOp = "delete"
)

// FileEvent is a change to the watched manifest.
type FileEvent struct {
	Path string
	Op   EventOp
}

// ManifestWatcher reports changes to a single file.
//
// It watches the file's directory rather than the file itself: editors and
// config management tools usually replace a file by renaming a temporary one
// over it, which drops a watch held on the old inode.
type ManifestWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewManifestWatcher creates a watcher. Call Start to begin watching.
func NewManifestWatcher() (*ManifestWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &ManifestWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
	}, nil
}

// Start watches path. It fails if the watcher is already running.
func (mw *ManifestWatcher) Start(path string) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	if mw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := mw.watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	mw.path = abs
	mw.running = true
	mw.wg.Add(1)
	go mw.processEvents()

	return nil
}

// Stop stops watching and closes the Events and Errors channels.
func (mw *ManifestWatcher) Stop() error {
	mw.mu.Lock()
	if !mw.running {
		mw.mu.Unlock()
		return mw.watcher.Close()
	}
	mw.running = false
	close(mw.done)
	mw.mu.Unlock()

	err := mw.watcher.Close()
	mw.wg.Wait()

	close(mw.events)
	close(mw.errors)

	if err != nil {
		return fmt.Errorf("failed to close fsnotify watcher: %w", err)
	}
	return nil
}

// Events returns the manifest change channel.
func (mw *ManifestWatcher) Events() <-chan FileEvent {
	return mw.events
}

// Errors returns the watcher error channel.
func (mw *ManifestWatcher) Errors() <-chan error {
	return mw.errors
}

// IsRunning reports whether the watcher is running.
func (mw *ManifestWatcher) IsRunning() bool {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.running
}

func (mw *ManifestWatcher) processEvents() {
	defer mw.wg.Done()

	for {
		select {
		case <-mw.done:
			return

		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			fileEvent, ok := mw.convertEvent(event)
			if !ok {
				continue
			}
			select {
			case mw.events <- fileEvent:
			case <-mw.done:
				return
			}

		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case mw.errors <- err:
			case <-mw.done:
				return
			default:
				// Drop when nobody is reading errors.
			}
		}
	}
}

// convertEvent maps an fsnotify event on the manifest to a FileEvent.
// Events for other files in the directory and chmod-only events are skipped.
func (mw *ManifestWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	if filepath.Clean(event.Name) != mw.path {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return FileEvent{}, false
	}

	return FileEvent{Path: mw.path, Op: op}, true
}
