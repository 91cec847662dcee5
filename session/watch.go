package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher signals changes to a session file. Events are coalesced: a pending
// signal absorbs further changes until it is received.
type Watcher struct {
	watcher *fsnotify.Watcher
	name    string
	events  chan struct{}
	stop    chan struct{}
	once    sync.Once
}

// Watch observes the session file at path (DefaultPath when empty). The
// parent directory is watched so atomic replacements are seen.
func Watch(path string) (*Watcher, error) {
	path, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: prepare directory %q: %w", dir, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("session: create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("session: watch directory %q: %w", dir, err)
	}
	w := &Watcher{
		watcher: fw,
		name:    filepath.Base(path),
		events:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Events returns the change channel; it is closed after Close.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.once.Do(func() {
		close(w.stop)
		w.watcher.Close()
	})
	return nil
}

func (w *Watcher) run() {
	defer close(w.events)
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != w.name {
				continue
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			w.signal()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.signal()
		}
	}
}

func (w *Watcher) signal() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
