// Package watch reports external edits to the gateway's JSON files so the
// dashboard can refresh without waiting for the next poll.
package watch

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce collapses the burst of events one save produces.
const DefaultDebounce = 100 * time.Millisecond

// Watcher watches the parent directories of a set of files, since editors
// and our own writes replace files by rename.
type Watcher struct {
	fsw      *fsnotify.Watcher
	files    map[string]bool
	debounce time.Duration
	changes  chan string

	mu     sync.Mutex
	timer  *time.Timer
	last   string
	done   chan struct{}
	closed bool
}

// New starts watching files. Directories that do not exist are skipped.
func New(debounce time.Duration, files ...string) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("file watcher: %w", err)
	}
	w := &Watcher{
		fsw:      fsw,
		files:    map[string]bool{},
		debounce: debounce,
		changes:  make(chan string, 1),
		done:     make(chan struct{}),
	}
	dirs := map[string]bool{}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	watched := 0
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			log.Debug().Err(err).Str("path", dir).Msg("not watching directory")
			continue
		}
		watched++
	}
	if watched == 0 && len(dirs) > 0 {
		fsw.Close()
		return nil, fmt.Errorf("file watcher: no watchable directories")
	}
	go w.loop()
	return w, nil
}

// Changes delivers the path of a changed file once the debounce window
// passes. Bursts coalesce into one delivery.
func (w *Watcher) Changes() <-chan string { return w.changes }

func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.done)
	w.mu.Unlock()
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			name := filepath.Clean(ev.Name)
			if !w.files[name] {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.schedule(name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("file watcher error")
		}
	}
}

func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.last = name
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	name, closed := w.last, w.closed
	w.mu.Unlock()
	if closed {
		return
	}
	select {
	case w.changes <- name:
	default:
	}
}
