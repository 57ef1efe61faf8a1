package workspace

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher detects writes made to the store file by another process sharing
// the same path, debounces bursts of events, and calls onChange once per
// burst. Adapted from the teacher's daemon file watcher (cmd/bd
// daemon_watcher.go), trimmed to the one condition this package cares about:
// "the file changed", not which event kind did it.
type Watcher struct {
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	debounce time.Duration

	onChange func()
	done     chan struct{}
}

// NewWatcher watches path's parent directory (so creation/rename after a
// checkpoint truncation is still caught) plus the file itself, and invokes
// onChange at most once per 200ms burst of filesystem events.
func NewWatcher(path string, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	_ = fw.Add(path) // best effort: file may not exist yet

	w := &Watcher{
		watcher:  fw,
		debounce: 200 * time.Millisecond,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go w.run(path)
	return w, nil
}

func (w *Watcher) run(path string) {
	base := filepath.Base(path)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			w.trigger()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

func (w *Watcher) Close() error {
	close(w.done)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
