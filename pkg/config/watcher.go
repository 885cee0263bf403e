package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 300 * time.Millisecond

// Watcher reloads the config file on change and notifies subscribers.
// Consumers use it to reset state tied to the configuration lifetime, such
// as MCP servers marked unavailable after exhausted reconnects. The parent
// directory is watched rather than the file itself, so editors that save
// by renaming a temp file over the target keep triggering reloads.
type Watcher struct {
	path     string
	debounce time.Duration

	fsw *fsnotify.Watcher

	stop chan struct{}
	done chan struct{}

	mu       sync.Mutex
	onChange func(*Config)
	onError  func(error)
}

// WatcherOption configures the reloader.
type WatcherOption func(*Watcher)

// WithDebounce overrides the default debounce window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// OnChange registers a callback fired after a successful reload.
func OnChange(fn func(*Config)) WatcherOption {
	return func(w *Watcher) { w.onChange = fn }
}

// OnError registers a callback for reload failures.
func OnError(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// NewWatcher wires a file watcher around the given config path.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config: watcher path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		debounce: defaultDebounce,
		fsw:      fsw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	go w.run()
	return w, nil
}

// Close stops the watcher and waits for the loop to exit.
func (w *Watcher) Close() error {
	close(w.stop)
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.stop:
			return
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != w.path {
				continue
			}
			// Rename covers rename-over saves; the Create of the new
			// file lands on the directory watch either way.
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.reportError(err)
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.reportError(err)
		return
	}
	w.mu.Lock()
	fn := w.onChange
	w.mu.Unlock()
	if fn != nil {
		fn(cfg)
	}
}

func (w *Watcher) reportError(err error) {
	w.mu.Lock()
	fn := w.onError
	w.mu.Unlock()
	if fn != nil && err != nil {
		fn(err)
	}
}
