// Package watcher turns filesystem notifications under the workspace root into
// debounced change events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"devsync/internal/changebus"
	"devsync/internal/metrics"
	"devsync/internal/tree"
	"devsync/internal/workerutil"
)

// DefaultDebounce is the quiet period a path must observe before its event is
// published.
const DefaultDebounce = 75 * time.Millisecond

// treeKey is the pending-map key shared by all structural events. It cannot
// collide with a virtual path, which always starts with "/".
const treeKey = "\x00tree"

// Publisher receives debounced events.
type Publisher interface {
	Publish(event changebus.Event)
}

// Options configures a Watcher.
type Options struct {
	// Root is the absolute, symlink-resolved workspace root.
	Root string
	// Excluder filters directories that are neither watched nor reported.
	// nil selects tree.DefaultExcludedDirs.
	Excluder *tree.Excluder
	// Debounce is the per-path quiet period. Non-positive selects DefaultDebounce.
	Debounce time.Duration
	// Publisher receives the events.
	Publisher Publisher
}

// Watcher watches the workspace recursively. Content writes publish
// FileChanged for the written path; creations, removals and renames publish a
// single TreeInvalidated per burst. Events under excluded directories are
// dropped.
type Watcher struct {
	root     string
	excluder *tree.Excluder
	delay    time.Duration
	pub      Publisher

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*pendingEvent
	started bool
	closed  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type pendingEvent struct {
	event changebus.Event
	timer *time.Timer
}

// New validates opts and returns an unstarted Watcher.
func New(opts Options) (*Watcher, error) {
	if opts.Root == "" || !filepath.IsAbs(opts.Root) {
		return nil, fmt.Errorf("watcher root must be absolute: %q", opts.Root)
	}
	if opts.Publisher == nil {
		return nil, errors.New("watcher publisher is required")
	}
	if opts.Excluder == nil {
		opts.Excluder = tree.NewExcluder(nil)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Watcher{
		root:     filepath.Clean(opts.Root),
		excluder: opts.Excluder,
		delay:    opts.Debounce,
		pub:      opts.Publisher,
		pending:  make(map[string]*pendingEvent),
	}, nil
}

// Start registers watches for every non-excluded directory and starts the
// event loop. Start may be called once.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("watcher is closed")
	}
	if w.started {
		return errors.New("watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w.fsw = fsw
	if err := w.addRecursive(w.root); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.started = true
	workerutil.Run(loopCtx, "watcher", &w.wg, w.loop, workerutil.Options{
		OnPanic: func(string, int) { metrics.RecordWatcherError() },
	})
	slog.Debug("[DEBUG-WATCH] watcher started", "root", w.root, "watches", len(fsw.WatchList()))
	return nil
}

// Close stops the event loop, cancels pending events and releases the
// underlying watches. Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for key, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, key)
	}
	cancel := w.cancel
	fsw := w.fsw
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	if fsw != nil {
		return fsw.Close()
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			metrics.RecordWatcherError()
			slog.Warn("[DEBUG-WATCH] watcher error", "error", err)
		}
	}
}

// handle maps one fsnotify event onto a pending change event.
func (w *Watcher) handle(ev fsnotify.Event) {
	rel, ok := w.relative(ev.Name)
	if !ok || w.excluder.InExcludedDir(rel) || w.isExcludedDir(ev.Name) {
		return
	}
	virtual := "/" + rel

	switch {
	case ev.Has(fsnotify.Create):
		metrics.RecordWatcherEvent("create")
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				slog.Debug("[DEBUG-WATCH] failed to watch new directory", "path", ev.Name, "error", err)
			}
		}
		w.schedule(treeKey, changebus.TreeInvalidated())
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		metrics.RecordWatcherEvent("remove")
		w.schedule(treeKey, changebus.TreeInvalidated())
	case ev.Has(fsnotify.Write):
		metrics.RecordWatcherEvent("write")
		w.schedule(virtual, changebus.FileChanged(virtual))
	default:
		// Chmod only.
	}
}

// isExcludedDir reports whether name is an existing directory with an
// excluded name. A regular file sharing the name is not excluded. Removed
// paths cannot be inspected and are reported, so removing an excluded
// directory costs one extra tree invalidation.
func (w *Watcher) isExcludedDir(name string) bool {
	if !w.excluder.IsExcludedDir(filepath.Base(name)) {
		return false
	}
	info, err := os.Lstat(name)
	return err == nil && info.IsDir()
}

// relative returns the slash-separated path of name below the root.
// The root itself and paths outside it are rejected.
func (w *Watcher) relative(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// schedule (re)arms the debounce timer for key. The event is published once
// key has been quiet for the debounce period.
func (w *Watcher) schedule(key string, event changebus.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if p, exists := w.pending[key]; exists {
		p.timer.Reset(w.delay)
		return
	}
	p := &pendingEvent{event: event}
	p.timer = time.AfterFunc(w.delay, func() { w.fire(key, p) })
	w.pending[key] = p
}

func (w *Watcher) fire(key string, p *pendingEvent) {
	w.mu.Lock()
	if w.closed || w.pending[key] != p {
		w.mu.Unlock()
		return
	}
	delete(w.pending, key)
	w.mu.Unlock()

	slog.Debug("[DEBUG-WATCH] publishing event", "type", p.event.Type, "path", p.event.Path)
	w.pub.Publish(p.event)
}

// addRecursive watches dir and every non-excluded directory below it.
// Symlinked directories are not followed.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			slog.Debug("[DEBUG-WATCH] skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.excluder.IsExcludedDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			if path == dir {
				return err
			}
			slog.Debug("[DEBUG-WATCH] failed to add watch", "path", path, "error", err)
		}
		return nil
	})
}
