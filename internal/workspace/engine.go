// Package workspace assembles the synchronization engine: the path sandbox,
// tree snapshots, repository adapter, change bus, watcher and search service,
// behind one explicitly owned service object.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"devsync/internal/changebus"
	"devsync/internal/git"
	"devsync/internal/pathlock"
	"devsync/internal/sandbox"
	"devsync/internal/search"
	"devsync/internal/tree"
	"devsync/internal/watcher"
)

// Options configures an Engine. Zero values select the defaults of each
// component.
type Options struct {
	// Root is the workspace directory. It must exist.
	Root string
	// ExcludedDirs overrides tree.DefaultExcludedDirs.
	ExcludedDirs []string
	// Watch enables the filesystem watcher.
	Watch    bool
	Debounce time.Duration

	SearchMode        search.Mode
	RipgrepPath       string
	DefaultMaxResults int

	// BusBufferSize is the per-subscriber event buffer.
	BusBufferSize int
}

// Engine is the workspace synchronization engine. All operations are safe for
// concurrent use. Reads never take locks; write-class operations are
// serialized per path, and whole-repository mutations exclude all
// single-path repository mutations.
type Engine struct {
	sandbox  *sandbox.Sandbox
	excluder *tree.Excluder
	builder  *tree.Builder
	search   *search.Service
	bus      *changebus.Bus
	watcher  *watcher.Watcher

	maxResults int

	locks *pathlock.Locker
	// repoMu is held for reading by single-path repository mutations and for
	// writing by whole-repository ones.
	repoMu sync.RWMutex

	repoOpenMu sync.Mutex
	repo       *git.Repository

	mu      sync.Mutex
	started bool
	closed  bool
}

// New validates opts and builds an unstarted Engine.
func New(opts Options) (*Engine, error) {
	sb, err := sandbox.New(opts.Root)
	if err != nil {
		return nil, err
	}
	excluder := tree.NewExcluder(opts.ExcludedDirs)

	mode := opts.SearchMode
	if mode == "" {
		mode = search.ModeAuto
	}
	maxResults := opts.DefaultMaxResults
	if maxResults <= 0 {
		maxResults = search.DefaultMaxResults
	}

	e := &Engine{
		sandbox:  sb,
		excluder: excluder,
		builder:  tree.NewBuilder(tree.Options{Excluder: excluder}),
		search: search.New(search.Options{
			Root:        sb.Root(),
			Excluder:    excluder,
			RipgrepPath: opts.RipgrepPath,
			Mode:        mode,
		}),
		bus:        changebus.New(opts.BusBufferSize),
		maxResults: min(maxResults, search.MaxResultsLimit),
		locks:      pathlock.New(),
	}

	if opts.Watch {
		w, err := watcher.New(watcher.Options{
			Root:      sb.Root(),
			Excluder:  excluder,
			Debounce:  opts.Debounce,
			Publisher: e.bus,
		})
		if err != nil {
			return nil, fmt.Errorf("create watcher: %w", err)
		}
		e.watcher = w
	}
	return e, nil
}

// Root returns the resolved workspace root.
func (e *Engine) Root() string {
	return e.sandbox.Root()
}

// Start starts the filesystem watcher, if enabled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("workspace engine is closed")
	}
	if e.started {
		return nil
	}
	if e.watcher != nil {
		if err := e.watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
	}
	e.started = true
	slog.Info("[WORKSPACE] engine started",
		"root", e.sandbox.Root(),
		"watch", e.watcher != nil,
		"excluded", e.excluder.Names())
	return nil
}

// Close stops the watcher and closes the bus, which ends every subscription.
// Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	var err error
	if e.watcher != nil {
		err = e.watcher.Close()
	}
	e.bus.Close()
	slog.Info("[WORKSPACE] engine closed", "root", e.sandbox.Root())
	return err
}

// Subscribe registers a change-event consumer. Only events published after
// Subscribe returns are delivered.
func (e *Engine) Subscribe() *changebus.Subscription {
	return e.bus.Subscribe()
}

// Unsubscribe removes a consumer registered with Subscribe.
func (e *Engine) Unsubscribe(sub *changebus.Subscription) {
	e.bus.Unsubscribe(sub)
}

// Subscribers returns the number of live subscriptions.
func (e *Engine) Subscribers() int {
	return e.bus.Count()
}

// Resolve maps a virtual path through the sandbox.
func (e *Engine) Resolve(virtualPath string) (sandbox.Path, error) {
	return e.sandbox.Resolve(virtualPath)
}

// Tree builds a fresh snapshot of the workspace.
func (e *Engine) Tree(ctx context.Context) (*tree.FileNode, error) {
	return e.builder.Build(ctx, e.sandbox.Root())
}

// Search runs a text search. A non-positive MaxResults selects the
// configured default.
func (e *Engine) Search(ctx context.Context, q search.Query) (search.Result, error) {
	if q.MaxResults <= 0 {
		q.MaxResults = e.maxResults
	}
	return e.search.Search(ctx, q)
}
