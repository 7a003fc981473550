package workerutil

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	// defaultInitialBackoff is the delay before the first restart after a
	// worker panic. 100ms recovers a watcher or ping loop quickly while still
	// keeping a worker that panics on every event out of a tight CPU-bound
	// restart loop. Doubles on each further attempt up to defaultMaxBackoff.
	defaultInitialBackoff = 100 * time.Millisecond

	// defaultMaxBackoff caps the delay between restarts. 5s keeps a
	// recovering watcher close enough to live that clients only miss a few
	// seconds of change events, while repeated panics stay cheap.
	defaultMaxBackoff = 5 * time.Second

	// defaultMaxRetries bounds the restarts before a worker is stopped for
	// good. With the backoff above (100ms, 200ms, ... 5s) ten attempts span
	// roughly 30 seconds: long enough for transient trouble such as a full
	// inotify table or a briefly missing directory to clear, short enough
	// that a deterministic bug stops logging stacks.
	defaultMaxRetries = 10
)

// Options configures Run. Zero-value fields select the defaults
// (InitialBackoff=100ms, MaxBackoff=5s, MaxRetries=10).
//
// Zero-value semantics:
//   - 0 or a negative value means "use the default"; withDefaults replaces it.
//   - MaxRetries=1 runs the worker once; a panic goes straight to OnGiveUp.
//   - There is no unlimited mode. A worker that keeps panicking is a bug to
//     surface, not to hide behind endless restarts.
//   - MaxBackoff below InitialBackoff is corrected to InitialBackoff.
type Options struct {
	// InitialBackoff is the delay before the first restart.
	InitialBackoff time.Duration
	// MaxBackoff caps the doubled delay between restarts.
	MaxBackoff time.Duration
	// MaxRetries is the number of recovered panics before the worker is
	// stopped permanently.
	MaxRetries int

	// OnPanic is called after each recovered panic, before the backoff wait.
	// attempt is 1-based. May be nil. The watcher counts restarts in its
	// error metric through it.
	OnPanic func(worker string, attempt int)

	// OnGiveUp is called once when MaxRetries panics have been recovered and
	// the worker is stopped permanently. May be nil. The give-up itself is
	// always logged at error level.
	OnGiveUp func(worker string)
}

func (opts Options) withDefaults() Options {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		slog.Warn("[DEBUG-PANIC] MaxBackoff < InitialBackoff, using InitialBackoff as MaxBackoff",
			"initialBackoff", opts.InitialBackoff,
			"maxBackoff", opts.MaxBackoff,
		)
		opts.MaxBackoff = opts.InitialBackoff
	}
	return opts
}

// Run starts fn on a goroutine tracked by wg. A panic inside fn is logged with
// its stack and fn is restarted after an exponential backoff, until it returns
// normally, ctx is cancelled or MaxRetries panics have occurred.
// fn must return when ctx is done.
func Run(ctx context.Context, name string, wg *sync.WaitGroup, fn func(ctx context.Context), opts Options) {
	opts = opts.withDefaults()
	wg.Go(func() {
		runLoop(ctx, name, fn, opts)
	})
}

func runLoop(ctx context.Context, name string, fn func(ctx context.Context), opts Options) {
	delay := opts.InitialBackoff

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if !runOnce(ctx, name, fn) || ctx.Err() != nil {
			return
		}

		slog.Warn("[DEBUG-PANIC] restarting worker after panic",
			"worker", name,
			"restartDelay", delay,
			"attempt", attempt,
		)
		if opts.OnPanic != nil {
			opts.OnPanic(name, attempt)
		}
		if attempt == opts.MaxRetries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = nextBackoff(delay, opts.MaxBackoff)
	}

	slog.Error("[DEBUG-PANIC] worker exceeded max retries, giving up",
		"worker", name,
		"maxRetries", opts.MaxRetries,
	)
	if opts.OnGiveUp != nil {
		opts.OnGiveUp(name)
	}
}

// runOnce calls fn and reports whether it panicked.
func runOnce(ctx context.Context, name string, fn func(ctx context.Context)) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(name, r)
			panicked = true
		}
	}()
	fn(ctx)
	return false
}

// RecoverPanic logs a panic of a one-shot goroutine instead of crashing the
// process. It must be deferred directly:
//
//	defer workerutil.RecoverPanic("ws-writer")
func RecoverPanic(worker string) {
	if r := recover(); r != nil {
		logPanic(worker, r)
	}
}

func logPanic(worker string, r any) {
	slog.Error("[DEBUG-PANIC] background goroutine recovered from panic",
		"worker", worker,
		"panic", r,
		"stack", string(debug.Stack()),
	)
}

// nextBackoff doubles current, capping at maxBackoff and guarding overflow.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	if current <= 0 {
		return defaultInitialBackoff
	}
	if current >= maxBackoff {
		return maxBackoff
	}
	next := current * 2
	if next > maxBackoff || next < current {
		return maxBackoff
	}
	return next
}
