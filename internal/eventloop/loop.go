// Package eventloop provides the cooperative single-goroutine executor that
// the port scheduler and its sources run on.
package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRunning is returned by Run when the loop is already being run.
var ErrRunning = errors.New("eventloop: already running")

// Loop executes callbacks one at a time. Callbacks posted to the same Loop
// never run concurrently with each other.
type Loop interface {
	// Post queues fn to run on the loop. Safe from any goroutine.
	Post(fn func())

	// AfterFunc runs fn on the loop once d has elapsed. The returned Timer
	// must only be stopped from the loop itself.
	AfterFunc(d time.Duration, fn func()) Timer

	// Now returns the loop's notion of the current time.
	Now() time.Time
}

// Timer is a single-shot, cancelable callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the call prevented the
	// callback from running. A stopped timer never runs, even if its
	// deadline already passed and the callback is queued.
	Stop() bool
}

// Runner is a real-time Loop driven by Run.
type Runner struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	running atomic.Bool
	logger  *slog.Logger
}

// NewRunner creates an idle Runner. Callbacks posted before Run is called are
// kept and executed once the loop starts.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		wake:   make(chan struct{}, 1),
		logger: logger.With("component", "eventloop"),
	}
}

// Post implements Loop. It never blocks.
func (r *Runner) Post(fn func()) {
	r.mu.Lock()
	r.queue = append(r.queue, fn)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Do posts fn and waits until it has run or ctx is done. Calling Do from the
// loop goroutine deadlocks.
func (r *Runner) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	r.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Now implements Loop.
func (r *Runner) Now() time.Time {
	return time.Now()
}

// Run executes posted callbacks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer r.running.Store(false)

	r.logger.Debug("loop started")
	defer r.logger.Debug("loop stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.mu.Lock()
		batch := r.queue
		r.queue = nil
		r.mu.Unlock()

		if len(batch) > 0 {
			for _, fn := range batch {
				fn()
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.wake:
		}
	}
}

// AfterFunc implements Loop.
func (r *Runner) AfterFunc(d time.Duration, fn func()) Timer {
	rt := &runnerTimer{}
	rt.t = time.AfterFunc(d, func() {
		r.Post(func() {
			if rt.stopped {
				return
			}
			rt.fired = true
			fn()
		})
	})
	return rt
}

// runnerTimer state is only touched on the loop goroutine; the OS timer
// callback just posts.
type runnerTimer struct {
	t       *time.Timer
	stopped bool
	fired   bool
}

func (t *runnerTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.t.Stop()
	return true
}
