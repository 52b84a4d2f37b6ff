// Package scheduler implements the single-threaded, cooperative event loop
// shared by every daemon in this repository: at most one Executor runs at a
// time, each runs to completion before the next is selected, and shutdown
// drains in-flight work before closing executors in reverse registration
// order, using golang.org/x/sync/errgroup for shutdown fan-in.
package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/newtron-network/orchcore/pkg/util"
)

// Executor is one unit of cooperatively scheduled work: a table consumer
// wrapping a store subscription, a notification consumer wrapping a
// notification stream, or a periodic timer. Wake blocks until there is work
// to do or ctx is cancelled, then Run processes exactly what was observed
// and returns. The scheduler never calls Run concurrently with another
// executor's Run.
type Executor interface {
	// Name identifies the executor for logging.
	Name() string
	// Wake blocks until this executor has work, or returns when ctx is
	// cancelled.
	Wake(ctx context.Context) error
	// Run processes the work Wake observed. It must not block
	// indefinitely: retry-later outcomes are surfaced by the caller
	// re-registering, not by Run blocking.
	Run(ctx context.Context)
	// Close releases any resources held by the executor (store
	// subscriptions, timers). Called once during cooperative shutdown.
	Close() error
}

// Scheduler runs a fixed set of registered Executors, one at a time, forever
// until its context is cancelled.
type Scheduler struct {
	mu        sync.Mutex
	executors []Executor
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Register adds an executor. Registration order determines shutdown order:
// executors are closed in reverse registration order, so an executor may
// assume anything it depends on is still open while it is being closed.
func (s *Scheduler) Register(e Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors = append(s.executors, e)
}

// Run drives the cooperative event loop until ctx is cancelled. For each
// registered executor it races Wake calls and, when one returns without
// error, runs that executor's Run to completion before waking any other
// executor. On ctx cancellation it stops waking new work and closes every
// executor in reverse registration order, draining whatever Run calls are
// already in flight.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	executors := append([]Executor(nil), s.executors...)
	s.mu.Unlock()

	type wakeResult struct {
		idx int
		err error
	}
	wakes := make(chan wakeResult, len(executors))

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wakers errgroup.Group
	for i, e := range executors {
		i, e := i, e
		wakers.Go(func() error {
			for {
				err := e.Wake(loopCtx)
				select {
				case wakes <- wakeResult{idx: i, err: err}:
				case <-loopCtx.Done():
					return nil
				}
				if err != nil {
					return nil
				}
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			cancel()
			wakers.Wait()
			return s.shutdown(executors)
		case res := <-wakes:
			if res.err != nil {
				continue
			}
			executors[res.idx].Run(ctx)
		}
	}
}

// shutdown closes every executor in reverse registration order: cooperative
// shutdown drains in-flight work before releasing the resources an executor
// earlier in the list may still depend on.
func (s *Scheduler) shutdown(executors []Executor) error {
	var firstErr error
	for i := len(executors) - 1; i >= 0; i-- {
		e := executors[i]
		if err := e.Close(); err != nil {
			util.Logger.WithField("executor", e.Name()).WithField("error", err).
				Warn("scheduler: executor close returned error")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
