// Package orch provides the composition-based replacement for the
// teacher-domain's usual Orch-subclass-per-concern pattern: a single
// reusable Engine embeds a pending-work map and a per-table table-consumer
// Executor, and dispatches each observed write to an injected Apply
// callback rather than a virtual method. Concrete managers (vlanmgr,
// intfmgr, teammgr, fgnhgorch, nhgorch) construct one Engine per table they
// own and supply Apply; the Engine owns fairness, ordering, and pending-work
// bookkeeping so none of that logic is duplicated per manager.
package orch

import (
	"context"

	"github.com/newtron-network/orchcore/pkg/store"
	"github.com/newtron-network/orchcore/pkg/util"
)

// Outcome is the ternary result of an Apply call.
type Outcome int

const (
	// Done removes the key from pending-work.
	Done Outcome = iota
	// RetryLater keeps the key in pending-work for the next wake.
	RetryLater
	// Error logs and drops the key.
	Error
)

// Apply processes one table write for key, using fields from the most
// recent SET (nil for a DEL). It must not block.
type Apply func(ctx context.Context, key string, op store.Op, fields map[string]string) Outcome

// work is one pending item: the latest observed op/fields for a key,
// superseding anything queued earlier for the same key.
type work struct {
	op     store.Op
	fields map[string]string
}

// Engine is the generic table-consumer: it maintains a pending-work map
// keyed by entity key and, on each wake, re-applies every pending key via
// the injected Apply callback, in round-robin order so a retrying key never
// starves the others.
type Engine struct {
	name    string
	table   string
	gateway *store.Gateway
	apply   Apply

	events  <-chan store.Event
	order   []string
	pending map[string]work
}

// NewEngine creates an Engine for table, reading from gateway's
// subscription and dispatching every observed write through apply.
func NewEngine(name, table string, gateway *store.Gateway, apply Apply) *Engine {
	return &Engine{
		name:    name,
		table:   table,
		gateway: gateway,
		apply:   apply,
		pending: make(map[string]work),
	}
}

// Name implements scheduler.Executor.
func (e *Engine) Name() string {
	return e.name
}

// Wake implements scheduler.Executor: it subscribes (once) to the owned
// table and blocks until either a new write arrives or ctx is cancelled.
func (e *Engine) Wake(ctx context.Context) error {
	if e.events == nil {
		events, err := e.gateway.Subscribe(ctx, e.table)
		if err != nil {
			return err
		}
		e.events = events
	}
	select {
	case ev, ok := <-e.events:
		if !ok {
			return context.Canceled
		}
		e.enqueue(ev)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue folds an observed Event into pending-work: a later write for the
// same key supersedes an earlier one queued but not yet applied.
func (e *Engine) enqueue(ev store.Event) {
	if _, exists := e.pending[ev.Key]; !exists {
		e.order = append(e.order, ev.Key)
	}
	e.pending[ev.Key] = work{op: ev.Op, fields: ev.Fields}
}

// Run implements scheduler.Executor: it drains every currently-pending
// event off the subscription channel without blocking, then applies the
// full pending-work set in round-robin key order.
func (e *Engine) Run(ctx context.Context) {
drain:
	for {
		select {
		case ev, ok := <-e.events:
			if !ok {
				break drain
			}
			e.enqueue(ev)
		default:
			break drain
		}
	}

	keys := e.order
	e.order = nil
	var retry []string
	for _, key := range keys {
		w, ok := e.pending[key]
		if !ok {
			continue // superseded out from under us, shouldn't happen
		}
		switch e.apply(ctx, key, w.op, w.fields) {
		case Done:
			delete(e.pending, key)
		case RetryLater:
			retry = append(retry, key)
		case Error:
			util.Logger.WithField("engine", e.name).WithField("table", e.table).
				WithField("key", key).Warn("orch: apply returned error, dropping key")
			delete(e.pending, key)
		}
	}
	// Keys that retried this pass go back to the end of the order so a
	// stuck key never blocks the ones behind it, and freshly superseded
	// writes (enqueued above) are processed ahead of carried-over retries.
	e.order = append(e.order, retry...)
}

// Close implements scheduler.Executor.
func (e *Engine) Close() error {
	return nil
}

// Pending returns the number of keys currently awaiting apply, for
// observability (back-pressure per ).
func (e *Engine) Pending() int {
	return len(e.pending)
}
