// Package warmrestart tracks, per daemon, the warm-restart lifecycle state
// and replay-set bookkeeping, grounded on
// original_source/warmrestart/warm_restart.h (WarmStart::WarmStartState,
// checkWarmStart/setWarmStartState) and extended with an extra REPLAYED
// state between RESTORED and RECONCILED.
package warmrestart

import (
	"context"
	"fmt"

	"github.com/newtron-network/orchcore/pkg/store"
	"github.com/newtron-network/orchcore/pkg/util"
)

// State is a daemon's warm-restart lifecycle state.
type State string

const (
	Disabled    State = "DISABLED"
	Initialized State = "INITIALIZED"
	Restored    State = "RESTORED"
	Replayed    State = "REPLAYED"
	Reconciled  State = "RECONCILED"
)

// Table is the well-known STATE table warm-restart transitions are
// published to, keyed by daemon name.
const Table = "WARM_RESTART_TABLE"

// Coordinator tracks one daemon's warm-restart lifecycle: the replay set of
// keys expected to be re-applied before RECONCILED is safe to declare, and
// the state publication to STATE_DB.
type Coordinator struct {
	daemon  string
	gateway *store.Gateway
	enabled bool
	state   State
	replay  map[string]map[string]bool // table -> key -> pending
}

// New creates a Coordinator for daemon, publishing state transitions
// through gateway (a STATE namespace Gateway).
func New(daemon string, gateway *store.Gateway, enabled bool) *Coordinator {
	c := &Coordinator{
		daemon:  daemon,
		gateway: gateway,
		enabled: enabled,
		state:   Disabled,
		replay:  make(map[string]map[string]bool),
	}
	if enabled {
		c.state = Initialized
	}
	return c
}

// Enabled reports whether warm-restart is configured for this daemon.
func (c *Coordinator) Enabled() bool {
	return c.enabled
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return c.state
}

// SnapshotReplaySet records, for an owned table, the current set of keys
// that must be observed again before reconciliation can be declared
// complete. Called once per owned table during daemon start, before the
// table's Engine begins consuming its subscription — it establishes the
// baseline keys considered "from a previous life" rather than newly
// intended.
func (c *Coordinator) SnapshotReplaySet(ctx context.Context, table string) error {
	if !c.enabled {
		return nil
	}
	keys, err := c.gateway.Keys(ctx, table)
	if err != nil {
		return fmt.Errorf("warmrestart: snapshot %s: %w", table, err)
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	c.replay[table] = set
	c.advance(Restored)
	return nil
}

// Reapplied marks key in table as having been re-applied by its owning
// manager. Once every table's replay set is empty, the Coordinator advances
// RESTORED/REPLAYED to RECONCILED and publishes the transition. Calling
// Reapplied on an already-reconciled Coordinator, or for a key outside the
// replay set, is a no-op: reconciliation is idempotent.
func (c *Coordinator) Reapplied(ctx context.Context, table, key string) error {
	if !c.enabled || c.state == Reconciled {
		return nil
	}
	set, ok := c.replay[table]
	if !ok {
		return nil
	}
	delete(set, key)
	return c.maybeReconcile(ctx)
}

// IsReplaying reports whether key in table is still awaiting reapplication
// from a prior life. A manager uses this to recognise "state-ok" entries it
// must not re-mutate kernel/driver state for during warm restart — only
// re-publish.
func (c *Coordinator) IsReplaying(table, key string) bool {
	if !c.enabled {
		return false
	}
	set, ok := c.replay[table]
	if !ok {
		return false
	}
	return set[key]
}

func (c *Coordinator) maybeReconcile(ctx context.Context) error {
	if c.state == Reconciled {
		return nil
	}
	for _, set := range c.replay {
		if len(set) > 0 {
			return nil
		}
	}
	if c.state == Restored {
		c.advance(Replayed)
	}
	c.advance(Reconciled)
	return c.publish(ctx)
}

func (c *Coordinator) advance(s State) {
	if c.state == s {
		return
	}
	c.state = s
	util.Logger.WithField("daemon", c.daemon).WithField("state", string(s)).
		Info("warmrestart: state transition")
}

// publish writes the current state to STATE_DB so collaborating daemons can
// observe the transition.
func (c *Coordinator) publish(ctx context.Context) error {
	return c.gateway.Set(ctx, Table, c.daemon, map[string]string{
		"state": string(c.state),
	})
}
