// Package daemonboot is the shared bootstrap sequence every cmd/*mgrd
// binary runs before entering its scheduler.Scheduler loop: load config,
// set up logging, dial the store namespaces this daemon needs, and
// construct its warmrestart.Coordinator. It exists so the ambient
// start-up sequence (parse flags, load config, configure logging, then
// dispatch — the same shape as cmd/newtron/main.go's own PersistentPreRunE)
// is written once instead of once per daemon binary.
package daemonboot

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/newtron-network/orchcore/pkg/orchconfig"
	"github.com/newtron-network/orchcore/pkg/scheduler"
	"github.com/newtron-network/orchcore/pkg/store"
	"github.com/newtron-network/orchcore/pkg/util"
	"github.com/newtron-network/orchcore/pkg/warmrestart"
)

// Daemon bundles the ambient resources every orchestrator binary opens at
// start-up: its parsed config, one Gateway per namespace it was asked to
// use, a warm-restart Coordinator, and the Scheduler its managers register
// engines with.
type Daemon struct {
	Config *orchconfig.Config
	Warm   *warmrestart.Coordinator
	Sched  *scheduler.Scheduler

	cfgGW, stateGW, appGW *store.Gateway
}

// Load reads and validates the daemon config at path, configures the
// global logger from its Logging section, and opens a warm-restart
// Coordinator for it. It does not dial the store — callers ask for the
// specific namespace gateways their manager set needs via CfgGateway/
// StateGateway/AppGateway, each dialed lazily and once.
func Load(path string) (*Daemon, error) {
	cfg, err := orchconfig.Load(path)
	if err != nil {
		return nil, err
	}

	if err := util.SetLogLevel(cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("daemonboot: %w", err)
	}
	if cfg.Logging.JSON {
		util.SetJSONFormat()
	}

	return &Daemon{
		Config: cfg,
		Sched:  scheduler.New(),
	}, nil
}

// CfgGateway returns (dialing once) this daemon's CONFIG_DB gateway.
func (d *Daemon) CfgGateway() *store.Gateway {
	if d.cfgGW == nil {
		d.cfgGW = store.NewGateway(d.Config.Store.Address, store.Config)
	}
	return d.cfgGW
}

// StateGateway returns (dialing once) this daemon's STATE_DB gateway.
func (d *Daemon) StateGateway() *store.Gateway {
	if d.stateGW == nil {
		d.stateGW = store.NewGateway(d.Config.Store.Address, store.State)
	}
	return d.stateGW
}

// AppGateway returns (dialing once) this daemon's APPL_DB gateway.
func (d *Daemon) AppGateway() *store.Gateway {
	if d.appGW == nil {
		d.appGW = store.NewGateway(d.Config.Store.Address, store.App)
	}
	return d.appGW
}

// InitWarmRestart connects to the STATE_DB gateway and constructs this
// daemon's warmrestart.Coordinator, ready for SnapshotReplaySet calls
// against every table the caller's managers own.
func (d *Daemon) InitWarmRestart() *warmrestart.Coordinator {
	d.Warm = warmrestart.New(d.Config.Daemon, d.StateGateway(), d.Config.WarmRestart.Enabled)
	return d.Warm
}

// Run connects every gateway this daemon opened, snapshots warm-restart
// replay sets for tables, then drives the scheduler until SIGINT/SIGTERM,
// closing gateways afterward.
func (d *Daemon) Run(ctx context.Context, replayTables ...string) error {
	ctx, stop, err := d.Connect(ctx)
	if err != nil {
		return err
	}
	defer stop()

	if err := d.SnapshotReplaySets(ctx, replayTables...); err != nil {
		return err
	}

	util.Logger.WithField("daemon", d.Config.Daemon).Info("daemonboot: starting scheduler")
	return d.Sched.Run(ctx)
}

// Connect wraps ctx with SIGINT/SIGTERM cancellation and connects every
// gateway this daemon has opened so far. The returned stop func cancels the
// signal context and closes those gateways; callers that don't go through
// Run (routesyncd's merged event-stream loop, which isn't built on
// scheduler.Scheduler) call this directly instead.
func (d *Daemon) Connect(ctx context.Context) (context.Context, func(), error) {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)

	for _, gw := range d.gateways() {
		if err := gw.Connect(ctx); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("daemonboot: connect: %w", err)
		}
	}

	stop := func() {
		cancel()
		for _, gw := range d.gateways() {
			_ = gw.Close()
		}
	}
	return ctx, stop, nil
}

// SnapshotReplaySets is a no-op when warm restart is disabled or d.Warm was
// never initialized.
func (d *Daemon) SnapshotReplaySets(ctx context.Context, tables ...string) error {
	if d.Warm == nil {
		return nil
	}
	for _, table := range tables {
		if err := d.Warm.SnapshotReplaySet(ctx, table); err != nil {
			return fmt.Errorf("daemonboot: snapshot replay set %s: %w", table, err)
		}
	}
	return nil
}

// chanExecutor adapts an already-open channel (a netlinkbridge LinkEvent/
// NeighEvent stream, a store.Notification stream) into a scheduler.Executor:
// Wake blocks for the next value, Run dispatches it through handle.
type chanExecutor[T any] struct {
	name    string
	ch      <-chan T
	handle  func(context.Context, T)
	pending T
	have    bool
}

// NewChanExecutor registers name/ch/handle as a scheduler.Executor: each
// wake consumes exactly one value off ch and runs handle with it, so a slow
// handler never starves the scheduler's fairness across other executors.
func NewChanExecutor[T any](name string, ch <-chan T, handle func(context.Context, T)) scheduler.Executor {
	return &chanExecutor[T]{name: name, ch: ch, handle: handle}
}

func (c *chanExecutor[T]) Name() string { return c.name }

func (c *chanExecutor[T]) Wake(ctx context.Context) error {
	select {
	case v, ok := <-c.ch:
		if !ok {
			return context.Canceled
		}
		c.pending, c.have = v, true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *chanExecutor[T]) Run(ctx context.Context) {
	if !c.have {
		return
	}
	c.have = false
	c.handle(ctx, c.pending)
}

func (c *chanExecutor[T]) Close() error { return nil }

// lazyExecutor adapts a source that must be subscribed against a live,
// cancellable context (a store.Gateway notification channel, a
// netlinkbridge link/neigh/route subscription) rather than one already open
// at construction time. open is called at most once, on first Wake, mirroring
// orch.Engine.Wake's own lazy-subscribe pattern.
type lazyExecutor[T any] struct {
	name   string
	open   func(context.Context) (<-chan T, error)
	handle func(context.Context, T)

	ch      <-chan T
	pending T
	have    bool
}

// NewLazySubscription registers name/open/handle as a scheduler.Executor
// that subscribes via open on its first Wake (using the scheduler's own
// long-lived ctx, so the subscription survives across Wake calls) and
// dispatches one value per Run the same way NewChanExecutor does.
func NewLazySubscription[T any](name string, open func(context.Context) (<-chan T, error), handle func(context.Context, T)) scheduler.Executor {
	return &lazyExecutor[T]{name: name, open: open, handle: handle}
}

func (l *lazyExecutor[T]) Name() string { return l.name }

func (l *lazyExecutor[T]) Wake(ctx context.Context) error {
	if l.ch == nil {
		ch, err := l.open(ctx)
		if err != nil {
			return err
		}
		l.ch = ch
	}
	select {
	case v, ok := <-l.ch:
		if !ok {
			return context.Canceled
		}
		l.pending, l.have = v, true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lazyExecutor[T]) Run(ctx context.Context) {
	if !l.have {
		return
	}
	l.have = false
	l.handle(ctx, l.pending)
}

func (l *lazyExecutor[T]) Close() error { return nil }

func (d *Daemon) gateways() []*store.Gateway {
	var out []*store.Gateway
	for _, gw := range []*store.Gateway{d.cfgGW, d.stateGW, d.appGW} {
		if gw != nil {
			out = append(out, gw)
		}
	}
	return out
}
