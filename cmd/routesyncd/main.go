// Command routesyncd is the route-sync / FPM listener daemon: it merges
// kernel route events with the routing daemon's FPM stream into the APP
// store's route tables. Its unit of work is a merged event stream rather
// than a store subscription, so unlike the other cmd/*mgrd binaries it
// drives routesync.Syncer.Run directly instead of registering orch.Engines
// with a scheduler.Scheduler.
package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/orchcore/internal/daemonboot"
	"github.com/newtron-network/orchcore/pkg/netlinkbridge"
	"github.com/newtron-network/orchcore/pkg/routesync"
	"github.com/newtron-network/orchcore/pkg/util"
	"github.com/newtron-network/orchcore/pkg/version"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "routesyncd",
	Short:             "Route sync / FPM listener daemon",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/orchcore/routesyncd.yaml", "daemon config file")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("routesyncd %s (%s)\n", version.Version, version.GitCommit)
		},
	})
}

func run(parent context.Context) error {
	d, err := daemonboot.Load(configPath)
	if err != nil {
		return err
	}
	warm := d.InitWarmRestart()

	ctx, stop, err := d.Connect(parent)
	if err != nil {
		return err
	}
	defer stop()

	bridge := netlinkbridge.New()
	kernelRoutes, err := bridge.SubscribeRoutes(ctx)
	if err != nil {
		return fmt.Errorf("routesyncd: subscribe kernel routes: %w", err)
	}

	conn, err := net.Dial("unix", d.Config.Fpm.SocketPath)
	if err != nil {
		return fmt.Errorf("routesyncd: dial fpm socket %s: %w", d.Config.Fpm.SocketPath, err)
	}
	defer conn.Close()

	writer := netlinkbridge.NewFpmWriter(conn)
	syncer := routesync.New(d.AppGateway(), warm, writer)

	if err := syncer.Start(ctx); err != nil {
		return fmt.Errorf("routesyncd: warm-restart start: %w", err)
	}

	fpmFrames := readFpmFrames(ctx, netlinkbridge.NewFpmReader(conn))

	util.Logger.WithField("daemon", d.Config.Daemon).Info("routesyncd: merging kernel and fpm route streams")
	return syncer.Run(ctx, kernelRoutes, fpmFrames)
}

// readFpmFrames drains reader on its own goroutine and forwards frames to
// the returned channel, closing it once ctx is cancelled or the connection
// errors (most commonly io.EOF when the routing daemon restarts).
func readFpmFrames(ctx context.Context, reader *netlinkbridge.FpmReader) <-chan netlinkbridge.FpmFrame {
	out := make(chan netlinkbridge.FpmFrame)
	go func() {
		defer close(out)
		for {
			frame, err := reader.ReadFrame()
			if err != nil {
				if ctx.Err() == nil {
					util.Logger.WithField("error", err).Warn("routesyncd: fpm connection closed")
				}
				return
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
