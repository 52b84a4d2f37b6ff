// Command fgnhgorchd is the Fine-Grained Next-Hop-Group engine daemon:
// it owns CFG FG_NHG/FG_NHG_PREFIX/FG_NHG_MEMBER, programming the driver's
// hash-bucket tables and reacting to kernel link/neighbor events that
// change membership liveness.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/orchcore/internal/daemonboot"
	"github.com/newtron-network/orchcore/pkg/asic"
	"github.com/newtron-network/orchcore/pkg/fgnhgorch"
	"github.com/newtron-network/orchcore/pkg/netlinkbridge"
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
	Use:               "fgnhgorchd",
	Short:             "Fine-grained next-hop-group engine daemon",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/orchcore/fgnhgorchd.yaml", "daemon config file")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fgnhgorchd %s (%s)\n", version.Version, version.GitCommit)
		},
	})
}

func run(ctx context.Context) error {
	d, err := daemonboot.Load(configPath)
	if err != nil {
		return err
	}
	warm := d.InitWarmRestart()

	a := asic.NewVirtualSwitch(0, 0)
	o := fgnhgorch.New(d.CfgGateway(), d.StateGateway(), a, warm)

	d.Sched.Register(o.GroupEngine())
	d.Sched.Register(o.PrefixEngine())
	d.Sched.Register(o.MemberEngine())

	bridge := netlinkbridge.New()
	d.Sched.Register(daemonboot.NewLazySubscription(
		"fgnhgorch.NEIGH",
		bridge.SubscribeNeighbors,
		func(ctx context.Context, ev netlinkbridge.NeighEvent) {
			if ev.Resolved {
				o.OnNeighborResolve(ev.IP)
			} else {
				o.OnNeighborUnresolve(ev.IP)
			}
		},
	))
	d.Sched.Register(daemonboot.NewLazySubscription(
		"fgnhgorch.LINK",
		bridge.SubscribeLinks,
		func(ctx context.Context, ev netlinkbridge.LinkEvent) {
			o.OnLinkOperChange(ev.Name, ev.OperState == "up")
		},
	))

	return d.Run(ctx, fgnhgorch.TableFgNhg, fgnhgorch.TableFgNhgPrefix, fgnhgorch.TableFgNhgMember)
}
