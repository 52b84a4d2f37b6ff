// Command nhgorchd is the Next-Hop Group orchestrator daemon: it turns
// APP NEXTHOP_GROUP_TABLE rows into driver next-hop-group objects, promoting
// to a temporary single-member alias under capacity pressure, and reacts to
// kernel neighbor resolve/unresolve events from the Netlink Bridge.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/orchcore/internal/daemonboot"
	"github.com/newtron-network/orchcore/pkg/asic"
	"github.com/newtron-network/orchcore/pkg/model"
	"github.com/newtron-network/orchcore/pkg/netlinkbridge"
	"github.com/newtron-network/orchcore/pkg/nhgorch"
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
	Use:               "nhgorchd",
	Short:             "Next-hop-group orchestrator daemon",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/orchcore/nhgorchd.yaml", "daemon config file")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nhgorchd %s (%s)\n", version.Version, version.GitCommit)
		},
	})
}

func run(ctx context.Context) error {
	d, err := daemonboot.Load(configPath)
	if err != nil {
		return err
	}
	d.InitWarmRestart()

	a := asic.NewVirtualSwitch(d.Config.Nhg.MaxECMPGroupSize, d.Config.Nhg.MaxECMPGroups)
	o := nhgorch.New(d.AppGateway(), a, 1)
	d.Sched.Register(o.Engine())

	bridge := netlinkbridge.New()
	d.Sched.Register(daemonboot.NewLazySubscription(
		"nhgorch.NEIGH",
		bridge.SubscribeNeighbors,
		func(ctx context.Context, ev netlinkbridge.NeighEvent) {
			nh, err := model.ParseNextHopKey(ev.IP + "@" + ev.LinkName)
			if err != nil {
				util.Logger.WithField("ip", ev.IP).WithField("error", err).
					Debug("nhgorchd: dropping undecodable neighbor event")
				return
			}
			if ev.Resolved {
				if err := o.ValidateNextHop(nh); err != nil {
					util.Logger.WithField("nh", nh.String()).WithField("error", err).
						Warn("nhgorchd: validate next-hop failed")
				}
				return
			}
			if err := o.InvalidateNextHop(nh); err != nil {
				util.Logger.WithField("nh", nh.String()).WithField("error", err).
					Warn("nhgorchd: invalidate next-hop failed")
			}
		},
	))

	return d.Run(ctx, nhgorch.Table)
}
