// Command teammgrd is the LAG manager daemon: it owns CFG PORTCHANNEL/
// PORTCHANNEL_MEMBER, creating teamd-backed aggregations through pkg/kernel
// and re-enslaving members whose port comes back state-ok.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/orchcore/internal/daemonboot"
	"github.com/newtron-network/orchcore/pkg/kernel"
	"github.com/newtron-network/orchcore/pkg/store"
	"github.com/newtron-network/orchcore/pkg/teammgr"
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
	Use:               "teammgrd",
	Short:             "LAG (port-channel) manager daemon",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/orchcore/teammgrd.yaml", "daemon config file")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("teammgrd %s (%s)\n", version.Version, version.GitCommit)
		},
	})
}

func run(ctx context.Context) error {
	d, err := daemonboot.Load(configPath)
	if err != nil {
		return err
	}
	d.InitWarmRestart()

	mgr := teammgr.New(d.CfgGateway(), d.StateGateway(), kernel.New())

	d.Sched.Register(mgr.LAGEngine())
	d.Sched.Register(mgr.MemberEngine())
	d.Sched.Register(daemonboot.NewLazySubscription(
		"teammgr.PORT_TABLE",
		func(ctx context.Context) (<-chan store.Event, error) {
			return d.StateGateway().Subscribe(ctx, teammgr.StatePort)
		},
		func(ctx context.Context, ev store.Event) {
			if ev.Op == store.OpSet {
				mgr.OnPortStateOK(ev.Key)
			}
		},
	))

	return d.Run(ctx, teammgr.Table, teammgr.MemberTable)
}
