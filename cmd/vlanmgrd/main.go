// Command vlanmgrd is the VLAN manager daemon: it owns CFG VLAN/
// VLAN_MEMBER, mutating kernel bridge-vlan state and publishing STATE
// VLAN_TABLE for other managers' preconditions.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/orchcore/internal/daemonboot"
	"github.com/newtron-network/orchcore/pkg/kernel"
	"github.com/newtron-network/orchcore/pkg/store"
	"github.com/newtron-network/orchcore/pkg/version"
	"github.com/newtron-network/orchcore/pkg/vlanmgr"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "vlanmgrd",
	Short:             "VLAN manager daemon",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/orchcore/vlanmgrd.yaml", "daemon config file")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vlanmgrd %s (%s)\n", version.Version, version.GitCommit)
		},
	})
}

func run(ctx context.Context) error {
	d, err := daemonboot.Load(configPath)
	if err != nil {
		return err
	}
	d.InitWarmRestart()

	k := kernel.New()
	mgr := vlanmgr.New(d.CfgGateway(), d.StateGateway(), k, d.Config.Vlan.Bridge)

	d.Sched.Register(mgr.VLANEngine())
	d.Sched.Register(mgr.MemberEngine())
	d.Sched.Register(daemonboot.NewLazySubscription(
		"vlanmgr.VLANSTATE",
		func(ctx context.Context) (<-chan store.Notification, error) {
			return d.StateGateway().ConsumeNotification(ctx, "VLANSTATE")
		},
		func(ctx context.Context, n store.Notification) {
			mgr.OnAdminStatusNotification(ctx, n.Data, n.Op)
		},
	))

	return d.Run(ctx, vlanmgr.TableVLAN, vlanmgr.TableVLANMember)
}
