// Command vxlanmgrd owns CFG VXLAN_TUNNEL/VXLAN_TUNNEL_MAP/VXLAN_EVPN_NVO:
// it creates the driver tunnel object backing each configured VTEP and
// binds L2VNIs to VLANs once both sides are state-ok.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/orchcore/internal/daemonboot"
	"github.com/newtron-network/orchcore/pkg/asic"
	"github.com/newtron-network/orchcore/pkg/version"
	"github.com/newtron-network/orchcore/pkg/vxlanmgr"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "vxlanmgrd",
	Short:             "VXLAN tunnel manager daemon",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/orchcore/vxlanmgrd.yaml", "daemon config file")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vxlanmgrd %s (%s)\n", version.Version, version.GitCommit)
		},
	})
}

func run(ctx context.Context) error {
	d, err := daemonboot.Load(configPath)
	if err != nil {
		return err
	}
	d.InitWarmRestart()

	// No physical ASIC binding exists in this pack (see pkg/asic's
	// Adapter doc comment); the virtual-switch backend is the only
	// implementation available to wire against.
	mgr := vxlanmgr.New(d.CfgGateway(), d.StateGateway(), asic.NewVirtualSwitch(0, 0))

	d.Sched.Register(mgr.TunnelEngine())
	d.Sched.Register(mgr.TunnelMapEngine())
	d.Sched.Register(mgr.EVPNNVOEngine())

	return d.Run(ctx, vxlanmgr.TableTunnel, vxlanmgr.TableTunnelMap, vxlanmgr.TableEVPNNVO)
}
