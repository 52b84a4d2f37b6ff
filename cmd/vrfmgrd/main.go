// Command vrfmgrd owns CFG VRF: creating/removing the kernel VRF device
// backing each configured VRF and publishing STATE VRF_TABLE, the
// precondition intfmgr's VRF-binding path waits on.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/orchcore/internal/daemonboot"
	"github.com/newtron-network/orchcore/pkg/kernel"
	"github.com/newtron-network/orchcore/pkg/version"
	"github.com/newtron-network/orchcore/pkg/vrfmgr"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "vrfmgrd",
	Short:             "VRF manager daemon",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/orchcore/vrfmgrd.yaml", "daemon config file")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vrfmgrd %s (%s)\n", version.Version, version.GitCommit)
		},
	})
}

func run(ctx context.Context) error {
	d, err := daemonboot.Load(configPath)
	if err != nil {
		return err
	}
	d.InitWarmRestart()

	mgr := vrfmgr.New(d.CfgGateway(), d.StateGateway(), kernel.New())
	d.Sched.Register(mgr.Engine())

	return d.Run(ctx, vrfmgr.Table)
}
