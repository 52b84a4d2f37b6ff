// Command orchctl is a read-only inspector over the CONFIG_DB/STATE_DB/
// APPL_DB store, scaled down from a noun-verb "<device> <resource> show"
// pattern to a single read-only verb since every row this repo owns
// already has a write path through its own daemon.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/orchcore/pkg/orchconfig"
	"github.com/newtron-network/orchcore/pkg/store"
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
	Use:               "orchctl",
	Short:             "Read-only inspector for the orchestration store",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/orchcore/orchctl.yaml", "daemon config file (for store address)")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("orchctl %s (%s)\n", version.Version, version.GitCommit)
		},
	})
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(interactiveCmd)
}

var showCmd = &cobra.Command{
	Use:   "show <db> <table> [key]",
	Short: "Dump a table, or a single row, from cfg/state/app",
	Long: `db is one of cfg, state, app.

  orchctl show cfg VLAN
  orchctl show state VLAN_TABLE Vlan100`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, close, err := openGateway(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer close()

		table := args[1]
		if len(args) == 3 {
			return showRow(cmd.Context(), gw, table, args[2])
		}
		return showTable(cmd.Context(), gw, table)
	},
}

var interactiveCmd = &cobra.Command{
	Use:     "interactive",
	Short:   "Enter an interactive inspector REPL",
	Aliases: []string{"i"},
	RunE: func(cmd *cobra.Command, args []string) error {
		runInteractive(cmd.Context())
		return nil
	},
}

func openGateway(ctx context.Context, db string) (*store.Gateway, func(), error) {
	cfg, err := orchconfig.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	var ns store.Namespace
	switch strings.ToLower(db) {
	case "cfg", "config":
		ns = store.Config
	case "state":
		ns = store.State
	case "app", "appl":
		ns = store.App
	default:
		return nil, nil, fmt.Errorf("orchctl: unknown db %q (want cfg, state, or app)", db)
	}

	gw := store.NewGateway(cfg.Store.Address, ns)
	if err := gw.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("orchctl: connect: %w", err)
	}
	return gw, func() { _ = gw.Close() }, nil
}

func showTable(ctx context.Context, gw *store.Gateway, table string) error {
	keys, err := gw.Keys(ctx, table)
	if err != nil {
		return fmt.Errorf("orchctl: listing %s: %w", table, err)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		fmt.Println("(no rows)")
		return nil
	}

	cols := collectColumns(ctx, gw, table, keys)
	t := newResultTable(append([]string{"KEY"}, cols...)...)
	for _, k := range keys {
		fields, err := gw.Get(ctx, table, k)
		if err != nil {
			continue
		}
		row := make([]string, len(cols)+1)
		row[0] = k
		for i, c := range cols {
			row[i+1] = fields[c]
		}
		t.addRow(row...)
	}
	t.print()
	return nil
}

func showRow(ctx context.Context, gw *store.Gateway, table, key string) error {
	fields, err := gw.Get(ctx, table, key)
	if err != nil {
		return fmt.Errorf("orchctl: getting %s[%s]: %w", table, key, err)
	}
	if fields == nil {
		fmt.Println("(not found)")
		return nil
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	t := newResultTable("FIELD", "VALUE")
	for _, name := range names {
		t.addRow(name, fields[name])
	}
	t.print()
	return nil
}

// collectColumns unions the field names present across a sample of a
// table's rows, so showTable's column set reflects whatever that table
// actually carries instead of a hardcoded schema per table.
func collectColumns(ctx context.Context, gw *store.Gateway, table string, keys []string) []string {
	seen := map[string]bool{}
	var cols []string
	for _, k := range keys {
		fields, err := gw.Get(ctx, table, k)
		if err != nil {
			continue
		}
		names := make([]string, 0, len(fields))
		for name := range fields {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		sort.Strings(names)
		cols = append(cols, names...)
	}
	return cols
}

func runInteractive(ctx context.Context) {
	reader := bufio.NewReader(os.Stdin)
	var gw *store.Gateway
	var closeGW func()
	defer func() {
		if closeGW != nil {
			closeGW()
		}
	}()

	fmt.Println("orchctl interactive inspector. Type 'help' for commands, 'quit' to exit.")
	for {
		fmt.Print("orchctl> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit", "q":
			return
		case "help":
			printInteractiveHelp()
		case "use":
			if len(fields) != 2 {
				fmt.Println("usage: use <cfg|state|app>")
				continue
			}
			if closeGW != nil {
				closeGW()
			}
			gw, closeGW, err = openGateway(ctx, fields[1])
			if err != nil {
				fmt.Println(err)
				gw, closeGW = nil, nil
				continue
			}
			fmt.Printf("using %s\n", fields[1])
		case "keys":
			if gw == nil || len(fields) != 2 {
				fmt.Println("usage: use <db> first, then: keys <table>")
				continue
			}
			if err := showTable(ctx, gw, fields[1]); err != nil {
				fmt.Println(err)
			}
		case "get":
			if gw == nil || len(fields) != 3 {
				fmt.Println("usage: use <db> first, then: get <table> <key>")
				continue
			}
			if err := showRow(ctx, gw, fields[1], fields[2]); err != nil {
				fmt.Println(err)
			}
		default:
			fmt.Println("unrecognized command, try 'help'")
		}
	}
}

func printInteractiveHelp() {
	fmt.Println(`commands:
  use <cfg|state|app>       select which store namespace subsequent commands read
  keys <table>              list every row in <table> as a dumped table
  get <table> <key>         dump a single row's fields
  help                      show this message
  quit                      exit`)
}
