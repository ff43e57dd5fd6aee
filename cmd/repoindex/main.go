package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/repoindex/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	dbPath     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "repoindex",
		Short:         "Incremental exports/imports indexer for git repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", os.Getenv("REPOINDEX_CONFIG"), "path to a TOML config file")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "database path (overrides config)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newIndexCmd(flags))
	root.AddCommand(newStatusCmd(flags))
	root.AddCommand(newDeleteCmd(flags))
	root.AddCommand(newJobCmd(flags))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "repoindex\n")
			fmt.Fprintf(out, "Version: %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}
