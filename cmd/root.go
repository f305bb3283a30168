package cmd

import (
	"fmt"
	"os"

	"github.com/pgschema/pgmerge/internal/logger"
	"github.com/pgschema/pgmerge/internal/version"
	"github.com/spf13/cobra"
)

var Debug bool

var RootCmd = &cobra.Command{
	Use:   "pgmerge",
	Short: "Export and merge PostgreSQL table data as CSV",
	Long: fmt.Sprintf(`pgmerge exports PostgreSQL tables to CSV and merges CSV data back into
tables as an idempotent upsert: rows missing from the destination are
inserted, rows that differ are updated, and rows that match exactly are
left alone.

Version: %s %s

Commands:
  export   Write one CSV per table (or subset) into a directory
  import   Merge CSV files from a directory into matching tables
  inspect  Read-only schema queries: tables, insertion order, cycles

Use "pgmerge [command] --help" for more information about a command.`,
		version.Version(), version.Platform()),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := logger.Init(Debug); err != nil {
			fmt.Fprintln(os.Stderr, "warning: failed to initialize log file:", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&Debug, "verbose", "v", false, "Enable verbose/debug logging")
	RootCmd.AddCommand(ExportCmd)
	RootCmd.AddCommand(ImportCmd)
	RootCmd.AddCommand(InspectCmd)
	RootCmd.AddCommand(VersionCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
