package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgschema/pgmerge/internal/catalog"
	"github.com/pgschema/pgmerge/internal/config"
	"github.com/pgschema/pgmerge/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	importFlags        connectFlags
	importIgnoreCycles bool
	importDisableFKs   bool
	importSingleTable  string
)

var ImportCmd = &cobra.Command{
	Use:     "import <directory> [tables...]",
	Aliases: []string{"upsert"},
	Short:   "Merge CSV files from a directory into matching tables",
	Long: `Import merges the CSV files in the given directory into the matching
tables: rows missing from the destination are inserted, rows that
differ are updated, and rows that match exactly are skipped. The whole
run executes inside a single transaction.`,
	Args: requireArgs(cobra.MinimumNArgs(1)),
	RunE: runImport,
}

func init() {
	registerConnectFlags(ImportCmd, &importFlags)
	ImportCmd.Flags().BoolVarP(&importIgnoreCycles, "ignore-cycles", "f", false, "Proceed even if the selected tables contain a dependency cycle")
	ImportCmd.Flags().BoolVarP(&importDisableFKs, "disable-foreign-keys", "F", false, "Disable foreign key checks for the duration of the import (requires superuser)")
	ImportCmd.Flags().StringVar(&importSingleTable, "single-table", "", "Import only this one table, ignoring the positional table list")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	dir, tables := args[0], args[1:]

	db, err := importFlags.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	cfg, err := loadConfig(importFlags.configPath)
	if err != nil {
		return err
	}

	inspector := catalog.NewInspector(db)
	if err := config.Validate(ctx, inspector, importFlags.schema, cfg); err != nil {
		return err
	}

	opts := orchestrator.Options{
		Schema:             importFlags.schema,
		Dir:                dir,
		Tables:             tables,
		IncludeDependents:  importFlags.includeDeps,
		IgnoreCycles:       importIgnoreCycles,
		DisableForeignKeys: importDisableFKs,
		SingleTable:        importSingleTable,
	}

	summary, err := orchestrator.Run(ctx, db, inspector, cfg, opts)
	if err != nil {
		return err
	}

	if len(tables) > 0 && importFlags.includeDeps {
		var all []string
		for _, fr := range summary.Files {
			all = append(all, fr.Table)
		}
		fmt.Printf("Discovered dependency set: %s\n", strings.Join(all, " "))
	}

	return nil
}
