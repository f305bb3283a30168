package cmd

import (
	"context"
	"fmt"

	"github.com/pgschema/pgmerge/internal/catalog"
	"github.com/pgschema/pgmerge/internal/config"
	"github.com/pgschema/pgmerge/internal/depgraph"
	"github.com/pgschema/pgmerge/internal/export"
	"github.com/pgschema/pgmerge/internal/logger"
	"github.com/pgschema/pgmerge/internal/merrors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var exportFlags connectFlags

var ExportCmd = &cobra.Command{
	Use:   "export <directory> [tables...]",
	Short: "Write one CSV per table into a directory",
	Long: `Export writes one CSV file per selected table (and per configured
subset) into the given directory, using COPY ... TO STDOUT so large
tables stream directly to disk.`,
	Args: requireArgs(cobra.MinimumNArgs(1)),
	RunE: runExport,
}

func init() {
	registerConnectFlags(ExportCmd, &exportFlags)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	dir, tables := args[0], args[1:]

	db, err := exportFlags.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	cfg, err := loadConfig(exportFlags.configPath)
	if err != nil {
		return err
	}

	inspector := catalog.NewInspector(db)
	if err := config.Validate(ctx, inspector, exportFlags.schema, cfg); err != nil {
		return err
	}

	selected, err := resolveExportTables(ctx, inspector, exportFlags.schema, tables, exportFlags.includeDeps)
	if err != nil {
		return err
	}

	graph, err := depgraph.Build(ctx, inspector, exportFlags.schema, selected)
	if err != nil {
		return err
	}
	if depgraph.HasCycleAmong(graph, selected) {
		pterm.Warning.Printfln("Self-referencing tables found that could prevent import: %v", selected)
	}

	expanded := config.ExpandSubsets(cfg)
	altKeyLookup := func(table string) ([]string, bool) {
		tc, ok := cfg[table]
		if !ok || len(tc.AlternateKey) == 0 {
			return nil, false
		}
		return tc.AlternateKey, true
	}

	var files []config.EffectiveConfig
	for _, table := range selected {
		files = append(files, effectiveFilesForTable(expanded, table)...)
	}

	spinner, _ := pterm.DefaultSpinner.WithText(fmt.Sprintf("Exporting %d file(s)...", len(files))).Start()

	var total int64
	for _, eff := range files {
		spinner.UpdateText(fmt.Sprintf("Exporting %s...", eff.FileStem))

		cols, err := inspector.Columns(ctx, exportFlags.schema, eff.Table)
		if err != nil {
			spinner.Fail(err.Error())
			return err
		}
		identifiers, err := identifierColumnsFor(ctx, inspector, exportFlags.schema, eff)
		if err != nil {
			spinner.Fail(err.Error())
			return err
		}
		fks, err := inspector.ForeignKeys(ctx, exportFlags.schema, eff.Table)
		if err != nil {
			spinner.Fail(err.Error())
			return err
		}

		plan, err := export.BuildPlan(exportFlags.schema, eff.Table, eff, cols, identifiers, fks, altKeyLookup)
		if err != nil {
			spinner.Fail(err.Error())
			return err
		}

		rows, err := export.Run(ctx, db, dir, plan)
		if err != nil {
			spinner.Fail(fmt.Sprintf("failed exporting %s: %v", eff.FileStem, err))
			return err
		}
		total += rows
		logger.Get().Info("exported table", "file", eff.FileStem, "rows", rows)
	}

	spinner.Success(fmt.Sprintf("Exported %d file(s), %d row(s) total", len(files), total))
	return nil
}

// resolveExportTables returns the table set to export: every table in the
// schema (sorted) if none was given, the explicit list as given, or, with
// includeDeps, the explicit list expanded to dependents (sorted and
// deduplicated).
func resolveExportTables(ctx context.Context, inspector catalog.Inspector, schema string, requested []string, includeDeps bool) ([]string, error) {
	if len(requested) == 0 {
		all, err := inspector.ListTables(ctx, schema)
		if err != nil {
			return nil, err
		}
		return all, nil
	}

	if !includeDeps {
		return requested, nil
	}

	all, err := inspector.ListTables(ctx, schema)
	if err != nil {
		return nil, err
	}
	graph, err := depgraph.Build(ctx, inspector, schema, all)
	if err != nil {
		return nil, err
	}
	return depgraph.AllDependents(graph, requested), nil
}

// effectiveFilesForTable returns every CSV file a table maps to: itself,
// plus one per configured subset.
func effectiveFilesForTable(expanded map[string]config.EffectiveConfig, table string) []config.EffectiveConfig {
	var out []config.EffectiveConfig
	if eff, ok := expanded[table]; ok {
		out = append(out, eff)
	} else {
		out = append(out, config.ForTable(table))
	}
	for name, eff := range expanded {
		if eff.Table == table && name != table {
			out = append(out, eff)
		}
	}
	return out
}

func identifierColumnsFor(ctx context.Context, inspector catalog.Inspector, schema string, eff config.EffectiveConfig) ([]string, error) {
	if len(eff.AlternateKey) > 0 {
		return eff.AlternateKey, nil
	}
	pk, err := inspector.PrimaryKey(ctx, schema, eff.Table)
	if err != nil {
		return nil, &merrors.CatalogError{Msg: fmt.Sprintf("loading primary key for %s", eff.Table), Err: err}
	}
	return pk, nil
}

func loadConfig(path string) (config.TableConfigMap, error) {
	if path == "" {
		return config.TableConfigMap{}, nil
	}
	return config.Load(path)
}
