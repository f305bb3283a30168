// Package orchestrator drives a whole import run: resolving which CSV
// files map to which tables, ordering them by FK dependency, holding the
// single transaction the Merge Engine operates inside, and aggregating
// stats (spec.md §4.7).
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pgschema/pgmerge/internal/catalog"
	"github.com/pgschema/pgmerge/internal/colpath"
	"github.com/pgschema/pgmerge/internal/config"
	"github.com/pgschema/pgmerge/internal/depgraph"
	"github.com/pgschema/pgmerge/internal/logger"
	"github.com/pgschema/pgmerge/internal/merge"
	"github.com/pgschema/pgmerge/internal/merrors"
	"github.com/pgschema/pgmerge/internal/util"
	"github.com/pterm/pterm"
)

func quoteIdent(s string) string { return util.QuoteIdentifier(s) }

// FileState is the per-file state machine of spec.md §4.7's last
// paragraph.
type FileState int

const (
	Queued FileState = iota
	Staging
	Loaded
	Translated
	Diffed
	Inserted
	Updated
	Done
	Failed
)

func (s FileState) String() string {
	switch s {
	case Queued:
		return "Queued"
	case Staging:
		return "Staging"
	case Loaded:
		return "Loaded"
	case Translated:
		return "Translated"
	case Diffed:
		return "Diffed"
	case Inserted:
		return "Inserted"
	case Updated:
		return "Updated"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// FileResult is one file's outcome, successful or not.
type FileResult struct {
	File  string
	Table string
	State FileState
	Stats merge.Result
	Err   error
}

// Summary aggregates a full run.
type Summary struct {
	RunID        string
	Files        []FileResult
	TotalSkip    int64
	TotalInsert  int64
	TotalUpdate  int64
	SkippedFiles []string // CSV stems with no matching table, plus tables skipped for schema/config errors
}

// Options configures one Run invocation.
type Options struct {
	Schema             string
	Dir                string
	Tables             []string // explicit table/subset list from the CLI; empty means "every file in Dir"
	IncludeDependents  bool     // --include-dependent-tables/-i
	IgnoreCycles       bool     // --ignore-cycles/-f
	DisableForeignKeys bool     // --disable-foreign-keys/-F
	SingleTable        string   // --single-table
}

// file is one resolved (path, table, effective config) triple to merge.
type file struct {
	path string
	eff  config.EffectiveConfig
}

// Run resolves the file set, computes insertion order, and drives the
// Merge Engine over every file inside one transaction, per spec.md §4.7.
func Run(ctx context.Context, db *sql.DB, inspector catalog.Inspector, cfg config.TableConfigMap, opts Options) (*Summary, error) {
	runID := uuid.NewString()
	log := logger.Get().With("run_id", runID)

	summary := &Summary{RunID: runID}

	files, skipped, err := resolveFiles(ctx, inspector, opts, cfg)
	if err != nil {
		return nil, err
	}
	summary.SkippedFiles = skipped

	tableToFiles := make(map[string][]file, len(files))
	var tables []string
	for _, f := range files {
		if _, seen := tableToFiles[f.eff.Table]; !seen {
			tables = append(tables, f.eff.Table)
		}
		tableToFiles[f.eff.Table] = append(tableToFiles[f.eff.Table], f)
	}
	sort.Strings(tables)

	graph, err := depgraph.Build(ctx, inspector, opts.Schema, tables)
	if err != nil {
		return nil, err
	}

	if depgraph.HasCycleAmong(graph, tables) {
		if opts.DisableForeignKeys {
			log.Warn("self-referencing or cyclic tables found; proceeding because foreign keys are disabled for this run")
		} else if opts.IgnoreCycles {
			log.Warn("self-referencing or cyclic tables found; proceeding because cycles are ignored", "tables", tables)
		} else {
			return nil, &merrors.UnsupportedSchema{Msg: fmt.Sprintf("Self-referencing tables found that could prevent import: %v. Re-run with --ignore-cycles or --disable-foreign-keys.", tables)}
		}
	}

	order := depgraph.InsertionOrder(graph)

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring session connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SET client_encoding = 'UTF8'"); err != nil {
		return nil, fmt.Errorf("forcing UTF8 client encoding: %w", err)
	}

	if opts.DisableForeignKeys {
		if _, err := conn.ExecContext(ctx, "SET session_replication_role = REPLICA"); err != nil {
			return nil, fmt.Errorf("disabling foreign key checks: %w", err)
		}
		defer conn.ExecContext(context.Background(), "SET session_replication_role = DEFAULT")
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	spinner, _ := pterm.DefaultSpinner.WithText(fmt.Sprintf("Importing %d tables...", len(order))).Start()

	// Every file of a table (the table's own CSV and each subset's) is
	// merged at that table's position in insertion order.
	var ordered []file
	for _, table := range order {
		ordered = append(ordered, tableToFiles[table]...)
	}

	for _, f := range ordered {
		table := f.eff.Table

		spinner.UpdateText(fmt.Sprintf("Importing %s...", table))

		result, fr := runFile(ctx, tx, opts.Schema, table, f, inspector, cfg)
		summary.Files = append(summary.Files, fr)
		if fr.Err != nil {
			if isSkippableMergeError(fr.Err) {
				log.Warn("skipping table: unsupported schema or invalid config", "table", table, "error", fr.Err)
				spinner.UpdateText(fmt.Sprintf("Skipping %s: %v", table, fr.Err))
				cleanupStaging(ctx, tx, table)
				summary.SkippedFiles = append(summary.SkippedFiles, table)
				continue
			}
			spinner.Fail(fmt.Sprintf("Failed importing %s: %v", table, fr.Err))
			tx.Rollback()
			return nil, fmt.Errorf("importing %s: %w", table, fr.Err)
		}
		summary.TotalSkip += result.Skip
		summary.TotalInsert += result.Insert
		summary.TotalUpdate += result.Update
	}

	if err := tx.Commit(); err != nil {
		spinner.Fail("Failed to commit import transaction")
		return nil, fmt.Errorf("committing import transaction: %w", err)
	}

	spinner.Success(fmt.Sprintf("Imported %d tables: %d skipped, %d inserted, %d updated",
		len(summary.Files), summary.TotalSkip, summary.TotalInsert, summary.TotalUpdate))

	printSummary(summary)
	return summary, nil
}

// isSkippableMergeError reports whether err is a per-table schema or config
// problem (spec.md §7: UnsupportedSchema, InputParameters) rather than a
// genuine SQL-level failure. Both precondition checks and translate's
// foreign-key resolution raise these before any statement that would leave
// the shared transaction aborted, so the run can skip the table and move on
// instead of rolling back everything merged so far.
func isSkippableMergeError(err error) bool {
	var unsupported *merrors.UnsupportedSchema
	var inputParams *merrors.InputParameters
	return errors.As(err, &unsupported) || errors.As(err, &inputParams)
}

// cleanupStaging best-effort drops the temp tables a skipped file may have
// left behind: translate's foreign-key check can fail after CREATE TEMP
// TABLE/COPY already ran against the raw staging table.
func cleanupStaging(ctx context.Context, tx *sql.Tx, table string) {
	stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s, %s",
		quoteIdent(merge.CopyRawName(table)), quoteIdent(merge.FinalName(table)))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		logger.Get().Warn("failed to clean up staging tables after skip", "table", table, "error", err)
	}
}

func runFile(ctx context.Context, tx *sql.Tx, schema, table string, f file, inspector catalog.Inspector, cfg config.TableConfigMap) (merge.Result, FileResult) {
	fr := FileResult{File: f.path, Table: table, State: Staging}

	cols, err := inspector.Columns(ctx, schema, table)
	if err != nil {
		fr.State, fr.Err = Failed, err
		return merge.Result{}, fr
	}

	identifiers, err := identifierColumns(ctx, inspector, schema, table, f.eff)
	if err != nil {
		fr.State, fr.Err = Failed, err
		return merge.Result{}, fr
	}

	fks, err := inspector.ForeignKeys(ctx, schema, table)
	if err != nil {
		fr.State, fr.Err = Failed, err
		return merge.Result{}, fr
	}

	lookup := altKeyLookup(cfg)

	in := merge.Input{
		Schema:       schema,
		Table:        table,
		CSVPath:      f.path,
		Effective:    f.eff,
		Columns:      cols,
		Identifiers:  identifiers,
		ForeignKeys:  fks,
		LookupAltKey: lookup,
	}

	result, err := merge.File(ctx, tx, in)
	if err != nil {
		fr.State, fr.Err = Failed, err
		return result, fr
	}

	fr.State = Done
	fr.Stats = result
	return result, fr
}

func identifierColumns(ctx context.Context, inspector catalog.Inspector, schema, table string, eff config.EffectiveConfig) ([]string, error) {
	if len(eff.AlternateKey) > 0 {
		return eff.AlternateKey, nil
	}
	pk, err := inspector.PrimaryKey(ctx, schema, table)
	if err != nil {
		return nil, &merrors.CatalogError{Msg: fmt.Sprintf("loading primary key for %s", table), Err: err}
	}
	return pk, nil
}

func altKeyLookup(cfg config.TableConfigMap) colpath.AlternateKeyLookup {
	return func(table string) ([]string, bool) {
		tc, ok := cfg[table]
		if !ok || len(tc.AlternateKey) == 0 {
			return nil, false
		}
		return tc.AlternateKey, true
	}
}

// resolveFiles determines the (path, table, effective config) set to
// process: either every *.csv in Dir whose stem matches a table or
// subset name, or the CLI's explicit table list (optionally expanded to
// dependents), each matched against a CSV file in Dir.
func resolveFiles(ctx context.Context, inspector catalog.Inspector, opts Options, cfg config.TableConfigMap) ([]file, []string, error) {
	expanded := config.ExpandSubsets(cfg)

	entries, err := os.ReadDir(opts.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading import directory %s: %w", opts.Dir, err)
	}
	csvStems := map[string]string{} // stem -> path
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".csv")
		csvStems[stem] = filepath.Join(opts.Dir, e.Name())
	}

	requested := opts.Tables
	if opts.SingleTable != "" {
		requested = []string{opts.SingleTable}
	}

	if len(requested) == 0 {
		tables, err := inspector.ListTables(ctx, opts.Schema)
		if err != nil {
			return nil, nil, &merrors.CatalogError{Msg: "listing tables", Err: err}
		}
		tableSet := map[string]bool{}
		for _, t := range tables {
			tableSet[t] = true
		}

		var files []file
		var skipped []string
		for stem, path := range csvStems {
			eff, ok := expanded[stem]
			if !ok {
				if !tableSet[stem] {
					skipped = append(skipped, stem)
					continue
				}
				eff = config.ForTable(stem)
			}
			files = append(files, file{path: path, eff: eff})
		}
		sort.Slice(files, func(i, j int) bool { return files[i].eff.FileStem < files[j].eff.FileStem })
		sort.Strings(skipped)
		return files, skipped, nil
	}

	tableSet := map[string]bool{}
	for _, t := range requested {
		tableSet[t] = true
	}

	if opts.IncludeDependents {
		allTables, err := inspector.ListTables(ctx, opts.Schema)
		if err != nil {
			return nil, nil, &merrors.CatalogError{Msg: "listing tables", Err: err}
		}
		graph, err := depgraph.Build(ctx, inspector, opts.Schema, allTables)
		if err != nil {
			return nil, nil, err
		}
		for _, t := range depgraph.AllDependents(graph, requested) {
			tableSet[t] = true
		}
	}

	var stems []string
	for t := range tableSet {
		stems = append(stems, t)
	}
	sort.Strings(stems)

	var files []file
	var missing []string
	for _, stem := range stems {
		path, ok := csvStems[stem]
		if !ok {
			missing = append(missing, stem)
			continue
		}
		eff, ok := expanded[stem]
		if !ok {
			eff = config.ForTable(stem)
		}
		files = append(files, file{path: path, eff: eff})
	}
	if len(missing) > 0 {
		return nil, nil, &merrors.FileMissing{Tables: missing}
	}

	return files, nil, nil
}

func printSummary(s *Summary) {
	tableData := pterm.TableData{{"Table", "State", "Skip", "Insert", "Update"}}
	for _, fr := range s.Files {
		tableData = append(tableData, []string{
			fr.Table, fr.State.String(),
			fmt.Sprint(fr.Stats.Skip), fmt.Sprint(fr.Stats.Insert), fmt.Sprint(fr.Stats.Update),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()

	if len(s.SkippedFiles) > 0 {
		pterm.Warning.Println("Skipped (no matching table, or unsupported schema/config): " + strings.Join(s.SkippedFiles, ", "))
	}
}
