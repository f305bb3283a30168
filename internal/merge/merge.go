// Package merge implements the upsert algorithm (spec.md §4.6): stage a
// CSV file into a temp table, translate it into the destination's real
// column shape, and diff/insert/update against the destination, all
// within the caller's transaction.
package merge

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pgschema/pgmerge/internal/catalog"
	"github.com/pgschema/pgmerge/internal/colpath"
	"github.com/pgschema/pgmerge/internal/config"
	"github.com/pgschema/pgmerge/internal/export"
	"github.com/pgschema/pgmerge/internal/merrors"
	"github.com/pgschema/pgmerge/internal/util"
)

func quoteIdent(s string) string { return util.QuoteIdentifier(s) }

// Result is the per-file outcome of one merge, spec.md §4.6's invariant
// being Skip + Insert + Update == Total.
type Result struct {
	Table  string
	Total  int64
	Skip   int64
	Insert int64
	Update int64
}

// Input bundles everything File needs about one table to merge a CSV
// file into it.
type Input struct {
	Schema      string
	Table       string
	CSVPath     string
	Effective   config.EffectiveConfig
	Columns     []catalog.Column
	Identifiers  []string // primary key, or alternate_key if configured
	ForeignKeys  []catalog.ForeignKey
	LookupAltKey colpath.AlternateKeyLookup
}

// CopyRawName and FinalName name the per-table temp tables File stages
// through. Exported so the orchestrator can clean them up after a skipped
// file without guessing at the naming convention.
func CopyRawName(table string) string { return "_tmp_copy_" + table }
func FinalName(table string) string   { return "_tmp_final_" + table }

// File runs the full nine-step algorithm for one CSV file inside tx.
func File(ctx context.Context, tx *sql.Tx, in Input) (Result, error) {
	result := Result{Table: in.Table}

	if err := checkPreconditions(in); err != nil {
		return result, err
	}

	plan, err := export.BuildPlan(in.Schema, in.Table, in.Effective, in.Columns, in.Identifiers, in.ForeignKeys, in.LookupAltKey)
	if err != nil {
		return result, err
	}

	rawTable := CopyRawName(in.Table)
	finalTable := FinalName(in.Table)

	// 1. Stage raw: CREATE TEMP TABLE shaped like the CSV, via the export
	// projection's own SELECT so that foreign columns inherit the
	// referent's alternate-key types rather than the local FK's.
	createRaw := fmt.Sprintf("CREATE TEMP TABLE %s AS %s LIMIT 0", quoteIdent(rawTable), plan.SelectSQL())
	if _, err := tx.ExecContext(ctx, createRaw); err != nil {
		return result, fmt.Errorf("staging raw table for %s: %w", in.Table, err)
	}

	// 2. Load via COPY FROM STDIN.
	total, err := loadCSV(ctx, tx, in.Table, rawTable, in.CSVPath)
	if err != nil {
		return result, err
	}
	result.Total = total

	// 3. Analyze.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ANALYZE %s", quoteIdent(rawTable))); err != nil {
		return result, fmt.Errorf("analyzing %s: %w", rawTable, err)
	}

	// 4. Translate into staging_final, shaped like the destination.
	if err := translate(ctx, tx, in, plan, rawTable, finalTable); err != nil {
		return result, err
	}

	// 5. Diff out rows identical to dest.
	skip, err := diffOutIdentical(ctx, tx, in, finalTable)
	if err != nil {
		return result, err
	}
	result.Skip = skip

	// 6. Insert missing, preserving file order for self-references.
	inserted, err := insertMissing(ctx, tx, in, finalTable)
	if err != nil {
		return result, err
	}
	result.Insert = inserted

	// 7. Diff out the rows just inserted (now identical to dest).
	if _, err := diffOutIdentical(ctx, tx, in, finalTable); err != nil {
		return result, err
	}

	// 8. Update whatever remains.
	updated, err := updateRemaining(ctx, tx, in, finalTable)
	if err != nil {
		return result, err
	}
	result.Update = updated

	// 9. Clean up and refresh destination statistics.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s, %s", quoteIdent(rawTable), quoteIdent(finalTable))); err != nil {
		return result, fmt.Errorf("dropping staging tables for %s: %w", in.Table, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ANALYZE %s.%s", quoteIdent(in.Schema), quoteIdent(in.Table))); err != nil {
		return result, fmt.Errorf("analyzing %s: %w", in.Table, err)
	}

	return result, nil
}

func checkPreconditions(in Input) error {
	if len(in.Identifiers) == 0 {
		return &merrors.UnsupportedSchema{Table: in.Table, Msg: "Table has no primary key or unique columns!"}
	}

	actual := map[string]bool{}
	for _, c := range in.Columns {
		actual[c.Name] = true
	}
	configured := in.Effective.Columns
	if len(configured) > 0 {
		var missing []string
		for _, c := range configured {
			if !actual[c] {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 {
			return &merrors.InputParameters{Table: in.Table, Msg: fmt.Sprintf("Columns provided do not exist: %v", missing)}
		}

		configuredSet := map[string]bool{}
		for _, c := range configured {
			configuredSet[c] = true
		}
		var missingIDs []string
		for _, id := range in.Identifiers {
			if !configuredSet[id] {
				missingIDs = append(missingIDs, id)
			}
		}
		if len(missingIDs) > 0 {
			return &merrors.InputParameters{Table: in.Table, Msg: fmt.Sprintf("Columns provided do not include required id columns: %v", missingIDs)}
		}
	}
	return nil
}

func loadCSV(ctx context.Context, tx *sql.Tx, table, rawTable, csvPath string) (int64, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return 0, &merrors.FileMissing{Tables: []string{table}}
	}
	defer f.Close()

	conn, err := tx.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring connection for COPY: %w", err)
	}
	defer conn.Close()

	var rows int64
	err = conn.Raw(func(driverConn interface{}) error {
		stdConn, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T", driverConn)
		}
		pgConn := stdConn.Conn().PgConn()
		copySQL := fmt.Sprintf("COPY %s FROM STDIN WITH (FORMAT CSV, HEADER, ENCODING 'UTF8')", quoteIdent(rawTable))
		tag, copyErr := pgConn.CopyFrom(ctx, f, copySQL)
		if copyErr != nil {
			return fmt.Errorf("COPY FROM STDIN into %s: %w", rawTable, copyErr)
		}
		rows = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rows, nil
}

// translate builds staging_final: a SELECT over staging_raw that joins
// each referenced table on the alternate-key columns (NULL-safe) and
// projects the referent's real FK-target columns back in as the
// destination's local FK columns, alongside the passthrough local
// columns. An index on the identifier columns is built afterward.
func translate(ctx context.Context, tx *sql.Tx, in Input, plan *export.Plan, rawTable, finalTable string) error {
	joins, err := colpath.ImportRewrite(in.Table, plan.Columns)
	if err != nil {
		return err
	}

	fkByName := map[string]catalog.ForeignKey{}
	for _, fk := range in.ForeignKeys {
		fkByName[fk.Name] = fk
	}

	var selectCols []string
	for _, pc := range plan.Columns {
		if pc.IsLocal() {
			selectCols = append(selectCols, fmt.Sprintf("s.%s AS %s", quoteIdent(pc.Header()), quoteIdent(pc.Column)))
		}
	}

	var joinClauses []string
	for _, j := range joins {
		fk, ok := fkByName[j.FK.Name]
		if !ok {
			return &merrors.InputParameters{Table: in.Table, Msg: fmt.Sprintf("unknown foreign key in translate: %s", j.FK.Name)}
		}
		alias := "r_" + fk.Name
		var conds []string
		for i, akCol := range j.AlternateKey {
			stagingCol := j.StagingAliasCols[i]
			conds = append(conds, fmt.Sprintf(`((s.%s = %s.%s) OR (s.%s IS NULL AND %s.%s IS NULL))`,
				quoteIdent(stagingCol), alias, quoteIdent(akCol), quoteIdent(stagingCol), alias, quoteIdent(akCol)))
		}
		joinClauses = append(joinClauses, fmt.Sprintf("LEFT JOIN %s.%s %s ON %s",
			quoteIdent(fk.ReferredSchema), quoteIdent(fk.ReferredTable), alias, strings.Join(conds, " AND ")))

		for i, localCol := range fk.LocalColumns {
			referredCol := fk.ReferredColumns[i]
			selectCols = append(selectCols, fmt.Sprintf("%s.%s AS %s", alias, quoteIdent(referredCol), quoteIdent(localCol)))
		}
	}

	createFinal := fmt.Sprintf(
		"CREATE TEMP TABLE %s AS SELECT %s FROM %s s %s",
		quoteIdent(finalTable),
		strings.Join(selectCols, ", "),
		quoteIdent(rawTable),
		strings.Join(joinClauses, " "),
	)
	if _, err := tx.ExecContext(ctx, createFinal); err != nil {
		return fmt.Errorf("translating %s into destination shape: %w", in.Table, err)
	}

	idxCols := make([]string, len(in.Identifiers))
	for i, c := range in.Identifiers {
		idxCols[i] = quoteIdent(c)
	}
	createIdx := fmt.Sprintf("CREATE INDEX ON %s (%s)", quoteIdent(finalTable), strings.Join(idxCols, ", "))
	if _, err := tx.ExecContext(ctx, createIdx); err != nil {
		return fmt.Errorf("indexing %s: %w", finalTable, err)
	}
	return nil
}

func nullSafeEquality(leftAlias, rightAlias string, cols []string) string {
	var conds []string
	for _, c := range cols {
		ident := quoteIdent(c)
		conds = append(conds, fmt.Sprintf(`(%s.%s = %s.%s) OR (%s.%s IS NULL AND %s.%s IS NULL)`,
			leftAlias, ident, rightAlias, ident, leftAlias, ident, rightAlias, ident))
	}
	return "(" + strings.Join(conds, ") AND (") + ")"
}

func projectedColumns(plan *export.Plan, fks []catalog.ForeignKey) []string {
	seen := map[string]bool{}
	var cols []string
	fkByName := map[string]catalog.ForeignKey{}
	for _, fk := range fks {
		fkByName[fk.Name] = fk
	}
	for _, pc := range plan.Columns {
		if pc.IsLocal() {
			if !seen[pc.Column] {
				cols = append(cols, pc.Column)
				seen[pc.Column] = true
			}
			continue
		}
		fk := fkByName[pc.Path[0]]
		for _, lc := range fk.LocalColumns {
			if !seen[lc] {
				cols = append(cols, lc)
				seen[lc] = true
			}
		}
	}
	return cols
}

func diffOutIdentical(ctx context.Context, tx *sql.Tx, in Input, finalTable string) (int64, error) {
	plan, err := export.BuildPlan(in.Schema, in.Table, in.Effective, in.Columns, in.Identifiers, in.ForeignKeys, in.LookupAltKey)
	if err != nil {
		return 0, err
	}
	cols := projectedColumns(plan, in.ForeignKeys)

	stmt := fmt.Sprintf(
		"DELETE FROM %s f USING %s.%s d WHERE %s",
		quoteIdent(finalTable), quoteIdent(in.Schema), quoteIdent(in.Table),
		nullSafeEquality("f", "d", cols),
	)
	res, err := tx.ExecContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("diffing out identical rows for %s: %w", in.Table, err)
	}
	return res.RowsAffected()
}

// hasIdentityColumn reports whether any of insertCols names an identity
// column of the destination table.
func hasIdentityColumn(insertCols []string, tableCols []catalog.Column) bool {
	identity := make(map[string]bool, len(tableCols))
	for _, c := range tableCols {
		if c.IsIdentity {
			identity[c.Name] = true
		}
	}
	for _, c := range insertCols {
		if identity[c] {
			return true
		}
	}
	return false
}

func insertMissing(ctx context.Context, tx *sql.Tx, in Input, finalTable string) (int64, error) {
	plan, err := export.BuildPlan(in.Schema, in.Table, in.Effective, in.Columns, in.Identifiers, in.ForeignKeys, in.LookupAltKey)
	if err != nil {
		return 0, err
	}
	cols := projectedColumns(plan, in.ForeignKeys)
	quotedCols := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i] = quoteIdent(c)
	}

	idJoin := nullSafeEquality("t", "d", in.Identifiers)
	idNullCheck := make([]string, len(in.Identifiers))
	for i, c := range in.Identifiers {
		idNullCheck[i] = fmt.Sprintf("d.%s IS NULL", quoteIdent(c))
	}

	// PostgreSQL rejects explicit values for a GENERATED ALWAYS identity
	// column unless the statement says so. A configured identifier or
	// alternate_key column coming back in verbatim from the source system
	// is exactly that case, so opt in whenever any inserted column is an
	// identity column.
	overriding := ""
	if hasIdentityColumn(cols, in.Columns) {
		overriding = "OVERRIDING SYSTEM VALUE "
	}

	stmt := fmt.Sprintf(
		`INSERT INTO %s.%s (%s) %sSELECT %s FROM (SELECT row_number() OVER () AS rn, * FROM %s) t LEFT JOIN %s.%s d ON %s WHERE %s ORDER BY t.rn`,
		quoteIdent(in.Schema), quoteIdent(in.Table),
		strings.Join(quotedCols, ", "),
		overriding,
		qualifiedList("t", quotedCols),
		quoteIdent(finalTable),
		quoteIdent(in.Schema), quoteIdent(in.Table), idJoin,
		strings.Join(idNullCheck, " AND "),
	)
	res, err := tx.ExecContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("inserting missing rows for %s: %w", in.Table, err)
	}
	return res.RowsAffected()
}

func updateRemaining(ctx context.Context, tx *sql.Tx, in Input, finalTable string) (int64, error) {
	plan, err := export.BuildPlan(in.Schema, in.Table, in.Effective, in.Columns, in.Identifiers, in.ForeignKeys, in.LookupAltKey)
	if err != nil {
		return 0, err
	}
	cols := projectedColumns(plan, in.ForeignKeys)

	finalQuoted := quoteIdent(finalTable)

	var sets []string
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = %s.%s", quoteIdent(c), finalQuoted, quoteIdent(c)))
	}

	var idEquality []string
	for _, c := range in.Identifiers {
		ident := quoteIdent(c)
		idEquality = append(idEquality, fmt.Sprintf("d.%s = %s.%s", ident, finalQuoted, ident))
	}

	stmt := fmt.Sprintf(
		"UPDATE %s.%s d SET %s FROM %s WHERE %s",
		quoteIdent(in.Schema), quoteIdent(in.Table),
		strings.Join(sets, ", "),
		finalQuoted,
		strings.Join(idEquality, " AND "),
	)
	res, err := tx.ExecContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("updating remaining rows for %s: %w", in.Table, err)
	}
	return res.RowsAffected()
}

func qualifiedList(alias string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}

