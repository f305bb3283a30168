// Package export builds the COPY ... TO STDOUT statements that write one
// CSV file per table or subset (spec.md §4.5), driving the projection
// through the column path resolver so foreign-key columns come out as
// their referent's alternate-key values.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pgschema/pgmerge/internal/catalog"
	"github.com/pgschema/pgmerge/internal/colpath"
	"github.com/pgschema/pgmerge/internal/config"
	"github.com/pgschema/pgmerge/internal/logger"
	"github.com/pgschema/pgmerge/internal/merrors"
	"github.com/pgschema/pgmerge/internal/util"
)

func quoteIdent(s string) string { return util.QuoteIdentifier(s) }

// Plan is everything the Exporter needs to emit one CSV file.
type Plan struct {
	Schema      string
	Table       string
	FileStem    string // output filename stem: table or subset name
	Columns     []colpath.PathColumn
	Joins       []joinClause
	Where       string
	OrderBy     []string // qualified identifier columns, sorted by name
}

type joinClause struct {
	Alias      string
	Schema     string
	Table      string
	Conditions []string // NULL-safe ON conditions, already rendered
}

// BuildPlan resolves the export projection for one table or subset:
// which columns to emit (config's `columns`, or every column), rewritten
// through colpath.ExportRewrite, plus the joins and ORDER BY that
// projection implies.
func BuildPlan(schema, table string, eff config.EffectiveConfig, cols []catalog.Column, identifiers []string, fks []catalog.ForeignKey, lookupAltKey colpath.AlternateKeyLookup) (*Plan, error) {
	localCols := eff.Columns
	if len(localCols) == 0 {
		for _, c := range cols {
			localCols = append(localCols, c.Name)
		}
	}

	pathCols := colpath.ExportRewrite(localCols, fks, lookupAltKey)
	if err := colpath.ValidateDownwardClosed(pathCols); err != nil {
		return nil, &merrors.InputParameters{Table: table, Msg: err.Error()}
	}

	fkByName := make(map[string]catalog.ForeignKey, len(fks))
	for _, fk := range fks {
		fkByName[fk.Name] = fk
	}

	joinsByFK := map[string]*joinClause{}
	var joinOrder []string
	for _, pc := range pathCols {
		if pc.IsLocal() {
			continue
		}
		fkName := pc.Path[0]
		if _, ok := joinsByFK[fkName]; ok {
			continue
		}
		fk, ok := fkByName[fkName]
		if !ok {
			return nil, &merrors.InputParameters{Table: table, Msg: fmt.Sprintf("export rewrite referenced unknown foreign key %s", fkName)}
		}
		alias := "join_" + fkName
		var conds []string
		for i, lc := range fk.LocalColumns {
			rc := fk.ReferredColumns[i]
			conds = append(conds, fmt.Sprintf(`((t.%s = %s.%s) OR (t.%s IS NULL AND %s.%s IS NULL))`,
				quoteIdent(lc), alias, quoteIdent(rc), quoteIdent(lc), alias, quoteIdent(rc)))
		}
		joinsByFK[fkName] = &joinClause{
			Alias:      alias,
			Schema:     fk.ReferredSchema,
			Table:      fk.ReferredTable,
			Conditions: conds,
		}
		joinOrder = append(joinOrder, fkName)
	}

	var joins []joinClause
	for _, name := range joinOrder {
		joins = append(joins, *joinsByFK[name])
	}

	// ORDER BY: the identifier set, restricted to what's actually being
	// exported as a local (unreplaced) column, for stable diffs.
	exportedLocal := map[string]bool{}
	for _, pc := range pathCols {
		if pc.IsLocal() {
			exportedLocal[pc.Column] = true
		}
	}
	var orderBy []string
	ids := append([]string(nil), identifiers...)
	sort.Strings(ids)
	for _, id := range ids {
		if exportedLocal[id] {
			orderBy = append(orderBy, "t."+quoteIdent(id))
		}
	}

	return &Plan{
		Schema:   schema,
		Table:    table,
		FileStem: eff.FileStem,
		Columns:  pathCols,
		Joins:    joins,
		Where:    eff.Where,
		OrderBy:  orderBy,
	}, nil
}

// SelectSQL renders the projected SELECT the COPY statement wraps.
func (p *Plan) SelectSQL() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	for i, c := range p.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		if c.IsLocal() {
			sb.WriteString(fmt.Sprintf("t.%s AS %s", quoteIdent(c.Column), quoteIdent(c.Header())))
		} else {
			alias := "join_" + c.Path[0]
			sb.WriteString(fmt.Sprintf("%s.%s AS %s", alias, quoteIdent(c.Column), quoteIdent(c.Header())))
		}
	}
	sb.WriteString(fmt.Sprintf(" FROM %s.%s t", quoteIdent(p.Schema), quoteIdent(p.Table)))
	for _, j := range p.Joins {
		sb.WriteString(fmt.Sprintf(" LEFT JOIN %s.%s %s ON %s", quoteIdent(j.Schema), quoteIdent(j.Table), j.Alias, strings.Join(j.Conditions, " AND ")))
	}
	if p.Where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(p.Where)
	}
	if len(p.OrderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(p.OrderBy, ", "))
	}
	return sb.String()
}

// CopySQL renders the full COPY ... TO STDOUT statement.
func (p *Plan) CopySQL() string {
	return fmt.Sprintf("COPY (%s) TO STDOUT WITH (FORMAT CSV, HEADER, ENCODING 'UTF8')", p.SelectSQL())
}

// Run executes the plan against db, writing the resulting CSV to
// <dir>/<FileStem>.csv. It forces the session to UTF-8 first, warning and
// resetting if the connection reports a different client encoding.
func Run(ctx context.Context, db *sql.DB, dir string, p *Plan) (rows int64, err error) {
	outPath := filepath.Join(dir, p.FileStem+".csv")
	f, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("creating output file %s: %w", outPath, err)
	}
	defer f.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if err := ensureUTF8(ctx, conn); err != nil {
		return 0, err
	}

	err = conn.Raw(func(driverConn interface{}) error {
		stdConn, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T", driverConn)
		}
		pgConn := stdConn.Conn().PgConn()
		tag, copyErr := pgConn.CopyTo(ctx, f, p.CopySQL())
		if copyErr != nil {
			return fmt.Errorf("COPY TO STDOUT for %s: %w", p.Table, copyErr)
		}
		rows = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rows, nil
}

func ensureUTF8(ctx context.Context, conn *sql.Conn) error {
	var encoding string
	if err := conn.QueryRowContext(ctx, "SHOW client_encoding").Scan(&encoding); err != nil {
		return fmt.Errorf("checking client_encoding: %w", err)
	}
	if !strings.EqualFold(encoding, "UTF8") && !strings.EqualFold(encoding, "UTF-8") {
		logger.Get().Warn("client_encoding is not UTF8, resetting for this session", "was", encoding)
		if _, err := conn.ExecContext(ctx, "SET client_encoding = 'UTF8'"); err != nil {
			return fmt.Errorf("setting client_encoding to UTF8: %w", err)
		}
	}
	return nil
}
