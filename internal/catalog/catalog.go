// Package catalog answers read-only questions about a live PostgreSQL
// schema: tables, columns, primary keys, unique constraints, foreign keys.
// No caching is performed; callers are expected to query freely.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgschema/pgmerge/internal/merrors"
)

// Column describes one table column.
type Column struct {
	Name       string
	Position   int
	Nullable   bool
	Default    *string // nil when the column has no default expression
	DataType   string
	IsIdentity bool // GENERATED {ALWAYS|BY DEFAULT} AS IDENTITY
}

// Skippable reports whether an insert/update may omit this column: it's
// nullable, or the server will fill in a default.
func (c Column) Skippable() bool {
	return c.Nullable || c.Default != nil
}

// UniqueConstraint is a named set of columns (ordered) that together
// must be unique.
type UniqueConstraint struct {
	Name    string
	Columns []string
}

// ForeignKey is a named, ordered mapping from local columns to a
// referent's columns. |LocalColumns| == |ReferredColumns|, and position i
// in one corresponds to position i in the other.
type ForeignKey struct {
	Name             string
	LocalColumns     []string
	ReferredSchema   string
	ReferredTable    string
	ReferredColumns  []string
}

// Inspector is the read-only catalog query surface spec.md §4.1 names.
type Inspector interface {
	ListTables(ctx context.Context, schema string) ([]string, error)
	Columns(ctx context.Context, schema, table string) ([]Column, error)
	PrimaryKey(ctx context.Context, schema, table string) ([]string, error)
	UniqueConstraints(ctx context.Context, schema, table string) ([]UniqueConstraint, error)
	ForeignKeys(ctx context.Context, schema, table string) ([]ForeignKey, error)
	SchemaExists(ctx context.Context, name string) (bool, error)
	TableComment(ctx context.Context, schema, table string) (*string, error)
}

type inspector struct {
	db *sql.DB
}

// NewInspector wraps an open database connection pool with catalog
// queries, the way ir.NewBuilder(db) does in the teacher.
func NewInspector(db *sql.DB) Inspector {
	return &inspector{db: db}
}

func (i *inspector) SchemaExists(ctx context.Context, name string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`
	var exists bool
	if err := i.db.QueryRowContext(ctx, q, name).Scan(&exists); err != nil {
		return false, &merrors.CatalogError{Msg: fmt.Sprintf("checking schema %q", name), Err: err}
	}
	return exists, nil
}

func (i *inspector) ListTables(ctx context.Context, schema string) ([]string, error) {
	exists, err := i.SchemaExists(ctx, schema)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &merrors.CatalogError{Msg: fmt.Sprintf("schema not found: %s", schema)}
	}

	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`
	rows, err := i.db.QueryContext(ctx, q, schema)
	if err != nil {
		return nil, &merrors.CatalogError{Msg: "listing tables", Err: err}
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &merrors.CatalogError{Msg: "scanning table name", Err: err}
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (i *inspector) Columns(ctx context.Context, schema, table string) ([]Column, error) {
	const q = `
		SELECT column_name, ordinal_position, is_nullable = 'YES', column_default, data_type, is_identity = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`
	rows, err := i.db.QueryContext(ctx, q, schema, table)
	if err != nil {
		return nil, &merrors.CatalogError{Msg: fmt.Sprintf("listing columns for %s.%s", schema, table), Err: err}
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		var def sql.NullString
		if err := rows.Scan(&c.Name, &c.Position, &c.Nullable, &def, &c.DataType, &c.IsIdentity); err != nil {
			return nil, &merrors.CatalogError{Msg: "scanning column", Err: err}
		}
		if def.Valid {
			v := def.String
			c.Default = &v
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, &merrors.CatalogError{Msg: fmt.Sprintf("table not found: %s.%s", schema, table)}
	}
	return cols, nil
}

// TableComment returns the COMMENT ON TABLE text, if any, via the
// pg_description join PostgreSQL itself uses for \d+ in psql.
func (i *inspector) TableComment(ctx context.Context, schema, table string) (*string, error) {
	const q = `
		SELECT d.description
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_description d ON d.objoid = c.oid AND d.objsubid = 0
		WHERE n.nspname = $1 AND c.relname = $2`
	var comment sql.NullString
	err := i.db.QueryRowContext(ctx, q, schema, table).Scan(&comment)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &merrors.CatalogError{Msg: fmt.Sprintf("querying comment for %s.%s", schema, table), Err: err}
	}
	if !comment.Valid {
		return nil, nil
	}
	return &comment.String, nil
}

// PrimaryKey and UniqueConstraints both walk pg_constraint directly
// (rather than information_schema) so that the column list comes back in
// declared order via unnest(...) WITH ORDINALITY, the way
// pg_sub_data's introspect.go does for primary keys.
func (i *inspector) PrimaryKey(ctx context.Context, schema, table string) ([]string, error) {
	const q = `
		SELECT a.attname
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		CROSS JOIN LATERAL unnest(con.conkey) WITH ORDINALITY AS u(attnum, ord)
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = u.attnum
		WHERE con.contype = 'p' AND n.nspname = $1 AND c.relname = $2
		ORDER BY u.ord`
	rows, err := i.db.QueryContext(ctx, q, schema, table)
	if err != nil {
		return nil, &merrors.CatalogError{Msg: fmt.Sprintf("querying primary key for %s.%s", schema, table), Err: err}
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (i *inspector) UniqueConstraints(ctx context.Context, schema, table string) ([]UniqueConstraint, error) {
	const q = `
		SELECT con.conname, a.attname, u.ord
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		CROSS JOIN LATERAL unnest(con.conkey) WITH ORDINALITY AS u(attnum, ord)
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = u.attnum
		WHERE con.contype = 'u' AND n.nspname = $1 AND c.relname = $2
		ORDER BY con.conname, u.ord`
	rows, err := i.db.QueryContext(ctx, q, schema, table)
	if err != nil {
		return nil, &merrors.CatalogError{Msg: fmt.Sprintf("querying unique constraints for %s.%s", schema, table), Err: err}
	}
	defer rows.Close()

	byName := map[string]*UniqueConstraint{}
	var order []string
	for rows.Next() {
		var name, col string
		var ord int
		if err := rows.Scan(&name, &col, &ord); err != nil {
			return nil, err
		}
		uc, ok := byName[name]
		if !ok {
			uc = &UniqueConstraint{Name: name}
			byName[name] = uc
			order = append(order, name)
		}
		uc.Columns = append(uc.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]UniqueConstraint, 0, len(order))
	for _, name := range order {
		result = append(result, *byName[name])
	}
	return result, nil
}

// ForeignKeys mirrors pg_sub_data's introspect.go queryForeignKeys: group
// rows by constraint name, preserving column-pair order via ordinality.
func (i *inspector) ForeignKeys(ctx context.Context, schema, table string) ([]ForeignKey, error) {
	const q = `
		SELECT
			con.conname,
			ca.attname AS local_column,
			pn.nspname AS referred_schema,
			pc.relname AS referred_table,
			pa.attname AS referred_column,
			u.ord
		FROM pg_constraint con
		JOIN pg_class cc ON cc.oid = con.conrelid
		JOIN pg_namespace cn ON cn.oid = cc.relnamespace
		JOIN pg_class pc ON pc.oid = con.confrelid
		JOIN pg_namespace pn ON pn.oid = pc.relnamespace
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS u(local_attnum, referred_attnum, ord)
		JOIN pg_attribute ca ON ca.attrelid = cc.oid AND ca.attnum = u.local_attnum
		JOIN pg_attribute pa ON pa.attrelid = pc.oid AND pa.attnum = u.referred_attnum
		WHERE con.contype = 'f' AND cn.nspname = $1 AND cc.relname = $2
		ORDER BY con.conname, u.ord`
	rows, err := i.db.QueryContext(ctx, q, schema, table)
	if err != nil {
		return nil, &merrors.CatalogError{Msg: fmt.Sprintf("querying foreign keys for %s.%s", schema, table), Err: err}
	}
	defer rows.Close()

	byName := map[string]*ForeignKey{}
	var order []string
	for rows.Next() {
		var name, localCol, refSchema, refTable, refCol string
		var ord int
		if err := rows.Scan(&name, &localCol, &refSchema, &refTable, &refCol, &ord); err != nil {
			return nil, err
		}
		fk, ok := byName[name]
		if !ok {
			fk = &ForeignKey{Name: name, ReferredSchema: refSchema, ReferredTable: refTable}
			byName[name] = fk
			order = append(order, name)
		}
		fk.LocalColumns = append(fk.LocalColumns, localCol)
		fk.ReferredColumns = append(fk.ReferredColumns, refCol)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]ForeignKey, 0, len(order))
	for _, name := range order {
		fk := *byName[name]
		if fk.ReferredSchema != schema {
			// Invariant (spec.md §3): the referent must live in the same
			// schema as the referrer. Remote-schema references are
			// rejected rather than silently followed.
			continue
		}
		result = append(result, fk)
	}
	return result, nil
}
