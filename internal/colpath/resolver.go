// Package colpath translates between a table's real surrogate
// foreign-key columns and the alternate-key columns of referenced tables
// (spec.md §4.4), driving both the Exporter's projection and the Merge
// Engine's staging-to-destination translation.
package colpath

import (
	"fmt"

	"github.com/pgschema/pgmerge/internal/catalog"
	"github.com/pgschema/pgmerge/internal/merrors"
)

// PathColumn is the pair (column_name, [fk1, fk2, ...]) of spec.md §4.4.
// An empty Path denotes a local column; a non-empty Path denotes a column
// of the table reached by following the named foreign keys in order.
type PathColumn struct {
	Column string
	Path   []string // FK names, root-to-leaf
}

// IsLocal reports whether this column needs no join to resolve.
func (p PathColumn) IsLocal() bool { return len(p.Path) == 0 }

// Header is the CSV column header for this path column: the bare column
// name for local columns, or join_<fk>_<column> for a one-hop foreign
// column, per spec.md §4.5.
func (p PathColumn) Header() string {
	if p.IsLocal() {
		return p.Column
	}
	return fmt.Sprintf("join_%s_%s", p.Path[len(p.Path)-1], p.Column)
}

// AlternateKeyLookup resolves a referred (schema, table) to its
// configured alternate key columns, or (nil, false) if the table has
// none configured — in which case its FK columns are not eligible for
// export-rewrite.
type AlternateKeyLookup func(referredTable string) ([]string, bool)

// ExportRewrite replaces each local column that is part of a foreign key
// whose referent has a configured alternate key with that FK's
// alternate-key path columns, preserving overall column order: the first
// replaced index receives the expansion, later indices of the same FK are
// dropped. Local columns untouched by any such FK pass through unchanged.
func ExportRewrite(localColumns []string, fks []catalog.ForeignKey, lookupAltKey AlternateKeyLookup) []PathColumn {
	// fkOf[col] = the FK this local column participates in, if any.
	fkOf := make(map[string]*catalog.ForeignKey, len(localColumns))
	for i := range fks {
		fk := &fks[i]
		altKey, ok := lookupAltKey(fk.ReferredTable)
		if !ok || len(altKey) == 0 {
			continue
		}
		for _, c := range fk.LocalColumns {
			fkOf[c] = fk
		}
	}

	emitted := make(map[string]bool) // FK name -> already emitted its expansion
	var out []PathColumn

	for _, col := range localColumns {
		fk, inFK := fkOf[col]
		if !inFK {
			out = append(out, PathColumn{Column: col})
			continue
		}
		if emitted[fk.Name] {
			// A later local column of the same FK: already expanded at
			// the first occurrence, drop this one.
			continue
		}
		emitted[fk.Name] = true
		altKey, _ := lookupAltKey(fk.ReferredTable)
		for _, akCol := range altKey {
			out = append(out, PathColumn{Column: akCol, Path: []string{fk.Name}})
		}
	}

	return out
}

// ImportJoin describes one join the import-rewrite SELECT must perform:
// staging_raw is joined to a referent table on alternate-key columns
// (NULL-safe), and the referent's FK-target columns are projected back as
// the destination's real local FK columns.
type ImportJoin struct {
	FK               catalog.ForeignKey
	AlternateKey     []string // referent's alternate-key columns, in order
	StagingAliasCols []string // staging_raw column names carrying each alt-key value (the join_<fk>_<col> headers)
}

// ImportRewrite builds the set of joins needed to translate a staging_raw
// row (shaped like the export projection) back into the destination
// table's real column shape, for the given export path columns.
//
// Only paths of length 1 are supported; a path of length >= 2 is refused
// with an InputParameters error rather than guessed at, per spec.md §9's
// own recommendation. A path whose prefix (length-1 truncation) is absent
// from cols is likewise refused — the "partial path missing" invariant of
// spec.md §4.4.
func ImportRewrite(table string, cols []PathColumn) ([]ImportJoin, error) {
	// Group non-local columns by their (one-element) path's FK name.
	byFK := map[string][]PathColumn{}
	var order []string

	seenPrefix := map[string]bool{}
	for _, c := range cols {
		if c.IsLocal() {
			continue
		}
		if len(c.Path) >= 2 {
			return nil, &merrors.InputParameters{
				Table: table,
				Msg:   fmt.Sprintf("column path of length >= 2 is not supported for import: %s %v", c.Column, c.Path),
			}
		}
		fkName := c.Path[0]
		if _, ok := byFK[fkName]; !ok {
			order = append(order, fkName)
		}
		byFK[fkName] = append(byFK[fkName], c)
		seenPrefix[fkName] = true
	}

	var joins []ImportJoin
	for _, fkName := range order {
		group := byFK[fkName]
		join := ImportJoin{}
		for _, c := range group {
			join.AlternateKey = append(join.AlternateKey, c.Column)
			join.StagingAliasCols = append(join.StagingAliasCols, c.Header())
		}
		// FK metadata (Name, LocalColumns, ReferredTable/Schema,
		// ReferredColumns) is filled in by the caller (internal/merge),
		// which has the actual catalog.ForeignKey in hand; this package
		// only validates path shape and groups columns.
		join.FK.Name = fkName
		joins = append(joins, join)
	}

	return joins, nil
}

// ValidateDownwardClosed enforces spec.md §4.4's invariant that every
// non-empty path has a strict prefix also present in the plan: for a
// single-level resolver this reduces to "no path of length >= 2 may
// appear without error", which ImportRewrite already enforces; this
// helper is kept for callers (e.g. the Exporter) that only need the
// cheaper downward-closure check without the full FK grouping.
func ValidateDownwardClosed(cols []PathColumn) error {
	present := map[string]bool{}
	for _, c := range cols {
		key := fmt.Sprintf("%v", c.Path)
		present[key] = true
	}
	for _, c := range cols {
		for i := 1; i < len(c.Path); i++ {
			prefix := fmt.Sprintf("%v", c.Path[:i])
			if !present[prefix] {
				return fmt.Errorf("column path %v missing required prefix %s", c.Path, prefix)
			}
		}
	}
	return nil
}
