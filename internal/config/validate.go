package config

import (
	"context"
	"fmt"
	"sort"

	"github.com/pgschema/pgmerge/internal/catalog"
	"github.com/pgschema/pgmerge/internal/merrors"
)

// Validate cross-checks every table entry in cfg against the live schema,
// applying the rules of spec.md §4.3 in order. Fail-fast: the first
// violated rule aborts the whole validation with a ConfigInvalid naming
// the offending table.
func Validate(ctx context.Context, inspector catalog.Inspector, schema string, cfg TableConfigMap) error {
	seenSubsetNames := map[string]string{} // subset name -> owning table, across the whole config

	allTables, err := inspector.ListTables(ctx, schema)
	if err != nil {
		return &merrors.CatalogError{Msg: "listing tables for config validation", Err: err}
	}
	tableNames := map[string]bool{}
	for _, t := range allTables {
		tableNames[t] = true
	}
	for name := range cfg {
		tableNames[name] = true
	}

	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, table := range names {
		tc := cfg[table]

		exists, err := tableExists(ctx, inspector, schema, table)
		if err != nil {
			return err
		}
		if !exists {
			return &merrors.ConfigInvalid{Table: table, Msg: "table not found in database"}
		}

		cols, err := inspector.Columns(ctx, schema, table)
		if err != nil {
			return &merrors.ConfigInvalid{Table: table, Msg: fmt.Sprintf("loading columns: %v", err)}
		}
		colSet := map[string]catalog.Column{}
		for _, c := range cols {
			colSet[c.Name] = c
		}

		if err := validateColumnsSubset(table, tc.Columns, colSet); err != nil {
			return err
		}

		identifiers, err := identifierColumns(ctx, inspector, schema, table, tc)
		if err != nil {
			return err
		}
		if err := validateColumnsIncludeIdentifiers(table, tc.Columns, identifiers); err != nil {
			return err
		}

		if err := validateAlternateKeySubset(table, tc.AlternateKey, colSet); err != nil {
			return err
		}

		if err := validateSubsetNames(table, tc.Subsets, tableNames, seenSubsetNames); err != nil {
			return err
		}
	}

	return nil
}

func tableExists(ctx context.Context, inspector catalog.Inspector, schema, table string) (bool, error) {
	tables, err := inspector.ListTables(ctx, schema)
	if err != nil {
		return false, &merrors.CatalogError{Msg: "listing tables for config validation", Err: err}
	}
	for _, t := range tables {
		if t == table {
			return true, nil
		}
	}
	return false, nil
}

// identifierColumns returns the configured alternate key if present,
// otherwise the table's primary key.
func identifierColumns(ctx context.Context, inspector catalog.Inspector, schema, table string, tc TableConfig) ([]string, error) {
	if len(tc.AlternateKey) > 0 {
		return tc.AlternateKey, nil
	}
	pk, err := inspector.PrimaryKey(ctx, schema, table)
	if err != nil {
		return nil, &merrors.CatalogError{Msg: fmt.Sprintf("loading primary key for %s", table), Err: err}
	}
	return pk, nil
}

// validateColumnsSubset enforces: configured `columns` must be a subset of
// actual columns, and any column NOT listed must be skippable (nullable or
// defaulted) — spec.md §4.3 rules 2 and 3. An empty `columns` means "all
// columns", so there's nothing to check.
func validateColumnsSubset(table string, configured []string, actual map[string]catalog.Column) error {
	if len(configured) == 0 {
		return nil
	}

	configuredSet := map[string]bool{}
	for _, c := range configured {
		if _, ok := actual[c]; !ok {
			return &merrors.ConfigInvalid{Table: table, Msg: fmt.Sprintf("'columns' not found in table: %s", c)}
		}
		configuredSet[c] = true
	}

	var unskippable []string
	for name, col := range actual {
		if configuredSet[name] {
			continue
		}
		if !col.Skippable() {
			unskippable = append(unskippable, name)
		}
	}
	if len(unskippable) > 0 {
		sort.Strings(unskippable)
		return &merrors.ConfigInvalid{
			Table: table,
			Msg:   fmt.Sprintf("'columns' can't skip columns that aren't nullable or don't have defaults: %v", unskippable),
		}
	}
	return nil
}

// validateColumnsIncludeIdentifiers enforces spec.md §4.3 rule: `columns`
// (when configured) must contain every identifier column.
func validateColumnsIncludeIdentifiers(table string, configured, identifiers []string) error {
	if len(configured) == 0 {
		return nil
	}
	configuredSet := map[string]bool{}
	for _, c := range configured {
		configuredSet[c] = true
	}
	var missing []string
	for _, id := range identifiers {
		if !configuredSet[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &merrors.ConfigInvalid{
			Table: table,
			Msg:   fmt.Sprintf("'columns' has to also contain primary/alternate keys, but doesn't contain %v", missing),
		}
	}
	return nil
}

func validateAlternateKeySubset(table string, alternateKey []string, actual map[string]catalog.Column) error {
	for _, c := range alternateKey {
		if _, ok := actual[c]; !ok {
			return &merrors.ConfigInvalid{Table: table, Msg: fmt.Sprintf("'alternate_key' columns not found in table: %s", c)}
		}
	}
	return nil
}

// validateSubsetNames enforces spec.md §4.3's three subset-name rules:
// unique within a table, no collision with any table name, and unique
// across the whole config. seenSubsetNames accumulates subset name ->
// owning table across calls for the cross-table check.
func validateSubsetNames(table string, subsets []SubsetConfig, tableNames map[string]bool, seenSubsetNames map[string]string) error {
	localSeen := map[string]bool{}
	for _, s := range subsets {
		if localSeen[s.Name] {
			return &merrors.ConfigInvalid{Table: table, Msg: fmt.Sprintf("duplicate subset names: %s", s.Name)}
		}
		localSeen[s.Name] = true

		if tableNames[s.Name] {
			return &merrors.ConfigInvalid{Table: table, Msg: fmt.Sprintf("subset name can't be the same as that of a table in the schema: %s", s.Name)}
		}

		if owner, ok := seenSubsetNames[s.Name]; ok && owner != table {
			return &merrors.ConfigInvalid{Table: table, Msg: fmt.Sprintf("subset names already in use: %s", s.Name)}
		}
		seenSubsetNames[s.Name] = table
	}
	return nil
}
