// Package merrors defines the typed error taxonomy for pgmerge's merge
// pipeline. Callers distinguish failure classes with errors.As rather than
// string matching.
package merrors

import "fmt"

// ConfigInvalid means the YAML config doesn't match the bundled JSON
// schema or violates a validator rule. Fail-fast at startup.
type ConfigInvalid struct {
	Table string // empty when the violation isn't table-specific
	Msg   string
}

func (e *ConfigInvalid) Error() string {
	if e.Table == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Msg, e.Table)
}

// CatalogError means the requested schema/table is missing or the catalog
// query itself failed (e.g. connection lost).
type CatalogError struct {
	Msg string
	Err error
}

func (e *CatalogError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CatalogError) Unwrap() error { return e.Err }

// UnsupportedSchema means the table lacks an identifier (no PK, no
// alternate_key) or a cycle is present without an override. For a table
// without an identifier the orchestrator skips that table and continues
// with others; a cycle without an override aborts the run before any
// table is merged.
type UnsupportedSchema struct {
	Table string
	Msg   string
}

func (e *UnsupportedSchema) Error() string {
	if e.Table == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Msg)
}

// InputParameters means the config references columns that don't exist on
// the table, or a column path the resolver can't yet handle.
type InputParameters struct {
	Table string
	Msg   string
}

func (e *InputParameters) Error() string {
	if e.Table == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Msg)
}

// UsageError means the command line itself was malformed — too few or
// too many positional arguments — as opposed to a config or schema
// problem discovered after parsing. Wraps cobra's own Args validators so
// exitCodeFor can tell the two apart.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

// FileMissing means one or more requested tables have no CSV file in the
// import directory. All missing tables are reported together before exit.
type FileMissing struct {
	Tables []string
}

func (e *FileMissing) Error() string {
	return fmt.Sprintf("no CSV file found for tables: %v", e.Tables)
}
