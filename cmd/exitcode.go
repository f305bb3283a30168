package cmd

import (
	"errors"

	"github.com/pgschema/pgmerge/internal/merrors"
	"github.com/spf13/cobra"
)

// requireArgs wraps a cobra positional-argument validator so a failure
// (wrong arg count) maps to exit code 2 rather than falling through to
// exitCodeFor's default of 3, per spec.md §6.
func requireArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &merrors.UsageError{Msg: err.Error()}
		}
		return nil
	}
}

// exitCodeFor maps a top-level run error to the process exit code spec.md
// §6 defines: 2 for argument/validation errors, 3 for unhandled
// exceptions (including transaction-level SQL failures), 4 for invalid
// input data such as missing CSV files for requested tables.
func exitCodeFor(err error) int {
	var configErr *merrors.ConfigInvalid
	if errors.As(err, &configErr) {
		return 2
	}
	var usageErr *merrors.UsageError
	if errors.As(err, &usageErr) {
		return 2
	}
	var fileMissing *merrors.FileMissing
	if errors.As(err, &fileMissing) {
		return 4
	}
	var catalogErr *merrors.CatalogError
	if errors.As(err, &catalogErr) {
		return 3
	}
	return 3
}
