package cmd

import (
	"errors"
	"testing"

	"github.com/pgschema/pgmerge/internal/merrors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"config invalid", &merrors.ConfigInvalid{Msg: "bad config"}, 2},
			{"usage error", &merrors.UsageError{Msg: "requires at least 1 arg(s)"}, 2},
		{"file missing", &merrors.FileMissing{Tables: []string{"orders"}}, 4},
		{"catalog error", &merrors.CatalogError{Msg: "query failed"}, 3},
		{"plain error falls through to default", errors.New("wrap"), 3},
		{"unsupported schema falls through to default", &merrors.UnsupportedSchema{Table: "orders"}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, exitCodeFor(tc.err))
		})
	}
}

func TestExitCodeFor_WrappedError(t *testing.T) {
	wrapped := &merrors.CatalogError{Msg: "load", Err: errors.New("connection reset")}
	require.Equal(t, 3, exitCodeFor(wrapped))
}

func TestRequireArgs_WrapsValidatorError(t *testing.T) {
	validate := requireArgs(cobra.MinimumNArgs(1))
	err := validate(&cobra.Command{}, nil)
	require.Error(t, err)
	var usageErr *merrors.UsageError
	require.ErrorAs(t, err, &usageErr)
	require.Equal(t, 2, exitCodeFor(err))
}

func TestRequireArgs_PassesThroughOnSuccess(t *testing.T) {
	validate := requireArgs(cobra.MinimumNArgs(1))
	require.NoError(t, validate(&cobra.Command{}, []string{"orders"}))
}
