package catalog_test

import (
	"context"
	"testing"

	"github.com/pgschema/pgmerge/internal/catalog"
	"github.com/pgschema/pgmerge/testutil"
	"github.com/stretchr/testify/require"
)

// Mirrors the teacher's container-backed integration tests: skip under
// -short, start a container for the test, exercise the catalog against real
// pg_catalog state rather than mocks.
func TestCatalogIntegration_CountryAndPlacesToGo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pg := testutil.SetupTestPostgres(ctx, t)
	defer pg.Terminate(ctx, t)

	require.NoError(t, pg.ApplyDDL(ctx, "public", `
		CREATE TABLE country (
			place_code text PRIMARY KEY,
			name text NOT NULL
		);
		CREATE TABLE places_to_go (
			id serial PRIMARY KEY,
			place_code text NOT NULL REFERENCES country(place_code),
			notes text
		);
	`))

	inspector := catalog.NewInspector(pg.Conn)

	tables, err := inspector.ListTables(ctx, "public")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"country", "places_to_go"}, tables)

	pk, err := inspector.PrimaryKey(ctx, "public", "country")
	require.NoError(t, err)
	require.Equal(t, []string{"place_code"}, pk)

	cols, err := inspector.Columns(ctx, "public", "places_to_go")
	require.NoError(t, err)
	var names []string
	for _, c := range cols {
		names = append(names, c.Name)
	}
	require.Equal(t, []string{"id", "place_code", "notes"}, names)

	fks, err := inspector.ForeignKeys(ctx, "public", "places_to_go")
	require.NoError(t, err)
	require.Len(t, fks, 1)
	require.Equal(t, []string{"place_code"}, fks[0].LocalColumns)
	require.Equal(t, "country", fks[0].ReferredTable)
	require.Equal(t, []string{"place_code"}, fks[0].ReferredColumns)
}

func TestCatalogIntegration_SchemaNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pg := testutil.SetupTestPostgres(ctx, t)
	defer pg.Terminate(ctx, t)

	inspector := catalog.NewInspector(pg.Conn)
	_, err := inspector.ListTables(ctx, "does_not_exist")
	require.Error(t, err)
}
