package orchestrator_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pgschema/pgmerge/internal/catalog"
	"github.com/pgschema/pgmerge/internal/colpath"
	"github.com/pgschema/pgmerge/internal/config"
	"github.com/pgschema/pgmerge/internal/export"
	"github.com/pgschema/pgmerge/internal/orchestrator"
	"github.com/pgschema/pgmerge/testutil"
	"github.com/stretchr/testify/require"
)

// exportFile resolves eff against the live schema and writes its CSV into
// dir, the same sequence cmd/export.go's runExport drives per file.
func exportFile(ctx context.Context, t *testing.T, db *sql.DB, inspector catalog.Inspector, schema, dir string, eff config.EffectiveConfig, lookupAltKey colpath.AlternateKeyLookup) int64 {
	t.Helper()

	cols, err := inspector.Columns(ctx, schema, eff.Table)
	require.NoError(t, err)

	var identifiers []string
	if len(eff.AlternateKey) > 0 {
		identifiers = eff.AlternateKey
	} else {
		identifiers, err = inspector.PrimaryKey(ctx, schema, eff.Table)
		require.NoError(t, err)
	}

	fks, err := inspector.ForeignKeys(ctx, schema, eff.Table)
	require.NoError(t, err)

	plan, err := export.BuildPlan(schema, eff.Table, eff, cols, identifiers, fks, lookupAltKey)
	require.NoError(t, err)

	rows, err := export.Run(ctx, db, dir, plan)
	require.NoError(t, err)
	return rows
}

func noAltKeys(string) ([]string, bool) { return nil, false }

// End-to-end exercise of scenario 2 from spec.md §8: a merge that
// inserts a brand new row, updates a changed one, and leaves an
// identical one alone, inside a single transaction.
func TestOrchestratorIntegration_InsertUpdateSkip(t *testing.T) {
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
		INSERT INTO country (place_code, name) VALUES
			('US', 'United States'),
			('CA', 'Canada Old Name');
	`))

	dir := t.TempDir()
	csv := "place_code,name\n" +
		"US,United States\n" + // unchanged -> skip
		"CA,Canada\n" + // changed -> update
		"FR,France\n" // new -> insert
	require.NoError(t, os.WriteFile(filepath.Join(dir, "country.csv"), []byte(csv), 0o644))

	inspector := catalog.NewInspector(pg.Conn)
	summary, err := orchestrator.Run(ctx, pg.Conn, inspector, config.TableConfigMap{}, orchestrator.Options{
		Schema: "public",
		Dir:    dir,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.TotalSkip)
	require.EqualValues(t, 1, summary.TotalInsert)
	require.EqualValues(t, 1, summary.TotalUpdate)

	rows, err := pg.Conn.QueryContext(ctx, `SELECT place_code, name FROM country ORDER BY place_code`)
	require.NoError(t, err)
	defer rows.Close()

	got := map[string]string{}
	for rows.Next() {
		var code, name string
		require.NoError(t, rows.Scan(&code, &name))
		got[code] = name
	}
	require.Equal(t, map[string]string{
		"US": "United States",
		"CA": "Canada",
		"FR": "France",
	}, got)
}

// Exercises spec.md §8 scenario 4: expanding an explicit table list to
// its dependents with --include-dependent-tables, so an FK referent not
// named on the command line still gets merged first.
func TestOrchestratorIntegration_IncludeDependentTables(t *testing.T) {
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
			id text PRIMARY KEY,
			place_code text NOT NULL REFERENCES country(place_code),
			notes text NOT NULL
		);
		INSERT INTO country (place_code, name) VALUES ('US', 'United States');
	`))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "country.csv"), []byte("place_code,name\nUS,United States\nFR,France\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "places_to_go.csv"), []byte("id,place_code,notes\np1,FR,Eiffel Tower\n"), 0o644))

	inspector := catalog.NewInspector(pg.Conn)
	summary, err := orchestrator.Run(ctx, pg.Conn, inspector, config.TableConfigMap{}, orchestrator.Options{
		Schema:            "public",
		Dir:               dir,
		Tables:            []string{"places_to_go"},
		IncludeDependents: true,
	})
	require.NoError(t, err)

	var tables []string
	for _, fr := range summary.Files {
		tables = append(tables, fr.Table)
	}
	require.ElementsMatch(t, []string{"country", "places_to_go"}, tables)

	var count int
	require.NoError(t, pg.Conn.QueryRowContext(ctx, `SELECT count(*) FROM places_to_go WHERE place_code = 'FR'`).Scan(&count))
	require.Equal(t, 1, count)
}

// Exercises spec.md §8 scenario 1: export then re-import of non-ASCII
// data round-trips byte-for-byte, landing every row as a skip.
func TestOrchestratorIntegration_UTF8RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pg := testutil.SetupTestPostgres(ctx, t)
	defer pg.Terminate(ctx, t)

	require.NoError(t, pg.ApplyDDL(ctx, "public", `
		CREATE TABLE country (
			code char(2) PRIMARY KEY,
			name text NOT NULL
		);
		INSERT INTO country (code, name) VALUES
			('CI', 'Côte d''Ivoire'),
			('RE', 'Réunion'),
			('ST', 'São Tomé and Príncipe');
	`))

	inspector := catalog.NewInspector(pg.Conn)
	dir := t.TempDir()
	exportFile(ctx, t, pg.Conn, inspector, "public", dir, config.ForTable("country"), noAltKeys)

	summary, err := orchestrator.Run(ctx, pg.Conn, inspector, config.TableConfigMap{}, orchestrator.Options{
		Schema: "public",
		Dir:    dir,
	})
	require.NoError(t, err)
	require.Len(t, summary.Files, 1)
	require.EqualValues(t, 3, summary.Files[0].Stats.Total)
	require.EqualValues(t, 3, summary.TotalSkip)
	require.EqualValues(t, 0, summary.TotalInsert)
	require.EqualValues(t, 0, summary.TotalUpdate)
}

// Exercises spec.md §8 scenario 3: a configured alternate key produces a
// join_<fk>_<column> header on export, and re-importing through that join
// resolves every row back to a skip.
func TestOrchestratorIntegration_AlternateKeyJoinImport(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pg := testutil.SetupTestPostgres(ctx, t)
	defer pg.Terminate(ctx, t)

	require.NoError(t, pg.ApplyDDL(ctx, "public", `
		CREATE TABLE other_table (
			id serial PRIMARY KEY,
			code text UNIQUE NOT NULL,
			name text
		);
		CREATE TABLE the_table (
			id serial PRIMARY KEY,
			code text,
			name text,
			ref_other_table integer NOT NULL REFERENCES other_table(id)
		);
		INSERT INTO other_table (code, name) VALUES ('IS', 'Iceland'), ('IN', NULL);
		INSERT INTO the_table (code, name, ref_other_table)
			SELECT 'x' || id, 'row' || id, id FROM other_table;
	`))

	cfg, err := config.Parse([]byte(`
other_table:
  alternate_key: [code]
`))
	require.NoError(t, err)
	require.NoError(t, config.Validate(ctx, catalog.NewInspector(pg.Conn), "public", cfg))

	inspector := catalog.NewInspector(pg.Conn)
	lookupAltKey := func(table string) ([]string, bool) {
		tc, ok := cfg[table]
		if !ok || len(tc.AlternateKey) == 0 {
			return nil, false
		}
		return tc.AlternateKey, true
	}

	dir := t.TempDir()
	exportFile(ctx, t, pg.Conn, inspector, "public", dir, config.ForTable("other_table"), lookupAltKey)
	exportFile(ctx, t, pg.Conn, inspector, "public", dir, config.ForTable("the_table"), lookupAltKey)

	otherHeader, err := os.ReadFile(filepath.Join(dir, "other_table.csv"))
	require.NoError(t, err)
	require.Contains(t, string(otherHeader), "id,code,name")

	theHeader, err := os.ReadFile(filepath.Join(dir, "the_table.csv"))
	require.NoError(t, err)
	require.Contains(t, string(theHeader), "join_the_table_ref_other_table_fkey_code")

	summary, err := orchestrator.Run(ctx, pg.Conn, inspector, cfg, orchestrator.Options{
		Schema: "public",
		Dir:    dir,
	})
	require.NoError(t, err)

	for _, fr := range summary.Files {
		if fr.Table == "other_table" {
			require.EqualValues(t, 2, fr.Stats.Skip)
		}
	}
}

// Exercises spec.md §8 scenario 5: a table with a `where` filter and two
// named subsets exports to three disjoint files.
func TestOrchestratorIntegration_Subsets(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pg := testutil.SetupTestPostgres(ctx, t)
	defer pg.Terminate(ctx, t)

	require.NoError(t, pg.ApplyDDL(ctx, "public", `
		CREATE TABLE animals (
			type text,
			name text,
			PRIMARY KEY (type, name)
		);
		INSERT INTO animals (type, name) VALUES
			('FISH', 'Salmon'), ('FISH', 'Tuna'),
			('MAMMAL', 'Dog'), ('MAMMAL', 'Cat'),
			('REPTILE', 'Iguana');
	`))

	cfg, err := config.Parse([]byte(`
animals:
  alternate_key: [type, name]
  columns: [type, name]
  where: "type not in ('FISH','MAMMAL')"
  subsets:
    - name: fish
      where: "type='FISH'"
    - name: mammals
      where: "type='MAMMAL'"
`))
	require.NoError(t, err)

	inspector := catalog.NewInspector(pg.Conn)
	require.NoError(t, config.Validate(ctx, inspector, "public", cfg))

	dir := t.TempDir()
	expanded := config.ExpandSubsets(cfg)
	for _, stem := range []string{"animals", "fish", "mammals"} {
		exportFile(ctx, t, pg.Conn, inspector, "public", dir, expanded[stem], noAltKeys)
	}

	assertRowCount := func(path string, want int) {
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
		require.Len(t, lines, want+1) // +1 header
	}
	assertRowCount(filepath.Join(dir, "animals.csv"), 1)
	assertRowCount(filepath.Join(dir, "fish.csv"), 2)
	assertRowCount(filepath.Join(dir, "mammals.csv"), 2)
}

// Exercises spec.md §8 scenario 6: a self-referencing table is importable
// only with --disable-foreign-keys or --ignore-cycles, and refuses
// otherwise.
func TestOrchestratorIntegration_CycleDetection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pg := testutil.SetupTestPostgres(ctx, t)
	defer pg.Terminate(ctx, t)

	require.NoError(t, pg.ApplyDDL(ctx, "public", `
		CREATE TABLE the_table (
			id integer PRIMARY KEY,
			code text,
			name text,
			parent_id integer REFERENCES the_table(id)
		);
	`))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "the_table.csv"),
		[]byte("id,code,name,parent_id\n1,a,Root,\n2,b,Child,1\n"), 0o644))

	inspector := catalog.NewInspector(pg.Conn)

	_, err := orchestrator.Run(ctx, pg.Conn, inspector, config.TableConfigMap{}, orchestrator.Options{
		Schema: "public",
		Dir:    dir,
	})
	require.Error(t, err)
	require.ErrorContains(t, err, "Self-referencing")

	summary, err := orchestrator.Run(ctx, pg.Conn, inspector, config.TableConfigMap{}, orchestrator.Options{
		Schema:       "public",
		Dir:          dir,
		IgnoreCycles: true,
	})
	require.NoError(t, err)
	require.Len(t, summary.Files, 1)
	require.EqualValues(t, 2, summary.Files[0].Stats.Insert)
}

// Exercises the orchestrator's skip-and-continue behavior (spec.md §7):
// a table with neither a primary key nor an alternate_key raises
// UnsupportedSchema from the Merge Engine's precondition check, and the
// run must skip that one table and still merge the rest instead of
// aborting the whole transaction.
func TestOrchestratorIntegration_SkipUnsupportedSchemaAndContinue(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pg := testutil.SetupTestPostgres(ctx, t)
	defer pg.Terminate(ctx, t)

	require.NoError(t, pg.ApplyDDL(ctx, "public", `
		CREATE TABLE country (
			code text PRIMARY KEY,
			name text NOT NULL
		);
		CREATE TABLE no_identifier (
			a text,
			b text
		);
	`))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "country.csv"), []byte("code,name\nUS,United States\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "no_identifier.csv"), []byte("a,b\nx,y\n"), 0o644))

	inspector := catalog.NewInspector(pg.Conn)
	summary, err := orchestrator.Run(ctx, pg.Conn, inspector, config.TableConfigMap{}, orchestrator.Options{
		Schema: "public",
		Dir:    dir,
	})
	require.NoError(t, err)
	require.Contains(t, summary.SkippedFiles, "no_identifier")

	var countryResult *orchestrator.FileResult
	for i := range summary.Files {
		if summary.Files[i].Table == "country" {
			countryResult = &summary.Files[i]
		}
	}
	require.NotNil(t, countryResult)
	require.NoError(t, countryResult.Err)
	require.EqualValues(t, 1, countryResult.Stats.Insert)

	var count int
	require.NoError(t, pg.Conn.QueryRowContext(ctx, `SELECT count(*) FROM country`).Scan(&count))
	require.Equal(t, 1, count)
}
