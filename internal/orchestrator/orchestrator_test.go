package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pgschema/pgmerge/internal/catalog"
	"github.com/pgschema/pgmerge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct {
	tables []string
	pks    map[string][]string
	fks    map[string][]catalog.ForeignKey
}

func (f *fakeInspector) ListTables(ctx context.Context, schema string) ([]string, error) {
	return f.tables, nil
}
func (f *fakeInspector) Columns(ctx context.Context, schema, table string) ([]catalog.Column, error) {
	return nil, nil
}
func (f *fakeInspector) PrimaryKey(ctx context.Context, schema, table string) ([]string, error) {
	return f.pks[table], nil
}
func (f *fakeInspector) UniqueConstraints(ctx context.Context, schema, table string) ([]catalog.UniqueConstraint, error) {
	return nil, nil
}
func (f *fakeInspector) ForeignKeys(ctx context.Context, schema, table string) ([]catalog.ForeignKey, error) {
	return f.fks[table], nil
}
func (f *fakeInspector) SchemaExists(ctx context.Context, name string) (bool, error) {
	return true, nil
}
func (f *fakeInspector) TableComment(ctx context.Context, schema, table string) (*string, error) {
	return nil, nil
}

func writeCSV(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("id\n1\n"), 0o644))
}

func TestResolveFiles_AllMatchingTablesInDirectory(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "widgets.csv")
	writeCSV(t, dir, "unrelated.csv")

	inspector := &fakeInspector{tables: []string{"widgets", "gadgets"}}
	files, skipped, err := resolveFiles(context.Background(), inspector, Options{Schema: "public", Dir: dir}, config.TableConfigMap{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "widgets", files[0].eff.Table)
	assert.Equal(t, []string{"unrelated"}, skipped)
}

func TestResolveFiles_ExplicitTableMissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	inspector := &fakeInspector{tables: []string{"widgets"}}
	_, _, err := resolveFiles(context.Background(), inspector, Options{Schema: "public", Dir: dir, Tables: []string{"widgets"}}, config.TableConfigMap{})
	require.Error(t, err)
}

func TestResolveFiles_IncludeDependentsAddsReferent(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "orders.csv")
	writeCSV(t, dir, "customers.csv")

	inspector := &fakeInspector{
		tables: []string{"orders", "customers"},
		fks: map[string][]catalog.ForeignKey{
			"orders": {{Name: "fk_customer", LocalColumns: []string{"customer_id"}, ReferredTable: "customers", ReferredColumns: []string{"id"}}},
		},
	}

	files, _, err := resolveFiles(context.Background(), inspector, Options{
		Schema: "public", Dir: dir, Tables: []string{"orders"}, IncludeDependents: true,
	}, config.TableConfigMap{})
	require.NoError(t, err)

	var gotTables []string
	for _, f := range files {
		gotTables = append(gotTables, f.eff.Table)
	}
	assert.ElementsMatch(t, []string{"orders", "customers"}, gotTables)
}

func TestResolveFiles_SubsetFileMatchesParentConfig(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "fish.csv")

	inspector := &fakeInspector{tables: []string{"animals"}}
	cfg, err := config.Parse([]byte(`
animals:
  subsets:
    - name: fish
      where: "type='FISH'"
`))
	require.NoError(t, err)

	files, _, err := resolveFiles(context.Background(), inspector, Options{Schema: "public", Dir: dir}, cfg)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "animals", files[0].eff.Table)
	assert.Equal(t, "fish", files[0].eff.FileStem)
}

func TestFileState_String(t *testing.T) {
	assert.Equal(t, "Queued", Queued.String())
	assert.Equal(t, "Done", Done.String())
	assert.Equal(t, "Failed", Failed.String())
}

func TestAltKeyLookup(t *testing.T) {
	cfg, err := config.Parse([]byte("country:\n  alternate_key: [code]\n"))
	require.NoError(t, err)
	lookup := altKeyLookup(cfg)

	ak, ok := lookup("country")
	require.True(t, ok)
	assert.Equal(t, []string{"code"}, ak)

	_, ok = lookup("no_such_table")
	assert.False(t, ok)
}
