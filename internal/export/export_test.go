package export

import (
	"testing"

	"github.com/pgschema/pgmerge/internal/catalog"
	"github.com/pgschema/pgmerge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPlan_PlainTableNoFKs(t *testing.T) {
	cols := []catalog.Column{{Name: "id"}, {Name: "name"}}
	p, err := BuildPlan("public", "widgets", config.ForTable("widgets"), cols, []string{"id"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "widgets", p.FileStem)
	assert.Len(t, p.Columns, 2)
	assert.Empty(t, p.Joins)
	assert.Contains(t, p.SelectSQL(), `t."id" AS "id"`)
	assert.Contains(t, p.SelectSQL(), "ORDER BY t.\"id\"")
}

func TestBuildPlan_ForeignKeyWithAlternateKey(t *testing.T) {
	cols := []catalog.Column{{Name: "id"}, {Name: "country_id"}}
	fks := []catalog.ForeignKey{
		{Name: "fk_country", LocalColumns: []string{"country_id"}, ReferredSchema: "public", ReferredTable: "country", ReferredColumns: []string{"id"}},
	}
	lookup := func(table string) ([]string, bool) {
		if table == "country" {
			return []string{"code"}, true
		}
		return nil, false
	}

	p, err := BuildPlan("public", "city", config.ForTable("city"), cols, []string{"id"}, fks, lookup)
	require.NoError(t, err)
	require.Len(t, p.Joins, 1)
	assert.Equal(t, "join_fk_country", p.Joins[0].Alias)
	assert.Equal(t, "country", p.Joins[0].Table)

	sqlText := p.SelectSQL()
	assert.Contains(t, sqlText, `join_fk_country."code" AS "join_fk_country_code"`)
	assert.Contains(t, sqlText, `LEFT JOIN "public"."country" join_fk_country ON`)
	assert.Contains(t, sqlText, "IS NULL AND join_fk_country")
}

func TestBuildPlan_WhereFromConfig(t *testing.T) {
	cols := []catalog.Column{{Name: "id"}}
	eff := config.EffectiveConfig{Table: "widgets", FileStem: "widgets", Where: "active = true"}
	p, err := BuildPlan("public", "widgets", eff, cols, []string{"id"}, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, p.SelectSQL(), "WHERE active = true")
}

func TestPlan_CopySQL_WrapsSelect(t *testing.T) {
	cols := []catalog.Column{{Name: "id"}}
	p, err := BuildPlan("public", "widgets", config.ForTable("widgets"), cols, []string{"id"}, nil, nil)
	require.NoError(t, err)
	copySQL := p.CopySQL()
	assert.Contains(t, copySQL, "COPY (SELECT")
	assert.Contains(t, copySQL, "TO STDOUT WITH (FORMAT CSV, HEADER, ENCODING 'UTF8')")
}

func TestBuildPlan_OrderByOmitsReplacedIdentifierColumns(t *testing.T) {
	// When an identifier column is itself replaced by an alternate-key
	// path, it's no longer a "local" exported column and must not appear
	// in ORDER BY under its own name.
	cols := []catalog.Column{{Name: "country_id"}, {Name: "pop"}}
	fks := []catalog.ForeignKey{
		{Name: "fk_country", LocalColumns: []string{"country_id"}, ReferredSchema: "public", ReferredTable: "country", ReferredColumns: []string{"id"}},
	}
	lookup := func(table string) ([]string, bool) { return []string{"code"}, true }

	p, err := BuildPlan("public", "city", config.ForTable("city"), cols, []string{"country_id"}, fks, lookup)
	require.NoError(t, err)
	assert.Empty(t, p.OrderBy)
}
