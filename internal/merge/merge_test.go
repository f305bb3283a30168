package merge

import (
	"testing"

	"github.com/pgschema/pgmerge/internal/catalog"
	"github.com/pgschema/pgmerge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPreconditions_NoIdentifier(t *testing.T) {
	in := Input{Table: "widgets"}
	err := checkPreconditions(in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no primary key")
}

func TestCheckPreconditions_ConfiguredColumnDoesNotExist(t *testing.T) {
	in := Input{
		Table:       "widgets",
		Identifiers: []string{"id"},
		Columns:     []catalog.Column{{Name: "id"}, {Name: "name"}},
		Effective:   config.EffectiveConfig{Columns: []string{"id", "bogus"}},
	}
	err := checkPreconditions(in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "do not exist")
}

func TestCheckPreconditions_ConfiguredColumnsMissingIdentifier(t *testing.T) {
	in := Input{
		Table:       "widgets",
		Identifiers: []string{"id"},
		Columns:     []catalog.Column{{Name: "id"}, {Name: "name"}},
		Effective:   config.EffectiveConfig{Columns: []string{"name"}},
	}
	err := checkPreconditions(in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "do not include required id columns")
}

func TestCheckPreconditions_Valid(t *testing.T) {
	in := Input{
		Table:       "widgets",
		Identifiers: []string{"id"},
		Columns:     []catalog.Column{{Name: "id"}, {Name: "name"}},
	}
	require.NoError(t, checkPreconditions(in))
}

func TestNullSafeEquality_Shape(t *testing.T) {
	expr := nullSafeEquality("f", "d", []string{"id", "name"})
	assert.Contains(t, expr, `(f."id" = d."id")`)
	assert.Contains(t, expr, `f."id" IS NULL AND d."id" IS NULL`)
	assert.Contains(t, expr, `(f."name" = d."name")`)
}

func TestTempTableNames(t *testing.T) {
	assert.Equal(t, "_tmp_copy_widgets", CopyRawName("widgets"))
	assert.Equal(t, "_tmp_final_widgets", FinalName("widgets"))
}
