package cmd

import (
	"testing"

	"github.com/pgschema/pgmerge/internal/config"
	"github.com/stretchr/testify/require"
)

func TestEffectiveFilesForTable_NoConfig(t *testing.T) {
	files := effectiveFilesForTable(map[string]config.EffectiveConfig{}, "orders")
	require.Equal(t, []config.EffectiveConfig{{Table: "orders", FileStem: "orders"}}, files)
}

func TestEffectiveFilesForTable_WithSubsets(t *testing.T) {
	cfg := config.TableConfigMap{
		"orders": {
			Subsets: []config.SubsetConfig{
				{Name: "orders_recent", Where: "created_at > now() - interval '7 days'"},
				{Name: "orders_archived", Where: "archived = true"},
			},
		},
	}
	expanded := config.ExpandSubsets(cfg)

	files := effectiveFilesForTable(expanded, "orders")
	require.Len(t, files, 3)

	var stems []string
	for _, f := range files {
		stems = append(stems, f.FileStem)
		require.Equal(t, "orders", f.Table)
	}
	require.ElementsMatch(t, []string{"orders", "orders_recent", "orders_archived"}, stems)
}

func TestEffectiveFilesForTable_PlainTableWithConfigButNoSubsets(t *testing.T) {
	cfg := config.TableConfigMap{
		"orders": {AlternateKey: []string{"order_number"}},
	}
	expanded := config.ExpandSubsets(cfg)

	files := effectiveFilesForTable(expanded, "orders")
	require.Equal(t, []config.EffectiveConfig{
		{Table: "orders", FileStem: "orders", AlternateKey: []string{"order_number"}},
	}, files)
}
