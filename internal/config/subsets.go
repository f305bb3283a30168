package config

// EffectiveConfig is the fully resolved, file-level configuration for one
// CSV file — either a plain table or an expanded subset — after merging a
// subset's overrides onto its parent.
type EffectiveConfig struct {
	Table        string // the real table this file maps to
	FileStem     string // CSV filename stem: table name, or subset name
	Columns      []string
	AlternateKey []string
	Where        string
}

// ExpandSubsets produces, for every table and every subset it declares, a
// fully resolved EffectiveConfig: the parent merged with the subset's
// overrides (subset keys win), per spec.md §4.3. Plain tables with no
// subsets get a single EffectiveConfig equal to their own config.
func ExpandSubsets(cfg TableConfigMap) map[string]EffectiveConfig {
	out := make(map[string]EffectiveConfig, len(cfg))

	for table, tc := range cfg {
		out[table] = EffectiveConfig{
			Table:        table,
			FileStem:     table,
			Columns:      tc.Columns,
			AlternateKey: tc.AlternateKey,
			Where:        tc.Where,
		}

		for _, s := range tc.Subsets {
			eff := EffectiveConfig{
				Table:        table,
				FileStem:     s.Name,
				Columns:      tc.Columns,
				AlternateKey: tc.AlternateKey,
				Where:        tc.Where,
			}
			if len(s.Columns) > 0 {
				eff.Columns = s.Columns
			}
			if len(s.AlternateKey) > 0 {
				eff.AlternateKey = s.AlternateKey
			}
			if s.Where != "" {
				eff.Where = s.Where
			}
			out[s.Name] = eff
		}
	}

	return out
}

// ForTable returns the effective config for a plain table that has no
// entry in cfg at all — i.e. a table with no configuration, exported and
// imported using every column and the primary key as identifier.
func ForTable(table string) EffectiveConfig {
	return EffectiveConfig{Table: table, FileStem: table}
}
