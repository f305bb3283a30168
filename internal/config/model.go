// Package config loads and validates the per-table YAML configuration
// (spec.md §3, §4.3): column subsets, alternate keys, row filters, and
// named subsets, cross-checked against the live schema.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/pgschema/pgmerge/internal/merrors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/table_config.schema.json
var schemaDoc []byte

// SubsetConfig is one named slice of a table with its own filter and
// independent CSV file, inheriting its parent table's config.
type SubsetConfig struct {
	Name         string   `yaml:"name"`
	Where        string   `yaml:"where,omitempty"`
	Columns      []string `yaml:"columns,omitempty"`
	AlternateKey []string `yaml:"alternate_key,omitempty"`
}

// TableConfig is the optional per-table configuration of spec.md §3.
type TableConfig struct {
	Columns      []string       `yaml:"columns,omitempty"`
	AlternateKey []string       `yaml:"alternate_key,omitempty"`
	Where        string         `yaml:"where,omitempty"`
	Subsets      []SubsetConfig `yaml:"subsets,omitempty"`
}

// TableConfigMap is the parsed configuration file: table name -> config.
type TableConfigMap map[string]TableConfig

// Load parses the YAML configuration file at path and validates its shape
// against the bundled JSON schema. It does not cross-check against a live
// schema — that's Validate's job.
func Load(path string) (TableConfigMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse validates and unmarshals raw YAML config bytes. Exported
// separately from Load so callers (and tests) can supply config inline.
func Parse(raw []byte) (TableConfigMap, error) {
	if err := validateShape(raw); err != nil {
		return nil, err
	}

	var cfg TableConfigMap
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &merrors.ConfigInvalid{Msg: fmt.Sprintf("parsing YAML: %v", err)}
	}
	if cfg == nil {
		cfg = TableConfigMap{}
	}
	return cfg, nil
}

// validateShape checks the raw document against the bundled JSON schema.
// YAML is decoded into a generic interface{} tree (not unmarshaled into
// TableConfigMap) because jsonschema validates against plain JSON-shaped
// data, not Go structs.
func validateShape(raw []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("table_config.schema.json", bytes.NewReader(schemaDoc)); err != nil {
		return fmt.Errorf("loading bundled config schema: %w", err)
	}
	schema, err := compiler.Compile("table_config.schema.json")
	if err != nil {
		return fmt.Errorf("compiling bundled config schema: %w", err)
	}

	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return &merrors.ConfigInvalid{Msg: fmt.Sprintf("parsing YAML: %v", err)}
	}
	doc = normalizeForJSONSchema(doc)

	if err := schema.Validate(doc); err != nil {
		return &merrors.ConfigInvalid{Msg: fmt.Sprintf("config does not match schema: %v", err)}
	}
	return nil
}

// normalizeForJSONSchema converts the map[string]interface{}/[]interface{}
// tree yaml.v3 produces (keys can come back as interface{} for some
// nested forms) into the map[string]interface{} shape the jsonschema
// package expects.
func normalizeForJSONSchema(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			out[k] = normalizeForJSONSchema(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			out[fmt.Sprint(k)] = normalizeForJSONSchema(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, val := range vv {
			out[i] = normalizeForJSONSchema(val)
		}
		return out
	default:
		return v
	}
}
