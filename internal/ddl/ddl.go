// Package ddl describes tables independently of a SQL dialect and converts
// those descriptions into CREATE statements.
//
// Table specs are YAML documents (a "dbspec") embedded by the packages that
// own the tables:
//
//	tables:
//	  - name: doIdentifiers
//	    columns:
//	      - name: pid
//	        type: varchar(64)
//	        notNull: true
//	        index: doIdentifiers_pid
//	      - name: dcIdentifier
//	        type: text
//	        notNull: true
//
// Every generated statement is idempotent (IF NOT EXISTS), so creating the
// tables of a spec twice is safe.
package ddl

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// TableSpec describes one table.
type TableSpec struct {
	Name       string       `yaml:"name"`
	PrimaryKey string       `yaml:"primaryKey,omitempty"`
	Columns    []ColumnSpec `yaml:"columns"`
}

// ColumnSpec describes one column. Type is a portable type name:
// varchar(N), text, int, bigint, smallint or bool.
type ColumnSpec struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	NotNull  bool   `yaml:"notNull,omitempty"`
	Default  string `yaml:"default,omitempty"`
	Index    string `yaml:"index,omitempty"`
	Unique   bool   `yaml:"unique,omitempty"`
	AutoIncr bool   `yaml:"autoIncrement,omitempty"`
}

type specFile struct {
	Tables []TableSpec `yaml:"tables"`
}

// ParseSpecs decodes a dbspec document and validates every table.
func ParseSpecs(data []byte) ([]TableSpec, error) {
	var f specFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse dbspec: %w", err)
	}
	if len(f.Tables) == 0 {
		return nil, fmt.Errorf("parse dbspec: no tables")
	}
	for _, t := range f.Tables {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Tables, nil
}

// Validate checks names are plain SQL identifiers, since they are
// interpolated into DDL.
func (t TableSpec) Validate() error {
	if !identPattern.MatchString(t.Name) {
		return fmt.Errorf("table %q: invalid name", t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %q: no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if !identPattern.MatchString(c.Name) {
			return fmt.Errorf("table %q: invalid column name %q", t.Name, c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %q: duplicate column %q", t.Name, c.Name)
		}
		seen[c.Name] = true
		if _, _, err := parseType(c.Type); err != nil {
			return fmt.Errorf("table %q column %q: %w", t.Name, c.Name, err)
		}
		if c.Index != "" && !identPattern.MatchString(c.Index) {
			return fmt.Errorf("table %q: invalid index name %q", t.Name, c.Index)
		}
	}
	if t.PrimaryKey != "" && !seen[t.PrimaryKey] {
		return fmt.Errorf("table %q: primary key %q is not a column", t.Name, t.PrimaryKey)
	}
	return nil
}

var typePattern = regexp.MustCompile(`^(varchar|text|int|bigint|smallint|bool)(?:\((\d+)\))?$`)

// parseType splits a portable type into its base name and optional size.
func parseType(s string) (base, size string, err error) {
	m := typePattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", fmt.Errorf("unsupported type %q", s)
	}
	if m[1] == "varchar" && m[2] == "" {
		return "", "", fmt.Errorf("varchar needs a size")
	}
	return m[1], m[2], nil
}
