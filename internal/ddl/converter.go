package ddl

import (
	"fmt"
	"strings"
)

// Converter turns table specs into dialect-specific DDL.
type Converter interface {
	// Dialect names the SQL dialect ("sqlite", "postgres").
	Dialect() string

	// Convert returns the statements that create spec's table and indexes.
	Convert(spec TableSpec) []string

	// TableExistsQuery returns a query yielding a single count that is
	// non-zero when the table exists.
	TableExistsQuery(table string) (string, []any)
}

// ConverterFor returns the converter for a database/sql driver name.
func ConverterFor(driver string) (Converter, error) {
	switch driver {
	case "sqlite3":
		return SQLiteConverter{}, nil
	case "pgx":
		return PostgresConverter{}, nil
	default:
		return nil, fmt.Errorf("no DDL converter for driver %q", driver)
	}
}

// SQLiteConverter emits SQLite DDL.
type SQLiteConverter struct{}

func (SQLiteConverter) Dialect() string { return "sqlite" }

func (SQLiteConverter) Convert(spec TableSpec) []string {
	return convert(spec, func(c ColumnSpec) string {
		base, size, _ := parseType(c.Type)
		switch base {
		case "varchar":
			return "VARCHAR(" + size + ")"
		case "int", "bigint", "smallint":
			// AUTOINCREMENT requires exactly INTEGER.
			return "INTEGER"
		case "bool":
			return "BOOLEAN"
		default:
			return "TEXT"
		}
	}, func(c ColumnSpec, pk bool) string {
		if pk && c.AutoIncr {
			return " PRIMARY KEY AUTOINCREMENT"
		}
		if pk {
			return " PRIMARY KEY"
		}
		return ""
	})
}

func (SQLiteConverter) TableExistsQuery(table string) (string, []any) {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", []any{table}
}

// PostgresConverter emits PostgreSQL DDL.
type PostgresConverter struct{}

func (PostgresConverter) Dialect() string { return "postgres" }

func (PostgresConverter) Convert(spec TableSpec) []string {
	return convert(spec, func(c ColumnSpec) string {
		base, size, _ := parseType(c.Type)
		switch base {
		case "varchar":
			return "VARCHAR(" + size + ")"
		case "int":
			if c.AutoIncr {
				return "SERIAL"
			}
			return "INTEGER"
		case "bigint":
			if c.AutoIncr {
				return "BIGSERIAL"
			}
			return "BIGINT"
		case "smallint":
			return "SMALLINT"
		case "bool":
			return "BOOLEAN"
		default:
			return "TEXT"
		}
	}, func(c ColumnSpec, pk bool) string {
		if pk {
			return " PRIMARY KEY"
		}
		return ""
	})
}

func (PostgresConverter) TableExistsQuery(table string) (string, []any) {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1",
		[]any{strings.ToLower(table)}
}

// convert renders the shared CREATE TABLE / CREATE INDEX shape.
func convert(spec TableSpec, colType func(ColumnSpec) string, pkClause func(ColumnSpec, bool) string) []string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", spec.Name)
	for i, c := range spec.Columns {
		fmt.Fprintf(&b, "  %s %s", c.Name, colType(c))
		b.WriteString(pkClause(c, c.Name == spec.PrimaryKey))
		if c.NotNull && c.Name != spec.PrimaryKey {
			b.WriteString(" NOT NULL")
		}
		if c.Unique {
			b.WriteString(" UNIQUE")
		}
		if c.Default != "" {
			fmt.Fprintf(&b, " DEFAULT %s", c.Default)
		}
		if i < len(spec.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")

	stmts := []string{b.String()}
	for _, c := range spec.Columns {
		if c.Index == "" {
			continue
		}
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", c.Index, spec.Name, c.Name))
	}
	return stmts
}
