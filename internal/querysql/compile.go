package querysql

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/fsidx/internal/query"
)

// Dialect selects the bind-parameter syntax.
type Dialect int

const (
	// Question uses "?" placeholders (SQLite).
	Question Dialect = iota
	// Dollar uses "$1, $2, ..." placeholders (PostgreSQL).
	Dollar
)

// DialectFor returns the placeholder dialect for a database/sql driver name.
func DialectFor(driver string) Dialect {
	switch driver {
	case "pgx", "postgres":
		return Dollar
	default:
		return Question
	}
}

// List returns count comma-separated placeholders numbered from first.
func (d Dialect) List(first, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = d.Placeholder(first + i)
	}
	return strings.Join(parts, ", ")
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d Dialect) Placeholder(n int) string {
	if d == Dollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

var (
	// ErrUnknownProperty is returned when a condition names a property the
	// compiler has no column for.
	ErrUnknownProperty = errors.New("unknown property")

	// ErrUnordered is returned for a Select without an ORDER BY. Paged
	// results are only stable when every query is ordered.
	ErrUnordered = errors.New("query has no ORDER BY")
)

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
	orderPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*( (ASC|DESC))?$`)
)

// Select describes a single-table query.
type Select struct {
	From     string
	Columns  []string
	Distinct bool
	Where    []query.Condition
	OrderBy  []string
	// Limit and Offset are omitted when zero.
	Limit  int
	Offset int
}

// Attributes describes an entity-attribute-value table.
type Attributes struct {
	Table string
	Key   string
	Name  string
	Value string
}

// Compiler compiles conditions to parameterized SQL.
//
// Values are never interpolated: every value becomes a bind parameter.
// Identifiers are checked against a conservative pattern instead.
type Compiler struct {
	Dialect Dialect

	// Columns maps condition properties to column names. When nil, a
	// property names its column directly.
	Columns map[string]string

	// Attributes switches the compiler to an entity-attribute-value
	// table: each condition becomes a membership test against the rows
	// whose name column holds the (mapped) property.
	Attributes *Attributes

	// Wildcards makes CONTAINS values with '*' or '?' match the whole
	// column as a pattern. Without it, CONTAINS is always a literal
	// substring match.
	Wildcards bool
}

// NewCompiler creates a Compiler for d with identity column mapping.
func NewCompiler(d Dialect) *Compiler {
	return &Compiler{Dialect: d}
}

// Compile renders s as a SELECT statement and its parameters.
func (c *Compiler) Compile(s Select) (string, []any, error) {
	if len(s.OrderBy) == 0 {
		return "", nil, ErrUnordered
	}
	if err := checkIdents(append([]string{s.From}, s.Columns...)...); err != nil {
		return "", nil, err
	}
	for _, o := range s.OrderBy {
		if !orderPattern.MatchString(o) {
			return "", nil, fmt.Errorf("invalid ORDER BY term %q", o)
		}
	}
	if len(s.Columns) == 0 {
		return "", nil, fmt.Errorf("select from %s: no columns", s.From)
	}

	b := &builder{dialect: c.Dialect}
	b.sql.WriteString("SELECT ")
	if s.Distinct {
		b.sql.WriteString("DISTINCT ")
	}
	b.sql.WriteString(strings.Join(s.Columns, ", "))
	b.sql.WriteString(" FROM ")
	b.sql.WriteString(s.From)
	if err := c.where(b, s.Where); err != nil {
		return "", nil, err
	}
	b.sql.WriteString(" ORDER BY ")
	b.sql.WriteString(strings.Join(s.OrderBy, ", "))
	if s.Limit > 0 {
		b.sql.WriteString(" LIMIT ")
		b.sql.WriteString(b.bind(s.Limit))
	}
	if s.Offset > 0 {
		b.sql.WriteString(" OFFSET ")
		b.sql.WriteString(b.bind(s.Offset))
	}
	return b.sql.String(), b.params, nil
}

// Count renders a statement counting the rows s would return, ignoring
// its ordering and paging.
func (c *Compiler) Count(s Select) (string, []any, error) {
	if err := checkIdents(append([]string{s.From}, s.Columns...)...); err != nil {
		return "", nil, err
	}
	b := &builder{dialect: c.Dialect}
	if s.Distinct && len(s.Columns) > 0 {
		b.sql.WriteString("SELECT COUNT(DISTINCT ")
		b.sql.WriteString(strings.Join(s.Columns, ", "))
		b.sql.WriteString(") FROM ")
	} else {
		b.sql.WriteString("SELECT COUNT(*) FROM ")
	}
	b.sql.WriteString(s.From)
	if err := c.where(b, s.Where); err != nil {
		return "", nil, err
	}
	return b.sql.String(), b.params, nil
}

func (c *Compiler) where(b *builder, conds []query.Condition) error {
	for i, cond := range conds {
		if i == 0 {
			b.sql.WriteString(" WHERE ")
		} else {
			b.sql.WriteString(" AND ")
		}
		if err := c.condition(b, cond); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) condition(b *builder, cond query.Condition) error {
	col, err := c.column(cond.Property)
	if err != nil {
		return err
	}
	if a := c.Attributes; a != nil {
		if err := checkIdents(a.Table, a.Key, a.Name, a.Value); err != nil {
			return err
		}
		fmt.Fprintf(&b.sql, "%s IN (SELECT %s FROM %s WHERE %s = %s AND ", a.Key, a.Key, a.Table, a.Name, b.bind(col))
		if err := c.predicate(b, a.Value, cond); err != nil {
			return err
		}
		b.sql.WriteString(")")
		return nil
	}
	return c.predicate(b, col, cond)
}

func (c *Compiler) predicate(b *builder, col string, cond query.Condition) error {
	switch cond.Operator {
	case query.Equals, query.LessThan, query.LessOrEqual, query.GreaterThan, query.GreaterOrEqual:
		fmt.Fprintf(&b.sql, "%s %s %s", col, cond.Operator, b.bind(cond.Value))
	case query.Contains:
		pattern := ContainsPattern(cond.Value)
		if c.Wildcards && cond.HasWildcard() {
			pattern = WildcardPattern(cond.Value)
		}
		fmt.Fprintf(&b.sql, "LOWER(%s) LIKE %s ESCAPE '\\'", col, b.bind(strings.ToLower(pattern)))
	default:
		return fmt.Errorf("%w: unsupported operator %q", query.ErrInvalidCondition, cond.Operator)
	}
	return nil
}

func (c *Compiler) column(property string) (string, error) {
	col := property
	if c.Columns != nil {
		mapped, ok := c.Columns[property]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownProperty, property)
		}
		col = mapped
	}
	if err := checkIdents(col); err != nil {
		return "", err
	}
	return col, nil
}

// EscapeLike escapes the LIKE meta-characters '%' and '_' and the escape
// character '\' itself.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ContainsPattern returns a LIKE pattern matching s as a literal substring.
func ContainsPattern(s string) string {
	return "%" + EscapeLike(s) + "%"
}

// WildcardPattern returns a LIKE pattern where '*' matches any run of
// characters and '?' matches exactly one. Everything else is literal.
func WildcardPattern(s string) string {
	escaped := EscapeLike(s)
	return strings.NewReplacer("*", "%", "?", "_").Replace(escaped)
}

func checkIdents(names ...string) error {
	for _, n := range names {
		if !identPattern.MatchString(n) {
			return fmt.Errorf("invalid SQL identifier %q", n)
		}
	}
	return nil
}

type builder struct {
	dialect Dialect
	sql     strings.Builder
	params  []any
}

func (b *builder) bind(v any) string {
	b.params = append(b.params, v)
	return b.dialect.Placeholder(len(b.params))
}
