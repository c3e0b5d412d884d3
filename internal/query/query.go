// Package query models field-search queries: an ordered list of
// conditions plus the result fields a caller wants back.
//
// Conditions are written as property, operator, value:
//
//	identifier=oai:123
//	title~*history*
//	date>=2001-01-01
//
// The package only checks structure. Whether a property is known to a
// particular engine is decided by that engine.
package query

import (
	"errors"
	"fmt"
	"strings"
)

// Well-known field names.
const (
	// FieldPID is the object identity field.
	FieldPID = "pid"

	// FieldIdentifier is the descriptor identifier field served by the
	// identifier index.
	FieldIdentifier = "identifier"
)

// ErrInvalidCondition is wrapped by every condition parse or validation
// failure.
var ErrInvalidCondition = errors.New("invalid condition")

// Operator is a condition's comparison operator.
type Operator string

const (
	Equals         Operator = "="
	Contains       Operator = "~"
	LessThan       Operator = "<"
	LessOrEqual    Operator = "<="
	GreaterThan    Operator = ">"
	GreaterOrEqual Operator = ">="
)

// operators is ordered longest first so that "<=" wins over "<" when
// scanning a condition string.
var operators = []Operator{LessOrEqual, GreaterOrEqual, Equals, Contains, LessThan, GreaterThan}

// Valid reports whether o is a supported operator.
func (o Operator) Valid() bool {
	for _, op := range operators {
		if o == op {
			return true
		}
	}
	return false
}

// Name returns the operator's symbolic name, used in logs and metrics.
func (o Operator) Name() string {
	switch o {
	case Equals:
		return "EQUALS"
	case Contains:
		return "CONTAINS"
	case LessThan:
		return "LESS_THAN"
	case LessOrEqual:
		return "LESS_OR_EQUAL"
	case GreaterThan:
		return "GREATER_THAN"
	case GreaterOrEqual:
		return "GREATER_OR_EQUAL"
	default:
		return "UNKNOWN"
	}
}

// Condition is a single property/operator/value test.
type Condition struct {
	Property string
	Operator Operator
	Value    string
}

// String renders the condition in the form ParseCondition accepts.
func (c Condition) String() string {
	v := c.Value
	if v == "" || strings.ContainsAny(v, " \t'") {
		v = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return c.Property + string(c.Operator) + v
}

// HasWildcard reports whether the value contains a wildcard
// meta-character ('*' or '?').
func (c Condition) HasWildcard() bool {
	return HasWildcard(c.Value)
}

// HasWildcard reports whether s contains '*' or '?'.
func HasWildcard(s string) bool {
	return strings.ContainsAny(s, "*?")
}

// Validate checks the condition's structure.
func (c Condition) Validate() error {
	if c.Property == "" {
		return fmt.Errorf("%w: empty property", ErrInvalidCondition)
	}
	for _, r := range c.Property {
		if !isPropertyRune(r) {
			return fmt.Errorf("%w: property %q contains %q", ErrInvalidCondition, c.Property, r)
		}
	}
	if !c.Operator.Valid() {
		return fmt.Errorf("%w: unsupported operator %q", ErrInvalidCondition, c.Operator)
	}
	return nil
}

// Query is an ordered list of conditions. All conditions must hold.
type Query struct {
	Conditions []Condition
}

// New returns a query over conds.
func New(conds ...Condition) Query {
	return Query{Conditions: conds}
}

// Validate checks every condition, reporting the first failure with its
// position.
func (q Query) Validate() error {
	for i, c := range q.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

// String renders the query as space-separated conditions.
func (q Query) String() string {
	parts := make([]string, len(q.Conditions))
	for i, c := range q.Conditions {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

func isPropertyRune(r rune) bool {
	return r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}
