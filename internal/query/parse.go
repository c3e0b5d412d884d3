package query

import (
	"fmt"
	"strings"
)

// ParseCondition parses a single condition such as "identifier=oai:123"
// or "title~'a history*'". Values containing whitespace must be
// single-quoted; a doubled quote inside a quoted value is a literal quote.
func ParseCondition(s string) (Condition, error) {
	conds, err := ParseConditions(s)
	if err != nil {
		return Condition{}, err
	}
	if len(conds) != 1 {
		return Condition{}, fmt.Errorf("%w: expected one condition, got %d", ErrInvalidCondition, len(conds))
	}
	return conds[0], nil
}

// ParseConditions parses whitespace-separated conditions.
func ParseConditions(s string) ([]Condition, error) {
	var conds []Condition
	rest := strings.TrimSpace(s)
	for rest != "" {
		c, tail, err := parseOne(rest)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
		rest = strings.TrimSpace(tail)
	}
	return conds, nil
}

func parseOne(s string) (Condition, string, error) {
	i := 0
	for i < len(s) && isPropertyRune(rune(s[i])) {
		i++
	}
	if i == 0 {
		return Condition{}, "", fmt.Errorf("%w: missing property in %q", ErrInvalidCondition, s)
	}
	prop := s[:i]
	rest := s[i:]

	var op Operator
	for _, candidate := range operators {
		if strings.HasPrefix(rest, string(candidate)) {
			op = candidate
			break
		}
	}
	if op == "" {
		return Condition{}, "", fmt.Errorf("%w: missing operator after %q", ErrInvalidCondition, prop)
	}
	rest = rest[len(op):]

	value, tail, err := parseValue(rest)
	if err != nil {
		return Condition{}, "", fmt.Errorf("%w: %s: %v", ErrInvalidCondition, prop, err)
	}
	return Condition{Property: prop, Operator: op, Value: value}, tail, nil
}

func parseValue(s string) (value, tail string, err error) {
	if !strings.HasPrefix(s, "'") {
		end := strings.IndexAny(s, " \t\n")
		if end < 0 {
			return s, "", nil
		}
		return s[:end], s[end:], nil
	}

	var b strings.Builder
	for i := 1; i < len(s); i++ {
		if s[i] != '\'' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '\'' {
			b.WriteByte('\'')
			i++
			continue
		}
		return b.String(), s[i+1:], nil
	}
	return "", "", fmt.Errorf("unterminated quoted value")
}
