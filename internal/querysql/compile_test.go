package querysql

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fsidx/internal/query"
)

func eq(prop, v string) query.Condition {
	return query.Condition{Property: prop, Operator: query.Equals, Value: v}
}

func contains(prop, v string) query.Condition {
	return query.Condition{Property: prop, Operator: query.Contains, Value: v}
}

func TestCompile_Equals(t *testing.T) {
	c := NewCompiler(Question)
	stmt, params, err := c.Compile(Select{
		From:     "doIdentifiers",
		Columns:  []string{"pid"},
		Distinct: true,
		Where:    []query.Condition{eq("dcIdentifier", "oai:123")},
		OrderBy:  []string{"pid"},
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT DISTINCT pid FROM doIdentifiers WHERE dcIdentifier = ? ORDER BY pid", stmt)
	assert.Equal(t, []any{"oai:123"}, params)
	assert.NotContains(t, stmt, "oai:123")
}

func TestCompile_DollarPlaceholders(t *testing.T) {
	c := NewCompiler(Dollar)
	stmt, params, err := c.Compile(Select{
		From:    "doFields",
		Columns: []string{"pid", "title"},
		Where:   []query.Condition{eq("pid", "demo:1"), {Property: "date", Operator: query.GreaterOrEqual, Value: "2001"}},
		OrderBy: []string{"pid ASC"},
		Limit:   10,
		Offset:  20,
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT pid, title FROM doFields WHERE pid = $1 AND date >= $2 ORDER BY pid ASC LIMIT $3 OFFSET $4", stmt)
	assert.Equal(t, []any{"demo:1", "2001", 10, 20}, params)
}

func TestCompile_Contains(t *testing.T) {
	tests := []struct {
		name      string
		wildcards bool
		value     string
		want      string
	}{
		{"literal substring", false, "Oai:1", "%oai:1%"},
		{"meta characters escaped", false, `50%_off\`, `%50\%\_off\\%`},
		{"wildcards ignored when disabled", false, "oai:1*", "%oai:1*%"},
		{"star and question translated", true, "oai:?2*", "oai:_2%"},
		{"no wildcard stays substring", true, "oai", "%oai%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Compiler{Dialect: Question, Wildcards: tt.wildcards}
			stmt, params, err := c.Compile(Select{
				From:    "t",
				Columns: []string{"pid"},
				Where:   []query.Condition{contains("v", tt.value)},
				OrderBy: []string{"pid"},
			})
			require.NoError(t, err)
			assert.Contains(t, stmt, `LOWER(v) LIKE ? ESCAPE '\'`)
			assert.Equal(t, []any{tt.want}, params)
		})
	}
}

func TestCompile_ColumnMapping(t *testing.T) {
	c := &Compiler{Dialect: Question, Columns: map[string]string{"identifier": "dcIdentifier"}}

	stmt, _, err := c.Compile(Select{
		From:    "doIdentifiers",
		Columns: []string{"pid"},
		Where:   []query.Condition{eq("identifier", "x")},
		OrderBy: []string{"pid"},
	})
	require.NoError(t, err)
	assert.Contains(t, stmt, "WHERE dcIdentifier = ?")

	_, _, err = c.Compile(Select{
		From:    "doIdentifiers",
		Columns: []string{"pid"},
		Where:   []query.Condition{eq("title", "x")},
		OrderBy: []string{"pid"},
	})
	assert.ErrorIs(t, err, ErrUnknownProperty)
}

func TestCompile_Rejects(t *testing.T) {
	c := NewCompiler(Question)
	tests := []struct {
		name string
		sel  Select
	}{
		{"no order", Select{From: "t", Columns: []string{"pid"}}},
		{"no columns", Select{From: "t", OrderBy: []string{"pid"}}},
		{"bad table", Select{From: "t; DROP TABLE x", Columns: []string{"pid"}, OrderBy: []string{"pid"}}},
		{"bad order", Select{From: "t", Columns: []string{"pid"}, OrderBy: []string{"pid; --"}}},
		{"bad property", Select{From: "t", Columns: []string{"pid"}, OrderBy: []string{"pid"},
			Where: []query.Condition{eq("a b", "x")}}},
		{"bad operator", Select{From: "t", Columns: []string{"pid"}, OrderBy: []string{"pid"},
			Where: []query.Condition{{Property: "a", Operator: "!=", Value: "x"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := c.Compile(tt.sel)
			assert.Error(t, err)
		})
	}

	_, _, err := c.Compile(Select{From: "t", Columns: []string{"pid"}})
	assert.ErrorIs(t, err, ErrUnordered)
}

func TestCount(t *testing.T) {
	c := NewCompiler(Question)
	stmt, params, err := c.Count(Select{
		From:     "doFields",
		Columns:  []string{"pid"},
		Distinct: true,
		Where:    []query.Condition{eq("title", "x")},
		OrderBy:  []string{"pid"},
		Limit:    5,
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(DISTINCT pid) FROM doFields WHERE title = ?", stmt)
	assert.Equal(t, []any{"x"}, params)
}

func TestDialectFor(t *testing.T) {
	assert.Equal(t, Question, DialectFor("sqlite3"))
	assert.Equal(t, Dollar, DialectFor("pgx"))
}

// TestLikePatterns_AgainstSQLite checks the generated patterns match the
// rows they should and only those.
func TestLikePatterns_AgainstSQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	_, err = db.Exec("CREATE TABLE t (pid TEXT, v TEXT)")
	require.NoError(t, err)
	for _, row := range [][2]string{
		{"a", "oai:123"},
		{"b", "oai:1x3"},
		{"c", "50% off"},
		{"d", "500 off"},
		{"e", "OAI:124"},
	} {
		_, err = db.Exec("INSERT INTO t VALUES (?, ?)", row[0], row[1])
		require.NoError(t, err)
	}

	find := func(c *Compiler, cond query.Condition) []string {
		stmt, params, err := c.Compile(Select{
			From:    "t",
			Columns: []string{"pid"},
			Where:   []query.Condition{cond},
			OrderBy: []string{"pid"},
		})
		require.NoError(t, err)
		rows, err := db.Query(stmt, params...)
		require.NoError(t, err)
		defer rows.Close()
		var out []string
		for rows.Next() {
			var pid string
			require.NoError(t, rows.Scan(&pid))
			out = append(out, pid)
		}
		require.NoError(t, rows.Err())
		return out
	}

	literal := NewCompiler(Question)
	wild := &Compiler{Dialect: Question, Wildcards: true}

	assert.Equal(t, []string{"c"}, find(literal, contains("v", "0%")))
	assert.Equal(t, []string{"a", "e"}, find(literal, contains("v", "oai:12")))
	assert.Equal(t, []string{"a", "b"}, find(wild, contains("v", "oai:1?3")))
	assert.Equal(t, []string{"a", "b", "e"}, find(wild, contains("v", "oai:*")))
	assert.Equal(t, []string{"a"}, find(literal, eq("v", "oai:123")))
}

func TestDialect_Placeholder(t *testing.T) {
	assert.Equal(t, "?", Question.Placeholder(3))
	assert.Equal(t, "$3", Dollar.Placeholder(3))
}

func TestDialect_List(t *testing.T) {
	assert.Equal(t, "?, ?, ?", Question.List(1, 3))
	assert.Equal(t, "$2, $3", Dollar.List(2, 2))
	assert.Equal(t, "", Dollar.List(1, 0))
}

func TestCompile_Attributes(t *testing.T) {
	c := &Compiler{
		Dialect:    Dollar,
		Columns:    map[string]string{"title": "title", "pid": "pid"},
		Attributes: &Attributes{Table: "doFields", Key: "pid", Name: "field", Value: "value"},
	}
	stmt, params, err := c.Compile(Select{
		From:     "doFields",
		Columns:  []string{"pid"},
		Distinct: true,
		Where:    []query.Condition{eq("title", "x"), contains("pid", "demo")},
		OrderBy:  []string{"pid"},
		Limit:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT DISTINCT pid FROM doFields"+
		" WHERE pid IN (SELECT pid FROM doFields WHERE field = $1 AND value = $2)"+
		" AND pid IN (SELECT pid FROM doFields WHERE field = $3 AND LOWER(value) LIKE $4 ESCAPE '\\')"+
		" ORDER BY pid LIMIT $5", stmt)
	assert.Equal(t, []any{"title", "x", "pid", "%demo%", 2}, params)

	_, _, err = c.Compile(Select{
		From: "doFields", Columns: []string{"pid"}, OrderBy: []string{"pid"},
		Where: []query.Condition{eq("creator", "x")},
	})
	assert.ErrorIs(t, err, ErrUnknownProperty)
}
