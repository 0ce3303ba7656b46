package tagquery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"alertcore/internal/predicate"
)

type tags map[string]string

func (t tags) Attr(predicate.Field) string { return "" }
func (t tags) Num(predicate.Field) int64 { return 0 }
func (t tags) Tag(key string) (string, bool) {
	v, ok := t[key]
	return v, ok
}

func matches(t *testing.T, query string, record tags) bool {
	t.Helper()
	n, err := Compile(query)
	require.NoError(t, err)
	return predicate.Eval(n, record)
}

func TestPresenceAndAbsence(t *testing.T) {
	require.True(t, matches(t, "severity", tags{"severity": "anything"}))
	require.False(t, matches(t, "severity", tags{"other": "x"}))
	require.True(t, matches(t, "not severity", tags{"other": "x"}))
	require.False(t, matches(t, "not severity", tags{"severity": ""}))
}

func TestEquality(t *testing.T) {
	require.True(t, matches(t, "severity = 'High'", tags{"severity": "High"}))
	require.False(t, matches(t, "severity = 'High'", tags{"severity": "Higher"}))
	require.True(t, matches(t, "severity = '*'", tags{"severity": "whatever"}))
	require.False(t, matches(t, "severity = '*'", tags{"other": "x"}))
	require.True(t, matches(t, "severity = 'Hi.*'", tags{"severity": "High"}))
	require.True(t, matches(t, "severity = High", tags{"severity": "High"}))
	require.False(t, matches(t, "severity = Hi.*", tags{"severity": "High"}))
}

func TestNotEqualRequiresPresence(t *testing.T) {
	require.True(t, matches(t, "severity != 'High'", tags{"severity": "Low"}))
	require.False(t, matches(t, "severity != 'High'", tags{"severity": "High"}))
	require.False(t, matches(t, "severity != 'High'", tags{}))
}

func TestInAndNotIn(t *testing.T) {
	require.True(t, matches(t, "severity in ['Low','High']", tags{"severity": "Low"}))
	require.True(t, matches(t, "severity in ['Low','High']", tags{"severity": "High"}))
	require.False(t, matches(t, "severity in ['Low','High']", tags{"severity": "Medium"}))
	require.False(t, matches(t, "severity in ['Low','High']", tags{}))

	require.True(t, matches(t, "severity not in ['Low','High']", tags{"severity": "Medium"}))
	require.False(t, matches(t, "severity not in ['Low','High']", tags{"severity": "High"}))
	require.False(t, matches(t, "severity not in ['Low','High']", tags{}))

	require.True(t, matches(t, "severity in [Low, 'H.*']", tags{"severity": "Huge"}))
}

func TestNotInIsConjunctive(t *testing.T) {
	n, err := Resolve([]string{"env", "not", "in", "['a','b']"})
	require.NoError(t, err)
	and, ok := n.(predicate.And)
	require.True(t, ok)
	require.Len(t, and.Nodes, 3)
	require.Equal(t, predicate.TagExists{Key: "env"}, and.Nodes[0])
	require.IsType(t, predicate.Not{}, and.Nodes[1])
	require.IsType(t, predicate.Not{}, and.Nodes[2])
}

func TestBooleanComposition(t *testing.T) {
	q := "env = 'prod' and (team in ['a', 'b'] or not owner)"
	require.True(t, matches(t, q, tags{"env": "prod", "team": "a", "owner": "x"}))
	require.True(t, matches(t, q, tags{"env": "prod", "team": "z"}))
	require.False(t, matches(t, q, tags{"env": "prod", "team": "z", "owner": "x"}))
	require.False(t, matches(t, q, tags{"env": "dev", "team": "a"}))

	require.True(t, matches(t, "a or b and c", tags{"a": "1"}))
	require.False(t, matches(t, "(a or b) and c", tags{"a": "1"}))
	require.True(t, matches(t, "not (a or b)", tags{"c": "1"}))
	require.True(t, matches(t, "", tags{}))
}

func TestSyntaxErrors(t *testing.T) {
	for _, q := range []string{
		"severity = 'High",
		"severity in ['Low','High'",
		"severity in 'Low'",
		"severity in ['Low',]",
		"(severity",
		"severity and",
		"severity = ",
		"severity ! High",
		"severity = '('",
		"and",
		"a b",
	} {
		_, err := Compile(q)
		require.Error(t, err, q)
		require.True(t, errors.Is(err, ErrSyntax), q)
	}
}
