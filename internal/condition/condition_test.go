package condition

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"alertcore/internal/model"
)

func testEvent() *model.Event {
	return &model.Event{
		TenantID: "tenant-a",
		ID:       "event-1",
		CTime:    1000,
		DataID:   "host-egress",
		Category: "insight_report",
		Text:     "host-egress report for web-01",
		Tags:     map[string]string{"k": ",test", "display_name": "web-01", "cores": "8"},
		Facts: model.Facts{
			"arch":   model.StringFact("x86_64"),
			"memory": model.NumberFact(16),
			"network_interfaces": model.MapFact(model.Facts{
				"eth0": model.MapFact(model.Facts{"mtu": model.StringFact("1500")}),
			}),
			"disks": model.ListFact(model.StringFact("sda")),
		},
	}
}

func match(t *testing.T, expression string) bool {
	t.Helper()
	c := NewEventCondition(Header{TenantID: "tenant-a", TriggerID: "t1"}, "host-egress", expression, "")
	ok, err := c.Match(testEvent())
	require.NoError(t, err)
	return ok
}

func TestEmptyExpressionMatches(t *testing.T) {
	require.True(t, match(t, ""))
	c := NewEventCondition(Header{}, "d", "", "")
	ok, err := c.Match(nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEventFields(t *testing.T) {
	require.True(t, match(t, "tenantId == 'tenant-a'"))
	require.True(t, match(t, "id != 'event-2'"))
	require.True(t, match(t, "ctime == 1000"))
	require.True(t, match(t, "ctime >= 1000"))
	require.False(t, match(t, "ctime == '1000'"))
	require.True(t, match(t, "category starts 'insight'"))
	require.True(t, match(t, "text ends 'web-01'"))
	require.True(t, match(t, "text contains 'report for'"))
	require.True(t, match(t, "text matches 'host-egress report .*'"))
	require.False(t, match(t, "text matches 'report'"))
	require.False(t, match(t, "tags.missing == 'x'"))
	require.False(t, match(t, "unknown == 'x'"))
	require.False(t, match(t, "text unknownop 'x'"))
}

func TestConstantWithSpaces(t *testing.T) {
	require.True(t, match(t, "text == 'host-egress report for web-01'"))
}

func TestEscapedComma(t *testing.T) {
	require.True(t, match(t, `tags.k == '\,test'`))
	require.Equal(t, []string{"a == 'x,y'", "b == 'z'"}, splitClauses(`a == 'x\,y', b == 'z'`))
}

func TestClausesAreConjunctive(t *testing.T) {
	require.True(t, match(t, "tenantId == 'tenant-a', category == 'insight_report'"))
	require.False(t, match(t, "tenantId == 'tenant-a', category == 'other'"))
	require.False(t, match(t, "tenantId == 'other', ctime == 1000"))
}

func TestNumericCoercionOfStringFields(t *testing.T) {
	require.True(t, match(t, "tags.cores > 4"))
	require.True(t, match(t, "tags.cores <= 8"))
	require.False(t, match(t, "tags.cores < 8"))
	require.False(t, match(t, "tags.display_name > 4"))
	require.False(t, match(t, "ctime > '4'"))
}

func TestFactsTraversal(t *testing.T) {
	require.True(t, match(t, "facts.arch == 'x86_64'"))
	require.True(t, match(t, "facts.network_interfaces.eth0.mtu == '1500'"))
	require.True(t, match(t, "facts.network_interfaces.eth0.mtu >= 1500"))
	require.False(t, match(t, "facts.memory == 16"))
	require.False(t, match(t, "facts.disks.0 == 'sda'"))
	require.True(t, match(t, "facts.arch.bits == 'x86_64'"))
	require.False(t, match(t, "facts.arch.bits == 'x'"))
	require.False(t, match(t, "facts.disks.0.name == 'sda'"))
	require.False(t, match(t, "facts.network_interfaces == 'x'"))
}

func TestUnmatchedQuoteFailsClause(t *testing.T) {
	require.False(t, match(t, "text == 'abc"))
	require.False(t, match(t, "text == abc'"))
}

func TestMalformedNumericConstantIsError(t *testing.T) {
	c := NewEventCondition(Header{}, "d", "ctime > abc", "")
	_, err := c.Match(testEvent())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidExpression))
	require.Error(t, c.Validate())

	missing := NewEventCondition(Header{}, "d", "tags.missing > abc", "")
	ok, err := missing.Match(testEvent())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDisplayString(t *testing.T) {
	c := NewEventCondition(Header{}, "host-egress", "text == 'a'", "")
	require.Equal(t, "host-egress matches [text == 'a']", c.DisplayString())
	c.SetExpression("")
	c.SetExpr("facts.arch == 'x'")
	require.Equal(t, "host-egress matches [facts.arch == 'x']", c.DisplayString())
}

func TestExprTakesPrecedence(t *testing.T) {
	c := NewEventCondition(Header{}, "d", "tenantId == 'nobody'", `facts.arch == "x86_64" && tags.display_name startsWith "web"`)
	require.NoError(t, c.Validate())
	ok, err := c.Match(testEvent())
	require.NoError(t, err)
	require.True(t, ok)

	bad := NewEventCondition(Header{}, "d", "", "facts.arch ==")
	require.True(t, errors.Is(bad.Validate(), ErrInvalidExpression))
}

func TestRateMatches(t *testing.T) {
	ok, err := RateMatches(60000, 130, 0, 100, Increasing, Minute, GT, 20)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = RateMatches(60000, 130, 0, 100, Increasing, Minute, GT, 40)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = RateMatches(60000, 90, 0, 100, Increasing, Minute, LT, 1000)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = RateMatches(60000, 90, 0, 100, Decreasing, Minute, GTE, 10)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = RateMatches(1000, 130, 1000, 100, Increasing, Minute, GT, 0)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = RateMatches(60000, 130, 0, 100, Increasing, Minute, Operator("EQ"), 20)
	require.True(t, errors.Is(err, ErrUnknownOperator))
}

func TestRateConditionDefaults(t *testing.T) {
	c := NewRateCondition(Header{}, "requests", "", "", GT, 20)
	require.Equal(t, Increasing, c.Direction())
	require.Equal(t, Minute, c.Period())
	require.Equal(t, "requests INCREASING GT 20.00 per MINUTE", c.DisplayString())
	rate, ok := c.Rate(3600000, 160, 0, 100)
	require.True(t, ok)
	require.InDelta(t, 1.0, rate, 1e-9)
}

func TestFromTrigger(t *testing.T) {
	trig := &model.Trigger{
		TenantID: "tenant-a",
		ID:       "t1",
		Conditions: []model.ConditionSpec{
			{Type: model.ConditionEvent, DataID: "d", Expression: "text == 'a'"},
			{Type: model.ConditionRate, DataID: "r", Operator: "gt", Threshold: 5},
			{Type: model.ConditionEvent, Mode: model.ModeAutoResolve, DataID: "d", Expression: "text == 'b'"},
		},
	}
	firing, err := FromTrigger(trig, model.ModeFiring)
	require.NoError(t, err)
	require.Len(t, firing, 2)
	require.Equal(t, 2, firing[1].Header().ConditionSetIndex)
	require.Equal(t, 2, firing[1].Header().ConditionSetSize)

	resolve, err := FromTrigger(trig, model.ModeAutoResolve)
	require.NoError(t, err)
	require.Len(t, resolve, 1)

	trig.Conditions = append(trig.Conditions, model.ConditionSpec{Type: model.ConditionRate, Operator: "EQ"})
	_, err = FromTrigger(trig, model.ModeFiring)
	require.True(t, errors.Is(err, ErrUnknownOperator))
}
