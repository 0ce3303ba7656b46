package condition

import (
	"fmt"
	"strconv"
	"strings"

	"alertcore/internal/model"
	"alertcore/internal/predicate"
)

// EventCondition matches events against either a comma separated list of
// "<field> <operator> <constant>" clauses or an expr program. Expr wins when both are set.
type EventCondition struct {
	header     Header
	dataID     string
	expression string
	expr       string
	display    string

	// Evaluator runs expr programs; DefaultExprEvaluator when nil.
	Evaluator ExprEvaluator
}

func NewEventCondition(h Header, dataID, expression, expr string) *EventCondition {
	if h.Mode == "" {
		h.Mode = model.ModeFiring
	}
	c := &EventCondition{header: h, dataID: dataID, expression: expression, expr: expr}
	c.updateDisplayString()
	return c
}

func (c *EventCondition) Header() Header            { return c.header }
func (c *EventCondition) Type() model.ConditionType { return model.ConditionEvent }
func (c *EventCondition) DataID() string            { return c.dataID }
func (c *EventCondition) Expression() string        { return c.expression }
func (c *EventCondition) Expr() string              { return c.expr }
func (c *EventCondition) DisplayString() string     { return c.display }

func (c *EventCondition) SetExpression(expression string) {
	c.expression = expression
	c.updateDisplayString()
}

func (c *EventCondition) SetExpr(expr string) {
	c.expr = expr
	c.updateDisplayString()
}

func (c *EventCondition) updateDisplayString() {
	cond := c.expression
	if cond == "" {
		cond = c.expr
	}
	c.display = fmt.Sprintf("%s matches [%s]", c.dataID, cond)
}

func (c *EventCondition) evaluator() ExprEvaluator {
	if c.Evaluator != nil {
		return c.Evaluator
	}
	return DefaultExprEvaluator
}

// Validate compiles expr and checks every unquoted constant of expression is a number.
func (c *EventCondition) Validate() error {
	if c.expr != "" {
		return c.evaluator().Validate(c.expr)
	}
	for _, clause := range splitClauses(c.expression) {
		tokens := strings.Split(clause, " ")
		if len(tokens) < 3 {
			continue
		}
		constant := strings.Join(tokens[2:], " ")
		if _, _, _, err := parseConstant(constant); err != nil {
			return err
		}
	}
	return nil
}

// Match reports whether e satisfies every clause. A malformed numeric constant
// is returned as an error; every other mismatch is just false.
func (c *EventCondition) Match(e *model.Event) (bool, error) {
	if e == nil {
		return false, nil
	}
	if c.expression == "" && c.expr == "" {
		return true, nil
	}
	if c.expr != "" {
		return c.evaluator().Evaluate(e, c.expr)
	}
	for _, clause := range splitClauses(c.expression) {
		ok, err := matchClause(clause, e)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// splitClauses splits on commas not preceded by a backslash, then unescapes "\,".
func splitClauses(expression string) []string {
	var out []string
	start := 0
	for i := 0; i < len(expression); i++ {
		if expression[i] == ',' && (i == 0 || expression[i-1] != '\\') {
			out = append(out, cleanClause(expression[start:i]))
			start = i + 1
		}
	}
	return append(out, cleanClause(expression[start:]))
}

func cleanClause(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), `\,`, ",")
}

type fieldValue struct {
	str    string
	num    int64
	hasStr bool
	hasNum bool
}

func resolveField(field string, e *model.Event) fieldValue {
	switch {
	case field == "tenantId":
		return fieldValue{str: e.TenantID, hasStr: true}
	case field == "id":
		return fieldValue{str: e.ID, hasStr: true}
	case field == "ctime":
		return fieldValue{num: e.CTime, hasNum: true}
	case field == "text":
		return fieldValue{str: e.Text, hasStr: true}
	case field == "category":
		return fieldValue{str: e.Category, hasStr: true}
	case strings.HasPrefix(field, "tags."):
		v, ok := e.Tags[strings.TrimPrefix(field, "tags.")]
		return fieldValue{str: v, hasStr: ok}
	case strings.HasPrefix(field, "facts."):
		f, ok := e.Facts.Lookup(strings.Split(strings.TrimPrefix(field, "facts."), "."))
		if !ok || f.Kind != model.FactString {
			return fieldValue{}
		}
		return fieldValue{str: f.Str, hasStr: true}
	}
	return fieldValue{}
}

type constKind int

const (
	constInvalid constKind = iota
	constString
	constNumber
)

// parseConstant classifies a clause constant. A constant with an unmatched
// quote is invalid; an unquoted constant that is not a number is an error.
func parseConstant(constant string) (constKind, string, float64, error) {
	if constant == "" {
		return constInvalid, "", 0, &ExpressionError{Expression: constant, Reason: "empty constant"}
	}
	leading := constant[0] == '\''
	trailing := len(constant) > 1 && constant[len(constant)-1] == '\''
	switch {
	case leading && trailing:
		return constString, constant[1 : len(constant)-1], 0, nil
	case leading || constant[len(constant)-1] == '\'':
		return constInvalid, "", 0, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(constant), 64)
	if err != nil {
		return constInvalid, "", 0, &ExpressionError{Expression: constant, Reason: "malformed numeric constant", Err: err}
	}
	return constNumber, "", f, nil
}

func matchClause(clause string, e *model.Event) (bool, error) {
	tokens := strings.Split(clause, " ")
	if len(tokens) < 3 || tokens[0] == "" {
		return false, nil
	}
	field, op := tokens[0], tokens[1]
	constant := strings.Join(tokens[2:], " ")

	fv := resolveField(field, e)
	if !fv.hasStr && !fv.hasNum {
		return false, nil
	}
	kind, sConst, dConst, err := parseConstant(constant)
	if err != nil {
		return false, err
	}
	if kind == constInvalid {
		return false, nil
	}
	quoted := kind == constString

	switch op {
	case "==", "!=":
		var eq bool
		switch {
		case fv.hasStr && quoted:
			eq = fv.str == sConst
		case fv.hasNum && !quoted:
			eq = float64(fv.num) == dConst
		default:
			return false, nil
		}
		if op == "==" {
			return eq, nil
		}
		return !eq, nil
	case "starts", "ends", "contains", "matches":
		if !fv.hasStr || !quoted {
			return false, nil
		}
		switch op {
		case "starts":
			return strings.HasPrefix(fv.str, sConst), nil
		case "ends":
			return strings.HasSuffix(fv.str, sConst), nil
		case "contains":
			return strings.Contains(fv.str, sConst), nil
		}
		re, err := predicate.Anchored(sConst)
		if err != nil {
			return false, nil
		}
		return re.MatchString(fv.str), nil
	case "<", "<=", ">", ">=":
		if quoted {
			return false, nil
		}
		v := float64(fv.num)
		if fv.hasStr {
			parsed, err := strconv.ParseFloat(strings.TrimSpace(fv.str), 64)
			if err != nil {
				return false, nil
			}
			v = parsed
		}
		c := dConst
		switch op {
		case "<":
			return v < c, nil
		case "<=":
			return v <= c, nil
		case ">":
			return v > c, nil
		}
		return v >= c, nil
	}
	return false, nil
}
