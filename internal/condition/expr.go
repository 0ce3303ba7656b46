package condition

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"alertcore/internal/model"
)

// ExprEvaluator runs the alternate condition grammar.
type ExprEvaluator interface {
	Evaluate(e *model.Event, program string) (bool, error)
	Validate(program string) error
}

var DefaultExprEvaluator ExprEvaluator = NewExprLang()

// ExprLang evaluates expr-lang programs with the event exposed as
// tenantId, id, ctime, dataId, category, text, tags, facts and context.
type ExprLang struct {
	programs sync.Map
}

func NewExprLang() *ExprLang {
	return &ExprLang{}
}

func (x *ExprLang) compile(program string) (*vm.Program, error) {
	if p, ok := x.programs.Load(program); ok {
		return p.(*vm.Program), nil
	}
	p, err := expr.Compile(program, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, &ExpressionError{Expression: program, Reason: "compile", Err: err}
	}
	x.programs.Store(program, p)
	return p, nil
}

func (x *ExprLang) Validate(program string) error {
	_, err := x.compile(program)
	return err
}

// Evaluate returns a compile failure as an error. Runtime failures such as a
// comparison against a missing fact are a non-match.
func (x *ExprLang) Evaluate(e *model.Event, program string) (bool, error) {
	if e == nil {
		return false, nil
	}
	p, err := x.compile(program)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(p, eventEnv(e))
	if err != nil {
		return false, nil
	}
	b, ok := out.(bool)
	return ok && b, nil
}

func eventEnv(e *model.Event) map[string]any {
	tags := make(map[string]any, len(e.Tags))
	for k, v := range e.Tags {
		tags[k] = v
	}
	ctx := make(map[string]any, len(e.Context))
	for k, v := range e.Context {
		ctx[k] = v
	}
	return map[string]any{
		"tenantId": e.TenantID,
		"id":       e.ID,
		"ctime":    e.CTime,
		"dataId":   e.DataID,
		"category": e.Category,
		"text":     e.Text,
		"tags":     tags,
		"facts":    e.Facts.Values(),
		"context":  ctx,
	}
}
