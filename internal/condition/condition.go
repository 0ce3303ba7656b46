// Package condition evaluates trigger conditions against incoming events and data.
package condition

import (
	"errors"
	"fmt"
	"time"

	"alertcore/internal/model"
)

var (
	ErrInvalidExpression = errors.New("invalid condition expression")
	ErrUnknownOperator   = errors.New("unknown operator")
	ErrUnknownType       = errors.New("unknown condition type")
)

// ExpressionError reports a malformed constant or expr program.
type ExpressionError struct {
	Expression string
	Reason     string
	Err        error
}

func (e *ExpressionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("expression %q: %s: %v", e.Expression, e.Reason, e.Err)
	}
	return fmt.Sprintf("expression %q: %s", e.Expression, e.Reason)
}

func (e *ExpressionError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidExpression, e.Err}
	}
	return []error{ErrInvalidExpression}
}

// Header identifies a condition inside its trigger.
type Header struct {
	TenantID          string
	TriggerID         string
	Mode              model.Mode
	ConditionSetSize  int
	ConditionSetIndex int
}

type Condition interface {
	Header() Header
	Type() model.ConditionType
	DataID() string
	DisplayString() string
	Validate() error
}

// FromTrigger builds the conditions of t for mode, numbered within that mode's set.
func FromTrigger(t *model.Trigger, mode model.Mode) ([]Condition, error) {
	specs := t.ConditionsFor(mode)
	out := make([]Condition, 0, len(specs))
	for i, spec := range specs {
		h := Header{
			TenantID:          t.TenantID,
			TriggerID:         t.ID,
			Mode:              mode,
			ConditionSetSize:  len(specs),
			ConditionSetIndex: i + 1,
		}
		c, err := FromSpec(h, spec)
		if err != nil {
			return nil, fmt.Errorf("trigger %s condition %d: %w", t.ID, i+1, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func FromSpec(h Header, spec model.ConditionSpec) (Condition, error) {
	switch spec.Type {
	case model.ConditionEvent, "":
		c := NewEventCondition(h, spec.DataID, spec.Expression, spec.Expr)
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return c, nil
	case model.ConditionRate:
		dir, err := ParseDirection(spec.Direction)
		if err != nil {
			return nil, err
		}
		period, err := ParsePeriod(spec.Period)
		if err != nil {
			return nil, err
		}
		op, err := ParseOperator(spec.Operator)
		if err != nil {
			return nil, err
		}
		return NewRateCondition(h, spec.DataID, dir, period, op, spec.Threshold), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownType, spec.Type)
}

// NewEval records the outcome of evaluating c against one data point.
func NewEval(c Condition, match bool, dataTime int64, value string) model.ConditionEval {
	h := c.Header()
	return model.ConditionEval{
		TenantID:          h.TenantID,
		TriggerID:         h.TriggerID,
		Type:              c.Type(),
		ConditionSetSize:  h.ConditionSetSize,
		ConditionSetIndex: h.ConditionSetIndex,
		Match:             match,
		EvalTimestamp:     time.Now().UnixMilli(),
		DataTimestamp:     dataTime,
		DisplayString:     c.DisplayString(),
		Value:             value,
	}
}
