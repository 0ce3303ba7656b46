package condition

import (
	"fmt"
	"strings"

	"alertcore/internal/model"
)

type Direction string

const (
	Increasing  Direction = "INCREASING"
	Decreasing  Direction = "DECREASING"
	NoDirection Direction = "NA"
)

type Period string

const (
	Second Period = "SECOND"
	Minute Period = "MINUTE"
	Hour   Period = "HOUR"
	Day    Period = "DAY"
	Week   Period = "WEEK"
)

func (p Period) Millis() int64 {
	switch p {
	case Second:
		return 1000
	case Minute:
		return 60000
	case Hour:
		return 60000 * 60
	case Day:
		return 60000 * 60 * 24
	case Week:
		return 60000 * 60 * 24 * 7
	}
	return 0
}

type Operator string

const (
	LT  Operator = "LT"
	GT  Operator = "GT"
	LTE Operator = "LTE"
	GTE Operator = "GTE"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToUpper(s)); d {
	case "":
		return Increasing, nil
	case Increasing, Decreasing, NoDirection:
		return d, nil
	}
	return "", fmt.Errorf("unknown rate direction %q", s)
}

func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToUpper(s))
	if p == "" {
		return Minute, nil
	}
	if p.Millis() == 0 {
		return "", fmt.Errorf("unknown rate period %q", s)
	}
	return p, nil
}

func ParseOperator(s string) (Operator, error) {
	switch op := Operator(strings.ToUpper(s)); op {
	case LT, GT, LTE, GTE:
		return op, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownOperator, s)
}

// Rate is the change between two samples per period, oriented by direction.
// It returns false when the samples are not strictly increasing in time.
func Rate(time int64, value float64, prevTime int64, prevValue float64, dir Direction, period Period) (float64, bool) {
	deltaTime := time - prevTime
	if deltaTime <= 0 || period.Millis() == 0 {
		return 0, false
	}
	deltaValue := prevValue - value
	if dir == Increasing || dir == "" {
		deltaValue = value - prevValue
	}
	periods := float64(deltaTime) / float64(period.Millis())
	return deltaValue / periods, true
}

// RateMatches applies op and threshold to the rate between two samples.
// A negative rate, or samples with no positive time interval, never match.
func RateMatches(time int64, value float64, prevTime int64, prevValue float64,
	dir Direction, period Period, op Operator, threshold float64) (bool, error) {
	rate, ok := Rate(time, value, prevTime, prevValue, dir, period)
	if !ok || rate < 0 {
		return false, nil
	}
	switch op {
	case LT:
		return rate < threshold, nil
	case GT:
		return rate > threshold, nil
	case LTE:
		return rate <= threshold, nil
	case GTE:
		return rate >= threshold, nil
	}
	return false, fmt.Errorf("%w %q", ErrUnknownOperator, op)
}

type RateCondition struct {
	header    Header
	dataID    string
	direction Direction
	period    Period
	operator  Operator
	threshold float64
	display   string
}

func NewRateCondition(h Header, dataID string, dir Direction, period Period, op Operator, threshold float64) *RateCondition {
	if h.Mode == "" {
		h.Mode = model.ModeFiring
	}
	if dir == "" {
		dir = Increasing
	}
	if period == "" {
		period = Minute
	}
	c := &RateCondition{header: h, dataID: dataID, direction: dir, period: period, operator: op, threshold: threshold}
	c.display = fmt.Sprintf("%s %s %s %.2f per %s", dataID, dir, op, threshold, period)
	return c
}

func (c *RateCondition) Header() Header            { return c.header }
func (c *RateCondition) Type() model.ConditionType { return model.ConditionRate }
func (c *RateCondition) DataID() string            { return c.dataID }
func (c *RateCondition) DisplayString() string     { return c.display }
func (c *RateCondition) Direction() Direction      { return c.direction }
func (c *RateCondition) Period() Period            { return c.period }
func (c *RateCondition) Operator() Operator        { return c.operator }
func (c *RateCondition) Threshold() float64        { return c.threshold }

func (c *RateCondition) Validate() error {
	_, err := ParseOperator(string(c.operator))
	return err
}

func (c *RateCondition) Rate(time int64, value float64, prevTime int64, prevValue float64) (float64, bool) {
	return Rate(time, value, prevTime, prevValue, c.direction, c.period)
}

func (c *RateCondition) Match(time int64, value float64, prevTime int64, prevValue float64) (bool, error) {
	return RateMatches(time, value, prevTime, prevValue, c.direction, c.period, c.operator, c.threshold)
}
