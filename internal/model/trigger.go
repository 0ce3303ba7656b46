package model

type Mode string

const (
	ModeFiring      Mode = "FIRING"
	ModeAutoResolve Mode = "AUTORESOLVE"
)

type Match string

const (
	MatchAll Match = "ALL"
	MatchAny Match = "ANY"
)

type ConditionType string

const (
	ConditionEvent ConditionType = "EVENT"
	ConditionRate  ConditionType = "RATE"
)

type Trigger struct {
	TenantID          string            `json:"tenantId" yaml:"tenant_id"`
	ID                string            `json:"id" yaml:"id"`
	Name              string            `json:"name" yaml:"name"`
	Description       string            `json:"description,omitempty" yaml:"description"`
	Enabled           bool              `json:"enabled" yaml:"enabled"`
	AutoDisable       bool              `json:"autoDisable,omitempty" yaml:"auto_disable"`
	AutoEnable        bool              `json:"autoEnable,omitempty" yaml:"auto_enable"`
	AutoResolve       bool              `json:"autoResolve,omitempty" yaml:"auto_resolve"`
	AutoResolveAlerts bool              `json:"autoResolveAlerts,omitempty" yaml:"auto_resolve_alerts"`
	FiringMatch       Match             `json:"firingMatch,omitempty" yaml:"firing_match"`
	AutoResolveMatch  Match             `json:"autoResolveMatch,omitempty" yaml:"auto_resolve_match"`
	Severity          Severity          `json:"severity,omitempty" yaml:"severity"`
	Mode              Mode              `json:"mode,omitempty" yaml:"-"`
	Tags              map[string]string `json:"tags,omitempty" yaml:"tags"`
	Context           map[string]string `json:"context,omitempty" yaml:"context"`
	Conditions        []ConditionSpec   `json:"conditions,omitempty" yaml:"conditions"`
	Dampening         *Dampening        `json:"dampening,omitempty" yaml:"dampening"`
}

func (t *Trigger) Clone() *Trigger {
	if t == nil {
		return nil
	}
	c := *t
	c.Tags = copyStrings(t.Tags)
	c.Context = copyStrings(t.Context)
	c.Conditions = append([]ConditionSpec(nil), t.Conditions...)
	if t.Dampening != nil {
		d := *t.Dampening
		d.SatisfyingEvals = nil
		c.Dampening = &d
	}
	return &c
}

// ConditionsFor returns the conditions that apply in the given mode, in set order.
func (t *Trigger) ConditionsFor(mode Mode) []ConditionSpec {
	var out []ConditionSpec
	for _, c := range t.Conditions {
		m := c.Mode
		if m == "" {
			m = ModeFiring
		}
		if m == mode {
			out = append(out, c)
		}
	}
	return out
}

// ConditionSpec is the stored form of one condition. Only the fields of its Type are meaningful.
type ConditionSpec struct {
	Type       ConditionType `json:"type" yaml:"type"`
	Mode       Mode          `json:"triggerMode,omitempty" yaml:"mode"`
	DataID     string        `json:"dataId" yaml:"data_id"`
	Expression string        `json:"expression,omitempty" yaml:"expression"`
	Expr       string        `json:"expr,omitempty" yaml:"expr"`
	Direction  string        `json:"direction,omitempty" yaml:"direction"`
	Period     string        `json:"period,omitempty" yaml:"period"`
	Operator   string        `json:"operator,omitempty" yaml:"operator"`
	Threshold  float64       `json:"threshold,omitempty" yaml:"threshold"`
}

type DampeningType string

const DampeningStrict DampeningType = "STRICT"

type Dampening struct {
	Type            DampeningType     `json:"type" yaml:"type"`
	EvalTrueSetting int               `json:"evalTrueSetting" yaml:"eval_true_setting"`
	NumTrueEvals    int               `json:"numTrueEvals,omitempty" yaml:"-"`
	NumEvals        int               `json:"numEvals,omitempty" yaml:"-"`
	Satisfied       bool              `json:"satisfied,omitempty" yaml:"-"`
	SatisfyingEvals [][]ConditionEval `json:"satisfyingEvals,omitempty" yaml:"-"`
}

// Perform records one evaluation of the full condition set.
func (d *Dampening) Perform(match bool, evals []ConditionEval) {
	setting := d.EvalTrueSetting
	if setting <= 0 {
		setting = 1
	}
	d.NumEvals++
	if !match {
		d.Reset()
		return
	}
	d.NumTrueEvals++
	d.SatisfyingEvals = append(d.SatisfyingEvals, evals)
	if d.NumTrueEvals >= setting {
		d.Satisfied = true
	}
}

func (d *Dampening) Reset() {
	d.NumTrueEvals = 0
	d.NumEvals = 0
	d.Satisfied = false
	d.SatisfyingEvals = nil
}

type ConditionEval struct {
	TenantID          string            `json:"tenantId,omitempty"`
	TriggerID         string            `json:"triggerId"`
	Type              ConditionType     `json:"type"`
	ConditionSetSize  int               `json:"conditionSetSize"`
	ConditionSetIndex int               `json:"conditionSetIndex"`
	Match             bool              `json:"match"`
	EvalTimestamp     int64             `json:"evalTimestamp"`
	DataTimestamp     int64             `json:"dataTimestamp"`
	DisplayString     string            `json:"displayString,omitempty"`
	Value             string            `json:"value,omitempty"`
	Context           map[string]string `json:"context,omitempty"`
}

func copyStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
