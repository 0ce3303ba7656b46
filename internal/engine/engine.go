// Package engine is the live rule engine. It keeps every enabled trigger
// loaded, evaluates incoming events and data against the conditions of each
// trigger's current mode, applies dampening and fires or auto-resolves alerts.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"alertcore/internal/condition"
	"alertcore/internal/metrics"
	"alertcore/internal/model"
)

const (
	autoResolvedBy    = "AUTO"
	autoResolvedNotes = "Trigger AutoResolve=True"
)

// AlertSink receives the alerts the engine fires and resolves.
type AlertSink interface {
	AddAlerts(ctx context.Context, alerts []*model.Alert) error
	ResolveForTrigger(ctx context.Context, tenantID, triggerID, resolvedBy, resolvedNotes string, resolvedEvalSets [][]model.ConditionEval) error
}

type Definitions interface {
	GetTrigger(ctx context.Context, tenantID, triggerID string) (*model.Trigger, error)
	UpdateTrigger(ctx context.Context, tenantID string, t *model.Trigger, reload bool) error
	AllTriggers() []*model.Trigger
}

type Engine struct {
	logger       *slog.Logger
	metrics      *metrics.Store
	alerts       AlertSink
	defs         Definitions
	dedupeWindow atomic.Int64
	mu           sync.Mutex
	triggers     map[string]*loadedTrigger
	lastData     map[string]model.Data
	deDupe       *DedupeCache
	now          func() time.Time
}

type loadedTrigger struct {
	trigger    *model.Trigger
	conditions map[model.Mode][]condition.Condition
	dampening  model.Dampening
	latest     map[int]model.ConditionEval
}

func triggerKey(tenantID, triggerID string) string {
	return tenantID + "|" + triggerID
}

func NewEngine(defs Definitions, alerts AlertSink, metricsStore *metrics.Store, logger *slog.Logger) *Engine {
	return &Engine{
		logger:   logger,
		metrics:  metricsStore,
		alerts:   alerts,
		defs:     defs,
		triggers: make(map[string]*loadedTrigger),
		lastData: make(map[string]model.Data),
		deDupe:   NewDedupeCache(),
		now:      time.Now,
	}
}

// SetDedupeWindow drops events whose tenant and id were already seen within d.
func (e *Engine) SetDedupeWindow(d time.Duration) {
	e.dedupeWindow.Store(int64(d))
}

func newLoadedTrigger(t *model.Trigger) (*loadedTrigger, error) {
	lt := &loadedTrigger{
		trigger:    t.Clone(),
		conditions: make(map[model.Mode][]condition.Condition, 2),
		latest:     make(map[int]model.ConditionEval),
	}
	lt.trigger.Mode = model.ModeFiring
	for _, mode := range []model.Mode{model.ModeFiring, model.ModeAutoResolve} {
		conds, err := condition.FromTrigger(lt.trigger, mode)
		if err != nil {
			return nil, err
		}
		lt.conditions[mode] = conds
	}
	if t.Dampening != nil {
		lt.dampening = *t.Dampening
	}
	lt.dampening.Reset()
	return lt, nil
}

// LoadAll loads every enabled trigger from the definitions store.
func (e *Engine) LoadAll(ctx context.Context) error {
	for _, t := range e.defs.AllTriggers() {
		if err := e.ReloadTrigger(ctx, t.TenantID, t.ID); err != nil {
			return err
		}
	}
	return nil
}

// ReloadTrigger reads the trigger definition again and resets it to firing
// mode with fresh dampening. Disabled or removed triggers are unloaded.
func (e *Engine) ReloadTrigger(ctx context.Context, tenantID, triggerID string) error {
	t, err := e.defs.GetTrigger(ctx, tenantID, triggerID)
	if err != nil {
		return err
	}
	k := triggerKey(tenantID, triggerID)
	if t == nil || !t.Enabled {
		e.mu.Lock()
		delete(e.triggers, k)
		e.mu.Unlock()
		return nil
	}
	lt, err := newLoadedTrigger(t)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.triggers[k] = lt
	e.mu.Unlock()
	if e.logger != nil {
		e.logger.Debug("trigger loaded", "tenant_id", tenantID, "trigger_id", triggerID)
	}
	return nil
}

// GetLoadedTrigger returns a copy of the loaded state of t, or nil if t is not loaded.
func (e *Engine) GetLoadedTrigger(t *model.Trigger) *model.Trigger {
	if t == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	lt, ok := e.triggers[triggerKey(t.TenantID, t.ID)]
	if !ok {
		return nil
	}
	return lt.trigger.Clone()
}

func (e *Engine) LoadedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.triggers)
}

type outcome struct {
	fired    []*model.Alert
	resolved []resolution
	disabled []*model.Trigger
}

type resolution struct {
	tenantID  string
	triggerID string
	evalSets  [][]model.ConditionEval
}

// SendEvents evaluates events against the EVENT conditions of loaded triggers.
func (e *Engine) SendEvents(ctx context.Context, events []*model.Event) error {
	window := time.Duration(e.dedupeWindow.Load())
	var out outcome
	e.mu.Lock()
	for _, ev := range events {
		if ev == nil {
			continue
		}
		if window > 0 && e.deDupe.Seen(triggerKey(ev.TenantID, ev.ID), e.now(), window) {
			e.metrics.IncDuplicate(ev.TenantID)
			continue
		}
		e.metrics.IncEvents(ev.TenantID, 1)
		for _, lt := range e.tenantTriggers(ev.TenantID) {
			evals := lt.evaluateEvent(ev, e.logger)
			e.apply(lt, evals, &out)
		}
	}
	e.mu.Unlock()
	return e.publish(ctx, out)
}

// SendData evaluates numeric samples against RATE conditions. The first sample
// of a dataId only primes the previous value.
func (e *Engine) SendData(ctx context.Context, data []model.Data) error {
	sorted := append([]model.Data(nil), data...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })
	var out outcome
	e.mu.Lock()
	for _, d := range sorted {
		k := triggerKey(d.TenantID, d.ID)
		prev, ok := e.lastData[k]
		e.lastData[k] = d
		if !ok {
			continue
		}
		for _, lt := range e.tenantTriggers(d.TenantID) {
			evals := lt.evaluateRate(d, prev, e.logger)
			e.apply(lt, evals, &out)
		}
	}
	e.mu.Unlock()
	return e.publish(ctx, out)
}

// tenantTriggers returns the loaded triggers of a tenant in id order.
func (e *Engine) tenantTriggers(tenantID string) []*loadedTrigger {
	var out []*loadedTrigger
	for _, lt := range e.triggers {
		if lt.trigger.TenantID == tenantID {
			out = append(out, lt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].trigger.ID < out[j].trigger.ID })
	return out
}

func (lt *loadedTrigger) current() []condition.Condition {
	return lt.conditions[lt.trigger.Mode]
}

func (lt *loadedTrigger) evaluateEvent(ev *model.Event, logger *slog.Logger) []model.ConditionEval {
	var evals []model.ConditionEval
	for _, c := range lt.current() {
		ec, ok := c.(*condition.EventCondition)
		if !ok || ec.DataID() != ev.DataID {
			continue
		}
		match, err := ec.Match(ev)
		if err != nil {
			if logger != nil {
				logger.Warn("condition evaluation failed", "tenant_id", ev.TenantID, "trigger_id", lt.trigger.ID, "error", err)
			}
			match = false
		}
		eval := condition.NewEval(c, match, ev.CTime, ev.ID)
		eval.Context = ev.Context
		evals = append(evals, eval)
	}
	return evals
}

func (lt *loadedTrigger) evaluateRate(d, prev model.Data, logger *slog.Logger) []model.ConditionEval {
	var evals []model.ConditionEval
	for _, c := range lt.current() {
		rc, ok := c.(*condition.RateCondition)
		if !ok || rc.DataID() != d.ID {
			continue
		}
		match, err := rc.Match(d.Timestamp, d.Value, prev.Timestamp, prev.Value)
		if err != nil && logger != nil {
			logger.Warn("rate evaluation failed", "tenant_id", d.TenantID, "trigger_id", lt.trigger.ID, "error", err)
		}
		rate, _ := rc.Rate(d.Timestamp, d.Value, prev.Timestamp, prev.Value)
		evals = append(evals, condition.NewEval(c, match, d.Timestamp, strconv.FormatFloat(rate, 'f', -1, 64)))
	}
	return evals
}

// setMatch combines the latest evaluation of every condition in the current mode.
func (lt *loadedTrigger) setMatch(evals []model.ConditionEval) (bool, []model.ConditionEval) {
	for _, ev := range evals {
		lt.latest[ev.ConditionSetIndex] = ev
	}
	conds := lt.current()
	set := make([]model.ConditionEval, 0, len(conds))
	for i := range conds {
		if ev, ok := lt.latest[i+1]; ok {
			set = append(set, ev)
		}
	}
	match := lt.trigger.FiringMatch
	if lt.trigger.Mode == model.ModeAutoResolve {
		match = lt.trigger.AutoResolveMatch
	}
	if match == model.MatchAny {
		for _, ev := range evals {
			if ev.Match {
				return true, set
			}
		}
		return false, set
	}
	if len(set) < len(conds) {
		return false, set
	}
	for _, ev := range set {
		if !ev.Match {
			return false, set
		}
	}
	return true, set
}

// apply runs dampening for one evaluation round and records the resulting
// state change. Called with e.mu held.
func (e *Engine) apply(lt *loadedTrigger, evals []model.ConditionEval, out *outcome) {
	if len(evals) == 0 {
		return
	}
	match, set := lt.setMatch(evals)
	lt.dampening.Perform(match, set)
	if !lt.dampening.Satisfied {
		return
	}
	satisfying := lt.dampening.SatisfyingEvals
	t := lt.trigger
	switch t.Mode {
	case model.ModeFiring:
		alert := model.NewAlert(uuid.NewString(), t.Clone(), satisfying, e.now().UnixMilli())
		d := lt.dampening
		alert.Dampening = &d
		out.fired = append(out.fired, alert)
		e.metrics.IncFired(t.TenantID)
		if t.AutoDisable {
			disabled := t.Clone()
			disabled.Enabled = false
			disabled.Mode = ""
			out.disabled = append(out.disabled, disabled)
			delete(e.triggers, triggerKey(t.TenantID, t.ID))
		} else if t.AutoResolve {
			t.Mode = model.ModeAutoResolve
		}
	case model.ModeAutoResolve:
		t.Mode = model.ModeFiring
		if t.AutoResolveAlerts {
			out.resolved = append(out.resolved, resolution{tenantID: t.TenantID, triggerID: t.ID, evalSets: satisfying})
		}
		e.metrics.IncAutoResolved(t.TenantID)
	}
	lt.dampening.Reset()
	lt.latest = make(map[int]model.ConditionEval)
}

// publish hands fired and resolved alerts to the sink outside the engine lock.
func (e *Engine) publish(ctx context.Context, out outcome) error {
	if len(out.fired) > 0 {
		if err := e.alerts.AddAlerts(ctx, out.fired); err != nil {
			return err
		}
		if e.logger != nil {
			for _, a := range out.fired {
				e.logger.Warn("alert fired",
					"tenant_id", a.TenantID,
					"trigger_id", a.TriggerID,
					"alert_id", a.ID,
					"severity", a.Severity,
				)
			}
		}
	}
	for _, t := range out.disabled {
		if err := e.defs.UpdateTrigger(ctx, t.TenantID, t, false); err != nil && e.logger != nil {
			e.logger.Error("auto-disable failed", "tenant_id", t.TenantID, "trigger_id", t.ID, "error", err)
		}
	}
	for _, r := range out.resolved {
		if err := e.alerts.ResolveForTrigger(ctx, r.tenantID, r.triggerID, autoResolvedBy, autoResolvedNotes, r.evalSets); err != nil {
			return err
		}
	}
	return nil
}
