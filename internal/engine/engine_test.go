package engine

import (
	"context"
	"testing"
	"time"

	"alertcore/internal/alerts"
	"alertcore/internal/config"
	"alertcore/internal/definitions"
	"alertcore/internal/metrics"
	"alertcore/internal/model"
	"alertcore/internal/query"
	"alertcore/internal/storage"
)

type harness struct {
	engine  *Engine
	defs    *definitions.Store
	service *alerts.Service
	metrics *metrics.Store
}

func newHarness(t *testing.T, triggers ...*model.Trigger) *harness {
	t.Helper()
	ctx := context.Background()
	defs := definitions.NewStore()
	for _, tr := range triggers {
		if err := defs.AddTrigger(ctx, tr); err != nil {
			t.Fatalf("add trigger: %v", err)
		}
	}
	svc := alerts.NewService(query.NewEngine(storage.NewMemory(), config.RetentionConfig{}, nil), nil, nil)
	m := metrics.NewStore(10)
	eng := NewEngine(defs, svc, m, nil)
	defs.SetReloader(eng)
	svc.SetTriggerStore(defs)
	svc.SetLiveTriggers(eng)
	svc.SetEventSink(eng)
	if err := eng.LoadAll(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	return &harness{engine: eng, defs: defs, service: svc, metrics: m}
}

func (h *harness) alerts(t *testing.T, statuses ...model.Status) []*model.Alert {
	t.Helper()
	page, err := h.service.FindAlerts(context.Background(), []string{"acme"}, &model.AlertsCriteria{Statuses: statuses}, nil)
	if err != nil {
		t.Fatalf("find alerts: %v", err)
	}
	return page.Items
}

func stateEvent(id, state string) *model.Event {
	return &model.Event{
		TenantID: "acme",
		ID:       id,
		CTime:    time.Now().UnixMilli(),
		DataID:   "heartbeat",
		Category: "status",
		Tags:     map[string]string{"state": state},
	}
}

func heartbeatTrigger() *model.Trigger {
	return &model.Trigger{
		TenantID:          "acme",
		ID:                "host-down",
		Name:              "Host down",
		Enabled:           true,
		AutoResolve:       true,
		AutoResolveAlerts: true,
		Severity:          model.SeverityCritical,
		Conditions: []model.ConditionSpec{
			{Type: model.ConditionEvent, DataID: "heartbeat", Expression: "tags.state == 'down'"},
			{Type: model.ConditionEvent, Mode: model.ModeAutoResolve, DataID: "heartbeat", Expression: "tags.state == 'up'"},
		},
	}
}

func TestFireAndAutoResolve(t *testing.T) {
	h := newHarness(t, heartbeatTrigger())
	ctx := context.Background()

	if err := h.service.AddEvents(ctx, []*model.Event{stateEvent("e1", "up")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := h.alerts(t); len(got) != 0 {
		t.Fatalf("unexpected alerts: %d", len(got))
	}

	if err := h.engine.SendEvents(ctx, []*model.Event{stateEvent("e2", "down")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	open := h.alerts(t, model.StatusOpen)
	if len(open) != 1 {
		t.Fatalf("expected 1 open alert, got %d", len(open))
	}
	if open[0].Severity != model.SeverityCritical || open[0].TriggerID != "host-down" {
		t.Fatalf("unexpected alert %+v", open[0])
	}
	loaded := h.engine.GetLoadedTrigger(&model.Trigger{TenantID: "acme", ID: "host-down"})
	if loaded == nil || loaded.Mode != model.ModeAutoResolve {
		t.Fatalf("expected autoresolve mode, got %+v", loaded)
	}

	if err := h.engine.SendEvents(ctx, []*model.Event{stateEvent("e3", "down")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := h.alerts(t); len(got) != 1 {
		t.Fatalf("no alert expected in autoresolve mode, got %d", len(got))
	}

	if err := h.engine.SendEvents(ctx, []*model.Event{stateEvent("e4", "up")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	resolved := h.alerts(t, model.StatusResolved)
	if len(resolved) != 1 {
		t.Fatalf("expected resolved alert, got %d", len(resolved))
	}
	last := resolved[0].LifeCycle[len(resolved[0].LifeCycle)-1]
	if last.User != autoResolvedBy {
		t.Fatalf("unexpected resolver %q", last.User)
	}
	if len(last.Notes) != 1 || last.Notes[0].Text != autoResolvedNotes {
		t.Fatalf("expected resolution note on the transition, got %+v", last.Notes)
	}
	loaded = h.engine.GetLoadedTrigger(&model.Trigger{TenantID: "acme", ID: "host-down"})
	if loaded.Mode != model.ModeFiring {
		t.Fatalf("expected firing mode after resolve, got %s", loaded.Mode)
	}
	c, _ := h.metrics.Get("acme")
	if c.AlertsFired != 1 || c.AutoResolved != 1 || c.Events != 4 {
		t.Fatalf("unexpected counters %+v", c)
	}
}

func TestDampeningStrict(t *testing.T) {
	tr := heartbeatTrigger()
	tr.AutoResolve = false
	tr.Dampening = &model.Dampening{Type: model.DampeningStrict, EvalTrueSetting: 2}
	h := newHarness(t, tr)
	ctx := context.Background()

	send := func(id, state string) {
		if err := h.engine.SendEvents(ctx, []*model.Event{stateEvent(id, state)}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	send("e1", "down")
	send("e2", "up")
	send("e3", "down")
	if got := h.alerts(t); len(got) != 0 {
		t.Fatalf("strict dampening broken by a false eval, got %d alerts", len(got))
	}
	send("e4", "down")
	got := h.alerts(t)
	if len(got) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(got))
	}
	if len(got[0].EvalSets) != 2 {
		t.Fatalf("expected 2 satisfying eval sets, got %d", len(got[0].EvalSets))
	}
}

func TestMatchAllAndAny(t *testing.T) {
	tr := &model.Trigger{
		TenantID: "acme",
		ID:       "both",
		Name:     "both",
		Enabled:  true,
		Conditions: []model.ConditionSpec{
			{DataID: "cpu", Expression: "tags.level == 'high'"},
			{DataID: "mem", Expression: "tags.level == 'high'"},
		},
	}
	h := newHarness(t, tr)
	ctx := context.Background()
	ev := func(id, dataID string) *model.Event {
		return &model.Event{TenantID: "acme", ID: id, DataID: dataID, Tags: map[string]string{"level": "high"}}
	}
	if err := h.engine.SendEvents(ctx, []*model.Event{ev("e1", "cpu")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := h.alerts(t); len(got) != 0 {
		t.Fatalf("ALL should wait for every condition, got %d", len(got))
	}
	if err := h.engine.SendEvents(ctx, []*model.Event{ev("e2", "mem")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := h.alerts(t); len(got) != 1 {
		t.Fatalf("expected alert once both matched, got %d", len(got))
	}

	anyTrigger := tr.Clone()
	anyTrigger.ID = "either"
	anyTrigger.FiringMatch = model.MatchAny
	h = newHarness(t, anyTrigger)
	if err := h.engine.SendEvents(ctx, []*model.Event{ev("e1", "cpu")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := h.alerts(t); len(got) != 1 {
		t.Fatalf("ANY should fire on one condition, got %d", len(got))
	}
}

func TestRateCondition(t *testing.T) {
	tr := &model.Trigger{
		TenantID: "acme",
		ID:       "egress-rate",
		Name:     "egress growing",
		Enabled:  true,
		Conditions: []model.ConditionSpec{
			{Type: model.ConditionRate, DataID: "egress", Direction: "INCREASING", Period: "MINUTE", Operator: "GT", Threshold: 20},
		},
	}
	h := newHarness(t, tr)
	ctx := context.Background()
	if err := h.engine.SendData(ctx, []model.Data{{TenantID: "acme", ID: "egress", Timestamp: 0, Value: 100}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := h.alerts(t); len(got) != 0 {
		t.Fatalf("first sample must not fire")
	}
	if err := h.engine.SendData(ctx, []model.Data{{TenantID: "acme", ID: "egress", Timestamp: 60000, Value: 130}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := h.alerts(t)
	if len(got) != 1 {
		t.Fatalf("expected rate alert, got %d", len(got))
	}
	if v := got[0].EvalSets[0][0].Value; v != "30" {
		t.Fatalf("unexpected rate value %q", v)
	}
}

func TestAutoDisable(t *testing.T) {
	tr := heartbeatTrigger()
	tr.AutoResolve = false
	tr.AutoDisable = true
	h := newHarness(t, tr)
	ctx := context.Background()
	if err := h.engine.SendEvents(ctx, []*model.Event{stateEvent("e1", "down"), stateEvent("e2", "down")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := h.alerts(t); len(got) != 1 {
		t.Fatalf("expected a single alert before disable, got %d", len(got))
	}
	stored, err := h.defs.GetTrigger(ctx, "acme", "host-down")
	if err != nil || stored == nil {
		t.Fatalf("get trigger: %v", err)
	}
	if stored.Enabled {
		t.Fatalf("expected trigger disabled")
	}
	if h.engine.LoadedCount() != 0 {
		t.Fatalf("expected trigger unloaded")
	}
}

func TestAutoEnableOnResolve(t *testing.T) {
	tr := heartbeatTrigger()
	tr.AutoResolve = false
	tr.AutoDisable = true
	tr.AutoEnable = true
	h := newHarness(t, tr)
	ctx := context.Background()
	if err := h.engine.SendEvents(ctx, []*model.Event{stateEvent("e1", "down")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	open := h.alerts(t, model.StatusOpen)
	if len(open) != 1 {
		t.Fatalf("expected open alert, got %d", len(open))
	}
	if err := h.service.Resolve(ctx, "acme", []string{open[0].ID}, "jdoe", "fixed", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	stored, _ := h.defs.GetTrigger(ctx, "acme", "host-down")
	if !stored.Enabled {
		t.Fatalf("expected trigger re-enabled")
	}
	if h.engine.LoadedCount() != 1 {
		t.Fatalf("expected trigger reloaded")
	}
}

func TestDedupeWindow(t *testing.T) {
	tr := heartbeatTrigger()
	tr.AutoResolve = false
	h := newHarness(t, tr)
	h.engine.SetDedupeWindow(time.Minute)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := h.engine.SendEvents(ctx, []*model.Event{stateEvent("same", "down")}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if got := h.alerts(t); len(got) != 1 {
		t.Fatalf("expected duplicates dropped, got %d alerts", len(got))
	}
	c, _ := h.metrics.Get("acme")
	if c.Duplicates != 2 {
		t.Fatalf("expected 2 duplicates, got %d", c.Duplicates)
	}
}
