package normalize

import (
	"errors"
	"testing"
	"time"

	"alertcore/internal/condition"
	"alertcore/internal/model"
)

const report = `{
  "account": "acme",
  "insights_id": "3f2a",
  "display_name": "web-1",
  "system_profile": {
    "arch": "x86_64",
    "network_interfaces": [
      {"name": "eth0", "state": "UP", "mtu": 1500},
      {"name": "", "state": "DOWN"},
      {"state": "UNKNOWN"}
    ],
    "yum_repos": [{"name": "epel", "enabled": true}]
  }
}`

func TestHostEgress(t *testing.T) {
	r, err := ParseHostReport([]byte(report))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	now := time.UnixMilli(1700000000000)
	ev, err := HostEgress(r, now)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.TenantID != "acme" || ev.DataID != HostEgressDataID || ev.Category != CategoryReport {
		t.Fatalf("unexpected identity %+v", ev)
	}
	if ev.Text != "host-egress report 3f2a for web-1" {
		t.Fatalf("unexpected text %q", ev.Text)
	}
	if ev.Tags["display_name"] != "web-1" || ev.Tags["insights_id"] != "3f2a" {
		t.Fatalf("unexpected tags %v", ev.Tags)
	}
	if ev.CTime != 1700000000000 || ev.ID == "" {
		t.Fatalf("unexpected ctime/id %d %q", ev.CTime, ev.ID)
	}
	state, ok := ev.Facts.Lookup([]string{"network_interfaces", "eth0", "state"})
	if !ok || state.Str != "UP" {
		t.Fatalf("expected eth0 state UP, got %v %v", state, ok)
	}
	ifaces, _ := ev.Facts.Lookup([]string{"network_interfaces"})
	if len(ifaces.Map) != 1 {
		t.Fatalf("unnamed interfaces must be dropped, got %d", len(ifaces.Map))
	}
	if _, ok := ev.Facts.Lookup([]string{"yum_repos", "epel", "enabled"}); !ok {
		t.Fatalf("expected yum repo keyed by name")
	}

	cond := condition.NewEventCondition(condition.Header{TenantID: "acme", TriggerID: "t"}, HostEgressDataID,
		"facts.network_interfaces.eth0.state == 'UP', facts.arch starts 'x86'", "")
	match, err := cond.Match(ev)
	if err != nil || !match {
		t.Fatalf("expected facts expression to match: %v", err)
	}
}

func TestHostEgressMissingAccount(t *testing.T) {
	_, err := HostEgress(&HostReport{DisplayName: "x"}, time.Now())
	if !errors.Is(err, ErrMissingTenant) {
		t.Fatalf("expected missing tenant, got %v", err)
	}
	if _, err := ParseHostReport([]byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
	ev, err := HostEgress(&HostReport{Account: "acme"}, time.Now())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(ev.Facts) != 0 || ev.EventType != model.EventTypeEvent {
		t.Fatalf("unexpected facts %v", ev.Facts)
	}
}
