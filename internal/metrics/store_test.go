package metrics

import "testing"

func TestCountersPerTenant(t *testing.T) {
	s := NewStore(10)
	s.IncEvents("acme", 3)
	s.IncDuplicate("acme")
	s.IncFired("acme")
	s.IncAutoResolved("acme")
	s.IncDropped("globex")
	s.IncEvents("", 5)

	c, ok := s.Get("acme")
	if !ok {
		t.Fatalf("expected acme counters")
	}
	if c.Events != 3 || c.Duplicates != 1 || c.AlertsFired != 1 || c.AutoResolved != 1 {
		t.Fatalf("unexpected counters %+v", c)
	}
	all := s.GetAll()
	if len(all) != 2 || all[0].TenantID != "acme" || all[1].TenantID != "globex" {
		t.Fatalf("unexpected snapshot %+v", all)
	}
	s.Clear()
	if len(s.GetAll()) != 0 {
		t.Fatalf("expected empty store after clear")
	}
}

func TestLimitEvicts(t *testing.T) {
	s := NewStore(2)
	for _, tenant := range []string{"a", "b", "c"} {
		s.IncEvents(tenant, 1)
	}
	if n := len(s.GetAll()); n != 2 {
		t.Fatalf("expected 2 tenants, got %d", n)
	}
}

func TestNilStore(t *testing.T) {
	var s *Store
	s.IncEvents("acme", 1)
	if _, ok := s.Get("acme"); ok {
		t.Fatalf("nil store must not report counters")
	}
	if s.GetAll() != nil {
		t.Fatalf("nil store must return nil snapshot")
	}
}
