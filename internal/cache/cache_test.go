package cache

import (
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/callrouter/internal/types"
)

func TestRegistryRegisterResolveUnregister(t *testing.T) {
	r := NewRegistry()

	r.Register("conn-1", types.RoleAgent, "acme", "alice")

	reg, ok := r.Resolve("conn-1")
	if !ok {
		t.Fatal("expected conn-1 to resolve")
	}
	if reg.Role != types.RoleAgent || reg.CompanyID != "acme" || reg.Identity != "alice" {
		t.Errorf("unexpected registration %+v", reg)
	}

	if _, ok := r.Unregister("conn-1"); !ok {
		t.Error("expected first unregister to report removal")
	}
	if _, ok := r.Unregister("conn-1"); ok {
		t.Error("expected second unregister to be a no-op")
	}
	if _, ok := r.Unregister("never-seen"); ok {
		t.Error("expected unknown unregister to be a no-op")
	}
	if r.Count() != 0 {
		t.Errorf("expected empty registry, got %d", r.Count())
	}
}

func newTestStore(start time.Time) (*PresenceStore, *time.Time) {
	now := start
	s := NewPresenceStore()
	s.SetClock(func() time.Time { return now })
	return s, &now
}

func TestPresenceLoadIsClamped(t *testing.T) {
	s, _ := newTestStore(time.Now())
	s.SetOnline("acme", "alice", "conn-1", 2)

	if load, _ := s.DecrementLoad("acme", "alice"); load != 0 {
		t.Errorf("expected decrement at zero to clamp to 0, got %d", load)
	}

	s.IncrementLoad("acme", "alice")
	s.IncrementLoad("acme", "alice")
	if load, _ := s.IncrementLoad("acme", "alice"); load != 2 {
		t.Errorf("expected load clamped at maxLoad 2, got %d", load)
	}

	if _, ok := s.IncrementLoad("acme", "nobody"); ok {
		t.Error("expected unknown agent increment to fail")
	}
}

func TestLoweredMaxLoadKeepsLiveLoad(t *testing.T) {
	s, _ := newTestStore(time.Now())
	s.SetOnline("acme", "alice", "conn-1", 2)
	s.IncrementLoad("acme", "alice")
	s.IncrementLoad("acme", "alice")

	// directory reseeded with a smaller capacity while two sessions are live
	p := s.SetOnline("acme", "alice", "conn-2", 1)
	if p.CurrentLoad != 2 || p.MaxLoad != 1 {
		t.Fatalf("expected load 2 max 1 after re-register, got load %d max %d", p.CurrentLoad, p.MaxLoad)
	}
	if got := s.ListAvailable("acme"); len(got) != 0 {
		t.Fatalf("expected agent over capacity to be unavailable, got %d", len(got))
	}
	if load, _ := s.IncrementLoad("acme", "alice"); load != 2 {
		t.Errorf("expected increment over capacity to be refused, got load %d", load)
	}

	if load, _ := s.DecrementLoad("acme", "alice"); load != 1 {
		t.Errorf("expected one live session after first end, got load %d", load)
	}
	if got := s.ListAvailable("acme"); len(got) != 0 {
		t.Errorf("expected agent at capacity to stay unavailable, got %d", len(got))
	}
	if load, _ := s.DecrementLoad("acme", "alice"); load != 0 {
		t.Errorf("expected load 0 after both sessions end, got %d", load)
	}
	if got := s.ListAvailable("acme"); len(got) != 1 {
		t.Errorf("expected agent available once sessions drain, got %d", len(got))
	}
}

func TestListAvailableOrdering(t *testing.T) {
	start := time.Now()
	s, now := newTestStore(start)

	s.SetOnline("acme", "alice", "c-a", 3)
	*now = start.Add(1 * time.Second)
	s.SetOnline("acme", "bob", "c-b", 3)
	*now = start.Add(2 * time.Second)
	s.SetOnline("acme", "carol", "c-c", 3)

	// carol takes a request, so she sorts last despite activity
	*now = start.Add(3 * time.Second)
	s.IncrementLoad("acme", "carol")

	got := s.ListAvailable("acme")
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("expected %d available, got %d", len(want), len(got))
	}
	for i, handle := range want {
		if got[i].AgentHandle != handle {
			t.Errorf("position %d: expected %s, got %s", i, handle, got[i].AgentHandle)
		}
	}

	// alice takes one too; with equal load bob (least recently active) wins
	*now = start.Add(4 * time.Second)
	s.IncrementLoad("acme", "alice")
	got = s.ListAvailable("acme")
	if got[0].AgentHandle != "bob" {
		t.Errorf("expected bob first, got %s", got[0].AgentHandle)
	}
	if got[1].AgentHandle != "carol" {
		t.Errorf("expected carol (older activity) before alice, got %s", got[1].AgentHandle)
	}
}

func TestListAvailableFilters(t *testing.T) {
	s, _ := newTestStore(time.Now())

	s.SetOnline("acme", "full", "c-1", 1)
	s.IncrementLoad("acme", "full")

	s.SetOnline("acme", "busy", "c-2", 1)
	s.SetAvailability("acme", "busy", types.AvailabilityBusy)

	s.SetOnline("acme", "gone", "c-3", 1)
	s.SetOffline("acme", "gone")

	s.SetOnline("other", "elsewhere", "c-4", 1)

	if got := s.ListAvailable("acme"); len(got) != 0 {
		t.Errorf("expected no available agents, got %+v", got)
	}

	// offline keeps the record and its load
	p, ok := s.Get("acme", "gone")
	if !ok {
		t.Fatal("expected offline agent record to survive")
	}
	if p.ConnectionID != "" || p.Availability != types.AvailabilityOffline {
		t.Errorf("expected cleared connection, got %+v", p)
	}

	online, busy, offline := s.GetConnectionStats()
	if online != 2 || busy != 1 || offline != 1 {
		t.Errorf("expected 2/1/1, got %d/%d/%d", online, busy, offline)
	}
}

func TestSetAvailabilityUnknownAgent(t *testing.T) {
	s := NewPresenceStore()
	if _, err := s.SetAvailability("acme", "ghost", types.AvailabilityOnline); err != types.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
