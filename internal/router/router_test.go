package router

import (
	"errors"
	"testing"
	"time"

	"github.com/icdev-ai/dispatch/pkg/models"
)

func newTestRegistry() *Registry {
	r := NewRegistry(30 * time.Second)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return base })
	return r
}

func TestRouteNoAgentAdvertisesCapability(t *testing.T) {
	r := newTestRegistry()
	r.Register(&models.Agent{ID: "a1", Capabilities: []string{"codegen"}})

	_, err := r.Route("deploy")
	var noAgent *NoEligibleAgentError
	if !errors.As(err, &noAgent) {
		t.Fatalf("expected NoEligibleAgentError, got %v", err)
	}
	if noAgent.Capability != "deploy" {
		t.Errorf("unexpected capability in error: %q", noAgent.Capability)
	}
}

func TestRouteSkipsStaleHeartbeats(t *testing.T) {
	r := NewRegistry(30 * time.Second)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	r.SetClock(func() time.Time { return now })

	r.Register(&models.Agent{ID: "a1", Capabilities: []string{"codegen"}})

	// Within the threshold the agent is routable.
	now = base.Add(29 * time.Second)
	if _, err := r.Route("codegen"); err != nil {
		t.Fatalf("expected route to succeed, got %v", err)
	}
	r.Release("a1")

	// Past the threshold it is not.
	now = base.Add(31 * time.Second)
	_, err := r.Route("codegen")
	var noAgent *NoEligibleAgentError
	if !errors.As(err, &noAgent) {
		t.Fatalf("expected NoEligibleAgentError for stale agent, got %v", err)
	}

	// A heartbeat revives it.
	r.Heartbeat("a1")
	if _, err := r.Route("codegen"); err != nil {
		t.Errorf("expected route after heartbeat, got %v", err)
	}
}

func TestRouteLeastLoaded(t *testing.T) {
	r := newTestRegistry()
	r.Register(&models.Agent{ID: "a1", Capabilities: []string{"codegen"}})
	r.Register(&models.Agent{ID: "a2", Capabilities: []string{"codegen"}})

	// First route ties on load, so the smaller ID wins.
	got, err := r.Route("codegen")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got.ID != "a1" {
		t.Errorf("expected a1 on id tiebreak, got %s", got.ID)
	}

	// a1 now carries one assignment, so a2 is least loaded.
	got, err = r.Route("codegen")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got.ID != "a2" {
		t.Errorf("expected a2 as least loaded, got %s", got.ID)
	}

	// Releasing a1 brings it back to the front.
	r.Release("a1")
	got, err = r.Route("codegen")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got.ID != "a1" {
		t.Errorf("expected a1 after release, got %s", got.ID)
	}
}

func TestRouteDeterministicTiebreak(t *testing.T) {
	r := newTestRegistry()
	r.Register(&models.Agent{ID: "zeta", Capabilities: []string{"review"}})
	r.Register(&models.Agent{ID: "alpha", Capabilities: []string{"review"}})
	r.Register(&models.Agent{ID: "mid", Capabilities: []string{"review"}})

	got, err := r.Route("review")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got.ID != "alpha" {
		t.Errorf("expected lexically smallest id, got %s", got.ID)
	}
}

func TestForceExpire(t *testing.T) {
	r := newTestRegistry()
	r.Register(&models.Agent{ID: "a1", Capabilities: []string{"codegen"}})

	if !r.ForceExpire("a1") {
		t.Fatal("expected force-expire to find the agent")
	}
	if _, err := r.Route("codegen"); err == nil {
		t.Error("expected expired agent to be unroutable")
	}
	if r.ForceExpire("ghost") {
		t.Error("expected force-expire of unknown agent to return false")
	}
}

func TestDistinctCapabilities(t *testing.T) {
	r := newTestRegistry()
	r.Register(&models.Agent{ID: "a1", Capabilities: []string{"codegen", "review"}})
	r.Register(&models.Agent{ID: "a2", Capabilities: []string{"review", "deploy"}})

	if n := r.DistinctCapabilities(); n != 3 {
		t.Errorf("expected 3 distinct capabilities, got %d", n)
	}
}

func TestRouteReturnsSnapshot(t *testing.T) {
	r := newTestRegistry()
	r.Register(&models.Agent{ID: "a1", Capabilities: []string{"codegen"}})

	got, err := r.Route("codegen")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	got.Capabilities[0] = "mutated"

	stored := r.Get("a1")
	if stored.Capabilities[0] == "mutated" {
		t.Error("snapshot mutation leaked into the registry")
	}
	if stored.InFlight != 1 {
		t.Errorf("expected in-flight 1, got %d", stored.InFlight)
	}
}

func TestReRegisterResetsLoad(t *testing.T) {
	r := newTestRegistry()
	r.Register(&models.Agent{ID: "a1", Capabilities: []string{"codegen"}})

	if _, err := r.Route("codegen"); err != nil {
		t.Fatalf("route: %v", err)
	}
	r.Register(&models.Agent{ID: "a1", Capabilities: []string{"codegen"}})

	if got := r.Get("a1"); got.InFlight != 0 {
		t.Errorf("expected re-registration to reset in-flight, got %d", got.InFlight)
	}
}
