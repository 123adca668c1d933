// Package router matches subtask capability requirements to live agents.
// Routing prefers the least-loaded eligible agent; agents whose heartbeat
// has gone stale are invisible to routing until they report in again.
package router

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/icdev-ai/dispatch/pkg/models"
)

// NoEligibleAgentError is returned when no registered agent can serve a
// capability, either because none advertises it or because every
// candidate's heartbeat is stale.
type NoEligibleAgentError struct {
	Capability string
	Reason     string
}

func (e *NoEligibleAgentError) Error() string {
	return fmt.Sprintf("no eligible agent for capability %q: %s", e.Capability, e.Reason)
}

// Registry provides thread-safe agent registration, heartbeat tracking,
// and capability routing.
type Registry struct {
	// staleness is how long an agent may go silent before routing
	// ignores it.
	staleness time.Duration

	mu sync.RWMutex
	// agents maps agent IDs to agent models.
	agents map[string]*models.Agent
	// now is injectable for deterministic staleness tests.
	now func() time.Time
}

// NewRegistry creates a registry with the given heartbeat staleness
// threshold.
func NewRegistry(staleness time.Duration) *Registry {
	return &Registry{
		staleness: staleness,
		agents:    make(map[string]*models.Agent),
		now:       time.Now,
	}
}

// SetClock overrides the registry clock for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Register adds an agent to the registry. Registration counts as a
// heartbeat. Re-registering an existing ID replaces its record and
// resets its in-flight count.
func (r *Registry) Register(a *models.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *a
	cp.LastHeartbeat = r.now()
	cp.InFlight = 0
	r.agents[cp.ID] = &cp
}

// Unregister removes an agent from the registry.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// Heartbeat refreshes an agent's liveness. Unknown IDs are ignored.
func (r *Registry) Heartbeat(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[agentID]; ok {
		a.LastHeartbeat = r.now()
	}
}

// Route selects the agent to run a subtask requiring the capability.
// Candidates must advertise the capability and have a fresh heartbeat;
// among them the one with the fewest in-flight assignments wins, with
// the lexically smallest ID as tiebreak. The winner's in-flight count is
// incremented before returning; callers must Release it when the
// assignment ends.
func (r *Registry) Route(capability string) (*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.staleness)

	var candidates []*models.Agent
	advertised := false
	for _, a := range r.agents {
		if !a.HasCapability(capability) {
			continue
		}
		advertised = true
		if a.LastHeartbeat.Before(cutoff) {
			continue
		}
		candidates = append(candidates, a)
	}

	if len(candidates) == 0 {
		reason := "no agent advertises it"
		if advertised {
			reason = "all candidates have stale heartbeats"
		}
		return nil, &NoEligibleAgentError{Capability: capability, Reason: reason}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].InFlight != candidates[j].InFlight {
			return candidates[i].InFlight < candidates[j].InFlight
		}
		return candidates[i].ID < candidates[j].ID
	})

	winner := candidates[0]
	winner.InFlight++

	return snapshot(winner), nil
}

// Release decrements an agent's in-flight count after an assignment
// completes or fails. Unknown IDs are ignored.
func (r *Registry) Release(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[agentID]; ok && a.InFlight > 0 {
		a.InFlight--
	}
}

// Get retrieves a snapshot of an agent by ID, or nil if unknown.
func (r *Registry) Get(agentID string) *models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.agents[agentID]; ok {
		return snapshot(a)
	}
	return nil
}

// All returns snapshots of every registered agent, sorted by ID.
func (r *Registry) All() []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]*models.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, snapshot(a))
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents
}

// DistinctCapabilities returns the number of distinct capability tags
// advertised across all registered agents. The scheduler uses this as
// its default pool size.
func (r *Registry) DistinctCapabilities() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, a := range r.agents {
		for _, c := range a.Capabilities {
			seen[c] = struct{}{}
		}
	}
	return len(seen)
}

// snapshot copies an agent so callers cannot mutate registry state.
func snapshot(a *models.Agent) *models.Agent {
	cp := *a
	cp.Capabilities = append([]string(nil), a.Capabilities...)
	return &cp
}

// ForceExpire backdates an agent's heartbeat past the staleness
// threshold. Admin and test hook for simulating a dead agent.
func (r *Registry) ForceExpire(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return false
	}
	a.LastHeartbeat = r.now().Add(-2 * r.staleness)
	return true
}
