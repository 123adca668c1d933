package models

import "time"

// Agent represents a registered worker agent. Agents are registered
// externally; the orchestrator only tracks routing eligibility.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Capabilities lists the capability tags this agent advertises.
	Capabilities []string `json:"capabilities"`
	// Role is the agent's role for authority arbitration (e.g. "security").
	Role string `json:"role,omitempty"`
	// AuthorityLevel is the agent's domain-authority level.
	AuthorityLevel int `json:"authority_level"`
	// LastHeartbeat is the most recent heartbeat timestamp.
	LastHeartbeat time.Time `json:"last_heartbeat"`
	// InFlight is the number of subtasks currently dispatched to this agent.
	InFlight int `json:"in_flight"`
}

// HasCapability returns true if the agent advertises the given tag.
func (a *Agent) HasCapability(tag string) bool {
	for _, c := range a.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}
