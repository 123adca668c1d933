package models

import "time"

// TeamScope is the memory scope visible to every agent.
const TeamScope = "team"

// AgentScope returns the private memory scope for the given agent.
func AgentScope(agentID string) string {
	return "agent:" + agentID
}

// MemoryEntry is a recalled fact, preference, or event in shared memory.
type MemoryEntry struct {
	// ID is the unique identifier for this entry.
	ID string `json:"id"`
	// Scope is "team" or "agent:<id>".
	Scope string `json:"scope"`
	// ProjectID identifies the project the entry belongs to.
	ProjectID string `json:"project_id"`
	// Type classifies the entry (fact, preference, event).
	Type string `json:"type"`
	// Content is the entry body.
	Content string `json:"content"`
	// Importance ranks the entry from 1 (low) to 10 (high).
	Importance int `json:"importance"`
	// CreatedAt is when the entry was written.
	CreatedAt time.Time `json:"created_at"`
	// LastRecalledAt is when the entry was last returned by a recall.
	LastRecalledAt *time.Time `json:"last_recalled_at,omitempty"`
}
