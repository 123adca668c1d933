package models

import "time"

// VetoSeverity represents the severity of an authority objection.
type VetoSeverity string

const (
	// VetoSeveritySoft is an advisory objection that can be overridden.
	VetoSeveritySoft VetoSeverity = "soft"
	// VetoSeverityHard is an unconditional objection that halts the workflow.
	VetoSeverityHard VetoSeverity = "hard"
)

// Valid returns true if the severity is a known value.
func (s VetoSeverity) Valid() bool {
	return s == VetoSeveritySoft || s == VetoSeverityHard
}

// VetoDecision represents the arbiter's decision on an objection.
type VetoDecision string

const (
	// DecisionVeto indicates the objection was upheld.
	DecisionVeto VetoDecision = "veto"
	// DecisionOverrideGranted indicates a soft veto was overridden.
	DecisionOverrideGranted VetoDecision = "override-granted"
	// DecisionOverrideDenied indicates an override request was rejected.
	DecisionOverrideDenied VetoDecision = "override-denied"
)

// Valid returns true if the decision is a known value.
func (d VetoDecision) Valid() bool {
	switch d {
	case DecisionVeto, DecisionOverrideGranted, DecisionOverrideDenied:
		return true
	default:
		return false
	}
}

// VetoRecord is an immutable arbitration decision. Records are append-only;
// they form the audit trail of why a workflow stopped or proceeded.
type VetoRecord struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`
	// SubtaskID is the subtask the objection targets.
	SubtaskID string `json:"subtask_id"`
	// AgentID is the agent that raised the objection or requested the override.
	AgentID string `json:"agent_id"`
	// Domain is the authority domain (e.g. "security", "deployment-gate").
	Domain string `json:"domain"`
	// Severity is the objection severity.
	Severity VetoSeverity `json:"severity"`
	// Rationale explains the objection or override request.
	Rationale string `json:"rationale"`
	// Decision is the arbiter's decision.
	Decision VetoDecision `json:"decision"`
	// CreatedAt is when the decision was recorded.
	CreatedAt time.Time `json:"created_at"`
}
