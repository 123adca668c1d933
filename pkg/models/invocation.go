package models

// InvocationRequest is the structured request sent to a worker agent.
// This is the only interface the orchestrator has with external workers.
type InvocationRequest struct {
	// Capability is the capability tag being invoked.
	Capability string `json:"capability"`
	// Input is the subtask's input payload.
	Input string `json:"inputPayload"`
	// WorkflowID is the owning workflow's ID.
	WorkflowID string `json:"workflowId"`
	// SubtaskID is the subtask being executed.
	SubtaskID string `json:"subtaskId"`
}

// InvocationResult is the structured response from a worker agent.
type InvocationResult struct {
	// Status is "ok" for success or "error" for failure.
	Status string `json:"status"`
	// Result is the result payload for successful invocations.
	Result string `json:"result,omitempty"`
	// ErrorKind classifies the failure for error responses.
	ErrorKind string `json:"errorKind,omitempty"`
	// Message is the failure description for error responses.
	Message string `json:"message,omitempty"`
	// Retryable indicates whether the agent considers the error transient.
	Retryable bool `json:"retryable,omitempty"`
	// Objection is a domain objection raised by the agent, if any.
	// An objection accompanies an otherwise-complete result and is
	// arbitrated before the result is accepted.
	Objection *Objection `json:"objection,omitempty"`
}

// OK returns true if the invocation succeeded.
func (r *InvocationResult) OK() bool {
	return r.Status == "ok"
}

// Objection is a domain-authority objection raised by an agent against
// a subtask's proposed action.
type Objection struct {
	// Domain is the authority domain the objection falls under.
	Domain string `json:"domain"`
	// AgentID is the objecting agent.
	AgentID string `json:"agent_id"`
	// Rationale explains the objection.
	Rationale string `json:"rationale"`
}
