package models

import "time"

// SubtaskStatus represents the current state of a subtask.
type SubtaskStatus string

const (
	// SubtaskStatusBlocked indicates one or more predecessors are unresolved.
	SubtaskStatusBlocked SubtaskStatus = "blocked"
	// SubtaskStatusReady indicates every predecessor has succeeded.
	SubtaskStatusReady SubtaskStatus = "ready"
	// SubtaskStatusDispatched indicates the subtask is executing on an agent.
	SubtaskStatusDispatched SubtaskStatus = "dispatched"
	// SubtaskStatusSucceeded indicates the subtask completed successfully.
	SubtaskStatusSucceeded SubtaskStatus = "succeeded"
	// SubtaskStatusFailed indicates the subtask failed or was skipped by cascade.
	SubtaskStatusFailed SubtaskStatus = "failed"
	// SubtaskStatusVetoed indicates an authority veto stopped the subtask.
	SubtaskStatusVetoed SubtaskStatus = "vetoed"
)

// Valid returns true if the status is a known value.
func (s SubtaskStatus) Valid() bool {
	switch s {
	case SubtaskStatusBlocked, SubtaskStatusReady, SubtaskStatusDispatched,
		SubtaskStatusSucceeded, SubtaskStatusFailed, SubtaskStatusVetoed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state. A subtask is
// immutable once terminal.
func (s SubtaskStatus) Terminal() bool {
	switch s {
	case SubtaskStatusSucceeded, SubtaskStatusFailed, SubtaskStatusVetoed:
		return true
	default:
		return false
	}
}

// Subtask represents a single unit of dispatchable work in a workflow graph.
type Subtask struct {
	// ID is the unique identifier for this subtask.
	ID string `json:"id"`
	// WorkflowID is the ID of the owning workflow.
	WorkflowID string `json:"workflow_id"`
	// Capability is the capability tag this subtask requires.
	Capability string `json:"capability"`
	// Input is the input payload handed to the executing agent.
	Input string `json:"input,omitempty"`
	// DependsOn lists predecessor subtask IDs that must succeed first.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current state of the subtask.
	Status SubtaskStatus `json:"status"`
	// AssignedAgent is the ID of the agent executing this subtask.
	AssignedAgent string `json:"assigned_agent,omitempty"`
	// Result is the result payload from a successful execution.
	Result string `json:"result,omitempty"`
	// Error describes the failure for failed or vetoed subtasks.
	Error *SubtaskError `json:"error,omitempty"`
	// RetryCount is the number of times this subtask has been retried.
	RetryCount int `json:"retry_count,omitempty"`
	// DispatchedAt is when the subtask was last handed to an agent.
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	// CompletedAt is when the subtask reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SubtaskError carries the error kind and message for a failed subtask.
type SubtaskError struct {
	// Kind classifies the failure.
	Kind ErrorKind `json:"kind"`
	// Message is the human-readable failure description.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *SubtaskError) Error() string {
	return string(e.Kind) + ": " + e.Message
}
