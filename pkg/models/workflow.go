// Package models defines the shared data types for the orchestration core.
package models

import "time"

// WorkflowStatus represents the current state of a workflow.
type WorkflowStatus string

const (
	// WorkflowStatusPending indicates the workflow has not started.
	WorkflowStatusPending WorkflowStatus = "pending"
	// WorkflowStatusRunning indicates the workflow is executing.
	WorkflowStatusRunning WorkflowStatus = "running"
	// WorkflowStatusCompleted indicates every reachable subtask succeeded.
	WorkflowStatusCompleted WorkflowStatus = "completed"
	// WorkflowStatusFailed indicates at least one subtask failed or was skipped.
	WorkflowStatusFailed WorkflowStatus = "failed"
	// WorkflowStatusVetoed indicates a hard veto halted the workflow.
	WorkflowStatusVetoed WorkflowStatus = "vetoed"
)

// Valid returns true if the status is a known value.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusPending, WorkflowStatusRunning, WorkflowStatusCompleted,
		WorkflowStatusFailed, WorkflowStatusVetoed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusVetoed:
		return true
	default:
		return false
	}
}

// Workflow represents one decomposed request and its full subtask graph.
type Workflow struct {
	// ID is the unique identifier for this workflow.
	ID string `json:"id"`
	// Request is the originating request text.
	Request string `json:"request"`
	// Status is the current state of the workflow.
	Status WorkflowStatus `json:"status"`
	// SubtaskIDs lists the workflow's subtasks in decomposition order.
	SubtaskIDs []string `json:"subtask_ids"`
	// AllowOverride permits the scheduler to request an override when a
	// soft veto is raised against one of this workflow's subtasks.
	AllowOverride bool `json:"allow_override,omitempty"`
	// CreatedAt is when the workflow was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the workflow reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// WorkflowResult is the terminal outcome of executing a workflow.
// Partial results are always included: callers see every node that
// succeeded alongside every node that failed, and why.
type WorkflowResult struct {
	// WorkflowID is the ID of the executed workflow.
	WorkflowID string `json:"workflow_id"`
	// Status is the terminal workflow status.
	Status WorkflowStatus `json:"status"`
	// Results maps succeeded subtask IDs to their result payloads.
	Results map[string]string `json:"results"`
	// Failures maps failed or vetoed subtask IDs to their errors.
	Failures map[string]*SubtaskError `json:"failures,omitempty"`
	// Veto is the veto record that halted the workflow, for hard vetoes.
	Veto *VetoRecord `json:"veto,omitempty"`
	// Duration is the wall-clock execution time.
	Duration time.Duration `json:"duration"`
}
