// Package decompose turns a free-form request into a validated workflow.
// The planner (usually Claude) is untrusted: its output is checked for
// duplicate IDs, dangling dependencies, missing capabilities, and cycles
// before any workflow state is created.
package decompose

import (
	"context"
	"fmt"

	"github.com/icdev-ai/dispatch/pkg/models"
)

// PlannedTask is a single task as proposed by the planner, before
// validation.
type PlannedTask struct {
	// ID is the planner-assigned task identifier, unique within the plan.
	ID string `json:"id"`
	// Capability is the single capability tag the task requires.
	Capability string `json:"capability"`
	// DependsOn lists IDs of tasks that must succeed first.
	DependsOn []string `json:"depends_on"`
	// Input is the instruction payload handed to the executing agent.
	Input string `json:"input"`
}

// Planner proposes a task breakdown for a request. Implementations are
// treated as untrusted; the adapter validates everything they return.
type Planner interface {
	Plan(ctx context.Context, request string) ([]PlannedTask, error)
}

// DecompositionError reports why a planner's output was rejected. No
// workflow is created when one is returned.
type DecompositionError struct {
	Kind    models.ErrorKind
	Message string
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
