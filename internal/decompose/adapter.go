package decompose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/icdev-ai/dispatch/internal/graph"
	"github.com/icdev-ai/dispatch/pkg/models"
)

// Adapter sits between the untrusted planner and the scheduler. It runs
// the planner, validates the proposed breakdown, and materializes a
// workflow with subtasks only when the plan is structurally sound.
type Adapter struct {
	planner Planner
	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewAdapter creates an adapter around the given planner.
func NewAdapter(p Planner) *Adapter {
	return &Adapter{planner: p, now: time.Now}
}

// SetClock overrides the adapter clock for tests.
func (a *Adapter) SetClock(now func() time.Time) {
	a.now = now
}

// Decompose plans the request and validates the result. On success it
// returns a pending workflow and its subtasks, ready for persistence and
// scheduling. On any validation failure it returns a DecompositionError
// and no workflow exists anywhere.
func (a *Adapter) Decompose(ctx context.Context, request string, allowOverride bool) (*models.Workflow, []*models.Subtask, error) {
	plan, err := a.planner.Plan(ctx, request)
	if err != nil {
		return nil, nil, fmt.Errorf("planner: %w", err)
	}

	if err := validatePlan(plan); err != nil {
		return nil, nil, err
	}

	now := a.now()
	wfID := uuid.New().String()

	// Planner task IDs are only unique within the plan, so subtasks get
	// fresh global IDs and dependencies are remapped.
	idMap := make(map[string]string, len(plan))
	for _, pt := range plan {
		idMap[pt.ID] = uuid.New().String()
	}

	subtasks := make([]*models.Subtask, len(plan))
	subtaskIDs := make([]string, len(plan))
	for i, pt := range plan {
		deps := make([]string, len(pt.DependsOn))
		for j, dep := range pt.DependsOn {
			deps[j] = idMap[dep]
		}
		status := models.SubtaskStatusReady
		if len(deps) > 0 {
			status = models.SubtaskStatusBlocked
		}
		subtasks[i] = &models.Subtask{
			ID:         idMap[pt.ID],
			WorkflowID: wfID,
			Capability: pt.Capability,
			Input:      pt.Input,
			DependsOn:  deps,
			Status:     status,
		}
		subtaskIDs[i] = idMap[pt.ID]
	}

	wf := &models.Workflow{
		ID:            wfID,
		Request:       request,
		Status:        models.WorkflowStatusPending,
		SubtaskIDs:    subtaskIDs,
		AllowOverride: allowOverride,
		CreatedAt:     now,
	}
	return wf, subtasks, nil
}

// validatePlan enforces the structural rules on planner output.
func validatePlan(plan []PlannedTask) error {
	if len(plan) == 0 {
		return &DecompositionError{
			Kind:    models.ErrKindInvalidGraph,
			Message: "planner returned an empty plan",
		}
	}

	ids := make(map[string]bool, len(plan))
	for _, pt := range plan {
		if pt.ID == "" {
			return &DecompositionError{
				Kind:    models.ErrKindInvalidGraph,
				Message: "task with empty id",
			}
		}
		if ids[pt.ID] {
			return &DecompositionError{
				Kind:    models.ErrKindInvalidGraph,
				Message: fmt.Sprintf("duplicate task id %q", pt.ID),
			}
		}
		ids[pt.ID] = true

		tag := strings.TrimSpace(pt.Capability)
		if tag == "" {
			return &DecompositionError{
				Kind:    models.ErrKindInvalidGraph,
				Message: fmt.Sprintf("task %q has no capability", pt.ID),
			}
		}
		if strings.ContainsAny(tag, ", \t") {
			return &DecompositionError{
				Kind:    models.ErrKindInvalidGraph,
				Message: fmt.Sprintf("task %q must require exactly one capability, got %q", pt.ID, pt.Capability),
			}
		}
	}

	for _, pt := range plan {
		for _, dep := range pt.DependsOn {
			if dep == pt.ID {
				return &DecompositionError{
					Kind:    models.ErrKindInvalidGraph,
					Message: fmt.Sprintf("task %q depends on itself", pt.ID),
				}
			}
			if !ids[dep] {
				return &DecompositionError{
					Kind:    models.ErrKindInvalidGraph,
					Message: fmt.Sprintf("task %q depends on unknown task %q", pt.ID, dep),
				}
			}
		}
	}

	// Reuse the scheduler's graph for cycle detection so validation and
	// execution agree on what a legal graph is.
	probe := make([]*models.Subtask, len(plan))
	for i, pt := range plan {
		probe[i] = &models.Subtask{ID: pt.ID, DependsOn: pt.DependsOn}
	}
	g := graph.New()
	if err := g.Build(probe); err != nil {
		if errors.Is(err, graph.ErrCycleDetected) {
			return &DecompositionError{
				Kind:    models.ErrKindInvalidGraph,
				Message: "dependency cycle in plan",
			}
		}
		return &DecompositionError{
			Kind:    models.ErrKindInvalidGraph,
			Message: err.Error(),
		}
	}
	return nil
}
