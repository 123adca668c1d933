package decompose

import (
	"context"
	"errors"
	"testing"

	"github.com/icdev-ai/dispatch/pkg/models"
)

// fakePlanner returns a fixed plan or error.
type fakePlanner struct {
	plan []PlannedTask
	err  error
}

func (f *fakePlanner) Plan(_ context.Context, _ string) ([]PlannedTask, error) {
	return f.plan, f.err
}

func decompositionKind(t *testing.T, err error) models.ErrorKind {
	t.Helper()
	var de *DecompositionError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecompositionError, got %v", err)
	}
	return de.Kind
}

func TestDecomposeValidPlan(t *testing.T) {
	a := NewAdapter(&fakePlanner{plan: []PlannedTask{
		{ID: "fetch", Capability: "http", Input: "fetch the data"},
		{ID: "parse", Capability: "codegen", DependsOn: []string{"fetch"}, Input: "parse it"},
		{ID: "report", Capability: "review", DependsOn: []string{"parse"}, Input: "summarize"},
	}})

	wf, subtasks, err := a.Decompose(context.Background(), "do the thing", false)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if wf.Status != models.WorkflowStatusPending {
		t.Errorf("expected pending workflow, got %s", wf.Status)
	}
	if len(subtasks) != 3 || len(wf.SubtaskIDs) != 3 {
		t.Fatalf("expected 3 subtasks, got %d", len(subtasks))
	}

	// Root tasks start ready, dependent tasks blocked.
	if subtasks[0].Status != models.SubtaskStatusReady {
		t.Errorf("expected root subtask ready, got %s", subtasks[0].Status)
	}
	if subtasks[1].Status != models.SubtaskStatusBlocked {
		t.Errorf("expected dependent subtask blocked, got %s", subtasks[1].Status)
	}

	// Dependencies are remapped onto the fresh global IDs.
	if subtasks[1].DependsOn[0] != subtasks[0].ID {
		t.Errorf("dependency not remapped: %s vs %s", subtasks[1].DependsOn[0], subtasks[0].ID)
	}
	for _, st := range subtasks {
		if st.WorkflowID != wf.ID {
			t.Errorf("subtask %s not bound to workflow", st.ID)
		}
	}
}

func TestDecomposeRejectsEmptyPlan(t *testing.T) {
	a := NewAdapter(&fakePlanner{plan: nil})
	_, _, err := a.Decompose(context.Background(), "anything", false)
	if kind := decompositionKind(t, err); kind != models.ErrKindInvalidGraph {
		t.Errorf("unexpected kind: %s", kind)
	}
}

func TestDecomposeRejectsDuplicateIDs(t *testing.T) {
	a := NewAdapter(&fakePlanner{plan: []PlannedTask{
		{ID: "t1", Capability: "codegen"},
		{ID: "t1", Capability: "review"},
	}})
	_, _, err := a.Decompose(context.Background(), "x", false)
	if kind := decompositionKind(t, err); kind != models.ErrKindInvalidGraph {
		t.Errorf("unexpected kind: %s", kind)
	}
}

func TestDecomposeRejectsUnknownDependency(t *testing.T) {
	a := NewAdapter(&fakePlanner{plan: []PlannedTask{
		{ID: "t1", Capability: "codegen", DependsOn: []string{"ghost"}},
	}})
	_, _, err := a.Decompose(context.Background(), "x", false)
	if kind := decompositionKind(t, err); kind != models.ErrKindInvalidGraph {
		t.Errorf("unexpected kind: %s", kind)
	}
}

func TestDecomposeRejectsMissingOrMultipleCapabilities(t *testing.T) {
	for name, capability := range map[string]string{
		"empty":    "",
		"multiple": "codegen, review",
		"spaces":   "codegen review",
	} {
		t.Run(name, func(t *testing.T) {
			a := NewAdapter(&fakePlanner{plan: []PlannedTask{
				{ID: "t1", Capability: capability},
			}})
			_, _, err := a.Decompose(context.Background(), "x", false)
			if kind := decompositionKind(t, err); kind != models.ErrKindInvalidGraph {
				t.Errorf("unexpected kind: %s", kind)
			}
		})
	}
}

func TestDecomposeRejectsCycles(t *testing.T) {
	a := NewAdapter(&fakePlanner{plan: []PlannedTask{
		{ID: "t1", Capability: "codegen", DependsOn: []string{"t3"}},
		{ID: "t2", Capability: "codegen", DependsOn: []string{"t1"}},
		{ID: "t3", Capability: "codegen", DependsOn: []string{"t2"}},
	}})
	_, _, err := a.Decompose(context.Background(), "x", false)
	if kind := decompositionKind(t, err); kind != models.ErrKindInvalidGraph {
		t.Errorf("unexpected kind: %s", kind)
	}
}

func TestDecomposeRejectsSelfDependency(t *testing.T) {
	a := NewAdapter(&fakePlanner{plan: []PlannedTask{
		{ID: "t1", Capability: "codegen", DependsOn: []string{"t1"}},
	}})
	_, _, err := a.Decompose(context.Background(), "x", false)
	if kind := decompositionKind(t, err); kind != models.ErrKindInvalidGraph {
		t.Errorf("unexpected kind: %s", kind)
	}
}

func TestDecomposePropagatesPlannerError(t *testing.T) {
	a := NewAdapter(&fakePlanner{err: errors.New("rate limited")})
	_, _, err := a.Decompose(context.Background(), "x", false)
	if err == nil {
		t.Fatal("expected error")
	}
	var de *DecompositionError
	if errors.As(err, &de) {
		t.Error("planner transport failure must not masquerade as a validation error")
	}
}

func TestParsePlanResponseExtractsEmbeddedJSON(t *testing.T) {
	response := `Here is the plan:
[
  {"id": "t1", "capability": "codegen", "input": "write it"},
  {"id": "t2", "capability": "review", "depends_on": ["t1"], "input": "check it"}
]
Let me know if you need changes.`

	plan, err := parsePlanResponse(response)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(plan) != 2 || plan[1].DependsOn[0] != "t1" {
		t.Errorf("unexpected plan: %+v", plan)
	}
}

func TestParsePlanResponseRejectsProse(t *testing.T) {
	if _, err := parsePlanResponse("I cannot help with that."); err == nil {
		t.Error("expected error for response without JSON array")
	}
}
