package models

import "testing"

func TestAgentHasCapability(t *testing.T) {
	a := &Agent{ID: "agent-1", Capabilities: []string{"codegen", "review"}}

	if !a.HasCapability("codegen") {
		t.Error("expected agent to have codegen capability")
	}
	if a.HasCapability("deploy") {
		t.Error("expected agent to lack deploy capability")
	}
}

func TestAgentScope(t *testing.T) {
	if got := AgentScope("agent-7"); got != "agent:agent-7" {
		t.Errorf("expected agent:agent-7, got %s", got)
	}
}

func TestWorkflowStatusTerminal(t *testing.T) {
	if WorkflowStatusRunning.Terminal() {
		t.Error("running should not be terminal")
	}
	for _, s := range []WorkflowStatus{WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusVetoed} {
		if !s.Terminal() {
			t.Errorf("expected %q to be terminal", s)
		}
	}
}

func TestVetoDecisionValid(t *testing.T) {
	for _, d := range []VetoDecision{DecisionVeto, DecisionOverrideGranted, DecisionOverrideDenied} {
		if !d.Valid() {
			t.Errorf("expected %q to be valid", d)
		}
	}
	if VetoDecision("maybe").Valid() {
		t.Error("expected unknown decision to be invalid")
	}
}
