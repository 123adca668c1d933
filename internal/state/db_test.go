package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/icdev-ai/dispatch/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedWorkflow(t *testing.T, db *DB) (*models.Workflow, []*models.Subtask) {
	t.Helper()
	wf := &models.Workflow{
		ID:        "wf-1",
		Request:   "build the thing",
		Status:    models.WorkflowStatusPending,
		CreatedAt: time.Now(),
	}
	subtasks := []*models.Subtask{
		{ID: "st-a", WorkflowID: "wf-1", Capability: "codegen", Status: models.SubtaskStatusReady},
		{ID: "st-b", WorkflowID: "wf-1", Capability: "review", Status: models.SubtaskStatusBlocked, DependsOn: []string{"st-a"}},
	}
	if err := db.CreateWorkflow(wf, subtasks); err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	return wf, subtasks
}

func TestMigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestCreateAndGetWorkflow(t *testing.T) {
	db := openTestDB(t)
	seedWorkflow(t, db)

	wf, err := db.GetWorkflow("wf-1")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if wf.Request != "build the thing" {
		t.Errorf("unexpected request: %q", wf.Request)
	}
	if len(wf.SubtaskIDs) != 2 || wf.SubtaskIDs[0] != "st-a" || wf.SubtaskIDs[1] != "st-b" {
		t.Errorf("unexpected subtask ids: %v", wf.SubtaskIDs)
	}
}

func TestGetWorkflowNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetWorkflow("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSubtaskRoundTrip(t *testing.T) {
	db := openTestDB(t)
	seedWorkflow(t, db)

	st, err := db.GetSubtask("st-b")
	if err != nil {
		t.Fatalf("get subtask: %v", err)
	}
	if st.Capability != "review" {
		t.Errorf("unexpected capability: %q", st.Capability)
	}
	if len(st.DependsOn) != 1 || st.DependsOn[0] != "st-a" {
		t.Errorf("unexpected depends_on: %v", st.DependsOn)
	}
	if st.Status != models.SubtaskStatusBlocked {
		t.Errorf("unexpected status: %q", st.Status)
	}
}

func TestCompareAndSetTransitions(t *testing.T) {
	db := openTestDB(t)
	seedWorkflow(t, db)

	if err := db.MarkDispatched("st-a", "agent-1"); err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}

	// Second dispatch must lose the race.
	if err := db.MarkDispatched("st-a", "agent-2"); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("expected ErrStatusConflict, got %v", err)
	}

	if err := db.MarkSucceeded("st-a", `{"ok":true}`); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	// Double completion must fail: the subtask is no longer dispatched.
	if err := db.MarkSucceeded("st-a", "again"); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("expected ErrStatusConflict on double completion, got %v", err)
	}

	st, err := db.GetSubtask("st-a")
	if err != nil {
		t.Fatalf("get subtask: %v", err)
	}
	if st.Status != models.SubtaskStatusSucceeded {
		t.Errorf("expected succeeded, got %q", st.Status)
	}
	if st.AssignedAgent != "agent-1" {
		t.Errorf("expected agent-1, got %q", st.AssignedAgent)
	}
	if st.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestMarkFailedImmutableOnceTerminal(t *testing.T) {
	db := openTestDB(t)
	seedWorkflow(t, db)

	stErr := &models.SubtaskError{Kind: models.ErrKindAgentError, Message: "boom"}
	if err := db.MarkFailed("st-b", stErr); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// Terminal subtasks are immutable.
	if err := db.MarkVetoed("st-b", nil); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("expected ErrStatusConflict for terminal subtask, got %v", err)
	}

	st, err := db.GetSubtask("st-b")
	if err != nil {
		t.Fatalf("get subtask: %v", err)
	}
	if st.Error == nil || st.Error.Kind != models.ErrKindAgentError {
		t.Errorf("expected agent_error, got %+v", st.Error)
	}
}

func TestIncrementRetry(t *testing.T) {
	db := openTestDB(t)
	seedWorkflow(t, db)

	if err := db.MarkDispatched("st-a", "agent-1"); err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}
	if err := db.IncrementRetry("st-a"); err != nil {
		t.Fatalf("increment retry: %v", err)
	}

	st, err := db.GetSubtask("st-a")
	if err != nil {
		t.Fatalf("get subtask: %v", err)
	}
	if st.RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", st.RetryCount)
	}
	if st.Status != models.SubtaskStatusReady {
		t.Errorf("expected ready after retry, got %q", st.Status)
	}

	// A retry spent waiting for an eligible agent starts from ready.
	if err := db.IncrementRetry("st-a"); err != nil {
		t.Fatalf("increment retry from ready: %v", err)
	}
	st, err = db.GetSubtask("st-a")
	if err != nil {
		t.Fatalf("get subtask: %v", err)
	}
	if st.RetryCount != 2 {
		t.Errorf("expected retry_count 2, got %d", st.RetryCount)
	}
}

func TestUpdateWorkflowStatus(t *testing.T) {
	db := openTestDB(t)
	seedWorkflow(t, db)

	if err := db.UpdateWorkflowStatus("wf-1", models.WorkflowStatusCompleted); err != nil {
		t.Fatalf("update status: %v", err)
	}

	wf, err := db.GetWorkflow("wf-1")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if wf.Status != models.WorkflowStatusCompleted {
		t.Errorf("expected completed, got %q", wf.Status)
	}
	if wf.CompletedAt == nil {
		t.Error("expected completed_at to be stamped")
	}

	if err := db.UpdateWorkflowStatus("missing", models.WorkflowStatusFailed); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestVetoRecordsAppendOnly(t *testing.T) {
	db := openTestDB(t)
	seedWorkflow(t, db)

	rec := &models.VetoRecord{
		ID:        "veto-1",
		SubtaskID: "st-a",
		AgentID:   "agent-sec",
		Domain:    "security",
		Severity:  models.VetoSeverityHard,
		Rationale: "writes to prod credentials",
		Decision:  models.DecisionVeto,
		CreatedAt: time.Now(),
	}
	if err := db.AppendVetoRecord(rec); err != nil {
		t.Fatalf("append veto record: %v", err)
	}

	records, err := db.ListVetoRecords("st-a", 10)
	if err != nil {
		t.Fatalf("list veto records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.Domain != "security" || got.Severity != models.VetoSeverityHard || got.Decision != models.DecisionVeto {
		t.Errorf("unexpected record: %+v", got)
	}

	// Listing all subtasks includes the record too.
	all, err := db.ListVetoRecords("", 10)
	if err != nil {
		t.Fatalf("list all veto records: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 record overall, got %d", len(all))
	}
}
