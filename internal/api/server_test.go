package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/icdev-ai/dispatch/internal/decompose"
	"github.com/icdev-ai/dispatch/internal/mailbox"
	"github.com/icdev-ai/dispatch/internal/memory"
	"github.com/icdev-ai/dispatch/internal/router"
	"github.com/icdev-ai/dispatch/internal/state"
	"github.com/icdev-ai/dispatch/pkg/models"
)

type fakeDecomposer struct {
	err error
}

func (f *fakeDecomposer) Decompose(_ context.Context, request string, allowOverride bool) (*models.Workflow, []*models.Subtask, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	wfID := uuid.New().String()
	stID := uuid.New().String()
	wf := &models.Workflow{
		ID: wfID, Request: request, Status: models.WorkflowStatusPending,
		SubtaskIDs: []string{stID}, AllowOverride: allowOverride, CreatedAt: time.Now(),
	}
	subtasks := []*models.Subtask{
		{ID: stID, WorkflowID: wfID, Capability: "codegen", Status: models.SubtaskStatusReady},
	}
	return wf, subtasks, nil
}

type fakeRunner struct {
	mu       sync.Mutex
	executed []string
	started  chan struct{}
}

func (f *fakeRunner) Execute(_ context.Context, wf *models.Workflow, _ []*models.Subtask) (*models.WorkflowResult, error) {
	f.mu.Lock()
	f.executed = append(f.executed, wf.ID)
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
	}
	return &models.WorkflowResult{WorkflowID: wf.ID, Status: models.WorkflowStatusCompleted}, nil
}

func newTestServer(t *testing.T, dec Decomposer, runner Runner) (*Server, *state.DB, *router.Registry) {
	t.Helper()
	dir := t.TempDir()

	db, err := state.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mbox, err := mailbox.Open(filepath.Join(dir, "mailbox.db"), mailbox.NewSigner("test-secret"))
	if err != nil {
		t.Fatalf("open mailbox: %v", err)
	}
	t.Cleanup(func() { mbox.Close() })

	mem, err := memory.Open(filepath.Join(dir, "memory.db"), memory.DefaultOptions())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	t.Cleanup(func() { mem.Close() })

	registry := router.NewRegistry(30 * time.Second)
	return NewServer(db, registry, dec, runner, mbox, mem), db, registry
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeDecomposer{}, &fakeRunner{})
	rec := doJSON(t, s.Handler(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestSubmitWorkflow(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{})}
	s, db, _ := newTestServer(t, &fakeDecomposer{}, runner)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/workflows", submitRequest{Request: "build a thing"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	wfID := resp["workflow_id"]
	if wfID == "" {
		t.Fatal("expected workflow_id in response")
	}

	// The workflow is persisted before the handler returns.
	if _, err := db.GetWorkflow(wfID); err != nil {
		t.Fatalf("workflow not persisted: %v", err)
	}

	// Execution starts in the background.
	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("runner never started")
	}
}

func TestSubmitWorkflowInvalidPlan(t *testing.T) {
	dec := &fakeDecomposer{err: &decompose.DecompositionError{
		Kind: models.ErrKindInvalidGraph, Message: "dependency cycle in plan",
	}}
	s, db, _ := newTestServer(t, dec, &fakeRunner{})

	rec := doJSON(t, s.Handler(), http.MethodPost, "/workflows", submitRequest{Request: "impossible"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}

	// Nothing was persisted.
	workflows, err := db.ListWorkflows(0)
	if err != nil {
		t.Fatalf("list workflows: %v", err)
	}
	if len(workflows) != 0 {
		t.Errorf("expected no workflows, got %d", len(workflows))
	}
}

func TestSubmitWorkflowMissingRequest(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeDecomposer{}, &fakeRunner{})
	rec := doJSON(t, s.Handler(), http.MethodPost, "/workflows", submitRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestGetWorkflowNotFound(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeDecomposer{}, &fakeRunner{})
	rec := doJSON(t, s.Handler(), http.MethodGet, "/workflows/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestWorkflowSubtasksRoundTrip(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{})}
	s, _, _ := newTestServer(t, &fakeDecomposer{}, runner)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/workflows", submitRequest{Request: "do work"})
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)

	rec = doJSON(t, h, http.MethodGet, "/workflows/"+resp["workflow_id"]+"/subtasks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var subtasks []*models.Subtask
	if err := json.Unmarshal(rec.Body.Bytes(), &subtasks); err != nil {
		t.Fatalf("decode subtasks: %v", err)
	}
	if len(subtasks) != 1 || subtasks[0].Capability != "codegen" {
		t.Errorf("unexpected subtasks: %+v", subtasks)
	}
	<-runner.started
}

func TestAgentLifecycle(t *testing.T) {
	s, _, registry := newTestServer(t, &fakeDecomposer{}, &fakeRunner{})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/agents", registerRequest{
		ID: "a1", Capabilities: []string{"codegen"}, Role: "coder",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/agents", nil)
	var agents []*models.Agent
	if err := json.Unmarshal(rec.Body.Bytes(), &agents); err != nil {
		t.Fatalf("decode agents: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != "a1" {
		t.Fatalf("unexpected agents: %+v", agents)
	}

	rec = doJSON(t, h, http.MethodPost, "/agents/a1/heartbeat", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for heartbeat, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/agents/a1/expire", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for expire, got %d", rec.Code)
	}
	if _, err := registry.Route("codegen"); err == nil {
		t.Error("expected expired agent to be unroutable")
	}

	rec = doJSON(t, h, http.MethodPost, "/agents/ghost/expire", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown agent, got %d", rec.Code)
	}
}

func TestRegisterAgentValidation(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeDecomposer{}, &fakeRunner{})
	rec := doJSON(t, s.Handler(), http.MethodPost, "/agents", registerRequest{ID: "a1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing capabilities, got %d", rec.Code)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeDecomposer{}, &fakeRunner{})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/messages", sendMessageRequest{
		Sender: "planner", Recipient: "coder", Payload: "start on the parser",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var sent map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode send response: %v", err)
	}

	rec = doJSON(t, h, http.MethodGet, "/messages/coder", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var messages []*models.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &messages); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != sent["message_id"] {
		t.Fatalf("unexpected messages: %+v", messages)
	}

	rec = doJSON(t, h, http.MethodPost, "/messages/coder/ack/"+sent["message_id"], nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for ack, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/messages/coder", nil)
	messages = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &messages); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected empty unread set after ack, got %d", len(messages))
	}
}

func TestSendMessageValidation(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeDecomposer{}, &fakeRunner{})
	rec := doJSON(t, s.Handler(), http.MethodPost, "/messages", sendMessageRequest{Sender: "planner"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing fields, got %d", rec.Code)
	}
}

func TestMemoryStoreAndRecall(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeDecomposer{}, &fakeRunner{})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/memory", storeMemoryRequest{
		Scope: models.TeamScope, Type: "preference", Content: "tabs over spaces", Importance: 8,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/memory?scope="+models.TeamScope+"&q=tabs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var entries []*models.MemoryEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "tabs over spaces" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	rec = doJSON(t, h, http.MethodGet, "/memory?scope="+models.TeamScope+"&q=nomatch", nil)
	entries = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no matches, got %d", len(entries))
	}
}

func TestMemoryValidation(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeDecomposer{}, &fakeRunner{})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/memory", storeMemoryRequest{Scope: models.TeamScope})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing content, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/memory", storeMemoryRequest{
		Scope: models.TeamScope, Content: "x", Importance: 11,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for out-of-range importance, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/memory", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing scope, got %d", rec.Code)
	}
}

func TestListVetoesEmpty(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeDecomposer{}, &fakeRunner{})
	rec := doJSON(t, s.Handler(), http.MethodGet, "/vetoes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var records []*models.VetoRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty list, got %d", len(records))
	}
}
