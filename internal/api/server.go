// Package api exposes the admin HTTP surface: workflow submission and
// inspection, agent registration and liveness, the veto audit trail,
// the inter-agent mailbox, and shared memory.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/icdev-ai/dispatch/internal/decompose"
	"github.com/icdev-ai/dispatch/internal/mailbox"
	"github.com/icdev-ai/dispatch/internal/memory"
	"github.com/icdev-ai/dispatch/internal/router"
	"github.com/icdev-ai/dispatch/internal/state"
	"github.com/icdev-ai/dispatch/pkg/models"
)

// Decomposer turns a request into a validated workflow.
type Decomposer interface {
	Decompose(ctx context.Context, request string, allowOverride bool) (*models.Workflow, []*models.Subtask, error)
}

// Runner executes a persisted workflow to completion.
type Runner interface {
	Execute(ctx context.Context, wf *models.Workflow, subtasks []*models.Subtask) (*models.WorkflowResult, error)
}

// Server is the admin HTTP server.
type Server struct {
	db         *state.DB
	registry   *router.Registry
	decomposer Decomposer
	runner     Runner
	mailbox    *mailbox.Mailbox
	memory     *memory.Store
}

// NewServer creates the admin server over the given components.
func NewServer(db *state.DB, registry *router.Registry, dec Decomposer, runner Runner, mbox *mailbox.Mailbox, mem *memory.Store) *Server {
	return &Server{db: db, registry: registry, decomposer: dec, runner: runner, mailbox: mbox, memory: mem}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/workflows", func(r chi.Router) {
		r.Post("/", s.handleSubmitWorkflow)
		r.Get("/", s.handleListWorkflows)
		r.Get("/{id}", s.handleGetWorkflow)
		r.Get("/{id}/subtasks", s.handleListSubtasks)
	})

	r.Route("/agents", func(r chi.Router) {
		r.Post("/", s.handleRegisterAgent)
		r.Get("/", s.handleListAgents)
		r.Post("/{id}/heartbeat", s.handleHeartbeat)
		r.Post("/{id}/expire", s.handleExpire)
	})

	r.Get("/vetoes", s.handleListVetoes)

	r.Route("/messages", func(r chi.Router) {
		r.Post("/", s.handleSendMessage)
		r.Get("/{agentID}", s.handlePollMessages)
		r.Post("/{agentID}/ack/{messageID}", s.handleAckMessage)
	})

	r.Route("/memory", func(r chi.Router) {
		r.Post("/", s.handleStoreMemory)
		r.Get("/", s.handleRecallMemory)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	Request       string `json:"request"`
	AllowOverride bool   `json:"allow_override"`
}

// handleSubmitWorkflow decomposes the request, persists the workflow,
// and starts execution in the background. Planner output that fails
// validation produces 422 and nothing is persisted.
func (s *Server) handleSubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Request == "" {
		writeError(w, http.StatusBadRequest, "request text is required")
		return
	}

	wf, subtasks, err := s.decomposer.Decompose(r.Context(), req.Request, req.AllowOverride)
	if err != nil {
		var de *decompose.DecompositionError
		if errors.As(err, &de) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": de.Message,
				"kind":  string(de.Kind),
			})
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if err := s.db.CreateWorkflow(wf, subtasks); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	go func() {
		if _, err := s.runner.Execute(context.Background(), wf, subtasks); err != nil {
			log.Printf("[api] workflow %s execution error: %v", wf.ID, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": wf.ID})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, _ *http.Request) {
	workflows, err := s.db.ListWorkflows(0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, workflows)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.db.GetWorkflow(chi.URLParam(r, "id"))
	if errors.Is(err, state.ErrNotFound) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleListSubtasks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.db.GetWorkflow(id); errors.Is(err, state.ErrNotFound) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	subtasks, err := s.db.ListSubtasks(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, subtasks)
}

type registerRequest struct {
	ID             string   `json:"id"`
	Capabilities   []string `json:"capabilities"`
	Role           string   `json:"role"`
	AuthorityLevel int      `json:"authority_level"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" || len(req.Capabilities) == 0 {
		writeError(w, http.StatusBadRequest, "id and capabilities are required")
		return
	}

	s.registry.Register(&models.Agent{
		ID:             req.ID,
		Capabilities:   req.Capabilities,
		Role:           req.Role,
		AuthorityLevel: req.AuthorityLevel,
	})
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.All())
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.registry.Get(id) == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	s.registry.Heartbeat(id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.registry.ForceExpire(id) {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleListVetoes(w http.ResponseWriter, r *http.Request) {
	records, err := s.db.ListVetoRecords(r.URL.Query().Get("subtask_id"), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []*models.VetoRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

type sendMessageRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Payload   string `json:"payload"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Sender == "" || req.Recipient == "" || req.Payload == "" {
		writeError(w, http.StatusBadRequest, "sender, recipient, and payload are required")
		return
	}

	id, err := s.mailbox.Send(req.Sender, req.Recipient, req.Payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message_id": id})
}

func (s *Server) handlePollMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.mailbox.Poll(chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleAckMessage(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	messageID := chi.URLParam(r, "messageID")
	if err := s.mailbox.Ack(agentID, messageID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": messageID})
}

type storeMemoryRequest struct {
	Scope      string `json:"scope"`
	ProjectID  string `json:"project_id"`
	Type       string `json:"type"`
	Content    string `json:"content"`
	Importance int    `json:"importance"`
}

func (s *Server) handleStoreMemory(w http.ResponseWriter, r *http.Request) {
	var req storeMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Scope == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "scope and content are required")
		return
	}
	if req.Importance == 0 {
		req.Importance = 5
	}

	id, err := s.memory.StoreEntry(req.Scope, &models.MemoryEntry{
		ProjectID:  req.ProjectID,
		Type:       req.Type,
		Content:    req.Content,
		Importance: req.Importance,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleRecallMemory(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		writeError(w, http.StatusBadRequest, "scope is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := s.memory.Recall(scope, r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*models.MemoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
