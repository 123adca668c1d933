package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/icdev-ai/dispatch/internal/arbiter"
	"github.com/icdev-ai/dispatch/internal/config"
	"github.com/icdev-ai/dispatch/internal/graph"
	"github.com/icdev-ai/dispatch/internal/router"
	"github.com/icdev-ai/dispatch/internal/state"
	"github.com/icdev-ai/dispatch/pkg/models"
)

// Scheduler executes one workflow at a time over a bounded worker pool.
// It owns all workflow and subtask status transitions; workers only
// report invocation outcomes back through the completion channel.
type Scheduler struct {
	cfg      config.SchedulerConfig
	db       *state.DB
	registry *router.Registry
	arbiter  *arbiter.Arbiter
	invoker  Invoker
	emitter  *Emitter

	// coordinator is the identity used to request soft-veto overrides
	// when the workflow permits them.
	coordinator models.Agent
}

// New creates a scheduler. The emitter may be nil.
func New(cfg config.SchedulerConfig, db *state.DB, registry *router.Registry, arb *arbiter.Arbiter, invoker Invoker) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		db:       db,
		registry: registry,
		arbiter:  arb,
		invoker:  invoker,
		coordinator: models.Agent{
			ID:             "coordinator",
			Role:           "coordinator",
			AuthorityLevel: 2,
		},
	}
}

// SetEmitter attaches a lifecycle event emitter.
func (s *Scheduler) SetEmitter(e *Emitter) {
	s.emitter = e
}

// SetCoordinator sets the identity used for soft-veto override requests.
func (s *Scheduler) SetCoordinator(a models.Agent) {
	s.coordinator = a
}

// completion is a worker's final report on one subtask.
type completion struct {
	subtaskID string
	// agentID is the agent holding the assignment at the end, or empty
	// if the worker already released it.
	agentID string
	// result is set on success (possibly carrying an objection).
	result *models.InvocationResult
	// stErr is set on terminal failure.
	stErr *models.SubtaskError
}

// execution is the per-workflow run state shared between the main loop
// and its workers.
type execution struct {
	wf       *models.Workflow
	g        *graph.DependencyGraph
	done     chan completion
	halt     atomic.Bool
	inflight int
	results  map[string]string
	failures map[string]*models.SubtaskError
	haltVeto *models.VetoRecord
}

// Execute runs the workflow to a terminal state and returns the
// aggregated result. Independent subtasks run concurrently up to the
// pool bound; a pool size of zero defaults to the number of distinct
// capabilities in the workflow.
func (s *Scheduler) Execute(ctx context.Context, wf *models.Workflow, subtasks []*models.Subtask) (*models.WorkflowResult, error) {
	start := time.Now()

	g := graph.New()
	g.SetDebugLog(debugLog)
	if err := g.Build(subtasks); err != nil {
		return nil, fmt.Errorf("build dependency graph: %w", err)
	}

	ex := &execution{
		wf:       wf,
		g:        g,
		done:     make(chan completion),
		results:  make(map[string]string),
		failures: make(map[string]*models.SubtaskError),
	}

	// Resuming a previously interrupted workflow: completed work stands.
	for _, st := range subtasks {
		switch st.Status {
		case models.SubtaskStatusSucceeded:
			g.MarkSucceeded(st.ID)
			ex.results[st.ID] = st.Result
		case models.SubtaskStatusFailed, models.SubtaskStatusVetoed:
			ex.failures[st.ID] = st.Error
		}
	}

	pool := s.cfg.PoolSize
	if pool <= 0 {
		pool = distinctCapabilities(subtasks)
	}
	if pool <= 0 {
		pool = 1
	}
	debugLog("[scheduler] executing workflow %s: %d subtasks, pool=%d", wf.ID, len(subtasks), pool)

	if err := s.db.UpdateWorkflowStatus(wf.ID, models.WorkflowStatusRunning); err != nil {
		return nil, fmt.Errorf("mark workflow running: %w", err)
	}
	s.emit(Event{Type: EventWorkflowStarted, WorkflowID: wf.ID})

	for {
		if !ex.halt.Load() {
			for _, id := range g.GetReady() {
				if ex.inflight >= pool {
					break
				}
				s.dispatch(ctx, ex, id)
			}
		}

		if ex.inflight == 0 {
			break
		}

		c := <-ex.done
		ex.inflight--
		if c.agentID != "" {
			s.registry.Release(c.agentID)
		}
		s.handleCompletion(ex, c)
	}

	status := models.WorkflowStatusCompleted
	switch {
	case ex.haltVeto != nil:
		status = models.WorkflowStatusVetoed
	case len(ex.failures) > 0:
		status = models.WorkflowStatusFailed
	}
	if err := s.db.UpdateWorkflowStatus(wf.ID, status); err != nil {
		return nil, fmt.Errorf("finalize workflow status: %w", err)
	}
	s.emit(Event{Type: EventWorkflowFinished, WorkflowID: wf.ID, Detail: string(status)})
	debugLog("[scheduler] workflow %s finished %s: %d succeeded, %d failed", wf.ID, status, len(ex.results), len(ex.failures))

	return &models.WorkflowResult{
		WorkflowID: wf.ID,
		Status:     status,
		Results:    ex.results,
		Failures:   ex.failures,
		Veto:       ex.haltVeto,
		Duration:   time.Since(start),
	}, nil
}

// dispatch routes one ready subtask to an agent and starts a worker.
// When no agent is eligible the subtask fails only once the retry
// budget is spent waiting for one to register.
func (s *Scheduler) dispatch(ctx context.Context, ex *execution, id string) {
	st := ex.g.GetSubtask(id)

	if st.Status == models.SubtaskStatusBlocked {
		if err := s.db.TransitionSubtask(id, models.SubtaskStatusBlocked, models.SubtaskStatusReady); err != nil && !errors.Is(err, state.ErrStatusConflict) {
			debugLog("[scheduler] unblock %s: %v", id, err)
		}
		st.Status = models.SubtaskStatusReady
	}

	agent, err := s.registry.Route(st.Capability)
	if err != nil {
		stErr := &models.SubtaskError{
			Kind:    models.ErrKindNoEligibleAgent,
			Message: err.Error(),
		}
		if st.RetryCount >= s.cfg.MaxRetries || ex.halt.Load() {
			s.failSubtask(ex, id, stErr)
			return
		}
		// A capable agent may still register before the retry budget
		// runs out. The worker holds a pool slot and waits out the
		// backoff; claiming the node keeps it out of the ready set.
		st.Status = models.SubtaskStatusDispatched
		ex.inflight++
		debugLog("[scheduler] no agent for %s (%s), worker waiting on registration", id, st.Capability)
		go s.runSubtask(ctx, ex, st, nil, stErr)
		return
	}

	if err := s.db.MarkDispatched(id, agent.ID); err != nil {
		debugLog("[scheduler] mark dispatched %s: %v", id, err)
		s.registry.Release(agent.ID)
		s.failSubtask(ex, id, &models.SubtaskError{
			Kind:    models.ErrKindAgentError,
			Message: fmt.Sprintf("dispatch bookkeeping failed: %v", err),
		})
		return
	}

	st.Status = models.SubtaskStatusDispatched
	st.AssignedAgent = agent.ID
	ex.inflight++
	s.emit(Event{Type: EventSubtaskDispatched, WorkflowID: ex.wf.ID, SubtaskID: id, AgentID: agent.ID})
	debugLog("[scheduler] dispatched %s (%s) to agent %s", id, st.Capability, agent.ID)

	go s.runSubtask(ctx, ex, st, agent, nil)
}

// handleCompletion folds a worker's report into workflow state.
func (s *Scheduler) handleCompletion(ex *execution, c completion) {
	if c.stErr != nil {
		s.failSubtask(ex, c.subtaskID, c.stErr)
		return
	}

	res := c.result
	if res.Objection != nil {
		if s.arbitrate(ex, c.subtaskID, res) {
			return
		}
	}

	if err := s.db.MarkSucceeded(c.subtaskID, res.Result); err != nil {
		debugLog("[scheduler] mark succeeded %s: %v", c.subtaskID, err)
	}
	st := ex.g.GetSubtask(c.subtaskID)
	st.Status = models.SubtaskStatusSucceeded
	st.Result = res.Result
	ex.g.MarkSucceeded(c.subtaskID)
	ex.results[c.subtaskID] = res.Result
	s.emit(Event{Type: EventSubtaskSucceeded, WorkflowID: ex.wf.ID, SubtaskID: c.subtaskID})
}

// arbitrate resolves an objection attached to an otherwise-complete
// result. Returns true if the subtask was vetoed and must not be
// accepted.
func (s *Scheduler) arbitrate(ex *execution, subtaskID string, res *models.InvocationResult) bool {
	obj := res.Objection
	objector := s.registry.Get(obj.AgentID)
	if objector == nil {
		objector = &models.Agent{ID: obj.AgentID}
	}

	outcome, rec, err := s.arbiter.Resolve(subtaskID, objector, obj)
	if err != nil {
		debugLog("[scheduler] arbitration failed for %s: %v", subtaskID, err)
		s.failSubtask(ex, subtaskID, &models.SubtaskError{
			Kind:    models.ErrKindAgentError,
			Message: fmt.Sprintf("arbitration failed: %v", err),
		})
		return true
	}

	switch outcome {
	case arbiter.OutcomeAllow:
		debugLog("[scheduler] objection on %s from %s allowed through (no standing in %s)", subtaskID, obj.AgentID, obj.Domain)
		return false

	case arbiter.OutcomeSoftVeto:
		if ex.wf.AllowOverride {
			granted, oerr := s.arbiter.RequestOverride(&s.coordinator, rec, "workflow override policy")
			if oerr != nil {
				debugLog("[scheduler] override request for %s failed: %v", subtaskID, oerr)
			}
			if granted {
				debugLog("[scheduler] soft veto on %s overridden", subtaskID)
				return false
			}
		}
		s.vetoSubtask(ex, subtaskID, &models.SubtaskError{
			Kind:    models.ErrKindSoftVeto,
			Message: obj.Rationale,
		})
		return true

	default: // hard veto
		s.vetoSubtask(ex, subtaskID, &models.SubtaskError{
			Kind:    models.ErrKindHardVeto,
			Message: obj.Rationale,
		})
		// Future dispatch stops; in-flight subtasks drain normally.
		ex.haltVeto = rec
		ex.halt.Store(true)
		s.emit(Event{Type: EventDispatchHalted, WorkflowID: ex.wf.ID, SubtaskID: subtaskID, Detail: obj.Domain})
		debugLog("[scheduler] hard veto on %s halted dispatch for workflow %s", subtaskID, ex.wf.ID)
		return true
	}
}

// failSubtask records a terminal failure and cascade-skips descendants.
func (s *Scheduler) failSubtask(ex *execution, id string, stErr *models.SubtaskError) {
	if err := s.db.MarkFailed(id, stErr); err != nil {
		debugLog("[scheduler] mark failed %s: %v", id, err)
	}
	st := ex.g.GetSubtask(id)
	st.Status = models.SubtaskStatusFailed
	st.Error = stErr
	ex.failures[id] = stErr
	s.emit(Event{Type: EventSubtaskFailed, WorkflowID: ex.wf.ID, SubtaskID: id, Detail: string(stErr.Kind)})
	s.cascadeSkip(ex, id)
}

// vetoSubtask records a veto and cascade-skips descendants.
func (s *Scheduler) vetoSubtask(ex *execution, id string, stErr *models.SubtaskError) {
	if err := s.db.MarkVetoed(id, stErr); err != nil {
		debugLog("[scheduler] mark vetoed %s: %v", id, err)
	}
	st := ex.g.GetSubtask(id)
	st.Status = models.SubtaskStatusVetoed
	st.Error = stErr
	ex.failures[id] = stErr
	s.emit(Event{Type: EventSubtaskVetoed, WorkflowID: ex.wf.ID, SubtaskID: id, Detail: string(stErr.Kind)})
	s.cascadeSkip(ex, id)
}

// cascadeSkip fails every non-terminal descendant of a subtask that did
// not succeed. Descendants are never in flight: they cannot dispatch
// before every dependency succeeds.
func (s *Scheduler) cascadeSkip(ex *execution, id string) {
	for _, descID := range ex.g.Descendants(id) {
		desc := ex.g.GetSubtask(descID)
		if desc.Status.Terminal() {
			continue
		}
		stErr := &models.SubtaskError{
			Kind:    models.ErrKindDependencyFailed,
			Message: fmt.Sprintf("upstream subtask %s did not succeed", id),
		}
		if err := s.db.MarkFailed(descID, stErr); err != nil {
			debugLog("[scheduler] cascade mark failed %s: %v", descID, err)
		}
		desc.Status = models.SubtaskStatusFailed
		desc.Error = stErr
		ex.failures[descID] = stErr
		s.emit(Event{Type: EventSubtaskSkipped, WorkflowID: ex.wf.ID, SubtaskID: descID, Detail: id})
		debugLog("[scheduler] cascade-skipped %s (descendant of %s)", descID, id)
	}
}

// runSubtask is the worker goroutine for one subtask. It retries
// retryable failures and routing misses with exponential backoff,
// re-routing every attempt, until success, exhaustion, or a dispatch
// halt. agent is nil when no agent was eligible at dispatch time; the
// worker then waits for one to register before the budget runs out.
func (s *Scheduler) runSubtask(ctx context.Context, ex *execution, st *models.Subtask, agent *models.Agent, routeErr *models.SubtaskError) {
	attempt := st.RetryCount
	cur := agent
	lastErr := routeErr

	for {
		if cur != nil {
			res, stErr, retryable := s.attempt(ctx, cur, ex.wf, st)
			if stErr == nil {
				ex.done <- completion{subtaskID: st.ID, agentID: cur.ID, result: res}
				return
			}
			if !retryable {
				ex.done <- completion{subtaskID: st.ID, agentID: cur.ID, stErr: stErr}
				return
			}
			lastErr = stErr
		}

		if attempt >= s.cfg.MaxRetries || ex.halt.Load() || ctx.Err() != nil {
			c := completion{subtaskID: st.ID, stErr: lastErr}
			if cur != nil {
				c.agentID = cur.ID
			}
			ex.done <- c
			return
		}

		debugLog("[scheduler] subtask %s attempt %d failed (%s), retrying", st.ID, attempt+1, lastErr.Kind)
		ev := Event{Type: EventSubtaskRetrying, WorkflowID: ex.wf.ID, SubtaskID: st.ID, Detail: string(lastErr.Kind)}
		if cur != nil {
			ev.AgentID = cur.ID
			s.registry.Release(cur.ID)
			cur = nil
		}
		s.emit(ev)
		if err := s.db.IncrementRetry(st.ID); err != nil {
			debugLog("[scheduler] increment retry %s: %v", st.ID, err)
		}

		delay := backoffDelay(attempt, s.cfg.BackoffBase, s.cfg.BackoffMax)
		attempt++
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			ex.done <- completion{subtaskID: st.ID, stErr: &models.SubtaskError{
				Kind:    models.ErrKindAgentError,
				Message: "workflow canceled during retry backoff",
			}}
			return
		}

		next, err := s.registry.Route(st.Capability)
		if err != nil {
			lastErr = &models.SubtaskError{
				Kind:    models.ErrKindNoEligibleAgent,
				Message: err.Error(),
			}
			continue
		}
		if err := s.db.MarkDispatched(st.ID, next.ID); err != nil {
			debugLog("[scheduler] redispatch %s: %v", st.ID, err)
		}
		st.AssignedAgent = next.ID
		s.emit(Event{Type: EventSubtaskDispatched, WorkflowID: ex.wf.ID, SubtaskID: st.ID, AgentID: next.ID})
		cur = next
	}
}

// attempt runs a single invocation bounded by the capability timeout.
// Returns the result, or a classified error with its retryability.
func (s *Scheduler) attempt(ctx context.Context, agent *models.Agent, wf *models.Workflow, st *models.Subtask) (*models.InvocationResult, *models.SubtaskError, bool) {
	timeout := s.cfg.Timeout(st.Capability)
	actx := ctx
	cancel := func() {}
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	req := &models.InvocationRequest{
		Capability: st.Capability,
		Input:      st.Input,
		WorkflowID: wf.ID,
		SubtaskID:  st.ID,
	}

	res, err := s.invoker.Invoke(actx, agent, req)
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &models.SubtaskError{
				Kind:    models.ErrKindTimeout,
				Message: fmt.Sprintf("agent %s exceeded %s on %s", agent.ID, timeout, st.Capability),
			}, true
		}
		if ctx.Err() != nil {
			return nil, &models.SubtaskError{Kind: models.ErrKindAgentError, Message: err.Error()}, false
		}
		return nil, &models.SubtaskError{Kind: models.ErrKindAgentError, Message: err.Error()}, true
	}

	if !res.OK() {
		kind := models.ErrorKind(res.ErrorKind)
		if !kind.Valid() {
			kind = models.ErrKindAgentError
		}
		return nil, &models.SubtaskError{Kind: kind, Message: res.Message}, res.Retryable
	}

	return res, nil, false
}

func (s *Scheduler) emit(ev Event) {
	if s.emitter != nil {
		s.emitter.Emit(ev)
	}
}

// distinctCapabilities counts the distinct capability tags across the
// workflow's subtasks.
func distinctCapabilities(subtasks []*models.Subtask) int {
	seen := make(map[string]struct{})
	for _, st := range subtasks {
		seen[st.Capability] = struct{}{}
	}
	return len(seen)
}
