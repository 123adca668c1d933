// Package arbiter resolves authority objections raised by agents during
// execution. A configurable matrix decides which roles can veto which
// domains and how hard; every decision lands in the append-only veto
// record trail.
package arbiter

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/icdev-ai/dispatch/internal/state"
	"github.com/icdev-ai/dispatch/pkg/models"
)

// Outcome is the arbiter's ruling on an objection.
type Outcome string

const (
	// OutcomeAllow means the objector holds no veto power in the domain;
	// execution proceeds unchanged.
	OutcomeAllow Outcome = "allow"
	// OutcomeSoftVeto blocks the subtask but can be overridden by a
	// sufficiently senior agent.
	OutcomeSoftVeto Outcome = "soft-veto"
	// OutcomeHardVeto halts all future dispatch in the workflow.
	OutcomeHardVeto Outcome = "hard-veto"
)

// Arbiter applies the authority matrix to objections and records every
// ruling. Safe for concurrent use; the matrix can be swapped at runtime.
type Arbiter struct {
	db *state.DB

	mu     sync.RWMutex
	matrix *Matrix

	// now is injectable for deterministic tests.
	now func() time.Time
}

// New creates an arbiter backed by the given matrix and record store.
func New(matrix *Matrix, db *state.DB) *Arbiter {
	return &Arbiter{db: db, matrix: matrix, now: time.Now}
}

// SetClock overrides the arbiter clock for tests.
func (a *Arbiter) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// ReplaceMatrix swaps in a new authority matrix. In-flight rulings keep
// the matrix they started with.
func (a *Arbiter) ReplaceMatrix(m *Matrix) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.matrix = m
}

// Resolve rules on an objection raised against a subtask. If the
// objector's role holds no veto power in the domain the objection is
// allowed through and nothing is recorded. Otherwise the ruling follows
// the matrix severity and a veto record is appended.
func (a *Arbiter) Resolve(subtaskID string, objector *models.Agent, obj *models.Objection) (Outcome, *models.VetoRecord, error) {
	a.mu.RLock()
	matrix := a.matrix
	now := a.now()
	a.mu.RUnlock()

	severity, ok := matrix.Severity(obj.Domain, objector.Role)
	if !ok {
		return OutcomeAllow, nil, nil
	}

	rec := &models.VetoRecord{
		ID:        uuid.New().String(),
		SubtaskID: subtaskID,
		AgentID:   objector.ID,
		Domain:    obj.Domain,
		Severity:  severity,
		Rationale: obj.Rationale,
		Decision:  models.DecisionVeto,
		CreatedAt: now,
	}
	if err := a.db.AppendVetoRecord(rec); err != nil {
		return "", nil, fmt.Errorf("record veto: %w", err)
	}

	if severity == models.VetoSeverityHard {
		return OutcomeHardVeto, rec, nil
	}
	return OutcomeSoftVeto, rec, nil
}

// RequestOverride asks to lift a soft veto. The requester must hold
// authority at least one level above the vetoed domain and cannot be the
// agent that raised the objection. Hard vetoes are never overridable.
// The request itself is recorded either way.
func (a *Arbiter) RequestOverride(requester *models.Agent, veto *models.VetoRecord, rationale string) (bool, error) {
	a.mu.RLock()
	matrix := a.matrix
	now := a.now()
	a.mu.RUnlock()

	granted := veto.Severity == models.VetoSeveritySoft &&
		requester.ID != veto.AgentID &&
		requester.AuthorityLevel >= matrix.Level(veto.Domain)+1

	decision := models.DecisionOverrideDenied
	if granted {
		decision = models.DecisionOverrideGranted
	}

	rec := &models.VetoRecord{
		ID:        uuid.New().String(),
		SubtaskID: veto.SubtaskID,
		AgentID:   requester.ID,
		Domain:    veto.Domain,
		Severity:  veto.Severity,
		Rationale: rationale,
		Decision:  decision,
		CreatedAt: now,
	}
	if err := a.db.AppendVetoRecord(rec); err != nil {
		return false, fmt.Errorf("record override decision: %w", err)
	}
	return granted, nil
}

// History returns the veto records for a subtask, newest first. An empty
// subtask ID returns records across all subtasks.
func (a *Arbiter) History(subtaskID string, limit int) ([]*models.VetoRecord, error) {
	return a.db.ListVetoRecords(subtaskID, limit)
}
