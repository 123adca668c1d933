package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/icdev-ai/dispatch/pkg/models"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// CreateWorkflow inserts a workflow and its subtasks in one transaction.
// The workflow only becomes visible once its full graph is stored, so an
// invalid decomposition never leaves a partial row behind.
func (db *DB) CreateWorkflow(wf *models.Workflow, subtasks []*models.Subtask) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO workflows (id, request, status, allow_override, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, wf.ID, wf.Request, string(wf.Status), boolToInt(wf.AllowOverride), formatTime(wf.CreatedAt))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert workflow: %w", err)
	}

	for i, st := range subtasks {
		deps, err := encodeDeps(st.DependsOn)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encode depends_on for %s: %w", st.ID, err)
		}
		_, err = tx.Exec(`
			INSERT INTO subtasks (id, workflow_id, capability, input, depends_on, status, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, st.ID, st.WorkflowID, st.Capability, st.Input, deps, string(st.Status), i)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert subtask %s: %w", st.ID, err)
		}
	}

	return tx.Commit()
}

// GetWorkflow returns the workflow with the given ID.
func (db *DB) GetWorkflow(id string) (*models.Workflow, error) {
	row := db.QueryRow(`
		SELECT id, request, status, allow_override, created_at, completed_at
		FROM workflows WHERE id = ?
	`, id)

	wf, err := scanWorkflow(row)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT id FROM subtasks WHERE workflow_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("query subtask ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stID string
		if err := rows.Scan(&stID); err != nil {
			return nil, fmt.Errorf("scan subtask id: %w", err)
		}
		wf.SubtaskIDs = append(wf.SubtaskIDs, stID)
	}

	return wf, rows.Err()
}

// ListWorkflows returns workflows ordered most recent first.
func (db *DB) ListWorkflows(limit int) ([]*models.Workflow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, request, status, allow_override, created_at, completed_at
		FROM workflows ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// UpdateWorkflowStatus sets the workflow status, stamping completion time
// for terminal statuses.
func (db *DB) UpdateWorkflowStatus(id string, status models.WorkflowStatus) error {
	var completedAt any
	if status.Terminal() {
		completedAt = formatTime(time.Now())
	}

	res, err := db.Exec(`
		UPDATE workflows SET status = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`, string(status), completedAt, id)
	if err != nil {
		return fmt.Errorf("update workflow status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		wf          models.Workflow
		status      string
		allow       int
		createdAt   string
		completedAt sql.NullString
	)
	err := row.Scan(&wf.ID, &wf.Request, &status, &allow, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	wf.Status = models.WorkflowStatus(status)
	wf.AllowOverride = allow != 0
	if t, err := parseTime(createdAt); err == nil {
		wf.CreatedAt = t
	}
	wf.CompletedAt = parseNullableTime(completedAt)
	return &wf, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
