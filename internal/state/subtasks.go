package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/icdev-ai/dispatch/pkg/models"
)

// ErrStatusConflict indicates a compare-and-set transition found the
// subtask in a different status than expected. A worker racing another
// completion sees this instead of silently double-completing.
var ErrStatusConflict = errors.New("subtask status conflict")

// GetSubtask returns the subtask with the given ID.
func (db *DB) GetSubtask(id string) (*models.Subtask, error) {
	row := db.QueryRow(subtaskColumns+` FROM subtasks WHERE id = ?`, id)
	return scanSubtask(row)
}

// ListSubtasks returns the subtasks of a workflow in decomposition order.
func (db *DB) ListSubtasks(workflowID string) ([]*models.Subtask, error) {
	rows, err := db.Query(subtaskColumns+` FROM subtasks WHERE workflow_id = ? ORDER BY position`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("query subtasks: %w", err)
	}
	defer rows.Close()

	var subtasks []*models.Subtask
	for rows.Next() {
		st, err := scanSubtask(rows)
		if err != nil {
			return nil, err
		}
		subtasks = append(subtasks, st)
	}
	return subtasks, rows.Err()
}

// TransitionSubtask moves a subtask from one status to another with a
// compare-and-set on the current status. Returns ErrStatusConflict if the
// subtask is not in the expected status, meaning the caller lost the race.
func (db *DB) TransitionSubtask(id string, from, to models.SubtaskStatus) error {
	res, err := db.Exec(`
		UPDATE subtasks SET status = ? WHERE id = ? AND status = ?
	`, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("transition subtask: %w", err)
	}
	return casResult(res)
}

// MarkDispatched records a dispatch: ready -> dispatched with the assigned
// agent and dispatch timestamp.
func (db *DB) MarkDispatched(id, agentID string) error {
	res, err := db.Exec(`
		UPDATE subtasks SET status = ?, assigned_agent = ?, dispatched_at = ?
		WHERE id = ? AND status = ?
	`, string(models.SubtaskStatusDispatched), agentID, formatTime(time.Now()),
		id, string(models.SubtaskStatusReady))
	if err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	return casResult(res)
}

// MarkSucceeded records a successful completion: dispatched -> succeeded.
// Only the worker holding the dispatched state may complete the subtask.
func (db *DB) MarkSucceeded(id, result string) error {
	res, err := db.Exec(`
		UPDATE subtasks SET status = ?, result = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(models.SubtaskStatusSucceeded), result, formatTime(time.Now()),
		id, string(models.SubtaskStatusDispatched))
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	return casResult(res)
}

// MarkFailed records a terminal failure from any non-terminal status.
func (db *DB) MarkFailed(id string, stErr *models.SubtaskError) error {
	return db.markTerminal(id, models.SubtaskStatusFailed, stErr)
}

// MarkVetoed records an authority veto from any non-terminal status.
func (db *DB) MarkVetoed(id string, stErr *models.SubtaskError) error {
	return db.markTerminal(id, models.SubtaskStatusVetoed, stErr)
}

func (db *DB) markTerminal(id string, to models.SubtaskStatus, stErr *models.SubtaskError) error {
	var kind, msg string
	if stErr != nil {
		kind = string(stErr.Kind)
		msg = stErr.Message
	}
	res, err := db.Exec(`
		UPDATE subtasks SET status = ?, error_kind = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)
	`, string(to), kind, msg, formatTime(time.Now()), id,
		string(models.SubtaskStatusSucceeded), string(models.SubtaskStatusFailed),
		string(models.SubtaskStatusVetoed))
	if err != nil {
		return fmt.Errorf("mark %s: %w", to, err)
	}
	return casResult(res)
}

// IncrementRetry bumps the retry counter and returns the subtask to the
// ready pool for redispatch. The subtask may already be ready when the
// retry is spent waiting for an eligible agent rather than re-invoking.
func (db *DB) IncrementRetry(id string) error {
	res, err := db.Exec(`
		UPDATE subtasks SET retry_count = retry_count + 1, status = ?
		WHERE id = ? AND status IN (?, ?)
	`, string(models.SubtaskStatusReady), id,
		string(models.SubtaskStatusDispatched), string(models.SubtaskStatusReady))
	if err != nil {
		return fmt.Errorf("increment retry: %w", err)
	}
	return casResult(res)
}

func casResult(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

const subtaskColumns = `
	SELECT id, workflow_id, capability, input, depends_on, status,
	       assigned_agent, result, error_kind, error_message, retry_count,
	       dispatched_at, completed_at`

func scanSubtask(row rowScanner) (*models.Subtask, error) {
	var (
		st            models.Subtask
		input         sql.NullString
		deps          sql.NullString
		status        string
		assignedAgent sql.NullString
		result        sql.NullString
		errorKind     sql.NullString
		errorMessage  sql.NullString
		dispatchedAt  sql.NullString
		completedAt   sql.NullString
	)
	err := row.Scan(&st.ID, &st.WorkflowID, &st.Capability, &input, &deps, &status,
		&assignedAgent, &result, &errorKind, &errorMessage, &st.RetryCount,
		&dispatchedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subtask: %w", err)
	}

	st.Input = input.String
	st.Status = models.SubtaskStatus(status)
	st.AssignedAgent = assignedAgent.String
	st.Result = result.String
	if errorKind.Valid && errorKind.String != "" {
		st.Error = &models.SubtaskError{
			Kind:    models.ErrorKind(errorKind.String),
			Message: errorMessage.String,
		}
	}
	st.DispatchedAt = parseNullableTime(dispatchedAt)
	st.CompletedAt = parseNullableTime(completedAt)

	if deps.Valid && deps.String != "" {
		if err := json.Unmarshal([]byte(deps.String), &st.DependsOn); err != nil {
			return nil, fmt.Errorf("decode depends_on: %w", err)
		}
	}

	return &st, nil
}

// encodeDeps serializes a dependency list for storage.
func encodeDeps(deps []string) (string, error) {
	if len(deps) == 0 {
		return "", nil
	}
	b, err := json.Marshal(deps)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
