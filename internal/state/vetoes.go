package state

import (
	"fmt"

	"github.com/icdev-ai/dispatch/pkg/models"
)

// AppendVetoRecord inserts an arbitration decision. The veto_records table
// is append-only: records are never updated or deleted.
func (db *DB) AppendVetoRecord(rec *models.VetoRecord) error {
	_, err := db.Exec(`
		INSERT INTO veto_records (id, subtask_id, agent_id, domain, severity, rationale, decision, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.SubtaskID, rec.AgentID, rec.Domain, string(rec.Severity),
		rec.Rationale, string(rec.Decision), formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert veto record: %w", err)
	}
	return nil
}

// ListVetoRecords returns veto records, newest first. An empty subtaskID
// returns records for all subtasks.
func (db *DB) ListVetoRecords(subtaskID string, limit int) ([]*models.VetoRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, subtask_id, agent_id, domain, severity, rationale, decision, created_at
		FROM veto_records`
	args := []any{}
	if subtaskID != "" {
		query += ` WHERE subtask_id = ?`
		args = append(args, subtaskID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query veto records: %w", err)
	}
	defer rows.Close()

	var records []*models.VetoRecord
	for rows.Next() {
		var (
			rec       models.VetoRecord
			severity  string
			decision  string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.SubtaskID, &rec.AgentID, &rec.Domain,
			&severity, &rec.Rationale, &decision, &createdAt); err != nil {
			return nil, fmt.Errorf("scan veto record: %w", err)
		}
		rec.Severity = models.VetoSeverity(severity)
		rec.Decision = models.VetoDecision(decision)
		if t, err := parseTime(createdAt); err == nil {
			rec.CreatedAt = t
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
