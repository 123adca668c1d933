// Package memory provides the shared fact/preference store agents consult
// before and after execution. Entries are scoped to a single agent or to
// the whole team; recall ranks by a tunable blend of importance and recency.
package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/icdev-ai/dispatch/pkg/models"
)

// Options tunes ranking and pruning. The exact recall formula is
// deliberately configurable; see Score.
type Options struct {
	// ScopeCap is the maximum entry count per scope before pruning.
	ScopeCap int
	// ImportanceWeight scales the importance term of the recall score.
	ImportanceWeight float64
	// RecencyWeight scales the recency term of the recall score.
	RecencyWeight float64
	// RecencyHalfLife controls how fast the recency term decays.
	RecencyHalfLife time.Duration
}

// DefaultOptions returns the default ranking configuration.
func DefaultOptions() Options {
	return Options{
		ScopeCap:         200,
		ImportanceWeight: 0.6,
		RecencyWeight:    0.4,
		RecencyHalfLife:  7 * 24 * time.Hour,
	}
}

// Store provides SQLite-backed storage for memory entries.
type Store struct {
	db   *sql.DB
	path string
	opts Options
	mu   sync.RWMutex
	// now is injectable for deterministic ranking tests.
	now func() time.Time
}

// Open opens (creating if needed) a memory store at the given path.
func Open(path string, opts Options) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{db: conn, path: path, opts: opts, now: time.Now}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SetClock overrides the store's clock. Tests use this for deterministic
// recency scoring.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'fact',
			content TEXT NOT NULL,
			importance INTEGER NOT NULL DEFAULT 5,
			created_at DATETIME NOT NULL,
			last_recalled DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_memory_entries_scope ON memory_entries(scope);
		CREATE INDEX IF NOT EXISTS idx_memory_entries_project ON memory_entries(project_id);
	`)
	if err != nil {
		return fmt.Errorf("migrate memory store: %w", err)
	}
	return nil
}

// StoreEntry writes an entry into the given scope and returns its ID.
// If the scope exceeds its cap afterwards, the lowest-ranked entries are
// pruned. Writes never hard-delete another agent's scope.
func (s *Store) StoreEntry(scope string, entry *models.MemoryEntry) (string, error) {
	if entry.Importance < 1 || entry.Importance > 10 {
		return "", fmt.Errorf("importance %d out of range 1-10", entry.Importance)
	}

	s.mu.Lock()
	id := entry.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err := s.db.Exec(`
		INSERT INTO memory_entries (id, scope, project_id, type, content, importance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, scope, entry.ProjectID, entry.Type, entry.Content, entry.Importance,
		formatTime(createdAt))
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("insert memory entry: %w", err)
	}

	if err := s.Prune(scope, s.opts.ScopeCap); err != nil {
		return "", err
	}
	return id, nil
}

// Recall returns up to limit entries from the scope matching the query,
// ranked by the recency/importance score, best first. An empty query
// matches every entry in the scope. Recalled entries have their
// last-recalled timestamp refreshed.
func (s *Store) Recall(scope, query string, limit int) ([]*models.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	entries, err := s.listScope(scope)
	if err != nil {
		return nil, err
	}

	if query != "" {
		needle := strings.ToLower(query)
		filtered := entries[:0]
		for _, e := range entries {
			if strings.Contains(strings.ToLower(e.Content), needle) ||
				strings.Contains(strings.ToLower(e.Type), needle) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	s.mu.RLock()
	now := s.now()
	s.mu.RUnlock()
	rankEntries(entries, now, s.opts)

	if len(entries) > limit {
		entries = entries[:limit]
	}

	// Refresh last-recalled stamps.
	for _, e := range entries {
		recalled := now
		e.LastRecalledAt = &recalled
		s.mu.Lock()
		_, err := s.db.Exec(`UPDATE memory_entries SET last_recalled = ? WHERE id = ?`,
			formatTime(now), e.ID)
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("touch memory entry: %w", err)
		}
	}

	return entries, nil
}

// Prune removes the lowest-ranked entries of a scope until its entry count
// is at most cap. A cap of zero or less leaves the scope untouched.
func (s *Store) Prune(scope string, cap int) error {
	if cap <= 0 {
		return nil
	}

	entries, err := s.listScope(scope)
	if err != nil {
		return err
	}
	if len(entries) <= cap {
		return nil
	}

	s.mu.RLock()
	now := s.now()
	s.mu.RUnlock()
	rankEntries(entries, now, s.opts)

	for _, e := range entries[cap:] {
		s.mu.Lock()
		_, err := s.db.Exec(`DELETE FROM memory_entries WHERE id = ?`, e.ID)
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("prune memory entry: %w", err)
		}
	}
	return nil
}

// Count returns the number of entries in a scope.
func (s *Store) Count(scope string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM memory_entries WHERE scope = ?`, scope)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count scope: %w", err)
	}
	return n, nil
}

func (s *Store) listScope(scope string) ([]*models.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, scope, project_id, type, content, importance, created_at, last_recalled
		FROM memory_entries WHERE scope = ?
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("query scope: %w", err)
	}
	defer rows.Close()

	var entries []*models.MemoryEntry
	for rows.Next() {
		var (
			e            models.MemoryEntry
			createdAt    string
			lastRecalled sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Scope, &e.ProjectID, &e.Type, &e.Content,
			&e.Importance, &createdAt, &lastRecalled); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		if t, err := parseTime(createdAt); err == nil {
			e.CreatedAt = t
		}
		if lastRecalled.Valid {
			if t, err := parseTime(lastRecalled.String); err == nil {
				e.LastRecalledAt = &t
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
