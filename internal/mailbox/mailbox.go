// Package mailbox provides signed, auditable asynchronous messaging
// between agents. Delivery is at-least-once: unread messages persist and
// are redelivered on every poll until explicitly acknowledged. Broadcast
// messages track each agent's read mark independently.
package mailbox

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/icdev-ai/dispatch/pkg/models"
)

// Mailbox provides SQLite-backed storage for inter-agent messages.
type Mailbox struct {
	db     *sql.DB
	path   string
	signer *Signer
	mu     sync.Mutex
	// now is injectable for deterministic tests.
	now func() time.Time
}

// Open opens (creating if needed) a mailbox at the given path.
func Open(path string, signer *Signer) (*Mailbox, error) {
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

	m := &Mailbox{db: conn, path: path, signer: signer, now: time.Now}
	if err := m.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

// Close closes the database connection.
func (m *Mailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Close()
}

// SetClock overrides the mailbox clock for tests.
func (m *Mailbox) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Mailbox) migrate() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			payload TEXT NOT NULL,
			signature TEXT NOT NULL,
			sent_at DATETIME NOT NULL,
			delivered_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient);

		CREATE TABLE IF NOT EXISTS message_reads (
			message_id TEXT NOT NULL REFERENCES messages(id),
			agent_id TEXT NOT NULL,
			read_at DATETIME NOT NULL,
			PRIMARY KEY (message_id, agent_id)
		);

		CREATE TABLE IF NOT EXISTS tamper_events (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			polling_agent TEXT NOT NULL,
			detected_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate mailbox: %w", err)
	}
	return nil
}

// Send signs and stores a message addressed to one agent, or to every
// agent when recipient is the broadcast marker. Returns the message ID.
// Agent IDs must not contain the signature field separator: an ID with
// an embedded newline would let two different envelopes share a MAC.
func (m *Mailbox) Send(sender, recipient, payload string) (string, error) {
	if strings.ContainsRune(sender, '\n') || strings.ContainsRune(recipient, '\n') {
		return "", fmt.Errorf("agent IDs must not contain newlines")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	sentAt := m.now()
	signature := m.signer.Sign(sender, recipient, payload, sentAt)

	_, err := m.db.Exec(`
		INSERT INTO messages (id, sender, recipient, payload, signature, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, sender, recipient, payload, signature, formatTime(sentAt))
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// Poll returns the unread messages addressed to the agent, directly or by
// broadcast. Polling alone never consumes a message: without an Ack the
// same unread set comes back on the next poll. Messages that fail
// signature verification are dropped and a tamper event is recorded.
func (m *Mailbox) Poll(agentID string) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.db.Query(`
		SELECT msg.id, msg.sender, msg.recipient, msg.payload, msg.signature,
		       msg.sent_at, msg.delivered_at
		FROM messages msg
		WHERE (msg.recipient = ? OR msg.recipient = ?)
		  AND NOT EXISTS (
			SELECT 1 FROM message_reads r
			WHERE r.message_id = msg.id AND r.agent_id = ?
		  )
		ORDER BY msg.sent_at, msg.id
	`, agentID, models.BroadcastRecipient, agentID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	var unread []*models.Message
	var tampered []string
	for rows.Next() {
		var (
			msg         models.Message
			sentAt      string
			deliveredAt sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Recipient, &msg.Payload,
			&msg.Signature, &sentAt, &deliveredAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if t, err := parseTime(sentAt); err == nil {
			msg.SentAt = t
		}
		msg.DeliveredAt = parseNullableTime(deliveredAt)

		if !m.signer.Verify(&msg) {
			tampered = append(tampered, msg.ID)
			continue
		}
		unread = append(unread, &msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := m.now()
	for _, id := range tampered {
		if err := m.dropTampered(id, agentID, now); err != nil {
			return nil, err
		}
	}

	// Stamp first delivery.
	for _, msg := range unread {
		if msg.DeliveredAt == nil {
			delivered := now
			msg.DeliveredAt = &delivered
			if _, err := m.db.Exec(`
				UPDATE messages SET delivered_at = ? WHERE id = ? AND delivered_at IS NULL
			`, formatTime(now), msg.ID); err != nil {
				return nil, fmt.Errorf("stamp delivery: %w", err)
			}
		}
	}

	return unread, nil
}

// Ack marks a message read for the given agent. Broadcast messages keep
// independent read marks per agent, so one agent's ack never hides the
// message from others.
func (m *Mailbox) Ack(agentID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.Exec(`
		INSERT OR IGNORE INTO message_reads (message_id, agent_id, read_at)
		VALUES (?, ?, ?)
	`, messageID, agentID, formatTime(m.now()))
	if err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	return nil
}

// Verify checks a message's signature against the shared secret.
func (m *Mailbox) Verify(msg *models.Message) bool {
	return m.signer.Verify(msg)
}

// TamperEventCount returns the number of recorded tamper events.
func (m *Mailbox) TamperEventCount() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	row := m.db.QueryRow(`SELECT COUNT(*) FROM tamper_events`)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count tamper events: %w", err)
	}
	return n, nil
}

// dropTampered removes a message that failed verification and records
// the tamper event. The message is never redelivered.
func (m *Mailbox) dropTampered(messageID, pollingAgent string, now time.Time) error {
	log.Printf("[mailbox] signature mismatch on message %s polled by %s, dropping", messageID, pollingAgent)

	if _, err := m.db.Exec(`
		INSERT INTO tamper_events (id, message_id, polling_agent, detected_at)
		VALUES (?, ?, ?, ?)
	`, uuid.New().String(), messageID, pollingAgent, formatTime(now)); err != nil {
		return fmt.Errorf("record tamper event: %w", err)
	}

	if _, err := m.db.Exec(`DELETE FROM message_reads WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("drop tampered reads: %w", err)
	}
	if _, err := m.db.Exec(`DELETE FROM messages WHERE id = ?`, messageID); err != nil {
		return fmt.Errorf("drop tampered message: %w", err)
	}
	return nil
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
