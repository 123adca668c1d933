package mailbox

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/icdev-ai/dispatch/pkg/models"
)

func openTestMailbox(t *testing.T) *Mailbox {
	t.Helper()
	m, err := Open(filepath.Join(t.TempDir(), "mailbox.db"), NewSigner("test-secret"))
	if err != nil {
		t.Fatalf("open mailbox: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestSendRejectsNewlineInAgentIDs(t *testing.T) {
	m := openTestMailbox(t)

	if _, err := m.Send("agent-a\nagent-x", "agent-b", "payload"); err == nil {
		t.Error("expected error for newline in sender ID")
	}
	if _, err := m.Send("agent-a", "agent-b\nagent-x", "payload"); err == nil {
		t.Error("expected error for newline in recipient ID")
	}

	// Newlines in the payload are fine; only the ID fields are restricted.
	if _, err := m.Send("agent-a", "agent-b", "line one\nline two"); err != nil {
		t.Errorf("payload with newline rejected: %v", err)
	}
	msgs, err := m.Poll("agent-b")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Payload != "line one\nline two" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestSendAndPoll(t *testing.T) {
	m := openTestMailbox(t)

	id, err := m.Send("agent-a", "agent-b", "build finished")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs, err := m.Poll("agent-b")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].ID != id || msgs[0].Payload != "build finished" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
	if msgs[0].DeliveredAt == nil {
		t.Error("expected delivered_at to be stamped on first poll")
	}

	// A different agent never sees a direct message.
	other, err := m.Poll("agent-c")
	if err != nil {
		t.Fatalf("poll other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no messages for agent-c, got %d", len(other))
	}
}

func TestPollIsIdempotentWithoutAck(t *testing.T) {
	m := openTestMailbox(t)

	if _, err := m.Send("agent-a", "agent-b", "first"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := m.Send("agent-a", "agent-b", "second"); err != nil {
		t.Fatalf("send: %v", err)
	}

	first, err := m.Poll("agent-b")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	second, err := m.Poll("agent-b")
	if err != nil {
		t.Fatalf("poll again: %v", err)
	}

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected both polls to return 2 messages, got %d and %d",
			len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("poll order changed: %s vs %s", first[i].ID, second[i].ID)
		}
	}
}

func TestAckRemovesFromUnread(t *testing.T) {
	m := openTestMailbox(t)

	id, err := m.Send("agent-a", "agent-b", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := m.Ack("agent-b", id); err != nil {
		t.Fatalf("ack: %v", err)
	}

	msgs, err := m.Poll("agent-b")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no unread after ack, got %d", len(msgs))
	}

	// Acking twice is harmless.
	if err := m.Ack("agent-b", id); err != nil {
		t.Errorf("second ack: %v", err)
	}
}

func TestBroadcastReadMarksArePerAgent(t *testing.T) {
	m := openTestMailbox(t)

	id, err := m.Send("coordinator", models.BroadcastRecipient, "all hands")
	if err != nil {
		t.Fatalf("send broadcast: %v", err)
	}

	for _, agent := range []string{"agent-a", "agent-b"} {
		msgs, err := m.Poll(agent)
		if err != nil {
			t.Fatalf("poll %s: %v", agent, err)
		}
		if len(msgs) != 1 {
			t.Fatalf("expected %s to see the broadcast, got %d messages", agent, len(msgs))
		}
	}

	// agent-a acks; agent-b still sees it.
	if err := m.Ack("agent-a", id); err != nil {
		t.Fatalf("ack: %v", err)
	}
	msgsA, err := m.Poll("agent-a")
	if err != nil {
		t.Fatalf("poll a: %v", err)
	}
	if len(msgsA) != 0 {
		t.Errorf("expected agent-a unread to be empty, got %d", len(msgsA))
	}
	msgsB, err := m.Poll("agent-b")
	if err != nil {
		t.Fatalf("poll b: %v", err)
	}
	if len(msgsB) != 1 {
		t.Errorf("expected agent-b to still see the broadcast, got %d", len(msgsB))
	}
}

func TestTamperedMessageDropped(t *testing.T) {
	m := openTestMailbox(t)

	id, err := m.Send("agent-a", "agent-b", "original payload")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// Mutate the payload behind the signer's back.
	if _, err := m.db.Exec(`UPDATE messages SET payload = ? WHERE id = ?`,
		"forged payload", id); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	msgs, err := m.Poll("agent-b")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected tampered message to be dropped, got %d", len(msgs))
	}

	n, err := m.TamperEventCount()
	if err != nil {
		t.Fatalf("count tamper events: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 tamper event, got %d", n)
	}

	// The dropped message never comes back.
	msgs, err = m.Poll("agent-b")
	if err != nil {
		t.Fatalf("poll again: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected dropped message to stay gone, got %d", len(msgs))
	}
}

func TestVerify(t *testing.T) {
	signer := NewSigner("secret-1")
	sentAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	msg := &models.Message{
		Sender:    "a",
		Recipient: "b",
		Payload:   "payload",
		SentAt:    sentAt,
		Signature: signer.Sign("a", "b", "payload", sentAt),
	}
	if !signer.Verify(msg) {
		t.Error("expected untouched message to verify")
	}

	for name, mutate := range map[string]func(*models.Message){
		"payload":   func(m *models.Message) { m.Payload = "other" },
		"sender":    func(m *models.Message) { m.Sender = "mallory" },
		"recipient": func(m *models.Message) { m.Recipient = "c" },
		"timestamp": func(m *models.Message) { m.SentAt = m.SentAt.Add(time.Second) },
		"signature": func(m *models.Message) { m.Signature = "deadbeef" },
	} {
		copy := *msg
		mutate(&copy)
		if signer.Verify(&copy) {
			t.Errorf("expected %s mutation to fail verification", name)
		}
	}

	// A different secret never verifies.
	if NewSigner("secret-2").Verify(msg) {
		t.Error("expected verification to fail under a different secret")
	}
}
