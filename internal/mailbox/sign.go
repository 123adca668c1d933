package mailbox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/icdev-ai/dispatch/pkg/models"
)

// Signer computes and checks message authentication codes using the
// shared secret known to all legitimate agents. Rotating the secret
// invalidates in-flight unread messages.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer with the given shared secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the hex-encoded HMAC-SHA256 over the canonical
// serialization of the message fields.
func (s *Signer) Sign(sender, recipient, payload string, sentAt time.Time) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(canonical(sender, recipient, payload, sentAt))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the MAC for the message and compares it to the
// message's signature in constant time. This is the tamper-detection
// boundary between agents in different trust zones.
func (s *Signer) Verify(msg *models.Message) bool {
	want := s.Sign(msg.Sender, msg.Recipient, msg.Payload, msg.SentAt)
	return hmac.Equal([]byte(want), []byte(msg.Signature))
}

// canonical builds the byte sequence the MAC covers. Fields are joined
// with a separator Send rejects in agent IDs, and the timestamp is
// normalized to UTC nanosecond precision. With newline-free IDs and a
// newline-free timestamp the encoding is unambiguous even when the
// payload itself contains newlines.
func canonical(sender, recipient, payload string, sentAt time.Time) []byte {
	ts := sentAt.UTC().Format(time.RFC3339Nano)
	buf := make([]byte, 0, len(sender)+len(recipient)+len(payload)+len(ts)+3)
	buf = append(buf, sender...)
	buf = append(buf, '\n')
	buf = append(buf, recipient...)
	buf = append(buf, '\n')
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	buf = append(buf, ts...)
	return buf
}
