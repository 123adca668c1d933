package models

import "time"

// BroadcastRecipient is the recipient ID that addresses every agent.
const BroadcastRecipient = "*"

// Message is a point-to-point or broadcast envelope between agents.
// Messages are created by the sender and marked read by recipients;
// no third party mutates them.
type Message struct {
	// ID is the unique identifier for this message.
	ID string `json:"id"`
	// Sender is the sending agent's ID.
	Sender string `json:"sender"`
	// Recipient is the receiving agent's ID, or "*" for broadcast.
	Recipient string `json:"recipient"`
	// Payload is the message body.
	Payload string `json:"payload"`
	// Signature is the hex-encoded MAC over the canonical serialization
	// of (sender, recipient, payload, sent timestamp).
	Signature string `json:"signature"`
	// SentAt is when the message was sent.
	SentAt time.Time `json:"sent_at"`
	// DeliveredAt is when the message was first returned by a poll.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	// Read indicates whether the polling agent has acknowledged the message.
	Read bool `json:"read"`
}
