// Messages are immutable after append; only the ReadBy projection
// changes as read cursors advance.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message represents one entry of a chat's append-only log.
// Sequence is assigned by the log at append time, never by clients,
// and is strictly increasing and contiguous within a chat.
type Message struct {
	ID        uuid.UUID
	ChatID    uuid.UUID
	SenderID  string
	Body      string
	ImageURL  string
	Sequence  uint64
	CreatedAt time.Time

	// CorrelationID is the sender-supplied reconciliation id. It is
	// persisted with the message so a client that missed the live echo
	// can still match its optimistic entry against the backfill.
	CorrelationID string

	// ReadBy is computed on read by comparing Sequence against the
	// participants' read cursors. It is never persisted per message.
	ReadBy []string
}
