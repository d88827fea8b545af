package domain

import "github.com/google/uuid"

type Command interface {
	Chat() uuid.UUID
}

// SendMessageCommand carries a send intent for one chat.
// CorrelationID is a client-supplied id echoed back on broadcast so an
// optimistic client entry can be reconciled without duplication.
type SendMessageCommand struct {
	ChatID        uuid.UUID
	SenderID      string
	Body          string
	ImageURL      string
	CorrelationID string
}

func (c SendMessageCommand) Chat() uuid.UUID { return c.ChatID }

type MarkReadCommand struct {
	ChatID   uuid.UUID
	UserID   string
	Sequence uint64
}

func (c MarkReadCommand) Chat() uuid.UUID { return c.ChatID }

type BlockCommand struct {
	ChatID  uuid.UUID
	ActorID string
}

func (c BlockCommand) Chat() uuid.UUID { return c.ChatID }
