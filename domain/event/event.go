package event

import (
	"time"

	"deal-chat/domain"

	"github.com/google/uuid"
)

type DomainEvent interface {
	Chat() uuid.UUID
}

// MessageAppended is emitted after the log assigned a sequence.
// All connections of the room receive it, the sender included, so the
// log stays the single source of order and timestamps.
type MessageAppended struct {
	Message domain.Message
}

func (e MessageAppended) Chat() uuid.UUID { return e.Message.ChatID }

type UserTyping struct {
	ChatID   uuid.UUID
	UserID   string
	IsTyping bool
}

func (e UserTyping) Chat() uuid.UUID { return e.ChatID }

type UserBlocked struct {
	ChatID    uuid.UUID
	BlockedBy string
	At        time.Time
}

func (e UserBlocked) Chat() uuid.UUID { return e.ChatID }

// ReadStateUpdated is a lightweight cursor notification; it never
// carries the messages themselves.
type ReadStateUpdated struct {
	ChatID   uuid.UUID
	UserID   string
	Sequence uint64
}

func (e ReadStateUpdated) Chat() uuid.UUID { return e.ChatID }
