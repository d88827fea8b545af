// Package gateway accepts transport connections, authenticates their
// holder, binds them to a chat room, and dispatches inbound events.
package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"deal-chat/domain"
	"deal-chat/domain/event"

	"github.com/samber/lo"
)

// Named events carried over the per-connection channel.
const (
	EventAuthenticate = "authenticate"
	EventJoinChat     = "join-chat"
	EventSendMessage  = "send-message"
	EventMarkRead     = "mark-read"
	EventTyping       = "typing"
	EventBlockUser    = "block-user"

	EventJoinedChat     = "joined-chat"
	EventReceiveMessage = "receive-message"
	EventUserTyping     = "user-typing"
	EventUserBlocked    = "user-blocked"
	EventReadState      = "read-state"
	EventError          = "error"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type AuthenticatePayload struct {
	Token string `json:"token" validate:"required"`
}

// JoinChatPayload names the chat triple and the highest sequence the
// client has already observed (0 if none).
type JoinChatPayload struct {
	ProductID    string `json:"product_id" validate:"required"`
	BuyerID      string `json:"buyer_id" validate:"required"`
	SellerID     string `json:"seller_id" validate:"required"`
	LastSequence uint64 `json:"last_sequence"`
}

type SendMessagePayload struct {
	CorrelationID string `json:"correlation_id"`
	Body          string `json:"body"`
	ImageURL      string `json:"image_url" validate:"omitempty,url"`
}

type MarkReadPayload struct {
	Sequence uint64 `json:"sequence"`
}

type TypingPayload struct {
	IsTyping bool `json:"is_typing"`
}

type JoinedChatPayload struct {
	ChatID       string `json:"chat_id"`
	LastSequence uint64 `json:"last_sequence"`
	UnreadCount  int    `json:"unread_count"`
	BlockedByMe  bool   `json:"blocked_by_me"`
	BlockedMe    bool   `json:"blocked_me"`
}

type MessagePayload struct {
	ID            string   `json:"id"`
	ChatID        string   `json:"chat_id"`
	SenderID      string   `json:"sender_id"`
	Body          string   `json:"body,omitempty"`
	ImageURL      string   `json:"image_url,omitempty"`
	Sequence      uint64   `json:"sequence"`
	CreatedAt     string   `json:"created_at"`
	ReadBy        []string `json:"read_by,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

type UserTypingPayload struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type UserBlockedPayload struct {
	BlockedBy string `json:"blocked_by"`
}

type ReadStatePayload struct {
	UserID   string `json:"user_id"`
	Sequence uint64 `json:"sequence"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encode(eventName string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: eventName, Data: raw})
}

func toMessagePayload(message domain.Message) MessagePayload {
	return MessagePayload{
		ID:            message.ID.String(),
		ChatID:        message.ChatID.String(),
		SenderID:      message.SenderID,
		Body:          message.Body,
		ImageURL:      message.ImageURL,
		Sequence:      message.Sequence,
		CreatedAt:     message.CreatedAt.Format(time.RFC3339Nano),
		ReadBy:        message.ReadBy,
		CorrelationID: message.CorrelationID,
	}
}

func toMessagePayloads(messages []domain.Message) []MessagePayload {
	return lo.Map(messages, func(message domain.Message, _ int) MessagePayload {
		return toMessagePayload(message)
	})
}

// envelopeFor translates a domain event into its wire form.
func envelopeFor(e event.DomainEvent) ([]byte, error) {
	switch evt := e.(type) {
	case event.MessageAppended:
		return encode(EventReceiveMessage, toMessagePayload(evt.Message))
	case event.UserTyping:
		return encode(EventUserTyping, UserTypingPayload{UserID: evt.UserID, IsTyping: evt.IsTyping})
	case event.UserBlocked:
		return encode(EventUserBlocked, UserBlockedPayload{BlockedBy: evt.BlockedBy})
	case event.ReadStateUpdated:
		return encode(EventReadState, ReadStatePayload{UserID: evt.UserID, Sequence: evt.Sequence})
	default:
		return nil, fmt.Errorf("no wire form for event %T", e)
	}
}
