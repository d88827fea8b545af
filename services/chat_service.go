//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"deal-chat/contract"
	"deal-chat/domain"
	"deal-chat/domain/event"
	"deal-chat/errors"
	"deal-chat/moderation"
	"deal-chat/repositories"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	appendAttempts = 3
	appendBackoff  = 50 * time.Millisecond
)

type IChatService interface {
	OpenChat(productID, buyerID, sellerID string) (domain.Chat, error)
	GetChat(chatID uuid.UUID) (domain.Chat, error)
	Append(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error)
	Block(ctx context.Context, cmd domain.BlockCommand) error
	MarkRead(ctx context.Context, cmd domain.MarkReadCommand) error
	Backfill(chatID uuid.UUID, sinceSequence uint64, limit int) ([]domain.Message, error)
	LastSequence(chatID uuid.UUID) (uint64, error)
	UnreadCount(chatID uuid.UUID, userID string) (int, error)
}

// ChatService owns the write path of a chat. Every append to one chat
// goes through that chat's mutex, which is the single serialization
// point where block state is checked, the sequence assigned, and the
// fan-out emitted; chats never contend with each other.
type ChatService struct {
	log       *slog.Logger
	chats     repositories.IChatRepository
	messages  repositories.IMessageLog
	cursors   repositories.ICursorRepository
	registry  contract.IRegistry
	moderator *moderation.Moderator
	sinks     []contract.EventSink
	maxBody   int

	mu        sync.Mutex
	chatLocks map[uuid.UUID]*sync.Mutex
}

func NewChatService(log *slog.Logger, chats repositories.IChatRepository,
	messages repositories.IMessageLog, cursors repositories.ICursorRepository,
	registry contract.IRegistry, moderator *moderation.Moderator, maxBody int) *ChatService {
	return &ChatService{
		log:       log,
		chats:     chats,
		messages:  messages,
		cursors:   cursors,
		registry:  registry,
		moderator: moderator,
		maxBody:   maxBody,
		chatLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// AddSinks attaches permanent sinks (projections such as the search
// index) that receive every broadcast event in addition to the room.
func (s *ChatService) AddSinks(sinks ...contract.EventSink) {
	s.sinks = append(s.sinks, sinks...)
}

// OpenChat returns the chat for the triple, lazily creating it. Exactly
// one chat ever exists per (product, buyer, seller).
func (s *ChatService) OpenChat(productID, buyerID, sellerID string) (domain.Chat, error) {
	if productID == "" || buyerID == "" || sellerID == "" || buyerID == sellerID {
		return domain.Chat{}, fmt.Errorf("%w: chat requires a product and two distinct parties", errors.ErrInvalidPayload)
	}
	chat, _, err := s.chats.FindOrCreate(productID, buyerID, sellerID)
	return chat, err
}

func (s *ChatService) GetChat(chatID uuid.UUID) (domain.Chat, error) {
	return s.chats.Get(chatID)
}

// Append validates, moderates, and appends one message, then fans it
// out. The block state is read inside the per-chat critical section, at
// append time and not at send-intent time, so a concurrent block cannot
// race a message past the gate.
func (s *ChatService) Append(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error) {
	if err := s.validate(&cmd); err != nil {
		return domain.Message{}, err
	}
	if s.moderator != nil && cmd.Body != "" {
		cmd.Body = s.moderator.Mask(cmd.Body)
	}

	lock := s.lockFor(cmd.ChatID)
	lock.Lock()
	defer lock.Unlock()
	message, err := s.appendWithRetry(ctx, cmd)
	if err != nil {
		return domain.Message{}, err
	}

	// Fan-out stays inside the critical section so readers observe
	// messages in sequence order; sinks never block (connections park
	// or drop, the index writes locally).
	s.broadcast(ctx, event.MessageAppended{Message: message}, "")
	return message, nil
}

// appendWithRetry retries transient storage failures with bounded
// backoff before surfacing them; every other kind is terminal for the
// single operation.
func (s *ChatService) appendWithRetry(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error) {
	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.Message{}, ctx.Err()
			case <-time.After(appendBackoff * time.Duration(attempt)):
			}
		}

		chat, err := s.chats.Get(cmd.ChatID)
		if err != nil {
			lastErr = err
			if errors.IsTerminal(err) {
				return domain.Message{}, err
			}
			continue
		}
		if !chat.IsParty(cmd.SenderID) {
			return domain.Message{}, errors.ErrForbidden
		}
		if chat.SendBlocked(cmd.SenderID) {
			return domain.Message{}, errors.ErrBlocked
		}

		message, err := s.messages.Append(cmd)
		if err == nil {
			return message, nil
		}
		lastErr = err
		if errors.IsTerminal(err) {
			return domain.Message{}, err
		}
		s.log.Warn("Transient append failure, retrying",
			"chat_id", cmd.ChatID, "attempt", attempt+1, "error", err)
	}
	return domain.Message{}, lastErr
}

// Block sets the actor's one-way, terminal block and tells the room
// once. Reapplying an existing block changes nothing and stays silent.
func (s *ChatService) Block(ctx context.Context, cmd domain.BlockCommand) error {
	lock := s.lockFor(cmd.ChatID)
	lock.Lock()
	defer lock.Unlock()
	chat, changed, err := s.chats.Block(cmd.ChatID, cmd.ActorID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	s.log.Info("Direction blocked", "chat_id", chat.ID, "blocked_by", cmd.ActorID)
	s.broadcast(ctx, event.UserBlocked{
		ChatID:    chat.ID,
		BlockedBy: cmd.ActorID,
		At:        time.Now().UTC(),
	}, "")
	return nil
}

// MarkRead advances the caller's cursor monotonically and broadcasts a
// lightweight cursor update; stale requests regress nothing and emit
// nothing.
func (s *ChatService) MarkRead(ctx context.Context, cmd domain.MarkReadCommand) error {
	chat, err := s.chats.Get(cmd.ChatID)
	if err != nil {
		return err
	}
	if !chat.IsParty(cmd.UserID) {
		return errors.ErrForbidden
	}

	applied, advanced, err := s.cursors.Advance(cmd.ChatID, cmd.UserID, cmd.Sequence)
	if err != nil {
		return err
	}
	if !advanced {
		return nil
	}

	s.broadcast(ctx, event.ReadStateUpdated{
		ChatID:   cmd.ChatID,
		UserID:   cmd.UserID,
		Sequence: applied,
	}, "")
	return nil
}

// Backfill reads missed history in sequence order, starting after
// sinceSequence, with the ReadBy projection resolved against the
// current cursors.
func (s *ChatService) Backfill(chatID uuid.UUID, sinceSequence uint64, limit int) ([]domain.Message, error) {
	chat, err := s.chats.Get(chatID)
	if err != nil {
		return nil, err
	}
	messages, err := s.messages.Read(chatID, sinceSequence, limit)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return messages, nil
	}

	cursors := map[string]uint64{}
	for _, userID := range []string{chat.BuyerID, chat.SellerID} {
		cursor, err := s.cursors.Get(chatID, userID)
		if err != nil {
			return nil, err
		}
		cursors[userID] = cursor
	}

	return lo.Map(messages, func(message domain.Message, _ int) domain.Message {
		message.ReadBy = readBy(message, cursors)
		return message
	}), nil
}

func (s *ChatService) LastSequence(chatID uuid.UUID) (uint64, error) {
	return s.messages.LastSequence(chatID)
}

// UnreadCount counts counterpart messages beyond the user's cursor.
func (s *ChatService) UnreadCount(chatID uuid.UUID, userID string) (int, error) {
	cursor, err := s.cursors.Get(chatID, userID)
	if err != nil {
		return 0, err
	}
	return s.messages.CountAfter(chatID, cursor, userID)
}

func (s *ChatService) validate(cmd *domain.SendMessageCommand) error {
	cmd.Body = strings.TrimSpace(cmd.Body)
	if cmd.Body == "" && cmd.ImageURL == "" {
		return fmt.Errorf("%w: message needs a body or an image", errors.ErrInvalidPayload)
	}
	if len([]rune(cmd.Body)) > s.maxBody {
		return fmt.Errorf("%w: body exceeds %d characters", errors.ErrInvalidPayload, s.maxBody)
	}
	return nil
}

// broadcast feeds the permanent sinks first, then the room.
func (s *ChatService) broadcast(ctx context.Context, e event.DomainEvent, excludeConnectionID string) {
	for _, sink := range s.sinks {
		if err := sink.Consume(ctx, e); err != nil {
			s.log.Warn("Permanent sink rejected event", "chat_id", e.Chat(), "error", err)
		}
	}
	s.registry.Broadcast(ctx, e, excludeConnectionID)
}

// lockFor returns the chat's append mutex, creating it lazily. Locks
// are tiny and chat count is bounded by actual negotiations, so no
// eviction is attempted.
func (s *ChatService) lockFor(chatID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.chatLocks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		s.chatLocks[chatID] = lock
	}
	return lock
}

// readBy projects the persisted cursors onto one message: a participant
// has read it when their cursor reached its sequence. The sender always
// counts as having read their own message.
func readBy(message domain.Message, cursors map[string]uint64) []string {
	var readers []string
	for userID, cursor := range cursors {
		if userID == message.SenderID || cursor >= message.Sequence {
			readers = append(readers, userID)
		}
	}
	return readers
}
