package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"deal-chat/contract"
	"deal-chat/domain/event"

	"github.com/google/uuid"
)

const sweepInterval = 250 * time.Millisecond

type typingKey struct {
	chatID uuid.UUID
	userID string
}

type typingState struct {
	lastBroadcast time.Time
	expiresAt     time.Time
}

// TypingBroadcaster relays ephemeral typing signals. Nothing here is
// ever persisted. Repeated `true` signals inside the debounce window
// are coalesced into a single broadcast, and a `true` with no refresh
// inside the quiet period expires to `false` server-side, so a
// vanished client cannot leave the peer's UI stuck on "typing".
type TypingBroadcaster struct {
	log      *slog.Logger
	registry contract.IRegistry
	debounce time.Duration
	quiet    time.Duration

	mu     sync.Mutex
	states map[typingKey]*typingState
}

func NewTypingBroadcaster(log *slog.Logger, registry contract.IRegistry,
	debounce, quiet time.Duration) *TypingBroadcaster {
	return &TypingBroadcaster{
		log:      log,
		registry: registry,
		debounce: debounce,
		quiet:    quiet,
		states:   make(map[typingKey]*typingState),
	}
}

// SetTyping handles one typing signal from a connection. The origin
// connection is excluded from the fan-out; the sender already knows.
func (b *TypingBroadcaster) SetTyping(ctx context.Context, chatID uuid.UUID,
	userID string, isTyping bool, originConnectionID string) {
	key := typingKey{chatID: chatID, userID: userID}
	now := time.Now()

	b.mu.Lock()
	state, active := b.states[key]

	if !isTyping {
		if !active {
			b.mu.Unlock()
			return
		}
		delete(b.states, key)
		b.mu.Unlock()
		b.broadcast(ctx, chatID, userID, false, originConnectionID)
		return
	}

	if active {
		state.expiresAt = now.Add(b.quiet)
		if now.Sub(state.lastBroadcast) < b.debounce {
			// Coalesced: the room was told recently enough.
			b.mu.Unlock()
			return
		}
		state.lastBroadcast = now
		b.mu.Unlock()
		b.broadcast(ctx, chatID, userID, true, originConnectionID)
		return
	}

	b.states[key] = &typingState{lastBroadcast: now, expiresAt: now.Add(b.quiet)}
	b.mu.Unlock()
	b.broadcast(ctx, chatID, userID, true, originConnectionID)
}

// Clear drops a user's typing state on disconnect, notifying the room
// if a `true` was still standing.
func (b *TypingBroadcaster) Clear(ctx context.Context, chatID uuid.UUID, userID string) {
	b.SetTyping(ctx, chatID, userID, false, "")
}

// Run sweeps expired states. The broadcaster, not the client, owns the
// quiet-period timeout.
func (b *TypingBroadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, key := range b.expire(time.Now()) {
				b.broadcast(ctx, key.chatID, key.userID, false, "")
			}
		}
	}
}

// expire removes every state past its deadline and returns the keys.
func (b *TypingBroadcaster) expire(now time.Time) []typingKey {
	b.mu.Lock()
	defer b.mu.Unlock()

	var expired []typingKey
	for key, state := range b.states {
		if now.After(state.expiresAt) {
			expired = append(expired, key)
			delete(b.states, key)
		}
	}
	return expired
}

func (b *TypingBroadcaster) broadcast(ctx context.Context, chatID uuid.UUID,
	userID string, isTyping bool, originConnectionID string) {
	b.registry.Broadcast(ctx, event.UserTyping{
		ChatID:   chatID,
		UserID:   userID,
		IsTyping: isTyping,
	}, originConnectionID)
}
