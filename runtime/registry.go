// Package runtime owns event propagation, room membership, and the
// long-lived workers. It orchestrates the system without containing
// domain rules.
package runtime

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"deal-chat/contract"
	"deal-chat/domain/event"

	"github.com/google/uuid"
)

const shardCount = 16

// Registry is the in-memory map from chat id to the set of live
// connections, used for fan-out. It is partitioned by chat id so one
// hot chat never serializes unrelated rooms. It holds no durable state:
// membership is rebuilt as clients reconnect.
type Registry struct {
	log    *slog.Logger
	shards [shardCount]*registryShard
}

type registryShard struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[string]contract.EventSink // chat -> connection -> sink
}

func NewRegistry(log *slog.Logger) *Registry {
	r := &Registry{log: log}
	for i := range r.shards {
		r.shards[i] = &registryShard{rooms: make(map[uuid.UUID]map[string]contract.EventSink)}
	}
	return r
}

func (r *Registry) shardFor(chatID uuid.UUID) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write(chatID[:])
	return r.shards[h.Sum32()%shardCount]
}

// Register adds a connection to a chat's room. A user may hold several
// simultaneous connections (multi-tab); each is tracked independently.
func (r *Registry) Register(chatID uuid.UUID, connectionID string, sink contract.EventSink) {
	shard := r.shardFor(chatID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	room, ok := shard.rooms[chatID]
	if !ok {
		room = make(map[string]contract.EventSink)
		shard.rooms[chatID] = room
	}
	room[connectionID] = sink
}

// Unregister removes a connection and drops the room entry once empty,
// so abandoned chats leak nothing.
func (r *Registry) Unregister(chatID uuid.UUID, connectionID string) {
	shard := r.shardFor(chatID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	room, ok := shard.rooms[chatID]
	if !ok {
		return
	}
	delete(room, connectionID)
	if len(room) == 0 {
		delete(shard.rooms, chatID)
	}
}

// Broadcast fans the event out to every connection of the chat, minus
// the excluded one. Sinks are snapshotted under the read lock and
// consumed outside it; a sink that cannot keep up fails on its own and
// never stalls delivery to the others.
func (r *Registry) Broadcast(ctx context.Context, e event.DomainEvent, excludeConnectionID string) {
	shard := r.shardFor(e.Chat())

	shard.mu.RLock()
	room := shard.rooms[e.Chat()]
	sinks := make([]contract.EventSink, 0, len(room))
	for connectionID, sink := range room {
		if connectionID == excludeConnectionID {
			continue
		}
		sinks = append(sinks, sink)
	}
	shard.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.Consume(ctx, e); err != nil {
			r.log.Warn("Fan-out to one connection failed", "chat_id", e.Chat(), "error", err)
		}
	}
}

// Connections returns the number of live connections for a chat.
func (r *Registry) Connections(chatID uuid.UUID) int {
	shard := r.shardFor(chatID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return len(shard.rooms[chatID])
}

// Size returns the total number of live connections across all chats.
func (r *Registry) Size() int {
	total := 0
	for _, shard := range r.shards {
		shard.mu.RLock()
		for _, room := range shard.rooms {
			total += len(room)
		}
		shard.mu.RUnlock()
	}
	return total
}
