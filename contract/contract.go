//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"deal-chat/domain/event"

	"github.com/google/uuid"
)

// Worker doesn't protect itself.
// Can be silly, focused.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker,
// avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// EventSink consumes one domain event. Implementations must not block:
// a sink that cannot keep up has to drop or disconnect on its own.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IRegistry tracks live connections per chat. It is purely in-memory
// and rebuildable from nothing; membership is re-established on
// reconnect, so a registry entry disappearing never implies message loss.
type IRegistry interface {
	Register(chatID uuid.UUID, connectionID string, sink EventSink)
	Unregister(chatID uuid.UUID, connectionID string)
	Broadcast(ctx context.Context, e event.DomainEvent, excludeConnectionID string)
	Connections(chatID uuid.UUID) int
	Size() int
}

// VerificationGate is the external collaborator confirming a buyer's
// verified status before any join is accepted.
type VerificationGate interface {
	IsVerified(userID string) (bool, error)
}
