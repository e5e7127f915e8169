//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"voice-room/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging and supervision, avoiding a manual name on every worker.
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

// Subscriber receives notifications one at a time, in the order they were applied.
// It is never called concurrently with itself by the same notifier.
type Subscriber interface {
	Consume(ctx context.Context, n event.Notification) error
}

type SubscriberFunc func(ctx context.Context, n event.Notification) error

func (f SubscriberFunc) Consume(ctx context.Context, n event.Notification) error {
	return f(ctx, n)
}
