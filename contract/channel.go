//go:generate go run go.uber.org/mock/mockgen -source=channel.go -destination=../mocks/mock_channel.go -package=mocks
package contract

import (
	"context"

	"voice-room/domain/event"
	"voice-room/domain/room"
)

// Inbox is where a channel drops envelopes for one member. Deliver must not block.
type Inbox interface {
	Deliver(env event.Envelope)
}

// EventChannel carries coordination messages with ordered, at-least-once
// delivery per room. Every member receives every envelope, its sender included.
type EventChannel interface {
	// Register creates the room from a RoomCreated envelope.
	// Fails with ErrRoomAlreadyExists when the id is taken.
	Register(ctx context.Context, env event.Envelope, inbox Inbox) error
	// Join adds the sender from a MemberJoined envelope. The inbox gets a
	// SeatSnapshot of the current state before the join itself.
	// Fails with ErrRoomNotFound.
	Join(ctx context.Context, env event.Envelope, inbox Inbox) error
	// Leave publishes a MemberLeft envelope then stops delivering to the sender.
	Leave(ctx context.Context, env event.Envelope) error
	Publish(ctx context.Context, env event.Envelope) error
	// Snapshot returns the current state of the room as a SeatSnapshot envelope.
	Snapshot(ctx context.Context, roomID room.ID) (event.Envelope, error)
}

// RoomDirectory answers questions about rooms a session is not in.
type RoomDirectory interface {
	Rooms(ctx context.Context, ids []room.ID) ([]room.Info, error)
	Search(ctx context.Context, text string, limit int) ([]room.Info, error)
}
