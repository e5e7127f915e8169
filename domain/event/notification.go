package event

import (
	"voice-room/domain/invitation"
	"voice-room/domain/room"
)

// Notification is a state change reported to subscribers after it was applied.
type Notification interface {
	RoomID() room.ID
}

type RoomInfoChanged struct {
	Info room.Info
}

func (n RoomInfoChanged) RoomID() room.ID { return n.Info.ID }

type RoomDestroyedNotice struct {
	Room room.ID
}

func (n RoomDestroyedNotice) RoomID() room.ID { return n.Room }

// SeatListChanged carries the full seat list after the change.
// Changes lists what was applied, in order; it is empty after a snapshot.
type SeatListChanged struct {
	Room    room.ID
	Seats   []room.Seat
	Changes []room.SeatChange
}

func (n SeatListChanged) RoomID() room.ID { return n.Room }

type AnchorEnteredSeat struct {
	Room   room.ID
	Index  int
	UserID string
}

func (n AnchorEnteredSeat) RoomID() room.ID { return n.Room }

type AnchorLeftSeat struct {
	Room   room.ID
	Index  int
	UserID string
}

func (n AnchorLeftSeat) RoomID() room.ID { return n.Room }

type SeatMuted struct {
	Room  room.ID
	Index int
	Muted bool
}

func (n SeatMuted) RoomID() room.ID { return n.Room }

type SeatClosed struct {
	Room   room.ID
	Index  int
	Closed bool
}

func (n SeatClosed) RoomID() room.ID { return n.Room }

type AudienceEntered struct {
	Room   room.ID
	UserID string
}

func (n AudienceEntered) RoomID() room.ID { return n.Room }

type AudienceExited struct {
	Room   room.ID
	UserID string
}

func (n AudienceExited) RoomID() room.ID { return n.Room }

type TextMessageReceived struct {
	Room     room.ID
	SenderID string
	Text     string
	Lang     string
}

func (n TextMessageReceived) RoomID() room.ID { return n.Room }

type CustomMessageReceived struct {
	Room     room.ID
	SenderID string
	Cmd      string
	Payload  string
}

func (n CustomMessageReceived) RoomID() room.ID { return n.Room }

type InvitationReceived struct {
	Invitation invitation.Invitation
}

func (n InvitationReceived) RoomID() room.ID { return n.Invitation.Room }

type InviteeAccepted struct {
	Invitation invitation.Invitation
}

func (n InviteeAccepted) RoomID() room.ID { return n.Invitation.Room }

type RejectReason string

const (
	ReasonRejected RejectReason = "rejected"
	ReasonExpired  RejectReason = "expired"
)

// InviteeRejected is raised on reject and on expiry, Reason tells them apart.
type InviteeRejected struct {
	Invitation invitation.Invitation
	Reason     RejectReason
}

func (n InviteeRejected) RoomID() room.ID { return n.Invitation.Room }

type InvitationCancelledNotice struct {
	Invitation invitation.Invitation
}

func (n InvitationCancelledNotice) RoomID() room.ID { return n.Invitation.Room }

// Warning reports a recoverable problem, such as a failed resync.
type Warning struct {
	Room    room.ID
	Message string
	Err     error
}

func (n Warning) RoomID() room.ID { return n.Room }
