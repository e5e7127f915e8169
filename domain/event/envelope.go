package event

import (
	"time"

	"voice-room/domain/invitation"
	"voice-room/domain/room"
)

type Type string

const (
	RoomCreatedType        Type = "room_created"
	RoomDestroyedType      Type = "room_destroyed"
	MemberJoinedType       Type = "member_joined"
	MemberLeftType         Type = "member_left"
	SeatSnapshotType       Type = "seat_snapshot"
	SeatChangedType        Type = "seat_changed"
	InvitationSentType     Type = "invitation_sent"
	InvitationAcceptedType Type = "invitation_accepted"
	InvitationRejectedType Type = "invitation_rejected"
	InvitationCanceledType Type = "invitation_cancelled"
	RoomTextMsgType        Type = "room_text_msg"
	RoomCustomMsgType      Type = "room_custom_msg"
)

type Payload interface {
	Type() Type
}

// Envelope is one coordination message on the channel.
// Seq is assigned by the channel, per room, strictly increasing.
// Correlation carries the id of the operation that produced it.
type Envelope struct {
	Seq         uint64
	Room        room.ID
	Sender      string
	Correlation string
	At          time.Time
	Payload     Payload
}

func (e Envelope) Type() Type {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Type()
}

type RoomCreated struct {
	Info        room.Info
	ClosedSeats []int
}

func (RoomCreated) Type() Type { return RoomCreatedType }

type RoomDestroyed struct{}

func (RoomDestroyed) Type() Type { return RoomDestroyedType }

type MemberJoined struct {
	UserID string
}

func (MemberJoined) Type() Type { return MemberJoinedType }

type MemberLeft struct {
	UserID string
}

func (MemberLeft) Type() Type { return MemberLeftType }

// SeatSnapshot is sent to a joiner, or on request after a gap.
// Its Seq is the last sequence number the snapshot includes.
type SeatSnapshot struct {
	Snapshot room.Snapshot
}

func (SeatSnapshot) Type() Type { return SeatSnapshotType }

// SeatChanged carries a batch applied in one step, in order.
type SeatChanged struct {
	Changes []room.SeatChange
}

func (SeatChanged) Type() Type { return SeatChangedType }

type InvitationSent struct {
	Invitation invitation.Invitation
}

func (InvitationSent) Type() Type { return InvitationSentType }

type InvitationAccepted struct {
	Invitation invitation.Invitation
}

func (InvitationAccepted) Type() Type { return InvitationAcceptedType }

type InvitationRejected struct {
	Invitation invitation.Invitation
}

func (InvitationRejected) Type() Type { return InvitationRejectedType }

type InvitationCancelled struct {
	Invitation invitation.Invitation
}

func (InvitationCancelled) Type() Type { return InvitationCanceledType }

type RoomTextMsg struct {
	SenderID string
	Text     string
	Lang     string
}

func (RoomTextMsg) Type() Type { return RoomTextMsgType }

type RoomCustomMsg struct {
	SenderID string
	Cmd      string
	Payload  string
}

func (RoomCustomMsg) Type() Type { return RoomCustomMsgType }
