package runtime

import (
	"voice-room/domain/invitation"
	"voice-room/domain/room"

	"github.com/google/uuid"
)

type OpKind string

const (
	OpCreateRoom       OpKind = "create_room"
	OpEnterRoom        OpKind = "enter_room"
	OpExitRoom         OpKind = "exit_room"
	OpDestroyRoom      OpKind = "destroy_room"
	OpEnterSeat        OpKind = "enter_seat"
	OpLeaveSeat        OpKind = "leave_seat"
	OpPickSeat         OpKind = "pick_seat"
	OpKickSeat         OpKind = "kick_seat"
	OpMuteSeat         OpKind = "mute_seat"
	OpCloseSeat        OpKind = "close_seat"
	OpSendText         OpKind = "send_text"
	OpSendCustom       OpKind = "send_custom"
	OpSendInvitation   OpKind = "send_invitation"
	OpAcceptInvitation OpKind = "accept_invitation"
	OpRejectInvitation OpKind = "reject_invitation"
	OpCancelInvitation OpKind = "cancel_invitation"
)

// Operation is one locally initiated request waiting for its turn,
// then for its echo on the channel.
type Operation struct {
	ID           string
	Kind         OpKind
	Room         room.ID
	Param        room.Param
	Index        int
	UserID       string
	Flag         bool
	Text         string
	Lang         string
	Cmd          string
	Content      string
	InvitationID string
	Invitation   invitation.Invitation
	// Followup is set on operations the session scheduled by itself
	Followup bool

	approved   bool
	completion *Completion
}

func NewOperation(kind OpKind) *Operation {
	id := uuid.NewString()
	return &Operation{ID: id, Kind: kind, completion: newCompletion(id)}
}

func (o *Operation) Completion() *Completion { return o.completion }

func (o *Operation) Resolve(err error) bool { return o.completion.Resolve(err) }
