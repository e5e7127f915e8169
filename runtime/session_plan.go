package runtime

import (
	"fmt"
	"strconv"
	"time"

	"voice-room/domain/event"
	"voice-room/domain/invitation"
	"voice-room/domain/room"
	"voice-room/errors"
)

type Action int

const (
	ActionNone Action = iota
	ActionRegister
	ActionJoin
	ActionLeave
	ActionPublish
)

// Plan tells the caller what to send for an operation.
// ActionNone means the operation is already satisfied.
type Plan struct {
	Action   Action
	Envelope event.Envelope
}

func publish(p event.Payload) Plan {
	return Plan{Action: ActionPublish, Envelope: event.Envelope{Payload: p}}
}

// Plan validates op against the current state and, when something must be sent,
// marks it in flight. The state itself only changes once the envelope comes back.
func (s *Session) Plan(op *Operation) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil {
		return Plan{}, fmt.Errorf("operation %s still in flight", s.inflight.ID)
	}
	plan, err := s.plan(op)
	if err != nil || plan.Action == ActionNone {
		return Plan{}, err
	}
	plan.Envelope.Room = s.roomID
	plan.Envelope.Sender = s.userID
	plan.Envelope.Correlation = op.ID
	plan.Envelope.At = time.Now().UTC()
	s.inflight = op
	return plan, nil
}

func (s *Session) plan(op *Operation) (Plan, error) {
	switch op.Kind {
	case OpCreateRoom:
		if err := s.requireBegun(op.Room); err != nil {
			return Plan{}, err
		}
		info := room.NewInfo(op.Room, s.userID, op.Param, time.Now().UTC())
		return Plan{
			Action:   ActionRegister,
			Envelope: event.Envelope{Payload: event.RoomCreated{Info: info, ClosedSeats: op.Param.ClosedSeats}},
		}, nil
	case OpEnterRoom:
		if err := s.requireBegun(op.Room); err != nil {
			return Plan{}, err
		}
		return Plan{Action: ActionJoin, Envelope: event.Envelope{Payload: event.MemberJoined{UserID: s.userID}}}, nil
	case OpExitRoom:
		if s.state == nil {
			return Plan{}, nil
		}
		return Plan{Action: ActionLeave, Envelope: event.Envelope{Payload: event.MemberLeft{UserID: s.userID}}}, nil
	case OpDestroyRoom:
		if s.state == nil {
			return Plan{}, nil
		}
		if !s.isOwner() {
			return Plan{}, errors.ErrNotOwner
		}
		return publish(event.RoomDestroyed{}), nil
	}

	if s.phase != PhaseJoined || s.state == nil {
		return Plan{}, errors.ErrNotInRoom
	}

	switch op.Kind {
	case OpEnterSeat:
		return s.planEnterSeat(op)
	case OpLeaveSeat:
		idx, ok := s.state.Seats.SeatOf(s.userID)
		if !ok {
			return Plan{}, nil
		}
		return seatChange(room.SeatChange{Op: room.OpLeave, Index: idx, UserID: s.userID}), nil
	case OpPickSeat:
		seat, err := s.ownedSeat(op.Index)
		if err != nil {
			return Plan{}, err
		}
		if !s.state.IsMember(op.UserID) {
			return Plan{}, fmt.Errorf("%w: %s", errors.ErrUserNotInRoom, op.UserID)
		}
		if seat.OccupantID == op.UserID {
			return Plan{}, nil
		}
		if err := s.state.Seats.CheckTake(op.Index, op.UserID); err != nil {
			return Plan{}, err
		}
		return seatChange(room.SeatChange{Op: room.OpTake, Index: op.Index, UserID: op.UserID}), nil
	case OpKickSeat:
		seat, err := s.ownedSeat(op.Index)
		if err != nil || seat.State != room.SeatOccupied {
			return Plan{}, err
		}
		return seatChange(room.SeatChange{Op: room.OpLeave, Index: op.Index, UserID: seat.OccupantID}), nil
	case OpMuteSeat:
		seat, err := s.ownedSeat(op.Index)
		if err != nil || seat.Muted == op.Flag {
			return Plan{}, err
		}
		return seatChange(room.SeatChange{Op: room.OpMute, Index: op.Index, Flag: op.Flag}), nil
	case OpCloseSeat:
		seat, err := s.ownedSeat(op.Index)
		if err != nil || (seat.State == room.SeatClosed) == op.Flag {
			return Plan{}, err
		}
		return seatChange(room.SeatChange{Op: room.OpClose, Index: op.Index, Flag: op.Flag}), nil
	case OpSendText:
		return publish(event.RoomTextMsg{SenderID: s.userID, Text: op.Text, Lang: op.Lang}), nil
	case OpSendCustom:
		return publish(event.RoomCustomMsg{SenderID: s.userID, Cmd: op.Cmd, Payload: op.Content}), nil
	case OpSendInvitation:
		return s.planInvitation(op)
	case OpAcceptInvitation, OpRejectInvitation, OpCancelInvitation:
		return s.planTransition(op)
	}
	return Plan{}, fmt.Errorf("unknown operation %q", op.Kind)
}

func (s *Session) requireBegun(roomID room.ID) error {
	if s.phase != PhaseJoining || s.state != nil || s.roomID != roomID {
		return errors.ErrAlreadyInRoom
	}
	return nil
}

// ownedSeat checks the caller may administrate seat index.
func (s *Session) ownedSeat(index int) (room.Seat, error) {
	if !s.isOwner() {
		return room.Seat{}, errors.ErrNotOwner
	}
	seat, ok := s.state.Seats.Seat(index)
	if !ok {
		return room.Seat{}, fmt.Errorf("%w: %d", errors.ErrInvalidSeatIndex, index)
	}
	return seat, nil
}

func seatChange(changes ...room.SeatChange) Plan {
	return publish(event.SeatChanged{Changes: changes})
}

func (s *Session) planEnterSeat(op *Operation) (Plan, error) {
	op.UserID = s.userID
	seat, ok := s.state.Seats.Seat(op.Index)
	if !ok {
		return Plan{}, fmt.Errorf("%w: %d", errors.ErrInvalidSeatIndex, op.Index)
	}
	if seat.OccupantID == s.userID {
		return Plan{}, nil
	}
	if err := s.state.Seats.CheckTake(op.Index, s.userID); err != nil {
		return Plan{}, err
	}
	if !s.state.Info.NeedSeatConfirm || s.isOwner() || op.approved {
		return seatChange(room.SeatChange{Op: room.OpTake, Index: op.Index, UserID: s.userID}), nil
	}

	// The owner has to approve: send a request instead of taking the seat.
	now := time.Now().UTC()
	approval := invitation.Invitation{
		ID:         op.ID,
		Room:       s.roomID,
		FromUserID: s.userID,
		ToUserID:   s.state.Info.OwnerID,
		Cmd:        invitation.CmdRequestTakeSeat,
		Content:    strconv.Itoa(op.Index),
		CreatedAt:  now,
		ExpiresAt:  s.expiry(now),
	}
	if err := s.store.Add(approval); err != nil {
		return Plan{}, err
	}
	op.Invitation = approval
	return publish(event.InvitationSent{Invitation: approval}), nil
}

func (s *Session) planInvitation(op *Operation) (Plan, error) {
	inv := op.Invitation
	if inv.Room != s.roomID {
		return Plan{}, fmt.Errorf("%w: invitation bound to room %d", errors.ErrNotInRoom, inv.Room)
	}
	if !s.state.IsMember(inv.ToUserID) {
		return Plan{}, fmt.Errorf("%w: %s", errors.ErrUserNotInRoom, inv.ToUserID)
	}
	if inv.Cmd == invitation.CmdPickUpSeat {
		if _, err := s.ownedSeat(op.Index); err != nil {
			return Plan{}, err
		}
		if err := s.state.Seats.CheckTake(op.Index, inv.ToUserID); err != nil {
			return Plan{}, err
		}
	}
	return publish(event.InvitationSent{Invitation: inv}), nil
}

func (s *Session) planTransition(op *Operation) (Plan, error) {
	target := transitionOf(op.Kind)
	inv, err := s.store.Authorize(op.InvitationID, s.userID, target)
	if err != nil {
		return Plan{}, err
	}
	if inv.Room != s.roomID {
		return Plan{}, fmt.Errorf("%w: invitation bound to room %d", errors.ErrNotInRoom, inv.Room)
	}
	switch target {
	case invitation.Accepted:
		return publish(event.InvitationAccepted{Invitation: inv}), nil
	case invitation.Rejected:
		return publish(event.InvitationRejected{Invitation: inv}), nil
	default:
		return publish(event.InvitationCancelled{Invitation: inv}), nil
	}
}

func transitionOf(kind OpKind) invitation.Status {
	switch kind {
	case OpAcceptInvitation:
		return invitation.Accepted
	case OpRejectInvitation:
		return invitation.Rejected
	default:
		return invitation.Cancelled
	}
}

func (s *Session) expiry(from time.Time) time.Time {
	if s.opts.InvitationTimeout <= 0 {
		return time.Time{}
	}
	return from.Add(s.opts.InvitationTimeout)
}

// ExpiryFrom is the deadline given to an invitation created now.
func (s *Session) ExpiryFrom(from time.Time) time.Time {
	return s.expiry(from)
}
