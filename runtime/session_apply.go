package runtime

import (
	"strconv"

	"voice-room/domain/event"
	"voice-room/domain/invitation"
	"voice-room/domain/room"
	"voice-room/errors"
)

// Apply digests one envelope of the session's room.
// Duplicates, late envelopes and changes that no longer fit are no-ops, never errors.
func (s *Session) Apply(env event.Envelope) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res Result
	if s.phase == PhaseIdle || env.Room != s.roomID {
		s.log.Debug("Envelope ignored outside of its room", "room_id", env.Room, "seq", env.Seq, "type", env.Type())
		return res
	}
	if s.state == nil {
		s.bootstrap(env, &res)
		return res
	}
	if env.Seq <= s.lastSeq {
		s.log.Debug("Envelope already applied", "room_id", env.Room, "seq", env.Seq, "last_seq", s.lastSeq)
		return res
	}
	if env.Seq > s.lastSeq+1 {
		if s.opts.ResyncOnGap {
			return Result{Gap: true}
		}
		s.log.Warn("Sequence gap, applying anyway", "room_id", env.Room, "seq", env.Seq, "last_seq", s.lastSeq)
		res.notify(event.Warning{Room: s.roomID, Message: "sequence gap", Err: errors.ErrTransport})
	}
	s.lastSeq = env.Seq
	s.apply(env, &res)
	return res
}

// Resync installs a fresh snapshot after a gap, then applies the envelope that revealed it.
func (s *Session) Resync(snapshot, pending event.Envelope) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res Result
	if s.state == nil || snapshot.Room != s.roomID {
		return res
	}
	p, ok := snapshot.Payload.(event.SeatSnapshot)
	if !ok {
		return res
	}
	knew := s.knows(pending)
	if snapshot.Seq > s.lastSeq {
		s.state = room.FromSnapshot(p.Snapshot)
		s.lastSeq = snapshot.Seq
		res.notify(event.RoomInfoChanged{Info: s.state.Info}, s.seatList(nil))
	}
	if left, ok := pending.Payload.(event.MemberLeft); ok && left.UserID == s.userID && pending.Seq <= s.lastSeq {
		s.resolve(pending, &res, nil)
		s.supersede(&res, errors.ErrNotInRoom)
		s.reset()
		return res
	}
	if !s.state.IsMember(s.userID) {
		res.notify(event.Warning{Room: s.roomID, Message: "membership lost during resync", Err: errors.ErrNotInRoom})
		s.supersede(&res, errors.ErrNotInRoom)
		s.reset()
		return res
	}
	if pending.Seq <= s.lastSeq {
		s.replay(pending, knew, &res)
		return res
	}
	s.lastSeq = pending.Seq
	s.apply(pending, &res)
	return res
}

// replay applies an envelope whose room state the installed snapshot already holds.
// Seats and members are left alone, everything else goes through apply.
// knew tells whether the joining or leaving user was a member before the snapshot.
func (s *Session) replay(env event.Envelope, knew bool, res *Result) {
	switch p := env.Payload.(type) {
	case event.SeatChanged:
		if s.correlates(env) {
			s.resolve(env, res, s.outcomeFromState(s.inflight))
		}
	case event.MemberJoined:
		if p.UserID == s.userID {
			if s.phase == PhaseJoining {
				s.phase = PhaseJoined
			}
			s.resolve(env, res, nil)
			return
		}
		if !knew {
			res.notify(event.AudienceEntered{Room: s.roomID, UserID: p.UserID})
		}
	case event.MemberLeft:
		if knew {
			res.notify(event.AudienceExited{Room: s.roomID, UserID: p.UserID})
		}
	case event.SeatSnapshot:
	default:
		s.apply(env, res)
	}
}

// knows reports whether the user a membership envelope is about is currently a member.
func (s *Session) knows(env event.Envelope) bool {
	switch p := env.Payload.(type) {
	case event.MemberJoined:
		return s.state.IsMember(p.UserID)
	case event.MemberLeft:
		return s.state.IsMember(p.UserID)
	}
	return false
}

// ResyncFailed handles a snapshot request that did not succeed.
// A vanished room counts as destroyed, anything else degrades to applying pending as is.
func (s *Session) ResyncFailed(pending event.Envelope, err error) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res Result
	if s.state == nil || pending.Room != s.roomID {
		return res
	}
	if errors.Is(err, errors.ErrRoomNotFound) {
		res.notify(event.RoomDestroyedNotice{Room: s.roomID})
		s.supersede(&res, errors.ErrRoomDestroyed)
		s.reset()
		return res
	}
	res.notify(event.Warning{Room: s.roomID, Message: "resync failed", Err: err})
	if pending.Seq > s.lastSeq {
		s.lastSeq = pending.Seq
		s.apply(pending, &res)
	}
	return res
}

// bootstrap handles envelopes received before the room state is known.
func (s *Session) bootstrap(env event.Envelope, res *Result) {
	switch p := env.Payload.(type) {
	case event.RoomCreated:
		if !s.correlates(env) {
			return
		}
		s.state = room.NewState(p.Info, p.ClosedSeats)
		s.lastSeq = env.Seq
		s.phase = PhaseJoined
		res.notify(event.RoomInfoChanged{Info: s.state.Info}, s.seatList(nil))
		s.resolve(env, res, nil)
	case event.SeatSnapshot:
		s.state = room.FromSnapshot(p.Snapshot)
		s.lastSeq = env.Seq
		res.notify(s.seatList(nil))
	case event.RoomDestroyed:
		s.supersede(res, errors.ErrRoomDestroyed)
		s.reset()
	}
}

func (s *Session) apply(env event.Envelope, res *Result) {
	switch p := env.Payload.(type) {
	case event.RoomDestroyed:
		if !s.correlates(env) {
			res.notify(event.RoomDestroyedNotice{Room: s.roomID})
		}
		s.resolve(env, res, nil)
		s.supersede(res, errors.ErrRoomDestroyed)
		s.reset()
	case event.MemberJoined:
		added := s.state.Join(p.UserID)
		if p.UserID == s.userID {
			if s.phase == PhaseJoining {
				s.phase = PhaseJoined
				res.notify(event.RoomInfoChanged{Info: s.state.Info})
			}
			s.resolve(env, res, nil)
			return
		}
		if added {
			res.notify(event.AudienceEntered{Room: s.roomID, UserID: p.UserID})
		}
	case event.MemberLeft:
		effects, ok := s.state.Leave(p.UserID)
		if p.UserID == s.userID {
			if ok && !s.correlates(env) {
				res.notify(event.AudienceExited{Room: s.roomID, UserID: p.UserID})
			}
			s.resolve(env, res, nil)
			s.supersede(res, errors.ErrNotInRoom)
			s.reset()
			return
		}
		if !ok {
			return
		}
		s.notifySeats(res, effects)
		res.notify(event.AudienceExited{Room: s.roomID, UserID: p.UserID})
	case event.SeatSnapshot:
		s.state = room.FromSnapshot(p.Snapshot)
		res.notify(event.RoomInfoChanged{Info: s.state.Info}, s.seatList(nil))
	case event.SeatChanged:
		effects := s.state.Seats.ApplyBatch(p.Changes)
		s.notifySeats(res, effects)
		if s.correlates(env) {
			s.resolve(env, res, s.outcomeFromState(s.inflight))
		}
	case event.InvitationSent:
		inv := s.store.Observe(p.Invitation)
		if inv.ToUserID == s.userID && inv.Status == invitation.Pending {
			res.notify(event.InvitationReceived{Invitation: inv})
		}
		s.resolve(env, res, nil)
	case event.InvitationAccepted:
		s.terminate(env, res, p.Invitation, invitation.Accepted)
	case event.InvitationRejected:
		s.terminate(env, res, p.Invitation, invitation.Rejected)
	case event.InvitationCancelled:
		s.terminate(env, res, p.Invitation, invitation.Cancelled)
	case event.RoomTextMsg:
		res.notify(event.TextMessageReceived{Room: s.roomID, SenderID: p.SenderID, Text: p.Text, Lang: p.Lang})
		s.resolve(env, res, nil)
	case event.RoomCustomMsg:
		res.notify(event.CustomMessageReceived{Room: s.roomID, SenderID: p.SenderID, Cmd: p.Cmd, Payload: p.Payload})
		s.resolve(env, res, nil)
	default:
		s.resolve(env, res, nil)
	}
}

// outcomeFromState tells a seat taker whether the seat ended up theirs.
// A take that lost the race resolves with the reason it could not apply.
func (s *Session) outcomeFromState(op *Operation) error {
	if op == nil || (op.Kind != OpEnterSeat && op.Kind != OpPickSeat) {
		return nil
	}
	if seat, ok := s.state.Seats.Seat(op.Index); ok && seat.State == room.SeatOccupied && seat.OccupantID == op.UserID {
		return nil
	}
	if err := s.state.Seats.CheckTake(op.Index, op.UserID); err != nil {
		return err
	}
	return errors.ErrSeatOccupied
}

func (s *Session) notifySeats(res *Result, effects []room.SeatChange) {
	if len(effects) == 0 {
		return
	}
	res.notify(s.seatList(effects))
	for _, e := range effects {
		switch e.Op {
		case room.OpTake:
			res.notify(event.AnchorEnteredSeat{Room: s.roomID, Index: e.Index, UserID: e.UserID})
		case room.OpLeave:
			res.notify(event.AnchorLeftSeat{Room: s.roomID, Index: e.Index, UserID: e.UserID})
		case room.OpMute:
			res.notify(event.SeatMuted{Room: s.roomID, Index: e.Index, Muted: e.Flag})
		case room.OpClose:
			res.notify(event.SeatClosed{Room: s.roomID, Index: e.Index, Closed: e.Flag})
		}
	}
}

// terminate applies an invitation transition. The store decides who won:
// the first terminal status it sees sticks, a conflicting one is dropped.
func (s *Session) terminate(env event.Envelope, res *Result, ref invitation.Invitation, target invitation.Status) {
	s.store.Observe(ref)
	inv, _, err := s.store.Resolve(ref.ID, target)
	if err != nil {
		s.log.Debug("Invitation transition dropped", "invitation_id", ref.ID, "status", target, "error", err)
		s.resolve(env, res, err)
		return
	}
	switch target {
	case invitation.Accepted:
		if inv.FromUserID == s.userID {
			res.notify(event.InviteeAccepted{Invitation: inv})
			if op := s.followup(inv); op != nil {
				res.Followups = append(res.Followups, op)
			}
		}
	case invitation.Rejected:
		if inv.FromUserID == s.userID {
			res.notify(event.InviteeRejected{Invitation: inv, Reason: event.ReasonRejected})
		}
	case invitation.Cancelled:
		if inv.ToUserID == s.userID {
			res.notify(event.InvitationCancelledNotice{Invitation: inv})
		}
	}
	s.resolve(env, res, nil)
}

// followup turns an accepted seat invitation into the seat operation it stands for.
func (s *Session) followup(inv invitation.Invitation) *Operation {
	var op *Operation
	switch inv.Cmd {
	case invitation.CmdRequestTakeSeat:
		op = NewOperation(OpEnterSeat)
		op.UserID = s.userID
		op.approved = true
	case invitation.CmdPickUpSeat:
		op = NewOperation(OpPickSeat)
		op.UserID = inv.ToUserID
	default:
		return nil
	}
	idx, err := strconv.Atoi(inv.Content)
	if err != nil {
		s.log.Warn("Seat invitation without a seat index", "invitation_id", inv.ID, "content", inv.Content)
		return nil
	}
	op.Index = idx
	op.Followup = true
	return op
}
