package runtime

import (
	"log/slog"
	"testing"
	"time"

	"voice-room/domain/event"
	"voice-room/domain/invitation"
	"voice-room/domain/room"
	"voice-room/errors"

	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

const roomID = room.ID(1001)

func newTestSession(userID string, store *invitation.Store, opts SessionOptions) *Session {
	return NewSession(logs.GetLoggerFromLevel(slog.LevelDebug), userID, store, opts)
}

// echo turns a plan into the envelope the channel would deliver back.
func echo(plan Plan, seq uint64) event.Envelope {
	env := plan.Envelope
	env.Seq = seq
	return env
}

func remote(seq uint64, sender string, p event.Payload) event.Envelope {
	return event.Envelope{Seq: seq, Room: roomID, Sender: sender, Correlation: "remote", At: time.Now(), Payload: p}
}

func ownerSession(t *testing.T, store *invitation.Store, param room.Param) *Session {
	req := require.New(t)
	s := newTestSession("owner", store, SessionOptions{})
	req.NoError(s.Begin(roomID))
	op := NewOperation(OpCreateRoom)
	op.Room = roomID
	op.Param = param
	plan, err := s.Plan(op)
	req.NoError(err)
	req.Equal(ActionRegister, plan.Action)
	res := s.Apply(echo(plan, 1))
	req.Equal(op, res.Resolved)
	req.NoError(res.Outcome)
	return s
}

// viewerSession joins a room whose state is given by snapshot at seq.
func viewerSession(t *testing.T, userID string, store *invitation.Store, snapshot room.Snapshot, seq uint64, opts SessionOptions) *Session {
	req := require.New(t)
	s := newTestSession(userID, store, opts)
	req.NoError(s.Begin(roomID))
	op := NewOperation(OpEnterRoom)
	op.Room = roomID
	plan, err := s.Plan(op)
	req.NoError(err)
	req.Equal(ActionJoin, plan.Action)

	res := s.Apply(event.Envelope{Seq: seq, Room: roomID, Payload: event.SeatSnapshot{Snapshot: snapshot}})
	req.Nil(res.Resolved)
	req.Equal(PhaseJoining, s.Phase())

	res = s.Apply(echo(plan, seq+1))
	req.Equal(op, res.Resolved)
	req.NoError(res.Outcome)
	req.Equal(PhaseJoined, s.Phase())
	return s
}

func baseSnapshot(seatCount int, members ...string) room.Snapshot {
	state := room.NewState(room.Info{ID: roomID, OwnerID: "owner", SeatCount: seatCount}, nil)
	for _, m := range members {
		state.Join(m)
	}
	return state.Snapshot()
}

func TestSession_CreateRoom(t *testing.T) {
	req := require.New(t)
	store := invitation.NewStore()
	s := newTestSession("owner", store, SessionOptions{})

	req.NoError(s.Begin(roomID))
	// Then a second create or enter is rejected while the first is pending
	req.ErrorIs(s.Begin(roomID), errors.ErrAlreadyInRoom)

	op := NewOperation(OpCreateRoom)
	op.Room = roomID
	op.Param = room.Param{SeatCount: 8, ClosedSeats: []int{7}}
	plan, err := s.Plan(op)
	req.NoError(err)
	req.Equal(op.ID, plan.Envelope.Correlation)
	req.Equal("owner", plan.Envelope.Sender)

	res := s.Apply(echo(plan, 1))

	req.Equal(op, res.Resolved)
	req.NoError(res.Outcome)
	req.Equal(PhaseJoined, s.Phase())
	req.True(s.IsOwner())
	seats, err := s.Seats()
	req.NoError(err)
	req.Len(seats, 8)
	req.Equal(room.SeatOpen, seats[0].State)
	req.Equal(room.SeatClosed, seats[7].State)
	req.IsType(event.RoomInfoChanged{}, res.Notifications[0])
	req.IsType(event.SeatListChanged{}, res.Notifications[1])
}

func TestSession_PlanWhileInFlight(t *testing.T) {
	req := require.New(t)
	s := ownerSession(t, invitation.NewStore(), room.Param{SeatCount: 4})

	first := NewOperation(OpMuteSeat)
	first.Index = 1
	first.Flag = true
	_, err := s.Plan(first)
	req.NoError(err)
	req.Equal(first, s.Inflight())

	_, err = s.Plan(NewOperation(OpLeaveSeat))
	req.Error(err)
}

func TestSession_EnterSeat_TieBreak(t *testing.T) {
	req := require.New(t)
	store := invitation.NewStore()
	bob := viewerSession(t, "bob", store, baseSnapshot(8, "alice"), 1, SessionOptions{})

	// Given bob asks for seat 3
	op := NewOperation(OpEnterSeat)
	op.Index = 3
	plan, err := bob.Plan(op)
	req.NoError(err)

	// When alice's request for the same seat was sequenced first
	res := bob.Apply(remote(3, "alice", event.SeatChanged{Changes: []room.SeatChange{{Op: room.OpTake, Index: 3, UserID: "alice"}}}))

	// Then bob sees the seat taken by alice through the regular seat list
	req.Nil(res.Resolved)
	list, ok := res.Notifications[0].(event.SeatListChanged)
	req.True(ok)
	req.Equal("alice", list.Seats[3].OccupantID)

	// And bob's own request comes back as a no-op resolving with SeatOccupied
	res = bob.Apply(echo(plan, 4))
	req.Equal(op, res.Resolved)
	req.ErrorIs(res.Outcome, errors.ErrSeatOccupied)
	req.Empty(res.Notifications)
	seats, _ := bob.Seats()
	req.Equal("alice", seats[3].OccupantID)
}

func TestSession_EnterSeat_LocalPreconditions(t *testing.T) {
	req := require.New(t)
	bob := viewerSession(t, "bob", invitation.NewStore(), baseSnapshot(4, "alice"), 1, SessionOptions{})
	bob.Apply(remote(3, "alice", event.SeatChanged{Changes: []room.SeatChange{
		{Op: room.OpTake, Index: 0, UserID: "alice"},
		{Op: room.OpClose, Index: 1, Flag: true},
	}}))

	for index, expected := range map[int]error{
		0: errors.ErrSeatOccupied,
		1: errors.ErrSeatClosed,
		9: errors.ErrInvalidSeatIndex,
	} {
		op := NewOperation(OpEnterSeat)
		op.Index = index
		_, err := bob.Plan(op)
		req.ErrorIs(err, expected)
	}

	// Then nobody but the owner can administrate seats
	kick := NewOperation(OpKickSeat)
	kick.Index = 0
	_, err := bob.Plan(kick)
	req.ErrorIs(err, errors.ErrNotOwner)
}

func TestSession_DuplicateSeatChanged(t *testing.T) {
	req := require.New(t)
	s := ownerSession(t, invitation.NewStore(), room.Param{SeatCount: 8})
	env := remote(2, "alice", event.SeatChanged{Changes: []room.SeatChange{{Op: room.OpTake, Index: 2, UserID: "alice"}}})

	first := s.Apply(env)
	seatsOnce, _ := s.Seats()
	second := s.Apply(env)
	seatsTwice, _ := s.Seats()

	req.NotEmpty(first.Notifications)
	req.Empty(second.Notifications)
	req.Equal(seatsOnce, seatsTwice)
	req.Equal(uint64(2), s.LastSeq())
}

func TestSession_CloseOccupiedSeat(t *testing.T) {
	req := require.New(t)
	s := ownerSession(t, invitation.NewStore(), room.Param{SeatCount: 8})
	s.Apply(remote(2, "alice", event.MemberJoined{UserID: "alice"}))
	s.Apply(remote(3, "alice", event.SeatChanged{Changes: []room.SeatChange{{Op: room.OpTake, Index: 3, UserID: "alice"}}}))

	op := NewOperation(OpCloseSeat)
	op.Index = 3
	op.Flag = true
	plan, err := s.Plan(op)
	req.NoError(err)

	res := s.Apply(echo(plan, 4))

	req.Equal(op, res.Resolved)
	req.NoError(res.Outcome)
	list := res.Notifications[0].(event.SeatListChanged)
	req.Equal([]room.SeatChange{
		{Op: room.OpLeave, Index: 3, UserID: "alice"},
		{Op: room.OpClose, Index: 3, Flag: true},
	}, list.Changes)
	req.Equal(room.SeatClosed, list.Seats[3].State)
	req.Equal(event.AnchorLeftSeat{Room: roomID, Index: 3, UserID: "alice"}, res.Notifications[1])
	req.Equal(event.SeatClosed{Room: roomID, Index: 3, Closed: true}, res.Notifications[2])
}

func TestSession_MemberLeftFreesSeat(t *testing.T) {
	req := require.New(t)
	s := ownerSession(t, invitation.NewStore(), room.Param{SeatCount: 4})
	s.Apply(remote(2, "alice", event.MemberJoined{UserID: "alice"}))
	s.Apply(remote(3, "alice", event.SeatChanged{Changes: []room.SeatChange{{Op: room.OpTake, Index: 1, UserID: "alice"}}}))

	res := s.Apply(remote(4, "alice", event.MemberLeft{UserID: "alice"}))

	req.Len(res.Notifications, 3)
	req.IsType(event.SeatListChanged{}, res.Notifications[0])
	req.Equal(event.AnchorLeftSeat{Room: roomID, Index: 1, UserID: "alice"}, res.Notifications[1])
	req.Equal(event.AudienceExited{Room: roomID, UserID: "alice"}, res.Notifications[2])
	members, _ := s.Members()
	req.Len(members, 1)
}

func TestSession_ExitRoomIsIdempotent(t *testing.T) {
	req := require.New(t)
	bob := viewerSession(t, "bob", invitation.NewStore(), baseSnapshot(4), 1, SessionOptions{})

	op := NewOperation(OpExitRoom)
	plan, err := bob.Plan(op)
	req.NoError(err)
	req.Equal(ActionLeave, plan.Action)
	res := bob.Apply(echo(plan, 3))
	req.Equal(op, res.Resolved)
	req.Empty(res.Notifications)
	req.Equal(PhaseIdle, bob.Phase())

	// When exit is called again
	plan, err = bob.Plan(NewOperation(OpExitRoom))

	// Then nothing is sent and nothing is notified
	req.NoError(err)
	req.Equal(ActionNone, plan.Action)
	req.Nil(bob.Inflight())
	req.Empty(bob.Apply(remote(4, "owner", event.RoomDestroyed{})).Notifications)
}

func TestSession_DestroyRoom(t *testing.T) {
	req := require.New(t)
	bob := viewerSession(t, "bob", invitation.NewStore(), baseSnapshot(4), 1, SessionOptions{})

	_, err := bob.Plan(NewOperation(OpDestroyRoom))
	req.ErrorIs(err, errors.ErrNotOwner)

	// Given bob waits for a seat
	op := NewOperation(OpEnterSeat)
	op.Index = 0
	_, err = bob.Plan(op)
	req.NoError(err)

	// When the owner destroys the room
	res := bob.Apply(remote(3, "owner", event.RoomDestroyed{}))

	// Then the pending request is superseded
	req.Equal(op, res.Resolved)
	req.ErrorIs(res.Outcome, errors.ErrRoomDestroyed)
	req.Equal([]event.Notification{event.RoomDestroyedNotice{Room: roomID}}, res.Notifications)
	req.Equal(PhaseIdle, bob.Phase())
	_, err = bob.Seats()
	req.ErrorIs(err, errors.ErrNotInRoom)
}

func TestSession_GapTriggersResync(t *testing.T) {
	req := require.New(t)
	bob := viewerSession(t, "bob", invitation.NewStore(), baseSnapshot(4, "alice"), 1, SessionOptions{ResyncOnGap: true})

	// When seq 3 and 4 are lost
	pending := remote(5, "alice", event.SeatChanged{Changes: []room.SeatChange{{Op: room.OpMute, Index: 0, Flag: true}}})
	res := bob.Apply(pending)

	// Then nothing is applied yet
	req.True(res.Gap)
	req.Equal(uint64(2), bob.LastSeq())

	// When the snapshot up to seq 4 is installed
	state := room.FromSnapshot(baseSnapshot(4, "alice", "bob"))
	state.Seats.Apply(room.SeatChange{Op: room.OpTake, Index: 0, UserID: "alice"})
	snapshot := event.Envelope{Seq: 4, Room: roomID, Payload: event.SeatSnapshot{Snapshot: state.Snapshot()}}
	res = bob.Resync(snapshot, pending)

	req.Equal(uint64(5), bob.LastSeq())
	seats, _ := bob.Seats()
	req.Equal("alice", seats[0].OccupantID)
	req.True(seats[0].Muted)
	req.True(lo.ContainsBy(res.Notifications, func(n event.Notification) bool {
		_, ok := n.(event.SeatMuted)
		return ok
	}))
}

func TestSession_ResyncKeepsMessageCoveredBySnapshot(t *testing.T) {
	req := require.New(t)
	bob := viewerSession(t, "bob", invitation.NewStore(), baseSnapshot(4, "alice"), 1, SessionOptions{ResyncOnGap: true})

	// Given a text message reveals a gap
	pending := remote(5, "alice", event.RoomTextMsg{SenderID: "alice", Text: "still there?", Lang: "en"})
	req.True(bob.Apply(pending).Gap)

	// When the snapshot is taken after that message was sequenced
	snapshot := event.Envelope{Seq: 5, Room: roomID, Payload: event.SeatSnapshot{Snapshot: baseSnapshot(4, "alice", "bob")}}
	res := bob.Resync(snapshot, pending)

	// Then the message is still delivered
	req.Equal(uint64(5), bob.LastSeq())
	req.Contains(res.Notifications, event.Notification(
		event.TextMessageReceived{Room: roomID, SenderID: "alice", Text: "still there?", Lang: "en"}))
}

func TestSession_ResyncKeepsInvitationTransition(t *testing.T) {
	req := require.New(t)
	store := invitation.NewStore()
	alice := viewerSession(t, "alice", store, baseSnapshot(4), 1, SessionOptions{ResyncOnGap: true})
	inv := invitation.Invitation{
		ID: "inv-1", Room: roomID, FromUserID: "alice", ToUserID: "bob", Cmd: "mic_request", CreatedAt: time.Now(),
	}
	req.NoError(store.Add(inv))

	// Given the accept of bob reveals a gap
	pending := remote(6, "bob", event.InvitationAccepted{Invitation: inv})
	req.True(alice.Apply(pending).Gap)

	// When the snapshot already covers seq 6
	snapshot := event.Envelope{Seq: 6, Room: roomID, Payload: event.SeatSnapshot{Snapshot: baseSnapshot(4, "alice", "bob")}}
	res := alice.Resync(snapshot, pending)

	// Then the store moved on and alice hears about it
	stored, err := store.Get("inv-1")
	req.NoError(err)
	req.Equal(invitation.Accepted, stored.Status)
	req.True(lo.ContainsBy(res.Notifications, func(n event.Notification) bool {
		_, ok := n.(event.InviteeAccepted)
		return ok
	}))
}

func TestSession_ResyncReportsCoveredJoin(t *testing.T) {
	req := require.New(t)
	bob := viewerSession(t, "bob", invitation.NewStore(), baseSnapshot(4, "alice"), 1, SessionOptions{ResyncOnGap: true})

	pending := remote(4, "carol", event.MemberJoined{UserID: "carol"})
	req.True(bob.Apply(pending).Gap)
	snapshot := event.Envelope{Seq: 4, Room: roomID, Payload: event.SeatSnapshot{Snapshot: baseSnapshot(4, "alice", "bob", "carol")}}
	res := bob.Resync(snapshot, pending)

	req.Contains(res.Notifications, event.Notification(event.AudienceEntered{Room: roomID, UserID: "carol"}))
	members, err := bob.Members()
	req.NoError(err)
	req.Len(members, 3)
}

func TestSession_GapToleratedWithoutResync(t *testing.T) {
	req := require.New(t)
	bob := viewerSession(t, "bob", invitation.NewStore(), baseSnapshot(4), 1, SessionOptions{})

	res := bob.Apply(remote(9, "owner", event.RoomTextMsg{SenderID: "owner", Text: "hello"}))

	req.False(res.Gap)
	req.IsType(event.Warning{}, res.Notifications[0])
	req.Equal(event.TextMessageReceived{Room: roomID, SenderID: "owner", Text: "hello"}, res.Notifications[1])
	req.Equal(uint64(9), bob.LastSeq())
}

func TestSession_ResyncFailedOnVanishedRoom(t *testing.T) {
	req := require.New(t)
	bob := viewerSession(t, "bob", invitation.NewStore(), baseSnapshot(4), 1, SessionOptions{ResyncOnGap: true})

	res := bob.ResyncFailed(remote(7, "owner", event.RoomTextMsg{}), errors.ErrRoomNotFound)

	req.Equal([]event.Notification{event.RoomDestroyedNotice{Room: roomID}}, res.Notifications)
	req.Equal(PhaseIdle, bob.Phase())
}

func sendInvitation(t *testing.T, store *invitation.Store, from *Session, to string, seq uint64) (invitation.Invitation, event.Envelope) {
	req := require.New(t)
	inv := invitation.Invitation{
		ID: "inv-1", Room: roomID, FromUserID: from.UserID(), ToUserID: to, Cmd: "mic_request", CreatedAt: time.Now(),
	}
	req.NoError(store.Add(inv))
	op := NewOperation(OpSendInvitation)
	op.Invitation = inv
	plan, err := from.Plan(op)
	req.NoError(err)
	env := echo(plan, seq)
	res := from.Apply(env)
	req.Equal(op, res.Resolved)
	req.NoError(res.Outcome)
	return inv, env
}

func TestSession_Invitation_RejectThenAccept(t *testing.T) {
	req := require.New(t)
	store := invitation.NewStore()
	alice := viewerSession(t, "alice", store, baseSnapshot(4), 1, SessionOptions{})
	bob := viewerSession(t, "bob", store, baseSnapshot(4, "alice"), 2, SessionOptions{})
	alice.Apply(remote(3, "bob", event.MemberJoined{UserID: "bob"}))

	_, sent := sendInvitation(t, store, alice, "bob", 4)
	res := bob.Apply(sent)
	req.IsType(event.InvitationReceived{}, res.Notifications[0])

	// When B rejects
	reject := NewOperation(OpRejectInvitation)
	reject.InvitationID = "inv-1"
	plan, err := bob.Plan(reject)
	req.NoError(err)
	env := echo(plan, 5)
	res = bob.Apply(env)
	req.Equal(reject, res.Resolved)
	req.NoError(res.Outcome)
	res = alice.Apply(env)
	req.Equal(event.ReasonRejected, res.Notifications[0].(event.InviteeRejected).Reason)

	// Then a later accept fails with InvitationNotPending
	accept := NewOperation(OpAcceptInvitation)
	accept.InvitationID = "inv-1"
	_, err = bob.Plan(accept)
	req.ErrorIs(err, errors.ErrInvitationNotPending)
}

func TestSession_Invitation_AcceptCrossesCancel(t *testing.T) {
	req := require.New(t)
	store := invitation.NewStore()
	alice := viewerSession(t, "alice", store, baseSnapshot(4), 1, SessionOptions{})
	bob := viewerSession(t, "bob", store, baseSnapshot(4, "alice"), 2, SessionOptions{})
	alice.Apply(remote(3, "bob", event.MemberJoined{UserID: "bob"}))
	_, sent := sendInvitation(t, store, alice, "bob", 4)
	bob.Apply(sent)

	// Given both sides pass their local checks
	cancel := NewOperation(OpCancelInvitation)
	cancel.InvitationID = "inv-1"
	cancelPlan, err := alice.Plan(cancel)
	req.NoError(err)
	accept := NewOperation(OpAcceptInvitation)
	accept.InvitationID = "inv-1"
	acceptPlan, err := bob.Plan(accept)
	req.NoError(err)

	// When the cancel is sequenced first
	cancelled := echo(cancelPlan, 5)
	accepted := echo(acceptPlan, 6)
	resAlice := alice.Apply(cancelled)
	resBob := bob.Apply(cancelled)
	req.Equal(cancel, resAlice.Resolved)
	req.NoError(resAlice.Outcome)
	req.IsType(event.InvitationCancelledNotice{}, resBob.Notifications[0])

	// Then the accept loses
	resBob = bob.Apply(accepted)
	req.Equal(accept, resBob.Resolved)
	req.ErrorIs(resBob.Outcome, errors.ErrInvitationNotPending)
	req.Empty(alice.Apply(accepted).Notifications)

	inv, err := store.Get("inv-1")
	req.NoError(err)
	req.Equal(invitation.Cancelled, inv.Status)
}

func TestSession_SeatConfirmation(t *testing.T) {
	req := require.New(t)
	store := invitation.NewStore()
	snapshot := baseSnapshot(4)
	snapshot.Info.NeedSeatConfirm = true
	bob := viewerSession(t, "bob", store, snapshot, 1, SessionOptions{InvitationTimeout: time.Minute})

	// When bob asks for seat 2
	op := NewOperation(OpEnterSeat)
	op.Index = 2
	plan, err := bob.Plan(op)
	req.NoError(err)

	// Then an approval request goes to the owner instead of a seat change
	sent, ok := plan.Envelope.Payload.(event.InvitationSent)
	req.True(ok)
	req.Equal(op.ID, sent.Invitation.ID)
	req.Equal("owner", sent.Invitation.ToUserID)
	req.Equal(invitation.CmdRequestTakeSeat, sent.Invitation.Cmd)
	req.Equal("2", sent.Invitation.Content)
	req.False(sent.Invitation.ExpiresAt.IsZero())
	res := bob.Apply(echo(plan, 3))
	req.Equal(op, res.Resolved)
	req.NoError(res.Outcome)

	// When the owner accepts
	res = bob.Apply(remote(4, "owner", event.InvitationAccepted{Invitation: sent.Invitation}))

	// Then bob follows up with the seat take itself
	req.IsType(event.InviteeAccepted{}, res.Notifications[0])
	req.Len(res.Followups, 1)
	followup := res.Followups[0]
	req.True(followup.Followup)
	plan, err = bob.Plan(followup)
	req.NoError(err)
	changed, ok := plan.Envelope.Payload.(event.SeatChanged)
	req.True(ok)
	req.Equal([]room.SeatChange{{Op: room.OpTake, Index: 2, UserID: "bob"}}, changed.Changes)
}

func TestSession_InvitationExpired(t *testing.T) {
	req := require.New(t)
	store := invitation.NewStore()
	alice := viewerSession(t, "alice", store, baseSnapshot(4, "bob"), 1, SessionOptions{})
	carol := viewerSession(t, "carol", store, baseSnapshot(4, "bob", "alice"), 3, SessionOptions{})
	inv := invitation.Invitation{ID: "inv-9", Room: roomID, FromUserID: "alice", ToUserID: "bob", Status: invitation.Expired}

	res := alice.InvitationExpired(inv)
	req.Equal([]event.Notification{event.InviteeRejected{Invitation: inv, Reason: event.ReasonExpired}}, res.Notifications)
	req.Empty(carol.InvitationExpired(inv).Notifications)
}

func TestSession_FailResetsJoin(t *testing.T) {
	req := require.New(t)
	s := newTestSession("bob", invitation.NewStore(), SessionOptions{})
	req.NoError(s.Begin(roomID))
	op := NewOperation(OpEnterRoom)
	op.Room = roomID
	_, err := s.Plan(op)
	req.NoError(err)

	req.ErrorIs(s.Fail(op, errors.ErrRoomNotFound), errors.ErrRoomNotFound)

	req.Equal(PhaseIdle, s.Phase())
	req.Nil(s.Inflight())
	req.NoError(s.Begin(roomID))
}
