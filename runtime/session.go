package runtime

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voice-room/domain/event"
	"voice-room/domain/invitation"
	"voice-room/domain/room"
	"voice-room/errors"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseJoining
	PhaseJoined
)

func (p Phase) String() string {
	switch p {
	case PhaseJoining:
		return "joining"
	case PhaseJoined:
		return "joined"
	default:
		return "idle"
	}
}

type SessionOptions struct {
	// ResyncOnGap holds back an envelope arriving after a sequence gap
	// until a fresh snapshot was fetched. Otherwise it is applied with a warning.
	ResyncOnGap bool
	// InvitationTimeout sets ExpiresAt on invitations the session creates. Zero never expires.
	InvitationTimeout time.Duration
}

// Result is what applying one envelope produced.
type Result struct {
	Notifications []event.Notification
	// Gap means the envelope was not applied: the caller should resync first.
	Gap bool
	// Resolved is the in-flight operation settled by this envelope, Outcome its result.
	Resolved  *Operation
	Outcome   error
	Followups []*Operation
}

func (r *Result) notify(n ...event.Notification) {
	r.Notifications = append(r.Notifications, n...)
}

// Session is the membership of one user in at most one room.
// It owns the room state and applies every envelope of that room, in order.
// Nothing here talks to the channel: Plan says what to send, Apply digests what came back.
type Session struct {
	mu       sync.RWMutex
	log      *slog.Logger
	userID   string
	store    *invitation.Store
	opts     SessionOptions
	phase    Phase
	roomID   room.ID
	state    *room.State
	lastSeq  uint64
	inflight *Operation
}

func NewSession(log *slog.Logger, userID string, store *invitation.Store, opts SessionOptions) *Session {
	return &Session{
		log:    log.With("user_id", userID),
		userID: userID,
		store:  store,
		opts:   opts,
	}
}

// Begin reserves the session for a create or enter on roomID.
// Only one may be outstanding, a second gets ErrAlreadyInRoom.
func (s *Session) Begin(roomID room.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseIdle {
		return errors.ErrAlreadyInRoom
	}
	s.phase = PhaseJoining
	s.roomID = roomID
	s.state = nil
	s.lastSeq = 0
	return nil
}

func (s *Session) UserID() string { return s.userID }

func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Session) RoomID() (room.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID, s.phase == PhaseJoined
}

func (s *Session) Info() (room.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return room.Info{}, errors.ErrNotInRoom
	}
	return s.state.Info, nil
}

func (s *Session) Seats() ([]room.Seat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil, errors.ErrNotInRoom
	}
	return s.state.Seats.Seats(), nil
}

func (s *Session) Members() ([]room.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil, errors.ErrNotInRoom
	}
	return s.state.Members(), nil
}

func (s *Session) IsOwner() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOwner()
}

// CheckIndex rejects indexes that can never be valid in the current room.
func (s *Session) CheckIndex(index int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || (s.state != nil && index >= s.state.Seats.Len()) {
		return fmt.Errorf("%w: %d", errors.ErrInvalidSeatIndex, index)
	}
	return nil
}

func (s *Session) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

func (s *Session) Inflight() *Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight
}

// Fail settles a planned or queued operation that will never get its echo.
func (s *Session) Fail(op *Operation, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == op {
		s.inflight = nil
	}
	switch op.Kind {
	case OpCreateRoom, OpEnterRoom:
		if s.phase == PhaseJoining && s.roomID == op.Room {
			s.reset()
		}
	case OpSendInvitation, OpEnterSeat:
		if op.Invitation.ID != "" {
			s.store.Discard(op.Invitation.ID)
		}
	}
	return err
}

// InvitationExpired reports an expiry to whichever side of it this session is.
func (s *Session) InvitationExpired(inv invitation.Invitation) Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res Result
	if s.phase == PhaseIdle || inv.Room != s.roomID {
		return res
	}
	if inv.FromUserID == s.userID || inv.ToUserID == s.userID {
		res.notify(event.InviteeRejected{Invitation: inv, Reason: event.ReasonExpired})
	}
	return res
}

func (s *Session) isOwner() bool {
	return s.state != nil && s.state.Info.OwnerID == s.userID
}

func (s *Session) correlates(env event.Envelope) bool {
	return s.inflight != nil && env.Correlation == s.inflight.ID
}

// resolve settles the in-flight operation if env is its echo.
func (s *Session) resolve(env event.Envelope, res *Result, outcome error) {
	if !s.correlates(env) {
		return
	}
	res.Resolved = s.inflight
	res.Outcome = outcome
	s.inflight = nil
}

// supersede fails the in-flight operation after an authoritative event made it moot.
func (s *Session) supersede(res *Result, err error) {
	if s.inflight == nil || res.Resolved != nil {
		return
	}
	res.Resolved = s.inflight
	res.Outcome = err
	s.inflight = nil
}

func (s *Session) reset() {
	s.phase = PhaseIdle
	s.roomID = 0
	s.state = nil
	s.lastSeq = 0
}

func (s *Session) seatList(changes []room.SeatChange) event.SeatListChanged {
	return event.SeatListChanged{Room: s.roomID, Seats: s.state.Seats.Seats(), Changes: changes}
}
