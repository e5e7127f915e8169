package room

import (
	"github.com/samber/lo"
)

// Snapshot is the full current state handed to a member joining mid-flight.
type Snapshot struct {
	Info    Info
	Seats   []Seat
	Members []Member
}

// State is one room as seen by a single process: info, seats and members.
// Like SeatTable it relies on its owner for synchronization.
type State struct {
	Info    Info
	Seats   *SeatTable
	members map[string]Member
	order   []string
}

func NewState(info Info, closedSeats []int) *State {
	s := &State{
		Info:    info,
		Seats:   NewSeatTable(info.SeatCount, closedSeats),
		members: make(map[string]Member),
	}
	s.Join(info.OwnerID)
	return s
}

func FromSnapshot(snapshot Snapshot) *State {
	s := &State{
		Info:    snapshot.Info,
		Seats:   &SeatTable{},
		members: make(map[string]Member),
	}
	s.Seats.Restore(snapshot.Seats)
	for _, m := range snapshot.Members {
		s.members[m.UserID] = m
		s.order = append(s.order, m.UserID)
	}
	s.Info.MemberCount = len(s.order)
	return s
}

func (s *State) roleOf(userID string) Role {
	if userID == s.Info.OwnerID {
		return RoleOwner
	}
	return RoleParticipant
}

// Join adds userID and reports whether it was new.
func (s *State) Join(userID string) bool {
	if _, ok := s.members[userID]; ok {
		return false
	}
	s.members[userID] = Member{UserID: userID, Role: s.roleOf(userID), State: Joined}
	s.order = append(s.order, userID)
	s.Info.MemberCount = len(s.order)
	return true
}

// Leave removes userID, freeing its seat in the same step.
func (s *State) Leave(userID string) ([]SeatChange, bool) {
	if _, ok := s.members[userID]; !ok {
		return nil, false
	}
	effects := s.Seats.Vacate(userID)
	delete(s.members, userID)
	s.order = lo.Without(s.order, userID)
	s.Info.MemberCount = len(s.order)
	return effects, true
}

func (s *State) IsMember(userID string) bool {
	_, ok := s.members[userID]
	return ok
}

func (s *State) Members() []Member {
	return lo.Map(s.order, func(id string, _ int) Member { return s.members[id] })
}

func (s *State) MemberIDs() []string {
	return append([]string(nil), s.order...)
}

func (s *State) Snapshot() Snapshot {
	return Snapshot{Info: s.Info, Seats: s.Seats.Seats(), Members: s.Members()}
}
