package room

import (
	"voice-room/errors"
)

type SeatState string

const (
	SeatClosed   SeatState = "closed"
	SeatOpen     SeatState = "open"
	SeatOccupied SeatState = "occupied"
)

// Seat is one numbered slot. OccupantID is set iff State is SeatOccupied.
// Muted is kept on the seat itself and only matters for its occupant.
type Seat struct {
	Index      int
	State      SeatState
	OccupantID string
	Muted      bool
}

type SeatOp string

const (
	OpTake  SeatOp = "take"
	OpLeave SeatOp = "leave"
	OpMute  SeatOp = "mute"
	OpClose SeatOp = "close"
)

// SeatChange is a request travelling on the channel, and also the record
// of what was actually applied once it comes back.
// For OpLeave an empty UserID frees the seat whoever holds it.
type SeatChange struct {
	Op     SeatOp
	Index  int
	UserID string
	Flag   bool
}

// SeatTable holds the seats of one room. It is not synchronized:
// the session owning it serializes every access.
type SeatTable struct {
	seats []Seat
}

func NewSeatTable(count int, closed []int) *SeatTable {
	seats := make([]Seat, count)
	for i := range seats {
		seats[i] = Seat{Index: i, State: SeatOpen}
	}
	for _, idx := range closed {
		if idx >= 0 && idx < count {
			seats[idx].State = SeatClosed
		}
	}
	return &SeatTable{seats: seats}
}

func (t *SeatTable) Len() int { return len(t.seats) }

func (t *SeatTable) Seats() []Seat {
	out := make([]Seat, len(t.seats))
	copy(out, t.seats)
	return out
}

func (t *SeatTable) Seat(index int) (Seat, bool) {
	if !t.ValidIndex(index) {
		return Seat{}, false
	}
	return t.seats[index], true
}

func (t *SeatTable) ValidIndex(index int) bool {
	return index >= 0 && index < len(t.seats)
}

// SeatOf returns the index held by userID.
func (t *SeatTable) SeatOf(userID string) (int, bool) {
	for _, s := range t.seats {
		if s.State == SeatOccupied && s.OccupantID == userID {
			return s.Index, true
		}
	}
	return -1, false
}

// CheckTake reports why userID could not take the seat right now.
// Holding that very seat already is not an error.
func (t *SeatTable) CheckTake(index int, userID string) error {
	seat, ok := t.Seat(index)
	if !ok {
		return errors.ErrInvalidSeatIndex
	}
	switch seat.State {
	case SeatClosed:
		return errors.ErrSeatClosed
	case SeatOccupied:
		if seat.OccupantID == userID {
			return nil
		}
		return errors.ErrSeatOccupied
	}
	if _, seated := t.SeatOf(userID); seated {
		return errors.ErrAlreadySeated
	}
	return nil
}

// Apply performs one change and returns the effects it really had, in order.
// A change that does not fit the current state is dropped silently,
// so replaying the same change twice leaves the table unchanged.
func (t *SeatTable) Apply(c SeatChange) []SeatChange {
	if !t.ValidIndex(c.Index) {
		return nil
	}
	seat := &t.seats[c.Index]
	switch c.Op {
	case OpTake:
		if seat.State != SeatOpen || c.UserID == "" {
			return nil
		}
		if _, seated := t.SeatOf(c.UserID); seated {
			return nil
		}
		seat.State = SeatOccupied
		seat.OccupantID = c.UserID
		return []SeatChange{{Op: OpTake, Index: c.Index, UserID: c.UserID}}
	case OpLeave:
		if seat.State != SeatOccupied || (c.UserID != "" && c.UserID != seat.OccupantID) {
			return nil
		}
		return []SeatChange{t.evict(seat)}
	case OpMute:
		if seat.Muted == c.Flag {
			return nil
		}
		seat.Muted = c.Flag
		return []SeatChange{{Op: OpMute, Index: c.Index, UserID: seat.OccupantID, Flag: c.Flag}}
	case OpClose:
		if c.Flag {
			if seat.State == SeatClosed {
				return nil
			}
			var effects []SeatChange
			if seat.State == SeatOccupied {
				effects = append(effects, t.evict(seat))
			}
			seat.State = SeatClosed
			return append(effects, SeatChange{Op: OpClose, Index: c.Index, Flag: true})
		}
		if seat.State != SeatClosed {
			return nil
		}
		seat.State = SeatOpen
		return []SeatChange{{Op: OpClose, Index: c.Index, Flag: false}}
	}
	return nil
}

func (t *SeatTable) ApplyBatch(changes []SeatChange) []SeatChange {
	var effects []SeatChange
	for _, c := range changes {
		effects = append(effects, t.Apply(c)...)
	}
	return effects
}

// Vacate frees whatever seat userID holds.
func (t *SeatTable) Vacate(userID string) []SeatChange {
	idx, ok := t.SeatOf(userID)
	if !ok {
		return nil
	}
	return []SeatChange{t.evict(&t.seats[idx])}
}

func (t *SeatTable) evict(seat *Seat) SeatChange {
	left := SeatChange{Op: OpLeave, Index: seat.Index, UserID: seat.OccupantID}
	seat.State = SeatOpen
	seat.OccupantID = ""
	return left
}

// Restore replaces the whole table with a snapshot.
func (t *SeatTable) Restore(seats []Seat) {
	t.seats = make([]Seat, len(seats))
	copy(t.seats, seats)
}
