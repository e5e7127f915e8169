package invitation

import (
	"time"

	"voice-room/domain/room"
)

type Status string

const (
	Pending   Status = "pending"
	Accepted  Status = "accepted"
	Rejected  Status = "rejected"
	Cancelled Status = "cancelled"
	Expired   Status = "expired"
)

func (s Status) Terminal() bool {
	return s != Pending
}

// Commands understood by the coordination core itself. Any other cmd is opaque.
const (
	// CmdRequestTakeSeat asks the owner for a seat when the room requires confirmation.
	// Content holds the seat index.
	CmdRequestTakeSeat = "request_take_seat"
	// CmdPickUpSeat is the owner inviting a member onto a seat. Content holds the seat index.
	CmdPickUpSeat = "pick_up_seat"
)

type Invitation struct {
	ID         string
	Room       room.ID
	FromUserID string
	ToUserID   string
	Cmd        string
	Content    string
	Status     Status
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Due reports whether a pending invitation has outlived its deadline.
// A zero ExpiresAt never expires.
func (i Invitation) Due(now time.Time) bool {
	return i.Status == Pending && !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}
