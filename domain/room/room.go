package room

import (
	"time"
)

// ID is assigned by the caller and unique while the room is active.
type ID int

func (id ID) Valid() bool { return id > 0 }

type Role string

const (
	RoleOwner       Role = "owner"
	RoleParticipant Role = "participant"
)

type ConnectionState string

const (
	Joining ConnectionState = "joining"
	Joined  ConnectionState = "joined"
	Left    ConnectionState = "left"
)

// Param is what a creator chooses for a new room.
type Param struct {
	Name            string `validate:"max=64"`
	CoverURL        string `validate:"omitempty,url"`
	SeatCount       int    `validate:"min=1,max=64"`
	NeedSeatConfirm bool
	CustomInfo      string `validate:"max=4096"`
	ClosedSeats     []int  `validate:"dive,min=0"`
}

type Info struct {
	ID              ID
	OwnerID         string
	Name            string
	CoverURL        string
	SeatCount       int
	NeedSeatConfirm bool
	CustomInfo      string
	MemberCount     int
	CreatedAt       time.Time
}

func NewInfo(id ID, ownerID string, param Param, at time.Time) Info {
	return Info{
		ID:              id,
		OwnerID:         ownerID,
		Name:            param.Name,
		CoverURL:        param.CoverURL,
		SeatCount:       param.SeatCount,
		NeedSeatConfirm: param.NeedSeatConfirm,
		CustomInfo:      param.CustomInfo,
		CreatedAt:       at,
	}
}

type Member struct {
	UserID string
	Role   Role
	State  ConnectionState
}

type UserInfo struct {
	UserID    string `validate:"required"`
	Name      string `validate:"max=64"`
	AvatarURL string `validate:"omitempty,url"`
}
