// Package projection builds local read models from the notifications of a session.
// It never talks to the channel.
package projection

import (
	"context"
	"sync"
	"time"

	"voice-room/domain/event"
	"voice-room/domain/room"

	"github.com/samber/lo"
)

type Message struct {
	SenderID string
	Text     string
	Lang     string
	At       time.Time
}

// RoomView is the room as a subscriber sees it: info, seats, audience,
// recent messages and the invitations waiting for an answer.
type RoomView struct {
	mu          sync.RWMutex
	info        room.Info
	seats       []room.Seat
	audience    []string
	messages    []Message
	invitations map[string]event.InvitationReceived
	destroyed   bool
	maxMessages int
	now         func() time.Time
}

// NewRoomView keeps at most maxMessages messages, zero keeps them all.
func NewRoomView(maxMessages int) *RoomView {
	return &RoomView{
		invitations: make(map[string]event.InvitationReceived),
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

func (v *RoomView) Consume(_ context.Context, n event.Notification) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch e := n.(type) {
	case event.RoomInfoChanged:
		if e.Info.ID != v.info.ID {
			v.reset()
		}
		v.info = e.Info
	case event.RoomDestroyedNotice:
		v.destroyed = true
	case event.SeatListChanged:
		v.seats = e.Seats
	case event.AudienceEntered:
		if !lo.Contains(v.audience, e.UserID) {
			v.audience = append(v.audience, e.UserID)
		}
	case event.AudienceExited:
		v.audience = lo.Without(v.audience, e.UserID)
	case event.TextMessageReceived:
		v.messages = append(v.messages, Message{SenderID: e.SenderID, Text: e.Text, Lang: e.Lang, At: v.now()})
		if v.maxMessages > 0 && len(v.messages) > v.maxMessages {
			v.messages = v.messages[len(v.messages)-v.maxMessages:]
		}
	case event.InvitationReceived:
		v.invitations[e.Invitation.ID] = e
	case event.InvitationCancelledNotice:
		delete(v.invitations, e.Invitation.ID)
	case event.InviteeRejected:
		delete(v.invitations, e.Invitation.ID)
	}
	return nil
}

// Answered forgets an invitation once the local user replied to it.
func (v *RoomView) Answered(invitationID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.invitations, invitationID)
}

func (v *RoomView) reset() {
	v.seats = nil
	v.audience = nil
	v.messages = nil
	v.destroyed = false
}

func (v *RoomView) Info() room.Info {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.info
}

func (v *RoomView) Seats() []room.Seat {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]room.Seat(nil), v.seats...)
}

// Anchors lists the seated users by seat index.
func (v *RoomView) Anchors() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return lo.FilterMap(v.seats, func(s room.Seat, _ int) (string, bool) {
		return s.OccupantID, s.State == room.SeatOccupied
	})
}

func (v *RoomView) Audience() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.audience...)
}

func (v *RoomView) Messages() []Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]Message(nil), v.messages...)
}

func (v *RoomView) Invitations() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return lo.Keys(v.invitations)
}

func (v *RoomView) Destroyed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.destroyed
}
