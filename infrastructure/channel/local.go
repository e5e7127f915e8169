package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"voice-room/contract"
	"voice-room/domain/event"
	"voice-room/domain/room"
	"voice-room/errors"

	"github.com/samber/lo"
)

// Index makes hosted rooms searchable by name.
type Index interface {
	Index(info room.Info) error
	Remove(id room.ID) error
	Search(ctx context.Context, text string, limit int) ([]room.ID, error)
}

type hostedRoom struct {
	seq     uint64
	state   *room.State
	inboxes map[string]contract.Inbox
	order   []string
}

// LocalChannel is an in-process EventChannel and RoomDirectory.
// It sequences every room under one lock and delivers while holding it,
// so all members see the same order. Inboxes must not block.
type LocalChannel struct {
	mu    sync.Mutex
	log   *slog.Logger
	rooms map[room.ID]*hostedRoom
	index Index
}

func NewLocalChannel(log *slog.Logger, index Index) *LocalChannel {
	return &LocalChannel{log: log, rooms: make(map[room.ID]*hostedRoom), index: index}
}

func (c *LocalChannel) Register(ctx context.Context, env event.Envelope, inbox contract.Inbox) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	created, ok := env.Payload.(event.RoomCreated)
	if !ok {
		return fmt.Errorf("%w: register expects %s, got %s", errors.ErrInvalidParam, event.RoomCreatedType, env.Type())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[env.Room]; ok {
		return fmt.Errorf("%w: %d", errors.ErrRoomAlreadyExists, env.Room)
	}
	hosted := &hostedRoom{
		state:   room.NewState(created.Info, created.ClosedSeats),
		inboxes: make(map[string]contract.Inbox),
	}
	c.rooms[env.Room] = hosted
	hosted.attach(env.Sender, inbox)
	c.broadcast(hosted, env)
	c.log.Info("Room registered", "room_id", env.Room, "owner", env.Sender)

	if c.index != nil {
		if err := c.index.Index(hosted.state.Info); err != nil {
			c.log.Warn("Unable to index room", "room_id", env.Room, "error", err)
		}
	}
	return nil
}

func (c *LocalChannel) Join(ctx context.Context, env event.Envelope, inbox contract.Inbox) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	hosted, err := c.room(env.Room)
	if err != nil {
		return err
	}
	inbox.Deliver(hosted.snapshot(env.Room))
	hosted.attach(env.Sender, inbox)
	hosted.state.Join(env.Sender)
	c.broadcast(hosted, env)
	return nil
}

func (c *LocalChannel) Leave(ctx context.Context, env event.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leave(env)
}

func (c *LocalChannel) leave(env event.Envelope) error {
	hosted, err := c.room(env.Room)
	if err != nil {
		return err
	}
	if _, ok := hosted.inboxes[env.Sender]; !ok {
		return fmt.Errorf("%w: %s", errors.ErrUserNotInRoom, env.Sender)
	}
	hosted.state.Leave(env.Sender)
	c.broadcast(hosted, env)
	hosted.detach(env.Sender)
	return nil
}

func (c *LocalChannel) Publish(ctx context.Context, env event.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publish(env)
}

func (c *LocalChannel) publish(env event.Envelope) error {
	hosted, err := c.room(env.Room)
	if err != nil {
		return err
	}
	if _, ok := hosted.inboxes[env.Sender]; !ok {
		return fmt.Errorf("%w: %s", errors.ErrUserNotInRoom, env.Sender)
	}
	switch p := env.Payload.(type) {
	case event.RoomDestroyed:
		if env.Sender != hosted.state.Info.OwnerID {
			return errors.ErrNotOwner
		}
		c.broadcast(hosted, env)
		c.drop(env.Room)
		return nil
	case event.SeatChanged:
		hosted.state.Seats.ApplyBatch(p.Changes)
	}
	c.broadcast(hosted, env)
	return nil
}

func (c *LocalChannel) Snapshot(ctx context.Context, roomID room.ID) (event.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return event.Envelope{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	hosted, err := c.room(roomID)
	if err != nil {
		return event.Envelope{}, err
	}
	return hosted.snapshot(roomID), nil
}

// Disconnect removes userID from every room as if its process died.
// Rooms it owned are destroyed, in others it leaves.
func (c *LocalChannel) Disconnect(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, id := range c.sortedIDs() {
		hosted := c.rooms[id]
		if _, ok := hosted.inboxes[userID]; !ok {
			continue
		}
		env := event.Envelope{Room: id, Sender: userID, At: time.Now().UTC()}
		var err error
		if hosted.state.Info.OwnerID == userID {
			env.Payload = event.RoomDestroyed{}
			err = c.publish(env)
		} else {
			env.Payload = event.MemberLeft{UserID: userID}
			err = c.leave(env)
		}
		if err != nil {
			c.log.Warn("Unable to disconnect member", "room_id", id, "user_id", userID, "error", err)
			continue
		}
		n++
	}
	c.log.Info("Member disconnected", "user_id", userID, "rooms", n)
	return n
}

func (c *LocalChannel) ActiveRooms() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}

// Rooms returns the info of the hosted rooms among ids, in the order of ids.
// Unknown ids are skipped. No ids means every hosted room.
func (c *LocalChannel) Rooms(ctx context.Context, ids []room.ID) ([]room.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(ids) == 0 {
		ids = c.sortedIDs()
	}
	return c.infos(ids), nil
}

func (c *LocalChannel) Search(ctx context.Context, text string, limit int) ([]room.Info, error) {
	if c.index != nil {
		ids, err := c.index.Search(ctx, text, limit)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrTransport, err)
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.infos(ids), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	needle := strings.ToLower(text)
	found := lo.Filter(c.sortedIDs(), func(id room.ID, _ int) bool {
		return strings.Contains(strings.ToLower(c.rooms[id].state.Info.Name), needle)
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return c.infos(found), nil
}

func (c *LocalChannel) room(id room.ID) (*hostedRoom, error) {
	hosted, ok := c.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errors.ErrRoomNotFound, id)
	}
	return hosted, nil
}

func (c *LocalChannel) drop(id room.ID) {
	delete(c.rooms, id)
	c.log.Info("Room destroyed", "room_id", id)
	if c.index != nil {
		if err := c.index.Remove(id); err != nil {
			c.log.Warn("Unable to remove room from index", "room_id", id, "error", err)
		}
	}
}

func (c *LocalChannel) infos(ids []room.ID) []room.Info {
	return lo.FilterMap(ids, func(id room.ID, _ int) (room.Info, bool) {
		hosted, ok := c.rooms[id]
		if !ok {
			return room.Info{}, false
		}
		return hosted.state.Info, true
	})
}

func (c *LocalChannel) sortedIDs() []room.ID {
	ids := lo.Keys(c.rooms)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// broadcast stamps the next sequence number and hands env to every member.
func (c *LocalChannel) broadcast(hosted *hostedRoom, env event.Envelope) {
	hosted.seq++
	env.Seq = hosted.seq
	if env.At.IsZero() {
		env.At = time.Now().UTC()
	}
	for _, userID := range hosted.order {
		hosted.inboxes[userID].Deliver(env)
	}
	c.log.Debug("Envelope delivered", "room_id", env.Room, "seq", env.Seq, "type", env.Type(), "members", len(hosted.order))
}

func (r *hostedRoom) attach(userID string, inbox contract.Inbox) {
	if _, ok := r.inboxes[userID]; !ok {
		r.order = append(r.order, userID)
	}
	r.inboxes[userID] = inbox
}

func (r *hostedRoom) detach(userID string) {
	delete(r.inboxes, userID)
	r.order = lo.Without(r.order, userID)
}

func (r *hostedRoom) snapshot(id room.ID) event.Envelope {
	return event.Envelope{
		Seq:     r.seq,
		Room:    id,
		At:      time.Now().UTC(),
		Payload: event.SeatSnapshot{Snapshot: r.state.Snapshot()},
	}
}
