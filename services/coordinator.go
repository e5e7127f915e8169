package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"voice-room/contract"
	"voice-room/domain/invitation"
	"voice-room/domain/room"
	"voice-room/errors"
	"voice-room/moderation"
	"voice-room/runtime"
	"voice-room/runtime/workers"

	"github.com/abadojack/whatlanggo"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var validate = validator.New()

// Deps are the collaborators of a coordinator. Only Channel is mandatory.
type Deps struct {
	Channel   contract.EventChannel
	Directory contract.RoomDirectory
	Profiles  contract.ProfileRepository
	// Invitations may be shared by the coordinators of one process.
	// Without one the coordinator keeps its own and expires it itself.
	Invitations *invitation.Store
	Moderator   *moderation.Moderator
}

type messageRequest struct {
	Text string `validate:"required"`
}

type customRequest struct {
	Cmd string `validate:"required,max=64"`
}

type invitationRequest struct {
	Cmd      string `validate:"required,max=64"`
	ToUserID string `validate:"required"`
}

// Coordinator is the operation surface of one user in voice rooms.
// Mutating calls validate synchronously, then return a Completion settled
// once the channel echoed the operation back, or it failed.
type Coordinator struct {
	log        *slog.Logger
	cfg        Config
	deps       Deps
	userID     string
	session    *runtime.Session
	registry   *runtime.Registry
	notifier   *workers.Notifier
	worker     *workers.SessionWorker
	supervisor *workers.Supervisor
	store      *invitation.Store
	stopExpiry func()

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
}

func NewCoordinator(log *slog.Logger, userID string, cfg Config, deps Deps) (*Coordinator, error) {
	if userID == "" {
		return nil, errors.ErrInvalidUserID
	}
	if deps.Channel == nil {
		return nil, fmt.Errorf("%w: an event channel is required", errors.ErrInvalidParam)
	}
	log = log.With("user_id", userID)

	store := deps.Invitations
	supervisor := workers.NewSupervisor(log, cfg.RestartInterval)
	if store == nil {
		store = invitation.NewStore()
		if cfg.ExpiryInterval > 0 {
			supervisor.Add(workers.NewExpiryWorker(log, store, cfg.ExpiryInterval, 0))
		}
	}

	registry := runtime.NewRegistry()
	notifier := workers.NewNotifier(log, registry, cfg.DeliveryTimeout)
	session := runtime.NewSession(log, userID, store, runtime.SessionOptions{
		ResyncOnGap:       cfg.ResyncOnGap,
		InvitationTimeout: cfg.InvitationTimeout,
	})
	worker := workers.NewSessionWorker(log, session, deps.Channel, notifier, cfg.OperationTimeout)
	supervisor.Add(notifier, worker)

	return &Coordinator{
		log:        log,
		cfg:        cfg,
		deps:       deps,
		userID:     userID,
		session:    session,
		registry:   registry,
		notifier:   notifier,
		worker:     worker,
		supervisor: supervisor,
		store:      store,
		stopExpiry: store.OnExpire(worker.Expire),
		done:       make(chan struct{}),
	}, nil
}

// Start runs the coordinator workers until ctx is done or Close is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	go func() {
		defer close(c.done)
		c.supervisor.Run(ctx)
	}()
	c.log.Info("Coordinator started")
}

// Close leaves the current room, then stops every worker.
// Operations still pending fail with ErrSessionClosed.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	started := c.started
	c.mu.Unlock()

	var exitErr error
	if started && c.session.Phase() != runtime.PhaseIdle {
		if completion, err := c.ExitRoom(); err == nil {
			exitErr = completion.Wait(ctx)
		}
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.stopExpiry()
	c.supervisor.Stop()
	if started {
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.log.Info("Coordinator closed")
	return exitErr
}

func (c *Coordinator) UserID() string { return c.userID }

func (c *Coordinator) Subscribe(sub contract.Subscriber) runtime.SubscriptionID {
	return c.registry.Subscribe(sub)
}

func (c *Coordinator) Unsubscribe(id runtime.SubscriptionID) bool {
	return c.registry.Unsubscribe(id)
}

// CreateRoom creates roomID with the caller as owner and enters it.
func (c *Coordinator) CreateRoom(roomID room.ID, param room.Param) (*runtime.Completion, error) {
	if !roomID.Valid() {
		return nil, fmt.Errorf("%w: %d", errors.ErrInvalidRoomID, roomID)
	}
	if err := validate.Struct(param); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidParam, err)
	}
	if bad, ok := lo.Find(param.ClosedSeats, func(i int) bool { return i >= param.SeatCount }); ok {
		return nil, fmt.Errorf("%w: %d", errors.ErrInvalidSeatIndex, bad)
	}
	if err := c.usable(); err != nil {
		return nil, err
	}
	if err := c.session.Begin(roomID); err != nil {
		return nil, err
	}
	op := runtime.NewOperation(runtime.OpCreateRoom)
	op.Room = roomID
	op.Param = param
	return c.submit(op)
}

func (c *Coordinator) EnterRoom(roomID room.ID) (*runtime.Completion, error) {
	if !roomID.Valid() {
		return nil, fmt.Errorf("%w: %d", errors.ErrInvalidRoomID, roomID)
	}
	if err := c.usable(); err != nil {
		return nil, err
	}
	if err := c.session.Begin(roomID); err != nil {
		return nil, err
	}
	op := runtime.NewOperation(runtime.OpEnterRoom)
	op.Room = roomID
	return c.submit(op)
}

// ExitRoom leaves the current room. Outside of a room it succeeds at once.
func (c *Coordinator) ExitRoom() (*runtime.Completion, error) {
	return c.submit(runtime.NewOperation(runtime.OpExitRoom))
}

// DestroyRoom ends the room for every member. Owner only.
func (c *Coordinator) DestroyRoom() (*runtime.Completion, error) {
	return c.submit(runtime.NewOperation(runtime.OpDestroyRoom))
}

func (c *Coordinator) RoomInfo() (room.Info, error) {
	return c.session.Info()
}

func (c *Coordinator) SeatList() ([]room.Seat, error) {
	return c.session.Seats()
}

func (c *Coordinator) Members() ([]room.Member, error) {
	return c.session.Members()
}

// GetRoomInfoList asks the directory about rooms the caller may not be in.
func (c *Coordinator) GetRoomInfoList(ctx context.Context, ids []room.ID) ([]room.Info, error) {
	if bad, ok := lo.Find(ids, func(id room.ID) bool { return !id.Valid() }); ok {
		return nil, fmt.Errorf("%w: %d", errors.ErrInvalidRoomID, bad)
	}
	if c.deps.Directory == nil {
		return nil, fmt.Errorf("%w: no room directory", errors.ErrTransport)
	}
	infos, err := c.deps.Directory.Rooms(ctx, ids)
	if err != nil {
		return nil, errors.Transport(err)
	}
	return infos, nil
}

// SearchRooms matches text against room names. An empty text lists every room.
func (c *Coordinator) SearchRooms(ctx context.Context, text string, limit int) ([]room.Info, error) {
	if text == "" {
		return c.GetRoomInfoList(ctx, nil)
	}
	if c.deps.Directory == nil {
		return nil, fmt.Errorf("%w: no room directory", errors.ErrTransport)
	}
	if limit <= 0 {
		limit = c.cfg.SearchLimit
	}
	infos, err := c.deps.Directory.Search(ctx, text, limit)
	if err != nil {
		return nil, errors.Transport(err)
	}
	return infos, nil
}

// SetSelfProfile stores the name and avatar of the caller.
func (c *Coordinator) SetSelfProfile(ctx context.Context, name, avatarURL string) error {
	user := room.UserInfo{UserID: c.userID, Name: name, AvatarURL: avatarURL}
	if err := validate.Struct(user); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidParam, err)
	}
	if c.deps.Profiles == nil {
		return fmt.Errorf("%w: no profile repository", errors.ErrTransport)
	}
	if err := c.deps.Profiles.Save(ctx, user); err != nil {
		return errors.Transport(err)
	}
	return nil
}

// GetUserInfoList returns the profiles of ids, or of the current members when ids is empty.
// Users without a stored profile come back with their id only.
func (c *Coordinator) GetUserInfoList(ctx context.Context, ids []string) ([]room.UserInfo, error) {
	if len(ids) == 0 {
		members, err := c.session.Members()
		if err != nil {
			return nil, err
		}
		ids = lo.Map(members, func(m room.Member, _ int) string { return m.UserID })
	}
	if lo.Contains(ids, "") {
		return nil, errors.ErrInvalidUserID
	}
	var known []room.UserInfo
	if c.deps.Profiles != nil {
		var err error
		if known, err = c.deps.Profiles.Get(ctx, ids); err != nil {
			return nil, errors.Transport(err)
		}
	}
	byID := lo.KeyBy(known, func(u room.UserInfo) string { return u.UserID })
	return lo.Map(ids, func(id string, _ int) room.UserInfo {
		if u, ok := byID[id]; ok {
			return u
		}
		return room.UserInfo{UserID: id}
	}), nil
}

// EnterSeat takes seat index. In rooms needing confirmation a non owner
// sends a request to the owner instead, the seat is taken once it is accepted.
func (c *Coordinator) EnterSeat(index int) (*runtime.Completion, error) {
	return c.seatOp(runtime.OpEnterSeat, index, func(op *runtime.Operation) {})
}

func (c *Coordinator) LeaveSeat() (*runtime.Completion, error) {
	return c.submit(runtime.NewOperation(runtime.OpLeaveSeat))
}

// PickSeat puts userID on seat index. Owner only.
func (c *Coordinator) PickSeat(index int, userID string) (*runtime.Completion, error) {
	if userID == "" {
		return nil, errors.ErrInvalidUserID
	}
	return c.seatOp(runtime.OpPickSeat, index, func(op *runtime.Operation) { op.UserID = userID })
}

// KickSeat frees seat index. Owner only.
func (c *Coordinator) KickSeat(index int) (*runtime.Completion, error) {
	return c.seatOp(runtime.OpKickSeat, index, func(op *runtime.Operation) {})
}

func (c *Coordinator) MuteSeat(index int, mute bool) (*runtime.Completion, error) {
	return c.seatOp(runtime.OpMuteSeat, index, func(op *runtime.Operation) { op.Flag = mute })
}

// CloseSeat closes or reopens seat index. Closing an occupied seat evicts its occupant.
func (c *Coordinator) CloseSeat(index int, closed bool) (*runtime.Completion, error) {
	return c.seatOp(runtime.OpCloseSeat, index, func(op *runtime.Operation) { op.Flag = closed })
}

// InviteToSeat asks userID to go on seat index. When accepted the owner picks them.
func (c *Coordinator) InviteToSeat(index int, userID string) (*runtime.Completion, error) {
	if err := c.session.CheckIndex(index); err != nil {
		return nil, err
	}
	return c.sendInvitation(invitation.CmdPickUpSeat, userID, strconv.Itoa(index), index)
}

// SendRoomTextMsg censors text, tags its language and sends it to every member, the caller included.
func (c *Coordinator) SendRoomTextMsg(text string) (*runtime.Completion, error) {
	if err := validate.Struct(messageRequest{Text: text}); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidParam, err)
	}
	if err := c.checkLength(text); err != nil {
		return nil, err
	}
	op := runtime.NewOperation(runtime.OpSendText)
	op.Lang = whatlanggo.Detect(text).Lang.Iso6391()
	op.Text = text
	if c.deps.Moderator != nil {
		var words []string
		if op.Text, words = c.deps.Moderator.Censor(text); len(words) > 0 {
			c.log.Debug("Room message censored", "words", len(words), "lang", op.Lang)
		}
	}
	return c.submit(op)
}

func (c *Coordinator) SendRoomCustomMsg(cmd, payload string) (*runtime.Completion, error) {
	if err := validate.Struct(customRequest{Cmd: cmd}); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidParam, err)
	}
	if err := c.checkLength(payload); err != nil {
		return nil, err
	}
	op := runtime.NewOperation(runtime.OpSendCustom)
	op.Cmd = cmd
	op.Content = payload
	return c.submit(op)
}

// SendInvitation invites another member of the current room.
// The completion id is the invitation id.
func (c *Coordinator) SendInvitation(cmd, toUserID, content string) (*runtime.Completion, error) {
	return c.sendInvitation(cmd, toUserID, content, 0)
}

func (c *Coordinator) AcceptInvitation(id string) (*runtime.Completion, error) {
	return c.transition(runtime.OpAcceptInvitation, id, invitation.Accepted)
}

func (c *Coordinator) RejectInvitation(id string) (*runtime.Completion, error) {
	return c.transition(runtime.OpRejectInvitation, id, invitation.Rejected)
}

func (c *Coordinator) CancelInvitation(id string) (*runtime.Completion, error) {
	return c.transition(runtime.OpCancelInvitation, id, invitation.Cancelled)
}

// PendingInvitations lists the open invitations the caller sent or received.
func (c *Coordinator) PendingInvitations() []invitation.Invitation {
	return c.store.Pending(c.userID)
}

func (c *Coordinator) sendInvitation(cmd, toUserID, content string, index int) (*runtime.Completion, error) {
	if err := validate.Struct(invitationRequest{Cmd: cmd, ToUserID: toUserID}); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidParam, err)
	}
	if toUserID == c.userID {
		return nil, fmt.Errorf("%w: cannot invite yourself", errors.ErrInvalidUserID)
	}
	if err := c.checkLength(content); err != nil {
		return nil, err
	}
	if err := c.usable(); err != nil {
		return nil, err
	}
	roomID, joined := c.session.RoomID()
	if !joined {
		return nil, errors.ErrNotInRoom
	}

	op := runtime.NewOperation(runtime.OpSendInvitation)
	now := time.Now().UTC()
	op.Index = index
	op.Invitation = invitation.Invitation{
		ID:         op.ID,
		Room:       roomID,
		FromUserID: c.userID,
		ToUserID:   toUserID,
		Cmd:        cmd,
		Content:    content,
		CreatedAt:  now,
		ExpiresAt:  c.session.ExpiryFrom(now),
	}
	if err := c.store.Add(op.Invitation); err != nil {
		return nil, err
	}
	return c.submit(op)
}

func (c *Coordinator) transition(kind runtime.OpKind, id string, target invitation.Status) (*runtime.Completion, error) {
	if id == "" {
		return nil, errors.ErrInvalidInvitationID
	}
	if _, err := c.store.Authorize(id, c.userID, target); err != nil {
		return nil, err
	}
	op := runtime.NewOperation(kind)
	op.InvitationID = id
	return c.submit(op)
}

func (c *Coordinator) seatOp(kind runtime.OpKind, index int, set func(op *runtime.Operation)) (*runtime.Completion, error) {
	if err := c.session.CheckIndex(index); err != nil {
		return nil, err
	}
	op := runtime.NewOperation(kind)
	op.Index = index
	set(op)
	return c.submit(op)
}

func (c *Coordinator) checkLength(s string) error {
	if c.cfg.MaxContentLength > 0 && utf8.RuneCountInString(s) > c.cfg.MaxContentLength {
		return fmt.Errorf("%w: %d > %d", errors.ErrContentTooLong, utf8.RuneCountInString(s), c.cfg.MaxContentLength)
	}
	return nil
}

func (c *Coordinator) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.ErrSessionClosed
	}
	return nil
}

func (c *Coordinator) submit(op *runtime.Operation) (*runtime.Completion, error) {
	if err := c.usable(); err != nil {
		if op.Kind == runtime.OpCreateRoom || op.Kind == runtime.OpEnterRoom {
			return nil, c.session.Fail(op, err)
		}
		return nil, err
	}
	c.worker.Submit(op)
	return op.Completion(), nil
}
