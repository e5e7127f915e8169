package workers

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"voice-room/contract"
	"voice-room/domain/event"
	"voice-room/domain/invitation"
	"voice-room/domain/room"
	"voice-room/errors"
	"voice-room/mocks"
	"voice-room/runtime"

	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testRoom = room.ID(1001)

type sessionHarness struct {
	worker   *SessionWorker
	session  *runtime.Session
	channel  *mocks.MockEventChannel
	recorder *recorder
	cancel   context.CancelFunc
}

func newSessionHarness(t *testing.T, opts runtime.SessionOptions, opTimeout time.Duration) *sessionHarness {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	channel := mocks.NewMockEventChannel(ctrl)
	registry := runtime.NewRegistry()
	rec := &recorder{}
	registry.Subscribe(rec)
	notifier := NewNotifier(log, registry, time.Second)
	session := runtime.NewSession(log, "bob", invitation.NewStore(), opts)
	worker := NewSessionWorker(log, session, channel, notifier, opTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = notifier.Run(ctx) }()
	go func() { _ = worker.Run(ctx) }()
	t.Cleanup(cancel)
	return &sessionHarness{worker: worker, session: session, channel: channel, recorder: rec, cancel: cancel}
}

func snapshotOf(members ...string) room.Snapshot {
	state := room.NewState(room.Info{ID: testRoom, OwnerID: "owner", SeatCount: 4}, nil)
	for _, m := range members {
		state.Join(m)
	}
	return state.Snapshot()
}

// join makes bob enter testRoom, the channel answering with a snapshot at seq 1.
func (h *sessionHarness) join(t *testing.T) {
	req := require.New(t)
	h.channel.EXPECT().Join(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, env event.Envelope, inbox contract.Inbox) error {
			inbox.Deliver(event.Envelope{Seq: 1, Room: env.Room, Payload: event.SeatSnapshot{Snapshot: snapshotOf()}})
			env.Seq = 2
			inbox.Deliver(env)
			return nil
		}).Times(1)

	req.NoError(h.session.Begin(testRoom))
	op := runtime.NewOperation(runtime.OpEnterRoom)
	op.Room = testRoom
	h.worker.Submit(op)
	req.NoError(wait(op))
	req.Equal(runtime.PhaseJoined, h.session.Phase())
}

func wait(op *runtime.Operation) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return op.Completion().Wait(ctx)
}

func TestSessionWorker_EchoResolvesOperation(t *testing.T) {
	req := require.New(t)
	h := newSessionHarness(t, runtime.SessionOptions{}, time.Second)
	h.join(t)

	h.channel.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, env event.Envelope) error {
			env.Seq = 3
			h.worker.Deliver(env)
			return nil
		}).Times(1)

	op := runtime.NewOperation(runtime.OpEnterSeat)
	op.Index = 2
	h.worker.Submit(op)

	req.NoError(wait(op))
	seats, err := h.session.Seats()
	req.NoError(err)
	req.Equal("bob", seats[2].OccupantID)
	req.Eventually(func() bool {
		return lo.ContainsBy(h.recorder.Notes(), func(n event.Notification) bool {
			return n == event.AnchorEnteredSeat{Room: testRoom, Index: 2, UserID: "bob"}
		})
	}, time.Second, 10*time.Millisecond)
}

func TestSessionWorker_OperationsAreSerialized(t *testing.T) {
	req := require.New(t)
	h := newSessionHarness(t, runtime.SessionOptions{}, time.Second)
	h.join(t)

	var published []string
	seq := uint64(2)
	h.channel.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, env event.Envelope) error {
			// Only one operation may be waiting for its echo.
			published = append(published, env.Correlation)
			seq++
			env.Seq = seq
			go h.worker.Deliver(env)
			return nil
		}).Times(3)

	ops := lo.Times(3, func(i int) *runtime.Operation {
		op := runtime.NewOperation(runtime.OpSendText)
		op.Text = fmt.Sprintf("hello %d", i)
		h.worker.Submit(op)
		return op
	})

	for _, op := range ops {
		req.NoError(wait(op))
	}
	req.Equal(lo.Map(ops, func(op *runtime.Operation, _ int) string { return op.ID }), published)
}

func TestSessionWorker_TransportFailure(t *testing.T) {
	req := require.New(t)
	h := newSessionHarness(t, runtime.SessionOptions{}, time.Second)
	h.join(t)

	h.channel.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(fmt.Errorf("connection reset")).Times(1)

	op := runtime.NewOperation(runtime.OpSendCustom)
	op.Cmd = "gift"
	h.worker.Submit(op)

	err := wait(op)
	req.ErrorIs(err, errors.ErrTransport)
	req.True(errors.IsRetryable(err))
	req.Nil(h.session.Inflight())
}

func TestSessionWorker_Timeout(t *testing.T) {
	req := require.New(t)
	h := newSessionHarness(t, runtime.SessionOptions{}, 100*time.Millisecond)
	h.join(t)

	// Given the channel accepts but never echoes
	h.channel.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	op := runtime.NewOperation(runtime.OpMuteSeat)
	op.Index = 1
	op.Flag = true
	h.worker.Submit(op)

	req.ErrorIs(wait(op), errors.ErrNotOwner)

	text := runtime.NewOperation(runtime.OpSendText)
	text.Text = "anyone?"
	h.worker.Submit(text)
	req.ErrorIs(wait(text), errors.ErrTimeout)
}

func TestSessionWorker_GapResync(t *testing.T) {
	req := require.New(t)
	h := newSessionHarness(t, runtime.SessionOptions{ResyncOnGap: true}, time.Second)
	h.join(t)

	state := room.FromSnapshot(snapshotOf("bob", "alice"))
	state.Seats.Apply(room.SeatChange{Op: room.OpTake, Index: 0, UserID: "alice"})
	h.channel.EXPECT().Snapshot(gomock.Any(), testRoom).Return(
		event.Envelope{Seq: 5, Room: testRoom, Payload: event.SeatSnapshot{Snapshot: state.Snapshot()}}, nil).Times(1)

	// When seq 3 to 5 never arrive
	h.worker.Deliver(event.Envelope{Seq: 6, Room: testRoom, Sender: "alice", Payload: event.RoomTextMsg{SenderID: "alice", Text: "hi"}})

	req.Eventually(func() bool { return h.session.LastSeq() == 6 }, time.Second, 10*time.Millisecond)
	seats, err := h.session.Seats()
	req.NoError(err)
	req.Equal("alice", seats[0].OccupantID)
	req.Eventually(func() bool {
		return lo.ContainsBy(h.recorder.Notes(), func(n event.Notification) bool {
			msg, ok := n.(event.TextMessageReceived)
			return ok && msg.Text == "hi"
		})
	}, time.Second, 10*time.Millisecond)
}

func TestSessionWorker_GapResyncSnapshotAtSameSeq(t *testing.T) {
	req := require.New(t)
	h := newSessionHarness(t, runtime.SessionOptions{ResyncOnGap: true}, time.Second)
	h.join(t)

	// Given the channel snapshots after sequencing the message that revealed the gap
	h.channel.EXPECT().Snapshot(gomock.Any(), testRoom).Return(
		event.Envelope{Seq: 6, Room: testRoom, Payload: event.SeatSnapshot{Snapshot: snapshotOf("bob", "alice")}}, nil).Times(1)

	h.worker.Deliver(event.Envelope{Seq: 6, Room: testRoom, Sender: "alice", Payload: event.RoomTextMsg{SenderID: "alice", Text: "late"}})

	// Then the message still reaches subscribers
	req.Eventually(func() bool {
		return lo.ContainsBy(h.recorder.Notes(), func(n event.Notification) bool {
			msg, ok := n.(event.TextMessageReceived)
			return ok && msg.Text == "late"
		})
	}, time.Second, 10*time.Millisecond)
	req.Equal(uint64(6), h.session.LastSeq())
}

func TestSessionWorker_ShutdownFailsPending(t *testing.T) {
	req := require.New(t)
	h := newSessionHarness(t, runtime.SessionOptions{}, time.Minute)
	h.join(t)

	h.channel.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	first := runtime.NewOperation(runtime.OpSendText)
	second := runtime.NewOperation(runtime.OpSendText)
	h.worker.Submit(first)
	h.worker.Submit(second)
	req.Eventually(func() bool { return h.session.Inflight() != nil }, time.Second, 10*time.Millisecond)

	h.cancel()

	req.ErrorIs(wait(first), errors.ErrSessionClosed)
	req.ErrorIs(wait(second), errors.ErrSessionClosed)
}
