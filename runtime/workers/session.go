package workers

import (
	"context"
	"log/slog"
	"time"

	"voice-room/contract"
	"voice-room/domain/event"
	"voice-room/domain/invitation"
	"voice-room/errors"
	"voice-room/runtime"
)

// SessionWorker is the single execution context of one session.
// Local operations and channel envelopes are interleaved here into one order,
// with at most one operation in flight waiting for its echo.
type SessionWorker struct {
	log       *slog.Logger
	session   *runtime.Session
	channel   contract.EventChannel
	notifier  *Notifier
	ops       *runtime.Mailbox[*runtime.Operation]
	inbox     *runtime.Mailbox[event.Envelope]
	expiries  *runtime.Mailbox[invitation.Invitation]
	opTimeout time.Duration
	queue     []*runtime.Operation
	deadline  *time.Timer
}

func NewSessionWorker(
	log *slog.Logger,
	session *runtime.Session,
	channel contract.EventChannel,
	notifier *Notifier,
	opTimeout time.Duration,
) *SessionWorker {
	return &SessionWorker{
		log:       log,
		session:   session,
		channel:   channel,
		notifier:  notifier,
		ops:       runtime.NewMailbox[*runtime.Operation](),
		inbox:     runtime.NewMailbox[event.Envelope](),
		expiries:  runtime.NewMailbox[invitation.Invitation](),
		opTimeout: opTimeout,
	}
}

// Submit queues an operation behind the ones already waiting.
func (w *SessionWorker) Submit(op *runtime.Operation) {
	w.ops.Push(op)
}

// Deliver implements contract.Inbox.
func (w *SessionWorker) Deliver(env event.Envelope) {
	w.inbox.Push(env)
}

func (w *SessionWorker) Expire(inv invitation.Invitation) {
	w.expiries.Push(inv)
}

func (w *SessionWorker) Run(ctx context.Context) error {
	for {
		var timeout <-chan time.Time
		if w.deadline != nil {
			timeout = w.deadline.C
		}
		select {
		case <-ctx.Done():
			w.shutdown()
			w.log.Debug("Context done, stopping session")
			return nil
		case <-w.inbox.Ready():
			for _, env := range w.inbox.Drain() {
				w.handle(ctx, env)
			}
		case <-w.expiries.Ready():
			for _, inv := range w.expiries.Drain() {
				w.settle(w.session.InvitationExpired(inv))
			}
		case <-w.ops.Ready():
			w.queue = append(w.queue, w.ops.Drain()...)
		case <-timeout:
			w.deadline = nil
			if op := w.session.Inflight(); op != nil {
				w.log.Warn("Operation timed out", "op", op.Kind, "op_id", op.ID)
				w.finish(op, w.session.Fail(op, errors.ErrTimeout))
			}
		}
		w.pump(ctx)
	}
}

// pump sends queued operations until one has to wait for its echo.
func (w *SessionWorker) pump(ctx context.Context) {
	for len(w.queue) > 0 && w.session.Inflight() == nil {
		op := w.queue[0]
		w.queue = w.queue[1:]

		plan, err := w.session.Plan(op)
		if err != nil {
			w.finish(op, w.session.Fail(op, err))
			continue
		}
		if plan.Action == runtime.ActionNone {
			w.finish(op, nil)
			continue
		}
		if err := w.send(ctx, plan); err != nil {
			w.log.Debug("Channel refused operation", "op", op.Kind, "op_id", op.ID, "error", err)
			w.finish(op, w.session.Fail(op, errors.Transport(err)))
			continue
		}
		w.arm()
	}
}

func (w *SessionWorker) send(ctx context.Context, plan runtime.Plan) error {
	if w.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opTimeout)
		defer cancel()
	}
	switch plan.Action {
	case runtime.ActionRegister:
		return w.channel.Register(ctx, plan.Envelope, w)
	case runtime.ActionJoin:
		return w.channel.Join(ctx, plan.Envelope, w)
	case runtime.ActionLeave:
		return w.channel.Leave(ctx, plan.Envelope)
	default:
		return w.channel.Publish(ctx, plan.Envelope)
	}
}

func (w *SessionWorker) handle(ctx context.Context, env event.Envelope) {
	res := w.session.Apply(env)
	if res.Gap {
		w.log.Warn("Sequence gap detected, resyncing", "room_id", env.Room, "seq", env.Seq, "last_seq", w.session.LastSeq())
		snapshot, err := w.channel.Snapshot(ctx, env.Room)
		if err != nil {
			res = w.session.ResyncFailed(env, err)
		} else {
			res = w.session.Resync(snapshot, env)
		}
	}
	w.settle(res)
}

// settle reports what an applied envelope produced, then settles the operation it answered.
func (w *SessionWorker) settle(res runtime.Result) {
	w.notifier.Publish(res.Notifications...)
	if res.Resolved != nil {
		w.disarm()
		w.finish(res.Resolved, res.Outcome)
	}
	w.queue = append(w.queue, res.Followups...)
}

func (w *SessionWorker) finish(op *runtime.Operation, err error) {
	op.Resolve(err)
	if err == nil {
		return
	}
	if op.Followup {
		room, _ := w.session.RoomID()
		w.notifier.Publish(event.Warning{Room: room, Message: string(op.Kind) + " failed", Err: err})
	}
	w.log.Debug("Operation failed", "op", op.Kind, "op_id", op.ID, "kind", errors.KindOf(err), "error", err)
}

func (w *SessionWorker) arm() {
	w.disarm()
	if w.opTimeout > 0 {
		w.deadline = time.NewTimer(w.opTimeout)
	}
}

func (w *SessionWorker) disarm() {
	if w.deadline != nil {
		w.deadline.Stop()
		w.deadline = nil
	}
}

func (w *SessionWorker) shutdown() {
	w.disarm()
	if op := w.session.Inflight(); op != nil {
		w.finish(op, w.session.Fail(op, errors.ErrSessionClosed))
	}
	for _, op := range append(w.queue, w.ops.Drain()...) {
		w.finish(op, w.session.Fail(op, errors.ErrSessionClosed))
	}
	w.queue = nil
}
