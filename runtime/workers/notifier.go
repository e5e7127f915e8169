package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"voice-room/contract"
	"voice-room/domain/event"
	"voice-room/runtime"
)

// Notifier delivers notifications to every subscriber, one at a time,
// in the order they were published. Publishing never blocks: a slow
// subscriber delays the ones after it, it never reorders them.
type Notifier struct {
	log             *slog.Logger
	registry        *runtime.Registry
	queue           *runtime.Mailbox[event.Notification]
	deliveryTimeout time.Duration
}

func NewNotifier(log *slog.Logger, registry *runtime.Registry, deliveryTimeout time.Duration) *Notifier {
	return &Notifier{
		log:             log,
		registry:        registry,
		queue:           runtime.NewMailbox[event.Notification](),
		deliveryTimeout: deliveryTimeout,
	}
}

func (n *Notifier) Publish(notes ...event.Notification) {
	n.queue.Push(notes...)
}

func (n *Notifier) Pending() int { return n.queue.Len() }

func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			// Whatever was applied before shutdown still gets reported.
			flushCtx := context.WithoutCancel(ctx)
			for _, note := range n.queue.Drain() {
				n.Fanout(flushCtx, note)
			}
			n.log.Debug("Context done, stopping notifications")
			return nil
		case <-n.queue.Ready():
			for _, note := range n.queue.Drain() {
				n.Fanout(ctx, note)
			}
		}
	}
}

// Fanout hands one notification to each subscriber in registration order.
func (n *Notifier) Fanout(ctx context.Context, note event.Notification) {
	for _, sub := range n.registry.Subscribers() {
		if err := n.consume(ctx, sub, note); err != nil {
			n.log.Warn("Subscriber failed", "room_id", note.RoomID(), "notification", fmt.Sprintf("%T", note), "error", err)
		}
	}
}

func (n *Notifier) consume(ctx context.Context, sub contract.Subscriber, note event.Notification) (err error) {
	if n.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.deliveryTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return sub.Consume(ctx, note)
}
