package workers

import (
	"context"
	"log/slog"
	"time"

	"voice-room/domain/invitation"
)

// ExpiryWorker periodically expires overdue invitations of the shared store.
// Sessions learn about it through the store's expiry listeners.
type ExpiryWorker struct {
	log       *slog.Logger
	store     *invitation.Store
	interval  time.Duration
	retention time.Duration
}

// NewExpiryWorker checks every interval. Terminated invitations older than
// retention are forgotten, a zero retention keeps them for the process lifetime.
func NewExpiryWorker(log *slog.Logger, store *invitation.Store, interval, retention time.Duration) *ExpiryWorker {
	return &ExpiryWorker{log: log, store: store, interval: interval, retention: retention}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping invitation expiry")
			return nil
		case now := <-ticker.C:
			w.Tick(now)
		}
	}
}

func (w *ExpiryWorker) Tick(now time.Time) {
	for _, inv := range w.store.ExpireDue(now) {
		w.log.Debug("Invitation expired", "invitation_id", inv.ID, "room_id", inv.Room, "cmd", inv.Cmd)
	}
	if w.retention > 0 {
		if n := w.store.Prune(now.Add(-w.retention)); n > 0 {
			w.log.Debug("Invitations pruned", "count", n)
		}
	}
}
