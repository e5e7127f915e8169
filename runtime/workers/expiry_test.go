package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"voice-room/domain/invitation"

	"github.com/stretchr/testify/require"
)

func TestExpiryWorker_Tick(t *testing.T) {
	req := require.New(t)
	store := invitation.NewStore()
	now := time.Now()

	req.NoError(store.Add(invitation.Invitation{
		ID: "inv-1", Room: 1001, FromUserID: "alice", ToUserID: "bob",
		CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(-time.Second),
	}))
	req.NoError(store.Add(invitation.Invitation{
		ID: "inv-2", Room: 1001, FromUserID: "alice", ToUserID: "carol",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	var expired []string
	store.OnExpire(func(inv invitation.Invitation) { expired = append(expired, inv.ID) })

	// When the worker ticks with a short retention
	w := NewExpiryWorker(slog.Default(), store, time.Second, 30*time.Second)
	w.Tick(now)

	// Then only the overdue invitation is expired, and pruned as it is older than the retention
	req.Equal([]string{"inv-1"}, expired)
	_, err := store.Get("inv-1")
	req.Error(err)
	inv, err := store.Get("inv-2")
	req.NoError(err)
	req.Equal(invitation.Pending, inv.Status)
}

func TestExpiryWorker_Run(t *testing.T) {
	req := require.New(t)
	store := invitation.NewStore()
	req.NoError(store.Add(invitation.Invitation{
		ID: "inv-1", FromUserID: "alice", ToUserID: "bob",
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(20 * time.Millisecond),
	}))

	var count atomic.Int32
	store.OnExpire(func(invitation.Invitation) { count.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewExpiryWorker(slog.Default(), store, 10*time.Millisecond, 0).Run(ctx) }()

	req.Eventually(func() bool { return count.Load() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	req.NoError(<-done)

	// Expired invitations are kept without retention
	inv, err := store.Get("inv-1")
	req.NoError(err)
	req.Equal(invitation.Expired, inv.Status)
}
