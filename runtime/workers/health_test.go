package workers

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shirou/gopsutil/process"
	"github.com/stretchr/testify/require"
)

func TestHealthWorker_Sample(t *testing.T) {
	req := require.New(t)
	p, err := process.NewProcess(int32(os.Getpid()))
	req.NoError(err)
	w := NewHealthWorker(slog.Default(), time.Second, func() int { return 3 }, func() int64 { return 2 }, func(Health) {})

	h := w.Sample(p)

	req.Equal(int32(os.Getpid()), h.PID)
	req.Equal(3, h.Rooms)
	req.Equal(int64(2), h.Restarts)
	req.False(h.At.IsZero())
}

func TestHealthWorker_Run(t *testing.T) {
	req := require.New(t)
	reports := make(chan Health, 8)
	w := NewHealthWorker(slog.Default(), 10*time.Millisecond, func() int { return 1 }, nil, func(h Health) {
		select {
		case reports <- h:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// When a few ticks elapsed
	select {
	case h := <-reports:
		req.Equal(1, h.Rooms)
		req.Zero(h.Restarts)
	case <-time.After(time.Second):
		req.Fail("no health report")
	}

	// Then cancelling stops the worker cleanly
	cancel()
	req.NoError(<-done)
}
