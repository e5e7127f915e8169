package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

type Health struct {
	PID      int32
	CPU      float64
	RAM      float32
	Rooms    int
	Restarts int64
	At       time.Time
}

// HealthWorker samples the process and the room host at a fixed interval
// and hands each sample to report.
type HealthWorker struct {
	log      *slog.Logger
	interval time.Duration
	rooms    func() int
	restarts func() int64
	report   func(Health)
}

func NewHealthWorker(
	log *slog.Logger,
	interval time.Duration,
	rooms func() int,
	restarts func() int64,
	report func(Health),
) *HealthWorker {
	return &HealthWorker{log: log, interval: interval, rooms: rooms, restarts: restarts, report: report}
}

func (w *HealthWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health monitoring")
			return nil
		case <-ticker.C:
			w.report(w.Sample(p))
		}
	}
}

// Sample never fails: a metric that cannot be read is left at zero.
func (w *HealthWorker) Sample(p *process.Process) Health {
	h := Health{PID: p.Pid, At: time.Now().UTC()}
	if w.rooms != nil {
		h.Rooms = w.rooms()
	}
	if w.restarts != nil {
		h.Restarts = w.restarts()
	}
	if cpu, err := p.CPUPercent(); err == nil {
		h.CPU = cpu
	} else {
		w.log.Debug("Error while finding process cpu usage", "err", err)
	}
	if ram, err := p.MemoryPercent(); err == nil {
		h.RAM = ram
	} else {
		w.log.Debug("Error while finding process ram usage", "err", err)
	}
	return h
}
