package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/fixhero/internal/metrics"
	"github.com/kalambet/fixhero/internal/storage"
)

// DefaultQuotaMB mirrors the 10 MB cap of extension local storage.
const DefaultQuotaMB = 10

// Stats is aggregate backend usage against the configured cap.
type Stats struct {
	UsedBytes int64   `json:"usedBytes"`
	UsedMB    float64 `json:"usedMB"`
	TotalMB   float64 `json:"totalMB"`
	Percent   float64 `json:"percent"`
}

// Reporter measures the whole backend.
type Reporter struct {
	backend storage.Backend
	totalMB float64
}

func NewReporter(backend storage.Backend, quotaMB float64) *Reporter {
	if quotaMB <= 0 {
		quotaMB = DefaultQuotaMB
	}
	return &Reporter{backend: backend, totalMB: quotaMB}
}

func (r *Reporter) Stats(ctx context.Context) (Stats, error) {
	used, err := r.backend.Size(ctx, "")
	if err != nil {
		return Stats{}, fmt.Errorf("measuring storage: %w", err)
	}
	usedMB := float64(used) / (1024 * 1024)
	return Stats{
		UsedBytes: used,
		UsedMB:    roundTo(usedMB, 2),
		TotalMB:   r.totalMB,
		Percent:   roundTo(usedMB/r.totalMB*100, 1),
	}, nil
}

// DefaultSchedule polls usage every 30 seconds.
const DefaultSchedule = "@every 30s"

// Monitor polls a Reporter on a cron schedule, publishes the result as
// gauges and logs when usage crosses warnPercent.
type Monitor struct {
	reporter    *Reporter
	warnPercent float64
	schedule    string
	cron        *cron.Cron
	metrics     *metrics.Recorder
	logger      *slog.Logger

	mu     sync.RWMutex
	last   Stats
	warned bool
}

func NewMonitor(reporter *Reporter, schedule string, warnPercent float64, m *metrics.Recorder) *Monitor {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Monitor{
		reporter:    reporter,
		warnPercent: warnPercent,
		schedule:    schedule,
		cron:        cron.New(),
		metrics:     m,
		logger:      slog.Default().With("component", "quota"),
	}
}

// Poll takes one measurement.
func (m *Monitor) Poll(ctx context.Context) (Stats, error) {
	st, err := m.reporter.Stats(ctx)
	if err != nil {
		m.logger.Warn("storage usage poll failed", "error", err)
		m.metrics.DegradedRead("quota")
		return Stats{}, err
	}
	m.metrics.StorageUsage(st.UsedBytes, st.Percent)

	m.mu.Lock()
	m.last = st
	over := m.warnPercent > 0 && st.Percent >= m.warnPercent
	crossed := over && !m.warned
	m.warned = over
	m.mu.Unlock()

	if crossed {
		m.logger.Warn("storage usage high",
			"used_mb", st.UsedMB,
			"total_mb", st.TotalMB,
			"percent", st.Percent,
		)
	}
	return st, nil
}

// Last returns the most recent successful measurement.
func (m *Monitor) Last() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Run polls once immediately, then on the schedule until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if _, err := m.cron.AddFunc(m.schedule, func() { m.Poll(ctx) }); err != nil {
		return fmt.Errorf("scheduling usage monitor %q: %w", m.schedule, err)
	}
	m.Poll(ctx)
	m.cron.Start()
	m.logger.Info("storage monitor started", "schedule", m.schedule)

	<-ctx.Done()
	<-m.cron.Stop().Done()
	return nil
}
