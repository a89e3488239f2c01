package health

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs the check every five minutes
const DefaultSchedule = "@every 5m"

// Monitor runs Check on a cron schedule and logs each report
type Monitor struct {
	checker  *Checker
	cron     *cron.Cron
	schedule string
	logger   zerolog.Logger
	onReport func(Report)

	mu   sync.Mutex
	last *Report
}

// MonitorOption configures a Monitor
type MonitorOption func(*Monitor)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithReportHook is called after every scheduled check
func WithReportHook(fn func(Report)) MonitorOption {
	return func(m *Monitor) {
		m.onReport = fn
	}
}

// NewMonitor validates schedule and registers the check. Standard five
// field expressions and descriptors such as "@every 1m" are accepted.
func NewMonitor(checker *Checker, schedule string, opts ...MonitorOption) (*Monitor, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	m := &Monitor{
		checker:  checker,
		schedule: schedule,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	m.cron = cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := m.cron.AddFunc(schedule, m.run); err != nil {
		return nil, fmt.Errorf("invalid health schedule %q: %w", schedule, err)
	}
	return m, nil
}

// Start begins the schedule
func (m *Monitor) Start() {
	m.logger.Info().Str("schedule", m.schedule).Msg("Health monitor started")
	m.cron.Start()
}

// Stop halts the schedule and waits for a running check
func (m *Monitor) Stop(ctx context.Context) {
	done := m.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	m.logger.Info().Msg("Health monitor stopped")
}

// Last returns the most recent scheduled report, nil before the first run
func (m *Monitor) Last() *Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Monitor) run() {
	report := m.checker.Check(context.Background(), false)

	m.mu.Lock()
	m.last = &report
	m.mu.Unlock()

	m.log(report)
	if m.onReport != nil {
		m.onReport(report)
	}
}

func (m *Monitor) log(report Report) {
	var ev *zerolog.Event
	switch {
	case report.Status != StatusOK:
		ev = m.logger.Warn()
	default:
		ev = m.logger.Info()
	}
	ev.Str("status", report.Status).
		Bool("toolServerConnected", report.ToolServer.Connected).
		Int64("toolServerLatencyMs", report.ToolServer.LatencyMs).
		Int("score", report.Metrics.Score).
		Str("health", string(report.Metrics.Status)).
		Strs("recommendations", report.Metrics.Recommendations)
	if report.ToolServer.Error != "" {
		ev.Str("toolServerError", report.ToolServer.Error)
	}
	ev.Msg("Health check")
}
