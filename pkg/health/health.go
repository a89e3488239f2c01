// Package health reports service health: tool-server reachability, model
// tiers and the score derived from recent metrics. A Monitor runs the check
// on a cron schedule and logs the outcome.
package health

import (
	"context"
	"encoding/json"
	"time"

	"github.com/harun/knowhub/pkg/metrics"
	"github.com/harun/knowhub/pkg/resilience"
	"github.com/harun/knowhub/pkg/toolserver"
)

// Status values of a Report
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Pinger reaches the tool server
type Pinger interface {
	URL() string
	Connected() bool
	Ping(ctx context.Context, includeDetails bool) (*toolserver.ToolResponse, error)
}

// StatsSource computes windowed statistics
type StatsSource interface {
	Stats(window metrics.Window) metrics.Stats
}

// ToolServerStatus is the outcome of one tool-server ping
type ToolServerStatus struct {
	URL       string          `json:"url"`
	Connected bool            `json:"connected"`
	LatencyMs int64           `json:"latencyMs"`
	Details   json.RawMessage `json:"details,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// TierStatus describes one configured model tier
type TierStatus struct {
	Name     string              `json:"name"`
	Provider string              `json:"provider"`
	Model    string              `json:"model"`
	Role     resilience.TierRole `json:"role"`
}

// Report is the result of Check
type Report struct {
	Status     string               `json:"status"`
	Timestamp  time.Time            `json:"timestamp"`
	ToolServer ToolServerStatus     `json:"toolServer"`
	Tiers      []TierStatus         `json:"tiers"`
	Metrics    metrics.HealthReport `json:"metrics"`
	Stats      metrics.Stats        `json:"stats"`
}

// Checker assembles health reports
type Checker struct {
	pinger  Pinger
	stats   StatsSource
	tiers   []resilience.Tier
	timeout time.Duration
	now     func() time.Time
}

// CheckerOption configures a Checker
type CheckerOption func(*Checker)

// WithTimeout bounds the tool-server ping
func WithTimeout(d time.Duration) CheckerOption {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) CheckerOption {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

// NewChecker creates a Checker. stats may be nil.
func NewChecker(pinger Pinger, stats StatsSource, tiers []resilience.Tier, opts ...CheckerOption) *Checker {
	c := &Checker{
		pinger:  pinger,
		stats:   stats,
		tiers:   append([]resilience.Tier(nil), tiers...),
		timeout: 5 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check pings the tool server and scores the last hour of metrics. The
// status is degraded when the tool server is unreachable or the score is
// critical.
func (c *Checker) Check(ctx context.Context, includeDetails bool) Report {
	report := Report{
		Status:    StatusOK,
		Timestamp: c.now().UTC(),
		Tiers:     make([]TierStatus, 0, len(c.tiers)),
	}

	for _, t := range c.tiers {
		report.Tiers = append(report.Tiers, TierStatus{Name: t.Name, Provider: t.Provider, Model: t.Model, Role: t.Role})
	}

	report.ToolServer = c.ping(ctx, includeDetails)
	if report.ToolServer.Error != "" {
		report.Status = StatusDegraded
	}

	if c.stats != nil {
		report.Stats = c.stats.Stats(metrics.WindowRecent)
		report.Metrics = metrics.Health(report.Stats)
		if report.Metrics.Status == metrics.StatusCritical {
			report.Status = StatusDegraded
		}
	}
	return report
}

func (c *Checker) ping(ctx context.Context, includeDetails bool) ToolServerStatus {
	status := ToolServerStatus{URL: c.pinger.URL()}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := c.now()
	resp, err := c.pinger.Ping(ctx, includeDetails)
	status.LatencyMs = c.now().Sub(started).Milliseconds()
	status.Connected = c.pinger.Connected()

	if err != nil {
		status.Error = err.Error()
		return status
	}
	if includeDetails {
		status.Details = resp.Data
	}
	return status
}
