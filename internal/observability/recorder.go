package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harun/knowhub/pkg/metrics"
)

const namespace = "knowhub"

// Recorder exports metrics events as Prometheus series. It implements
// metrics.Recorder so it can sit next to the in-memory aggregator.
type Recorder struct {
	registry *prometheus.Registry

	eventsTotal      *prometheus.CounterVec
	eventDuration    *prometheus.HistogramVec
	tokensTotal      *prometheus.CounterVec
	toolCallsTotal   *prometheus.CounterVec
	agentCallsTotal  *prometheus.CounterVec
	connectionStatus prometheus.Gauge
}

// NewRecorder creates a recorder with its own registry, including Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Metrics events by kind, provider and status.",
			},
			[]string{"kind", "provider", "status"},
		),
		eventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "event_duration_seconds",
				Help:      "Duration of timed events in seconds by kind.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens consumed by provider and direction.",
			},
			[]string{"provider", "direction"},
		),
		toolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Remote tool calls by tool and status.",
			},
			[]string{"tool", "status"},
		),
		agentCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_calls_total",
				Help:      "Delegate agent runs by agent and status.",
			},
			[]string{"agent", "status"},
		),
		connectionStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tool_server_connected",
				Help:      "1 when the tool server connection is up.",
			},
		),
	}

	registry.MustRegister(
		r.eventsTotal,
		r.eventDuration,
		r.tokensTotal,
		r.toolCallsTotal,
		r.agentCallsTotal,
		r.connectionStatus,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Record implements metrics.Recorder
func (r *Recorder) Record(e metrics.Event) {
	status := "success"
	if e.Kind == metrics.KindError || e.ErrorText != "" {
		status = "error"
	}

	r.eventsTotal.WithLabelValues(string(e.Kind), e.Provider, status).Inc()

	if e.DurationMs != nil {
		r.eventDuration.WithLabelValues(string(e.Kind)).Observe(float64(*e.DurationMs) / 1000)
	}

	if e.Tokens != nil {
		provider := e.Provider
		if provider == "" {
			provider = "unknown"
		}
		r.tokensTotal.WithLabelValues(provider, "prompt").Add(float64(e.Tokens.Prompt))
		r.tokensTotal.WithLabelValues(provider, "completion").Add(float64(e.Tokens.Completion))
	}

	switch e.Kind {
	case metrics.KindToolCall:
		r.toolCallsTotal.WithLabelValues(e.Tool, status).Inc()
	case metrics.KindAgentCall:
		r.agentCallsTotal.WithLabelValues(e.Agent, status).Inc()
	}
}

// SetToolServerConnected updates the connection gauge
func (r *Recorder) SetToolServerConnected(up bool) {
	if up {
		r.connectionStatus.Set(1)
		return
	}
	r.connectionStatus.Set(0)
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
