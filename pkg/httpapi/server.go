// Package httpapi exposes the orchestrator over HTTP: chat, health,
// monitoring metrics and a tool-server ping.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/knowhub/internal/tracing"
	"github.com/harun/knowhub/pkg/health"
	"github.com/harun/knowhub/pkg/message"
	"github.com/harun/knowhub/pkg/metrics"
	"github.com/harun/knowhub/pkg/orchestrator"
	"github.com/harun/knowhub/pkg/toolserver"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// Orchestrator answers chat requests
type Orchestrator interface {
	ProcessRequest(ctx context.Context, history []message.Message, conversationID string) (*orchestrator.Response, error)
}

// HealthChecker builds health reports
type HealthChecker interface {
	Check(ctx context.Context, includeDetails bool) health.Report
}

// StatsSource computes windowed statistics
type StatsSource interface {
	Stats(window metrics.Window) metrics.Stats
}

// Pinger reaches the tool server
type Pinger interface {
	Ping(ctx context.Context, includeDetails bool) (*toolserver.ToolResponse, error)
	ListTools(ctx context.Context) ([]toolserver.ToolInfo, error)
}

// Options configures the Server
type Options struct {
	Addr               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	RateLimitPerMinute int
	MaxBodyBytes       int64
}

// Deps are the collaborators behind the routes. Metrics is optional and
// serves /metrics when set.
type Deps struct {
	Orchestrator Orchestrator
	Health       HealthChecker
	Stats        StatsSource
	ToolServer   Pinger
	Metrics      http.Handler
	Logger       zerolog.Logger
}

// Server is the HTTP API server
type Server struct {
	options     Options
	deps        Deps
	server      *http.Server
	handler     http.Handler
	rateLimiter *RateLimiter
	logger      zerolog.Logger
	now         func() time.Time

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer validates deps and builds the routes
func NewServer(options Options, deps Deps) (*Server, error) {
	if options.Addr == "" {
		options.Addr = ":8080"
	}
	if options.MaxBodyBytes <= 0 {
		options.MaxBodyBytes = 1 << 20
	}

	switch {
	case deps.Orchestrator == nil:
		return nil, errors.New("orchestrator is required")
	case deps.Health == nil:
		return nil, errors.New("health checker is required")
	case deps.Stats == nil:
		return nil, errors.New("stats source is required")
	case deps.ToolServer == nil:
		return nil, errors.New("tool server is required")
	}

	s := &Server{
		options:     options,
		deps:        deps,
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute),
		logger:      deps.Logger.With().Str("component", "httpapi").Logger(),
		now:         time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/monitoring/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/mcp-ping", s.handlePing)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	s.handler = s.track(mux)

	s.server = &http.Server{
		Addr:         options.Addr,
		Handler:      s.handler,
		ReadTimeout:  options.ReadTimeout,
		WriteTimeout: options.WriteTimeout,
	}
	return s, nil
}

// Handler returns the routed handler with request tracking
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.options.Addr
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.options.Addr).Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop refuses new requests, waits for in-flight ones until ctx ends and
// shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down HTTP server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.rateLimiter.Stop()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

// track assigns the request id, counts in-flight requests and logs the outcome
func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := s.now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = tracing.NewRequestID(started)
		}
		w.Header().Set(RequestIDHeader, requestID)
		r = r.WithContext(tracing.WithRequestID(r.Context(), requestID))

		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			s.writeError(w, r, http.StatusServiceUnavailable, "unavailable", errors.New("server is shutting down"))
			return
		}
		s.inFlightReqs.Add(1)
		s.shutdownMu.RUnlock()
		defer s.inFlightReqs.Done()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info().
			Str("requestId", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", clientIP(r)).
			Int("status", rec.status).
			Int64("duration", s.now().Sub(started).Milliseconds()).
			Msg("HTTP request")
	})
}

// statusRecorder keeps the status code and still exposes Flush for streaming
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
