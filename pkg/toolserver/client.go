package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/knowhub/internal/tracing"
	"github.com/harun/knowhub/pkg/metrics"
)

var (
	// ErrNotConnected is returned when the connection dropped while a call was in flight
	ErrNotConnected = errors.New("tool server not connected")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("tool server client closed")
	// ErrTimeout is returned when the client's own connect or call timeout
	// fires while the caller's context is still live
	ErrTimeout = errors.New("tool server timed out")
)

// Caller is the part of the client consumed by toolsets
type Caller interface {
	CallTool(ctx context.Context, name string, args any) (*ToolResponse, error)
}

// ConnectError wraps a failed dial or handshake
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to tool server %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Config configures the client
type Config struct {
	URL            string
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	Header         http.Header
	ClientName     string
	ClientVersion  string
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRecorder sets the metrics sink for tool_call events
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithStateHook is called with true after a handshake and false when the
// connection drops.
func WithStateHook(fn func(connected bool)) Option {
	return func(c *Client) {
		c.onState = fn
	}
}

// WithDialer overrides the websocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// Client is a shared JSON-RPC 2.0 connection to the remote tool server.
// It connects lazily and is safe for concurrent use.
type Client struct {
	cfg      Config
	logger   zerolog.Logger
	recorder metrics.Recorder
	dialer   *websocket.Dialer
	onState  func(bool)

	nextID atomic.Int64

	mu         sync.Mutex
	sess       *session
	connecting chan struct{}
	connectErr error
	closed     bool
}

// New creates a client. No connection is made until the first call.
func New(cfg Config, opts ...Option) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "knowhub"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "1.0.0"
	}

	c := &Client{
		cfg:      cfg,
		logger:   zerolog.Nop(),
		recorder: metrics.NopRecorder{},
		dialer:   websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the configured server address
func (c *Client) URL() string {
	return c.cfg.URL
}

// Connected reports whether a live connection exists
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && !c.sess.isDone()
}

// Connect establishes the connection eagerly
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.session(ctx)
	return err
}

// session returns the live session, connecting if needed. Concurrent
// callers share one connect attempt and all observe its outcome.
func (c *Client) session(ctx context.Context) (*session, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		if c.sess != nil && !c.sess.isDone() {
			s := c.sess
			c.mu.Unlock()
			return s, nil
		}
		if wait := c.connecting; wait != nil {
			c.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			c.mu.Lock()
			err := c.connectErr
			c.mu.Unlock()
			if err != nil {
				return nil, err
			}
			continue
		}

		wait := make(chan struct{})
		c.connecting = wait
		c.sess = nil
		c.mu.Unlock()

		s, err := c.connect(ctx)

		c.mu.Lock()
		stale := err == nil && c.closed
		if stale {
			err = ErrClosed
		} else if err == nil {
			c.sess = s
		}
		c.connecting = nil
		c.connectErr = err
		c.mu.Unlock()
		close(wait)

		if stale {
			s.fail(ErrClosed)
		}

		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (c *Client) connect(ctx context.Context) (*session, error) {
	if c.cfg.URL == "" {
		return nil, &ConnectError{URL: c.cfg.URL, Err: errors.New("no tool server url configured")}
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	logger := tracing.LoggerFromContext(ctx, c.logger)
	logger.Debug().Str("url", c.cfg.URL).Msg("Connecting to tool server")

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, &ConnectError{URL: c.cfg.URL, Err: ownTimeout(parent, ctx, err)}
	}

	s := newSession(conn, c.logger, &c.nextID, c.handleDrop)
	go s.readLoop()

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    c.cfg.ClientName,
			"version": c.cfg.ClientVersion,
		},
	}
	if _, err := s.call(ctx, "initialize", params); err != nil {
		s.fail(err)
		return nil, &ConnectError{URL: c.cfg.URL, Err: fmt.Errorf("initialize: %w", ownTimeout(parent, ctx, err))}
	}
	if err := s.notify("notifications/initialized", nil); err != nil {
		s.fail(err)
		return nil, &ConnectError{URL: c.cfg.URL, Err: err}
	}

	logger.Info().Str("url", c.cfg.URL).Msg("Connected to tool server")
	if c.onState != nil {
		c.onState(true)
	}
	return s, nil
}

func (c *Client) handleDrop(s *session, err error) {
	c.mu.Lock()
	wasCurrent := c.sess == s
	if wasCurrent {
		c.sess = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if !wasCurrent {
		return
	}
	if !closed {
		c.logger.Warn().Err(err).Str("url", c.cfg.URL).Msg("Tool server connection lost")
	}
	if c.onState != nil {
		c.onState(false)
	}
}

// request performs one JSON-RPC round trip with the call timeout applied
func (c *Client) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	raw, err := s.call(callCtx, method, params)
	if err != nil {
		return nil, ownTimeout(ctx, callCtx, err)
	}
	return raw, nil
}

// ownTimeout replaces a deadline error with ErrTimeout when it came from
// bounded rather than from the caller's parent context.
func ownTimeout(parent, bounded context.Context, err error) error {
	if parent.Err() != nil {
		return err
	}
	deadline, ok := bounded.Deadline()
	if !ok || time.Now().Before(deadline) {
		return err
	}
	if pd, ok := parent.Deadline(); ok && !pd.After(deadline) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout
	}
	// dial errors may surface as a net timeout rather than the ctx error
	return fmt.Errorf("%w: %v", ErrTimeout, err)
}

// Close drops the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.sess
	c.mu.Unlock()

	if s != nil {
		s.fail(ErrClosed)
	}
	return nil
}
