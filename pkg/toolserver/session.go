package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// rpcCallError is a JSON-RPC error object returned by the server
type rpcCallError struct {
	Method  string
	Code    int
	Message string
}

func (e *rpcCallError) Error() string {
	return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

// session is one websocket connection with its pending request table
type session struct {
	conn   *websocket.Conn
	logger zerolog.Logger
	ids    *atomic.Int64
	onDrop func(*session, error)

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan *rpcResponse

	once sync.Once
	done chan struct{}
	err  error
}

func newSession(conn *websocket.Conn, logger zerolog.Logger, ids *atomic.Int64, onDrop func(*session, error)) *session {
	return &session{
		conn:    conn,
		logger:  logger,
		ids:     ids,
		onDrop:  onDrop,
		pending: make(map[int64]chan *rpcResponse),
		done:    make(chan struct{}),
	}
}

func (s *session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// fail closes the connection once and wakes every pending caller
func (s *session) fail(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.pending = make(map[int64]chan *rpcResponse)
		s.mu.Unlock()

		close(s.done)
		s.conn.Close()

		if s.onDrop != nil {
			s.onDrop(s, err)
		}
	})
}

func (s *session) cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(s.err, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrNotConnected, s.err)
}

func (s *session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			s.logger.Warn().Err(err).Msg("Discarding malformed tool server frame")
			continue
		}

		id, ok := resp.requestID()
		if !ok {
			s.logger.Debug().Str("method", resp.Method).Msg("Tool server notification")
			continue
		}

		s.mu.Lock()
		ch, found := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()

		if !found {
			s.logger.Debug().Int64("id", id).Msg("Response for unknown request id")
			continue
		}
		ch <- &resp
	}
}

func (s *session) write(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", req.Method, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.fail(err)
		return s.cause()
	}
	return nil
}

func (s *session) notify(method string, params any) error {
	return s.write(rpcRequest{JSONRPC: jsonRPCVersion, Method: method, Params: params})
}

func (s *session) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := s.ids.Add(1)
	ch := make(chan *rpcResponse, 1)

	s.mu.Lock()
	if s.isDone() {
		s.mu.Unlock()
		return nil, s.cause()
	}
	s.pending[id] = ch
	s.mu.Unlock()

	forget := func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}

	if err := s.write(rpcRequest{JSONRPC: jsonRPCVersion, Method: method, Params: params, ID: &id}); err != nil {
		forget()
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, &rpcCallError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	case <-s.done:
		return nil, s.cause()
	case <-ctx.Done():
		forget()
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}
