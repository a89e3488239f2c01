package orchestrator

import (
	"context"
	"sync"

	"github.com/harun/knowhub/pkg/loop"
)

const streamBuffer = 64

// Stream is a running streaming request. Events is closed when the loop
// ends; Wait then returns the final result.
type Stream struct {
	events chan loop.Event
	done   chan struct{}
	cancel context.CancelFunc
	ctx    context.Context

	once   sync.Once
	result *Result
	err    error
}

func newStream(ctx context.Context) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	return &Stream{
		events: make(chan loop.Event, streamBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
		ctx:    ctx,
	}
}

// Events delivers loop events in order
func (s *Stream) Events() <-chan loop.Event {
	return s.events
}

// emit blocks until the event is taken or the stream is stopped
func (s *Stream) emit(ev loop.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Stream) finish(result *Result, err error) {
	s.once.Do(func() {
		s.result, s.err = result, err
		close(s.events)
		close(s.done)
		s.cancel()
	})
}

// Wait blocks until the loop ends. Events not yet received are discarded.
func (s *Stream) Wait() (*Result, error) {
	for {
		select {
		case <-s.done:
			return s.result, s.err
		case _, ok := <-s.events:
			if !ok {
				<-s.done
				return s.result, s.err
			}
		}
	}
}

// Stop cancels further steps. Tool calls already applied stay applied.
func (s *Stream) Stop() {
	s.cancel()
}

// Done is closed when the loop has ended
func (s *Stream) Done() <-chan struct{} {
	return s.done
}
