package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/knowhub/internal/tracing"
)

const tracerName = "knowhub/commandqueue"

// ErrClosed is returned by Enqueue after Close
var ErrClosed = errors.New("command queue is closed")

// Task is one unit of work. ctx is cancelled when the caller's context ends
// or the queue is closed.
type Task func(ctx context.Context) (any, error)

// EventType identifies a queue event
type EventType string

const (
	EventEnqueued  EventType = "enqueued"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
)

// Event describes a task transition
type Event struct {
	Type     EventType
	Lane     string
	TaskID   string
	Queued   int
	Waited   time.Duration
	Duration time.Duration
	Err      error
}

// LaneStats is a point-in-time view of a lane
type LaneStats struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

type ticket struct {
	id    string
	ready chan struct{}
}

type laneState struct {
	concurrency int
	pinned      bool
	running     int
	waiting     []*ticket
}

// Queue provides lane-based task serialization with concurrency control
type Queue struct {
	mu      sync.Mutex
	lanes   map[string]*laneState
	seq     int64
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  zerolog.Logger
	warn    time.Duration
	onEvent func(Event)
}

// Option configures a Queue
type Option func(*Queue)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithWarnAfter logs a warning when a task waits longer than d
func WithWarnAfter(d time.Duration) Option {
	return func(q *Queue) {
		q.warn = d
	}
}

// WithEventHandler receives every task transition synchronously
func WithEventHandler(fn func(Event)) Option {
	return func(q *Queue) {
		q.onEvent = fn
	}
}

// New creates an empty queue
func New(opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetConcurrency fixes the number of tasks a lane may run at once. The
// lane is kept even while idle.
func (q *Queue) SetConcurrency(lane string, n int) {
	if n < 1 {
		n = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	ls := q.laneLocked(lane)
	ls.concurrency = n
	ls.pinned = true
	for ls.running < ls.concurrency && len(ls.waiting) > 0 {
		q.grantLocked(ls)
	}
}

// Enqueue runs task in lane once every earlier task of the lane has
// started and a slot is free, and returns its result. A task whose ctx
// ends while it is still queued is dropped with ctx.Err().
func (q *Queue) Enqueue(ctx context.Context, lane string, task Task) (any, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	q.wg.Add(1)
	q.mu.Unlock()
	defer q.wg.Done()

	id, waited, err := q.acquire(ctx, lane)
	if err != nil {
		return nil, err
	}
	defer q.release(lane)
	return q.run(ctx, lane, id, waited, task)
}

func (q *Queue) acquire(ctx context.Context, lane string) (string, time.Duration, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", 0, ErrClosed
	}
	q.seq++
	id := fmt.Sprintf("%s-%d", lane, q.seq)
	ls := q.laneLocked(lane)

	if ls.running < ls.concurrency && len(ls.waiting) == 0 {
		ls.running++
		q.mu.Unlock()
		return id, 0, nil
	}

	t := &ticket{id: id, ready: make(chan struct{})}
	ls.waiting = append(ls.waiting, t)
	queued := len(ls.waiting)
	q.mu.Unlock()

	q.emit(Event{Type: EventEnqueued, Lane: lane, TaskID: id, Queued: queued})
	logger := tracing.LoggerFromContext(ctx, q.logger)
	logger.Debug().
		Str("lane", lane).
		Str("taskId", id).
		Int("queued", queued).
		Msg("Task queued")

	started := time.Now()
	var warn <-chan time.Time
	if q.warn > 0 {
		timer := time.NewTimer(q.warn)
		defer timer.Stop()
		warn = timer.C
	}

	for {
		select {
		case <-t.ready:
			return id, time.Since(started), nil
		case <-warn:
			warn = nil
			logger.Warn().
				Str("lane", lane).
				Str("taskId", id).
				Dur("waited", time.Since(started)).
				Msg("Task waiting longer than expected")
		case <-ctx.Done():
			return "", 0, q.abandon(lane, t, ctx.Err())
		case <-q.ctx.Done():
			return "", 0, q.abandon(lane, t, ErrClosed)
		}
	}
}

// abandon removes a waiting ticket. When the slot was granted in the
// meantime it is handed on.
func (q *Queue) abandon(lane string, t *ticket, cause error) error {
	q.mu.Lock()
	ls := q.lanes[lane]
	for i, w := range ls.waiting {
		if w == t {
			ls.waiting = append(ls.waiting[:i], ls.waiting[i+1:]...)
			q.mu.Unlock()
			return cause
		}
	}
	q.mu.Unlock()

	q.release(lane)
	return cause
}

func (q *Queue) release(lane string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ls := q.lanes[lane]
	ls.running--
	if len(ls.waiting) > 0 {
		// waiters of a closed queue abandon their tickets themselves
		if !q.closed {
			q.grantLocked(ls)
		}
		return
	}
	if ls.running == 0 && !ls.pinned {
		delete(q.lanes, lane)
	}
}

// grantLocked hands a slot to the oldest waiting ticket
func (q *Queue) grantLocked(ls *laneState) {
	t := ls.waiting[0]
	ls.waiting = ls.waiting[1:]
	ls.running++
	close(t.ready)
}

func (q *Queue) laneLocked(lane string) *laneState {
	ls, ok := q.lanes[lane]
	if !ok {
		ls = &laneState{concurrency: 1}
		q.lanes[lane] = ls
	}
	return ls
}

func (q *Queue) run(ctx context.Context, lane, id string, waited time.Duration, task Task) (value any, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "commandqueue.execute",
		attribute.String("lane", lane),
		attribute.String("task_id", id),
	)
	defer func() { tracing.EndSpan(span, err) }()

	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	q.emit(Event{Type: EventStarted, Lane: lane, TaskID: id, Waited: waited})
	started := time.Now()
	value, err = task(runCtx)
	elapsed := time.Since(started)

	logger := tracing.LoggerFromContext(ctx, q.logger)
	if err != nil {
		logger.Debug().Err(err).Str("lane", lane).Str("taskId", id).Dur("duration", elapsed).Msg("Task failed")
	} else {
		logger.Debug().Str("lane", lane).Str("taskId", id).Dur("duration", elapsed).Msg("Task completed")
	}
	q.emit(Event{Type: EventCompleted, Lane: lane, TaskID: id, Waited: waited, Duration: elapsed, Err: err})
	return value, err
}

func (q *Queue) emit(ev Event) {
	if q.onEvent != nil {
		q.onEvent(ev)
	}
}

// Stats returns queued and running counts of every known lane
func (q *Queue) Stats() map[string]LaneStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]LaneStats, len(q.lanes))
	for name, ls := range q.lanes {
		out[name] = LaneStats{Queued: len(ls.waiting), Running: ls.running}
	}
	return out
}

// Close rejects new tasks, drops queued ones, cancels running ones and
// waits for them until ctx ends.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
