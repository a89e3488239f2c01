package metrics

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of events kept when none is configured.
const DefaultCapacity = 1000

// Aggregator keeps the most recent events in a fixed-size ring buffer and
// computes windowed statistics over them.
type Aggregator struct {
	mu       sync.RWMutex
	events   []Event
	head     int
	size     int
	capacity int
	now      func() time.Time
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// NewAggregator creates an aggregator holding at most capacity events.
func NewAggregator(capacity int, opts ...Option) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	a := &Aggregator{
		events:   make([]Event, capacity),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Record appends an event, evicting the oldest one when full.
func (a *Aggregator) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	idx := (a.head + a.size) % a.capacity
	a.events[idx] = event
	if a.size < a.capacity {
		a.size++
		return
	}
	a.head = (a.head + 1) % a.capacity
}

// Len returns the number of retained events
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}

// Capacity returns the ring size
func (a *Aggregator) Capacity() int {
	return a.capacity
}

// Clear drops all events
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = make([]Event, a.capacity)
	a.head = 0
	a.size = 0
}

// Snapshot returns the retained events oldest first.
func (a *Aggregator) Snapshot() []Event {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() []Event {
	out := make([]Event, a.size)
	for i := 0; i < a.size; i++ {
		out[i] = a.events[(a.head+i)%a.capacity]
	}
	return out
}

// Stats computes statistics over events inside window.
//
// Success and error rates are taken over outcome events (success + error),
// the average response time over request events carrying a duration.
func (a *Aggregator) Stats(window Window) Stats {
	a.mu.RLock()
	events := a.snapshotLocked()
	a.mu.RUnlock()

	var cutoff time.Time
	if span := window.Span(); span > 0 {
		cutoff = a.now().Add(-span)
	}

	stats := Stats{
		Window:           window,
		PerProviderUsage: make(map[string]int),
	}

	var (
		successes     int
		failures      int
		timedRequests int
		totalMs       int64
	)

	for _, e := range events {
		if !cutoff.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		stats.EventCount++

		switch e.Kind {
		case KindRequest:
			stats.TotalRequests++
			if e.DurationMs != nil {
				timedRequests++
				totalMs += *e.DurationMs
			}
		case KindSuccess:
			successes++
		case KindError:
			failures++
		}

		if e.Tokens != nil {
			stats.TotalTokens += e.Tokens.Total
		}
		if e.Provider != "" {
			stats.PerProviderUsage[e.Provider]++
		}
	}

	if outcomes := successes + failures; outcomes > 0 {
		stats.SuccessRate = float64(successes) / float64(outcomes)
		stats.ErrorRate = float64(failures) / float64(outcomes)
	}
	if timedRequests > 0 {
		stats.AvgResponseTimeMs = float64(totalMs) / float64(timedRequests)
	}

	return stats
}
