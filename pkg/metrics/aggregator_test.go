package metrics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAggregatorEviction(t *testing.T) {
	t.Run("should keep only the most recent events", func(t *testing.T) {
		agg := NewAggregator(3)
		for i := 0; i < 5; i++ {
			agg.Record(Event{Kind: KindRequest, Metadata: map[string]any{"i": i}})
		}

		snap := agg.Snapshot()
		require.Len(t, snap, 3)
		assert.Equal(t, 2, snap[0].Metadata["i"])
		assert.Equal(t, 3, snap[1].Metadata["i"])
		assert.Equal(t, 4, snap[2].Metadata["i"])
	})

	t.Run("should hold exactly capacity after 1001 events", func(t *testing.T) {
		agg := NewAggregator(0)
		for i := 0; i < 1001; i++ {
			agg.Record(Event{Kind: KindRequest, Metadata: map[string]any{"i": i}})
		}

		assert.Equal(t, DefaultCapacity, agg.Len())
		snap := agg.Snapshot()
		assert.Equal(t, 1, snap[0].Metadata["i"])
		assert.Equal(t, 1000, snap[len(snap)-1].Metadata["i"])
	})

	t.Run("should compute stats over retained events only after 1200 inserts", func(t *testing.T) {
		agg := NewAggregator(0)
		for i := 0; i < 1200; i++ {
			if i < 200 {
				agg.Record(Event{Kind: KindError, Provider: "openai", ErrorText: "evicted"})
				continue
			}
			agg.Record(Event{Kind: KindSuccess, Provider: "google", Tokens: &TokenCounts{Total: 1}})
		}

		stats := agg.Stats(WindowAll)
		assert.Equal(t, DefaultCapacity, stats.EventCount)
		assert.InDelta(t, 1.0, stats.SuccessRate, 1e-9)
		assert.Zero(t, stats.ErrorRate)
		assert.Equal(t, 1000, stats.TotalTokens)
		assert.Equal(t, map[string]int{"google": 1000}, stats.PerProviderUsage)
	})

	t.Run("should stamp events without timestamp", func(t *testing.T) {
		now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		agg := NewAggregator(10, WithClock(fixedClock(now)))
		agg.Record(Event{Kind: KindSuccess})

		assert.Equal(t, now, agg.Snapshot()[0].Timestamp)
	})

	t.Run("should clear all events", func(t *testing.T) {
		agg := NewAggregator(10)
		agg.Record(Event{Kind: KindRequest})
		agg.Clear()

		assert.Equal(t, 0, agg.Len())
		assert.Empty(t, agg.Snapshot())
	})
}

func TestAggregatorStats(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should compute rates over outcome events", func(t *testing.T) {
		agg := NewAggregator(100, WithClock(fixedClock(now)))
		agg.Record(Event{Kind: KindRequest, DurationMs: Duration(100 * time.Millisecond)})
		agg.Record(Event{Kind: KindRequest, DurationMs: Duration(300 * time.Millisecond)})
		agg.Record(Event{Kind: KindRequest})
		agg.Record(Event{Kind: KindSuccess, Provider: "google", Tokens: &TokenCounts{Total: 40}})
		agg.Record(Event{Kind: KindSuccess, Provider: "google", Tokens: &TokenCounts{Total: 60}})
		agg.Record(Event{Kind: KindSuccess, Provider: "anthropic"})
		agg.Record(Event{Kind: KindError, Provider: "openai", ErrorText: "boom"})

		stats := agg.Stats(WindowAll)
		assert.Equal(t, 3, stats.TotalRequests)
		assert.InDelta(t, 0.75, stats.SuccessRate, 1e-9)
		assert.InDelta(t, 0.25, stats.ErrorRate, 1e-9)
		assert.InDelta(t, 200.0, stats.AvgResponseTimeMs, 1e-9)
		assert.Equal(t, 100, stats.TotalTokens)
		assert.Equal(t, map[string]int{"google": 2, "anthropic": 1, "openai": 1}, stats.PerProviderUsage)
		assert.Equal(t, 7, stats.EventCount)
	})

	t.Run("should filter by window", func(t *testing.T) {
		agg := NewAggregator(100, WithClock(fixedClock(now)))
		agg.Record(Event{Kind: KindRequest, Timestamp: now.Add(-30 * time.Minute)})
		agg.Record(Event{Kind: KindRequest, Timestamp: now.Add(-2 * time.Hour)})
		agg.Record(Event{Kind: KindRequest, Timestamp: now.Add(-48 * time.Hour)})

		assert.Equal(t, 1, agg.Stats(WindowRecent).TotalRequests)
		assert.Equal(t, 2, agg.Stats(WindowDay).TotalRequests)
		assert.Equal(t, 3, agg.Stats(WindowAll).TotalRequests)
	})

	t.Run("should return zero rates when empty", func(t *testing.T) {
		agg := NewAggregator(10)
		stats := agg.Stats(WindowRecent)

		assert.Equal(t, 0, stats.TotalRequests)
		assert.Zero(t, stats.SuccessRate)
		assert.Zero(t, stats.ErrorRate)
		assert.Zero(t, stats.AvgResponseTimeMs)
		assert.NotNil(t, stats.PerProviderUsage)
	})
}

func TestAggregatorConcurrentRecord(t *testing.T) {
	agg := NewAggregator(50)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				agg.Record(Event{Kind: KindToolCall, Tool: fmt.Sprintf("t%d", g)})
				_ = agg.Stats(WindowAll)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 50, agg.Len())
}

func TestParseWindow(t *testing.T) {
	cases := map[string]Window{
		"":       WindowRecent,
		"1h":     WindowRecent,
		"recent": WindowRecent,
		"24h":    WindowDay,
		"day":    WindowDay,
		"all":    WindowAll,
	}
	for in, want := range cases {
		got, err := ParseWindow(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseWindow("7d")
	assert.Error(t, err)
}

func TestMultiRecorder(t *testing.T) {
	a := NewAggregator(10)
	var seen []EventKind
	multi := MultiRecorder{a, nil, RecorderFunc(func(e Event) { seen = append(seen, e.Kind) })}

	multi.Record(Event{Kind: KindAgentCall})

	assert.Equal(t, 1, a.Len())
	assert.Equal(t, []EventKind{KindAgentCall}, seen)
}
