package syncrun

import (
	"testing"
	"time"

	"github.com/bmizerany/assert"
)

func streamsOf(states ...StreamState) []*Stream {
	streams := make([]*Stream, 0, len(states))
	for _, state := range states {
		streams = append(streams, &Stream{State: state})
	}
	return streams
}

func TestDeriveRunState(t *testing.T) {
	cases := []struct {
		name    string
		current RunState
		streams []*Stream
		want    RunState
	}{
		{"no streams keeps current", RunStateProcessing, nil, RunStateProcessing},
		{"no streams keeps error", RunStateError, nil, RunStateError},
		{"pending stream keeps current", RunStateDelayed, streamsOf(StreamStateProcessed, StreamStatePending), RunStateDelayed},
		{"processing stream keeps current", RunStateProcessing, streamsOf(StreamStateProcessing), RunStateProcessing},
		{"all processed", RunStateProcessing, streamsOf(StreamStateProcessed, StreamStateProcessed), RunStateProcessed},
		{
			"retryable error keeps current",
			RunStateProcessing,
			[]*Stream{{State: StreamStateProcessed}, {State: StreamStateError, Retries: 2}},
			RunStateProcessing,
		},
		{
			"exhausted error wins",
			RunStateProcessing,
			[]*Stream{{State: StreamStateProcessed}, {State: StreamStateError, Retries: 5}},
			RunStateError,
		},
		{
			"exhausted beats retryable",
			RunStateProcessing,
			[]*Stream{{State: StreamStateError, Retries: 1}, {State: StreamStateError, Retries: 7}},
			RunStateError,
		},
	}
	for _, c := range cases {
		got := DeriveRunState(c.current, c.streams, 5)
		assert.Equal(t, c.want, got, c.name)
	}
}

func TestStreamEligible(t *testing.T) {
	now := time.Now().UTC()
	backoff := 5 * time.Minute

	pending := &Stream{State: StreamStatePending, UpdatedAt: now}
	assert.Equal(t, true, streamEligible(pending, now, 5, backoff))

	processed := &Stream{State: StreamStateProcessed, UpdatedAt: now}
	assert.Equal(t, false, streamEligible(processed, now, 5, backoff))

	processing := &Stream{State: StreamStateProcessing, UpdatedAt: now}
	assert.Equal(t, false, streamEligible(processing, now, 5, backoff))

	// one prior failure, still inside its backoff window
	fresh := &Stream{State: StreamStateError, Retries: 1, UpdatedAt: now.Add(-time.Minute)}
	assert.Equal(t, false, streamEligible(fresh, now, 5, backoff))

	// one prior failure, window elapsed
	stale := &Stream{State: StreamStateError, Retries: 1, UpdatedAt: now.Add(-6 * time.Minute)}
	assert.Equal(t, true, streamEligible(stale, now, 5, backoff))

	// two failures double the window
	second := &Stream{State: StreamStateError, Retries: 2, UpdatedAt: now.Add(-6 * time.Minute)}
	assert.Equal(t, false, streamEligible(second, now, 5, backoff))

	exhausted := &Stream{State: StreamStateError, Retries: 5, UpdatedAt: now.Add(-time.Hour)}
	assert.Equal(t, false, streamEligible(exhausted, now, 5, backoff))
}
