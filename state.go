package syncrun

import (
	"time"
)

// DeriveRunState computes the authoritative run state from the run's streams.
// While any stream is still pending or processing the current state is kept
// (a delayed run stays delayed). Once every stream is terminal: any stream
// that exhausted its retry budget makes the run an error, streams still
// within budget keep the run in its current state so a later invocation can
// retry them, and an all-processed run is processed.
func DeriveRunState(current RunState, streams []*Stream, maxRetries int) RunState {
	if len(streams) == 0 {
		return current
	}
	exhausted, retryable := 0, 0
	for _, s := range streams {
		switch s.State {
		case StreamStatePending, StreamStateProcessing:
			return current
		case StreamStateError:
			if s.Retries >= maxRetries {
				exhausted++
			} else {
				retryable++
			}
		}
	}
	if exhausted > 0 {
		return RunStateError
	}
	if retryable > 0 {
		return current
	}
	return RunStateProcessed
}

// streamEligible reports whether a stream may be picked up by the next-pending
// query. Error streams rejoin the queue after a linear backoff window and only
// while they have retry budget left.
func streamEligible(s *Stream, now time.Time, maxRetries int, retryBackoff time.Duration) bool {
	switch s.State {
	case StreamStatePending:
		return true
	case StreamStateError:
		return s.Retries < maxRetries &&
			now.Sub(s.UpdatedAt) >= time.Duration(s.Retries)*retryBackoff
	default:
		return false
	}
}
