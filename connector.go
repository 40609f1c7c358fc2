package syncrun

import (
	"context"
	"crypto/md5"
	"fmt"
	"time"
)

// ProcessResult is what a connector returns for one stream: extracted record
// batches, newly discovered streams, the pagination continuation if any, and
// an optional cooperative sleep request.
type ProcessResult struct {
	Operations          []Operation
	NewStreams          []StreamSeed
	NextPageStream      *StreamSeed
	Sleep               time.Duration
	LastRecordTimestamp *time.Time
}

// Connector implements the platform-specific half of a synchronization: which
// streams exist and how one stream turns into records. Connectors signal
// throttling by returning a *RateLimitError from any hook.
type Connector interface {
	Platform() Platform
	// ChecksEvery is the number of scheduler ticks between periodic checks.
	// Zero fires on every tick, negative disables periodic checks.
	ChecksEvery() int
	// GlobalLimit is the per-source record budget for one reset window.
	// Zero means unlimited.
	GlobalLimit() int
	// LimitResetFrequency is how often the source resets its budget. Zero
	// means the budget never resets and is not enforced.
	LimitResetFrequency() time.Duration

	Preprocess(ctx context.Context, sc *StepContext) error
	CreateMemberAttributes(ctx context.Context, sc *StepContext) error
	GetStreams(ctx context.Context, sc *StepContext) ([]StreamSeed, error)
	ProcessStream(ctx context.Context, stream *Stream, sc *StepContext) (*ProcessResult, error)
	// IsProcessingFinished lets a connector stop a non-onboarding pagination
	// chain early once it has seen everything new.
	IsProcessingFinished(ctx context.Context, sc *StepContext, stream *Stream, ops []Operation, lastRecordTimestamp *time.Time) (bool, error)
	Postprocess(ctx context.Context, sc *StepContext) error
}

// BaseConnector provides no-op defaults for the optional connector hooks.
// Embed it and implement Platform, ChecksEvery, GetStreams and ProcessStream.
type BaseConnector struct{}

func (BaseConnector) GlobalLimit() int {
	return 0
}

func (BaseConnector) LimitResetFrequency() time.Duration {
	return 0
}

func (BaseConnector) Preprocess(context.Context, *StepContext) error {
	return nil
}

func (BaseConnector) CreateMemberAttributes(context.Context, *StepContext) error {
	return nil
}

func (BaseConnector) IsProcessingFinished(context.Context, *StepContext, *Stream, []Operation, *time.Time) (bool, error) {
	return false, nil
}

func (BaseConnector) Postprocess(context.Context, *StepContext) error {
	return nil
}

// GenerateSourceIDHash builds a stable synthetic source id for records that
// have no remote counterpart. The `gen-` prefix distinguishes generated ids
// from remote ones.
func GenerateSourceIDHash(uniqueRemoteID, kind, timestamp string, platform Platform) (string, error) {
	if uniqueRemoteID == "" || kind == "" || timestamp == "" || platform == "" {
		return "", NewSyncError(ErrCodeGeneral, "bad hash input")
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%v-%v-%v-%v", uniqueRemoteID, kind, timestamp, platform)))
	return fmt.Sprintf("gen-%x", sum), nil
}

// IsRetrospectOver reports whether the last record seen is older than the
// window a non-onboarding run is interested in.
func IsRetrospectOver(lastRecord, startedAt time.Time, maxRetrospect time.Duration) bool {
	return startedAt.Sub(lastRecord) > maxRetrospect
}

// DelayUntil converts an absolute reset timestamp reported by a source into a
// backoff duration. Timestamps already in the past fall back to three minutes
// so a confused source cannot produce a hot retry loop.
func DelayUntil(target, now time.Time) time.Duration {
	if now.After(target) {
		return 3 * time.Minute
	}
	return target.Sub(now)
}
