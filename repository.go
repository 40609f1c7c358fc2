package syncrun

import (
	"context"
	"time"
)

// RunStore is the durable record of synchronization attempts.
type RunStore interface {
	// Create persists a new run and fills in its ID and timestamps.
	Create(ctx context.Context, run *Run) error
	// FindByID fails when the run does not exist.
	FindByID(ctx context.Context, id string) (*Run, error)
	// FindLastProcessingRun returns the most recent run in a live state
	// (pending, processing or delayed) for the given integration or
	// microservice, excluding ignoreRunID. Nil when there is none.
	FindLastProcessingRun(ctx context.Context, integrationID, microserviceID, ignoreRunID string) (*Run, error)
	// FindDelayedRuns returns delayed runs whose wake time has elapsed.
	FindDelayedRuns(ctx context.Context, now time.Time) ([]*Run, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkError(ctx context.Context, id string, detail *ErrorDetail) error
	// Delay parks the run until the given wake time.
	Delay(ctx context.Context, id string, until time.Time) error
	// Restart resets the run to pending, clearing error and delay fields.
	Restart(ctx context.Context, id string) error
	// Touch refreshes the liveness heartbeat.
	Touch(ctx context.Context, id string) error
	// TouchState recomputes the run state from its streams (see
	// DeriveRunState), persists it and returns the new state.
	TouchState(ctx context.Context, id string) (RunState, error)
}

// StreamStore is the durable work queue of a run.
type StreamStore interface {
	Create(ctx context.Context, stream *Stream) error
	BulkCreate(ctx context.Context, streams []*Stream) error
	// FindByID returns nil when the stream does not exist.
	FindByID(ctx context.Context, id string) (*Stream, error)
	// FindByRunID returns the run's streams in creation order, optionally
	// filtered by state.
	FindByRunID(ctx context.Context, runID string, states ...StreamState) ([]*Stream, error)
	// NextPending returns the oldest stream eligible for processing, or nil
	// when the queue is exhausted. Creation order is guaranteed so that
	// pagination chains are processed causally.
	NextPending(ctx context.Context, runID string) (*Stream, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkProcessed(ctx context.Context, id string) error
	// MarkError increments and returns the stream's retry count.
	MarkError(ctx context.Context, id string, detail *ErrorDetail) (int, error)
	// Reset returns the stream to pending without touching its retry count,
	// used by rate-limit recovery.
	Reset(ctx context.Context, id string) error
}

// IntegrationUpdate is a partial update of an integration row; nil fields are
// left untouched.
type IntegrationUpdate struct {
	Status           *string
	Settings         *Metadata
	Token            *string
	RefreshToken     *string
	LimitCount       *int
	LimitLastResetAt *time.Time
	EmailSentAt      *time.Time
}

type IntegrationStore interface {
	FindByID(ctx context.Context, id string) (*Integration, error)
	FindByPlatform(ctx context.Context, tenantID string, platform Platform) (*Integration, error)
	FindAllActive(ctx context.Context, platform Platform, page, perPage int) ([]*Integration, error)
	Update(ctx context.Context, id string, fields IntegrationUpdate) error
}

type MicroserviceStore interface {
	FindByID(ctx context.Context, id string) (*Microservice, error)
	FindAllByType(ctx context.Context, typ MicroserviceType, page, perPage int) ([]*Microservice, error)
}

type UserStore interface {
	FindAllOfTenant(ctx context.Context, tenantID string) ([]*User, error)
}

// SampleDataCleaner removes seeded demo data before a tenant's first real
// sync lands.
type SampleDataCleaner interface {
	DeleteSampleData(ctx context.Context, tenantID string) error
}

// Enqueuer hands a process request to the external scheduler transport.
type Enqueuer interface {
	EnqueueRun(ctx context.Context, tenantID string, req ProcessRequest) error
}
