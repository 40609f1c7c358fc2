package syncrun

import (
	"time"
)

// Platform identifies an external data source a connector talks to.
type Platform string

const (
	PlatformTwitter Platform = "twitter"
	PlatformDiscord Platform = "discord"
	PlatformGithub  Platform = "github"
	PlatformSlack   Platform = "slack"
)

// MicroserviceType identifies a cross-cutting background job that depends on
// one of the integration platforms.
type MicroserviceType string

const (
	MicroserviceTwitterFollowers MicroserviceType = "twitter_followers"
)

// RunState state of one synchronization attempt
type RunState string

const (
	RunStatePending    RunState = "pending"
	RunStateProcessing RunState = "processing"
	RunStateDelayed    RunState = "delayed"
	RunStateProcessed  RunState = "processed"
	RunStateError      RunState = "error"
)

// StreamState state of one unit of work within a run
type StreamState string

const (
	StreamStatePending    StreamState = "pending"
	StreamStateProcessing StreamState = "processing"
	StreamStateProcessed  StreamState = "processed"
	StreamStateError      StreamState = "error"
)

// integration status surfaced to users
const (
	IntegrationStatusInProgress = "in-progress"
	IntegrationStatusDone       = "done"
	IntegrationStatusError      = "error"
)

// Run is one attempt to synchronize one integration (or microservice) for one
// tenant. Runs are never physically deleted.
type Run struct {
	ID             string
	TenantID       string
	IntegrationID  string
	MicroserviceID string
	Onboarding     bool
	State          RunState
	DelayedUntil   *time.Time
	ProcessedAt    *time.Time
	Error          *ErrorDetail
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Stream is one discrete, independently retryable unit of work within a run,
// e.g. one page of a paginated source. New streams may be appended while the
// run is processing.
type Stream struct {
	ID             string
	RunID          string
	TenantID       string
	IntegrationID  string
	MicroserviceID string
	Name           string
	Metadata       Metadata
	State          StreamState
	ProcessedAt    *time.Time
	Error          *ErrorDetail
	Retries        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StreamSeed is a connector-defined stream before it is persisted.
type StreamSeed struct {
	Name     string
	Metadata Metadata
}

// Integration is the per-tenant configuration of one platform connection.
// The processor mutates the settings/token snapshot threaded through the
// StepContext and writes it back at finalization.
type Integration struct {
	ID               string
	TenantID         string
	SegmentID        string
	Platform         Platform
	Status           string
	Settings         Metadata
	Token            string
	RefreshToken     string
	LimitCount       int
	LimitLastResetAt *time.Time
	EmailSentAt      *time.Time
}

// Microservice is a scheduled background job owned by a tenant.
type Microservice struct {
	ID       string
	TenantID string
	Type     MicroserviceType
}

// User is a member of a tenant, the recipient of completion emails.
type User struct {
	ID       string
	TenantID string
	Email    string
}

// OperationType keys a batch of records for the bulk-write dispatcher.
type OperationType string

const (
	OperationUpsertMembers    OperationType = "upsert_members"
	OperationUpdateMembers    OperationType = "update_members"
	OperationUpsertActivities OperationType = "upsert_activities_with_members"
)

// Operation is a typed batch of records destined for the bulk-write
// dispatcher. It is constructed and consumed within one stream step, never
// persisted.
type Operation struct {
	Type    OperationType
	Records []Metadata
}

// StepContext is the ephemeral per-invocation state owned by exactly one
// processor invocation. The integration snapshot it carries is written back
// at finalization.
type StepContext struct {
	RunID       string
	Onboarding  bool
	StartedAt   time.Time
	LimitCount  int
	Integration *Integration
	Pipeline    Metadata
	Logger      Logger
}
