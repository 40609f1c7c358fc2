package syncrun

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// in-memory stores and collaborator fakes backing the processor tests

type memRunStore struct {
	mu         sync.Mutex
	runs       map[string]*Run
	streams    *memStreamStore
	maxRetries int
	seq        int
}

func newMemRunStore(streams *memStreamStore, maxRetries int) *memRunStore {
	return &memRunStore{
		runs:       map[string]*Run{},
		streams:    streams,
		maxRetries: maxRetries,
	}
}

func (s *memRunStore) Create(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if run.ID == "" {
		run.ID = fmt.Sprintf("run-%v", s.seq)
	}
	if run.State == "" {
		run.State = RunStatePending
	}
	// sequence-skewed timestamps keep creation order strict
	run.CreatedAt = time.Now().UTC().Add(time.Duration(s.seq) * time.Microsecond)
	run.UpdatedAt = run.CreatedAt
	s.runs[run.ID] = run
	return nil
}

func (s *memRunStore) get(id string) (*Run, error) {
	run, ok := s.runs[id]
	if !ok {
		return nil, NewSyncError(ErrCodeGeneral, "run '%v' not found", id)
	}
	return run, nil
}

func (s *memRunStore) FindByID(_ context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *memRunStore) FindLastProcessingRun(_ context.Context, integrationID, microserviceID, ignoreRunID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *Run
	for _, run := range s.runs {
		if run.ID == ignoreRunID {
			continue
		}
		if run.State != RunStatePending && run.State != RunStateProcessing && run.State != RunStateDelayed {
			continue
		}
		if integrationID != "" && run.IntegrationID != integrationID {
			continue
		}
		if integrationID == "" && (microserviceID == "" || run.MicroserviceID != microserviceID) {
			continue
		}
		if last == nil || run.CreatedAt.After(last.CreatedAt) {
			last = run
		}
	}
	return last, nil
}

func (s *memRunStore) FindDelayedRuns(_ context.Context, now time.Time) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Run
	for _, run := range s.runs {
		if run.State == RunStateDelayed && run.DelayedUntil != nil && !run.DelayedUntil.After(now) {
			due = append(due, run)
		}
	}
	return due, nil
}

func (s *memRunStore) MarkProcessing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.get(id)
	if err != nil {
		return err
	}
	run.State = RunStateProcessing
	run.DelayedUntil = nil
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memRunStore) MarkError(_ context.Context, id string, detail *ErrorDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.get(id)
	if err != nil {
		return err
	}
	run.State = RunStateError
	run.Error = detail
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memRunStore) Delay(_ context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.get(id)
	if err != nil {
		return err
	}
	run.State = RunStateDelayed
	run.DelayedUntil = &until
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memRunStore) Restart(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.get(id)
	if err != nil {
		return err
	}
	run.State = RunStatePending
	run.DelayedUntil = nil
	run.ProcessedAt = nil
	run.Error = nil
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memRunStore) Touch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.get(id)
	if err != nil {
		return err
	}
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memRunStore) TouchState(ctx context.Context, id string) (RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.get(id)
	if err != nil {
		return "", err
	}
	streams, err := s.streams.FindByRunID(ctx, id)
	if err != nil {
		return "", err
	}
	newState := DeriveRunState(run.State, streams, s.maxRetries)
	run.State = newState
	if newState == RunStateProcessed && run.ProcessedAt == nil {
		now := time.Now().UTC()
		run.ProcessedAt = &now
	}
	run.UpdatedAt = time.Now().UTC()
	return newState, nil
}

type memStreamStore struct {
	mu         sync.Mutex
	streams    []*Stream
	maxRetries int
	backoff    time.Duration
	seq        int
}

func newMemStreamStore(maxRetries int, backoff time.Duration) *memStreamStore {
	return &memStreamStore{maxRetries: maxRetries, backoff: backoff}
}

func (s *memStreamStore) Create(_ context.Context, stream *Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if stream.ID == "" {
		stream.ID = fmt.Sprintf("stream-%v", s.seq)
	}
	if stream.State == "" {
		stream.State = StreamStatePending
	}
	stream.CreatedAt = time.Now().UTC().Add(time.Duration(s.seq) * time.Microsecond)
	stream.UpdatedAt = stream.CreatedAt
	s.streams = append(s.streams, stream)
	return nil
}

func (s *memStreamStore) BulkCreate(ctx context.Context, streams []*Stream) error {
	for _, stream := range streams {
		if err := s.Create(ctx, stream); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStreamStore) get(id string) (*Stream, error) {
	for _, stream := range s.streams {
		if stream.ID == id {
			return stream, nil
		}
	}
	return nil, NewSyncError(ErrCodeGeneral, "stream '%v' not found", id)
}

func (s *memStreamStore) FindByID(_ context.Context, id string) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stream := range s.streams {
		if stream.ID == id {
			return stream, nil
		}
	}
	return nil, nil
}

func (s *memStreamStore) FindByRunID(_ context.Context, runID string, states ...StreamState) ([]*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Stream
	for _, stream := range s.streams {
		if stream.RunID != runID {
			continue
		}
		if len(states) > 0 {
			match := false
			for _, state := range states {
				if stream.State == state {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, stream)
	}
	return out, nil
}

func (s *memStreamStore) NextPending(_ context.Context, runID string) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, stream := range s.streams {
		if stream.RunID == runID && streamEligible(stream, now, s.maxRetries, s.backoff) {
			return stream, nil
		}
	}
	return nil, nil
}

func (s *memStreamStore) MarkProcessing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, err := s.get(id)
	if err != nil {
		return err
	}
	stream.State = StreamStateProcessing
	stream.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStreamStore) MarkProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, err := s.get(id)
	if err != nil {
		return err
	}
	stream.State = StreamStateProcessed
	now := time.Now().UTC()
	stream.ProcessedAt = &now
	stream.UpdatedAt = now
	return nil
}

func (s *memStreamStore) MarkError(_ context.Context, id string, detail *ErrorDetail) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, err := s.get(id)
	if err != nil {
		return 0, err
	}
	stream.State = StreamStateError
	stream.Error = detail
	stream.Retries++
	stream.UpdatedAt = time.Now().UTC()
	return stream.Retries, nil
}

func (s *memStreamStore) Reset(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, err := s.get(id)
	if err != nil {
		return err
	}
	stream.State = StreamStatePending
	stream.Error = nil
	stream.UpdatedAt = time.Now().UTC()
	return nil
}

type memIntegrationStore struct {
	mu           sync.Mutex
	integrations map[string]*Integration
}

func newMemIntegrationStore(integrations ...*Integration) *memIntegrationStore {
	s := &memIntegrationStore{integrations: map[string]*Integration{}}
	for _, integration := range integrations {
		s.integrations[integration.ID] = integration
	}
	return s
}

func (s *memIntegrationStore) FindByID(_ context.Context, id string) (*Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	integration, ok := s.integrations[id]
	if !ok {
		return nil, NewSyncError(ErrCodeGeneral, "integration '%v' not found", id)
	}
	return integration, nil
}

func (s *memIntegrationStore) FindByPlatform(_ context.Context, tenantID string, platform Platform) (*Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, integration := range s.integrations {
		if integration.TenantID == tenantID && integration.Platform == platform {
			return integration, nil
		}
	}
	return nil, NewSyncError(ErrCodeGeneral, "no '%v' integration for tenant '%v'", platform, tenantID)
}

func (s *memIntegrationStore) FindAllActive(_ context.Context, platform Platform, page, perPage int) ([]*Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []*Integration
	for _, integration := range s.integrations {
		if integration.Platform != platform {
			continue
		}
		if integration.Status != IntegrationStatusDone && integration.Status != IntegrationStatusInProgress {
			continue
		}
		active = append(active, integration)
	}
	for i := 1; i < len(active); i++ {
		for j := i; j > 0 && active[j].ID < active[j-1].ID; j-- {
			active[j], active[j-1] = active[j-1], active[j]
		}
	}
	start := (page - 1) * perPage
	if start >= len(active) {
		return nil, nil
	}
	end := start + perPage
	if end > len(active) {
		end = len(active)
	}
	return active[start:end], nil
}

func (s *memIntegrationStore) Update(_ context.Context, id string, fields IntegrationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	integration, ok := s.integrations[id]
	if !ok {
		return NewSyncError(ErrCodeGeneral, "integration '%v' not found", id)
	}
	if fields.Status != nil {
		integration.Status = *fields.Status
	}
	if fields.Settings != nil {
		integration.Settings = *fields.Settings
	}
	if fields.Token != nil {
		integration.Token = *fields.Token
	}
	if fields.RefreshToken != nil {
		integration.RefreshToken = *fields.RefreshToken
	}
	if fields.LimitCount != nil {
		integration.LimitCount = *fields.LimitCount
	}
	if fields.LimitLastResetAt != nil {
		integration.LimitLastResetAt = fields.LimitLastResetAt
	}
	if fields.EmailSentAt != nil {
		integration.EmailSentAt = fields.EmailSentAt
	}
	return nil
}

type memMicroserviceStore struct {
	microservices map[string]*Microservice
}

func (s *memMicroserviceStore) FindByID(_ context.Context, id string) (*Microservice, error) {
	microservice, ok := s.microservices[id]
	if !ok {
		return nil, NewSyncError(ErrCodeGeneral, "microservice '%v' not found", id)
	}
	return microservice, nil
}

func (s *memMicroserviceStore) FindAllByType(_ context.Context, typ MicroserviceType, page, perPage int) ([]*Microservice, error) {
	var all []*Microservice
	for _, microservice := range s.microservices {
		if microservice.Type == typ {
			all = append(all, microservice)
		}
	}
	start := (page - 1) * perPage
	if start >= len(all) {
		return nil, nil
	}
	end := start + perPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

type memUserStore struct {
	users map[string][]*User
}

func (s *memUserStore) FindAllOfTenant(_ context.Context, tenantID string) ([]*User, error) {
	return s.users[tenantID], nil
}

type dispatchCall struct {
	typ     OperationType
	records []Metadata
	forward bool
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, typ OperationType, records []Metadata, forward bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, dispatchCall{typ: typ, records: records, forward: forward})
	return nil
}

func (d *fakeDispatcher) recordCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, call := range d.calls {
		total += len(call.records)
	}
	return total
}

type fakeNotifier struct {
	mu        sync.Mutex
	emails    []string
	alerts    []*ErrorDetail
	published []string
}

func (n *fakeNotifier) SendCompletionEmail(_ context.Context, user *User, _ *Integration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, user.Email)
	return nil
}

func (n *fakeNotifier) SendErrorAlert(_ context.Context, _ *Integration, detail *ErrorDetail) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, detail)
	return nil
}

func (n *fakeNotifier) PublishCompletion(_ context.Context, _, _, status string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, status)
	return nil
}

type fakeCleaner struct {
	calls int
	err   error
}

func (c *fakeCleaner) DeleteSampleData(context.Context, string) error {
	c.calls++
	return c.err
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	reqs []ProcessRequest
}

func (e *fakeEnqueuer) EnqueueRun(_ context.Context, _ string, req ProcessRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs = append(e.reqs, req)
	return nil
}

type fakeConnector struct {
	BaseConnector
	platform      Platform
	checksEvery   int
	globalLimit   int
	resetFreq     time.Duration
	seeds         []StreamSeed
	getStreamsErr error
	preprocessErr error
	process       func(stream *Stream, sc *StepContext) (*ProcessResult, error)

	preprocessed  int
	postprocessed int
	attrCalls     int
}

func (c *fakeConnector) Platform() Platform {
	return c.platform
}

func (c *fakeConnector) ChecksEvery() int {
	return c.checksEvery
}

func (c *fakeConnector) GlobalLimit() int {
	return c.globalLimit
}

func (c *fakeConnector) LimitResetFrequency() time.Duration {
	return c.resetFreq
}

func (c *fakeConnector) Preprocess(context.Context, *StepContext) error {
	c.preprocessed++
	return c.preprocessErr
}

func (c *fakeConnector) CreateMemberAttributes(context.Context, *StepContext) error {
	c.attrCalls++
	return nil
}

func (c *fakeConnector) GetStreams(context.Context, *StepContext) ([]StreamSeed, error) {
	if c.getStreamsErr != nil {
		return nil, c.getStreamsErr
	}
	return c.seeds, nil
}

func (c *fakeConnector) ProcessStream(_ context.Context, stream *Stream, sc *StepContext) (*ProcessResult, error) {
	if c.process != nil {
		return c.process(stream, sc)
	}
	return &ProcessResult{}, nil
}

func (c *fakeConnector) Postprocess(context.Context, *StepContext) error {
	c.postprocessed++
	return nil
}
