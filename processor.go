package syncrun

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ProcessRequest is the only externally triggered operation: process the run,
// or just one of its streams when StreamID is set. Exiting asks the loop to
// stop cooperatively between streams.
type ProcessRequest struct {
	RunID              string
	StreamID           string
	Exiting            bool
	ForwardSideEffects bool
}

// platform each microservice type depends on
var microservicePlatforms = map[MicroserviceType]Platform{
	MicroserviceTwitterFollowers: PlatformTwitter,
}

// RunProcessorConfig wires the run processor's collaborators. Registry, Runs,
// Streams, Integrations and Dispatcher are required.
type RunProcessorConfig struct {
	Registry      *Registry
	Runs          RunStore
	Streams       StreamStore
	Integrations  IntegrationStore
	Microservices MicroserviceStore
	Users         UserStore
	Dispatcher    Dispatcher
	Notifier      Notifier
	SampleData    SampleDataCleaner
	Processing    ProcessingConfig
	Logger        Logger
}

// RunProcessor drives one integration run to completion: it validates the
// run, discovers or resumes streams, loops over pending streams dispatching
// extracted records, interprets rate-limit signals into scheduled delays and
// finalizes the run state. One invocation owns the run until its loop breaks;
// concurrent runs for other tenants execute on other workers and coordinate
// only through the stores.
type RunProcessor struct {
	registry      *Registry
	runs          RunStore
	streams       StreamStore
	integrations  IntegrationStore
	microservices MicroserviceStore
	users         UserStore
	dispatcher    Dispatcher
	notifier      Notifier
	sampleData    SampleDataCleaner
	cfg           ProcessingConfig
	logger        Logger
}

func NewRunProcessor(cfg RunProcessorConfig) (*RunProcessor, error) {
	if cfg.Registry == nil || cfg.Runs == nil || cfg.Streams == nil || cfg.Integrations == nil || cfg.Dispatcher == nil {
		return nil, NewSyncError(ErrCodeConfig, "registry, run store, stream store, integration store and dispatcher are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultLogger
	}
	return &RunProcessor{
		registry:      cfg.Registry,
		runs:          cfg.Runs,
		streams:       cfg.Streams,
		integrations:  cfg.Integrations,
		microservices: cfg.Microservices,
		users:         cfg.Users,
		dispatcher:    cfg.Dispatcher,
		notifier:      cfg.Notifier,
		sampleData:    cfg.SampleData,
		cfg:           cfg.Processing.withDefaults(),
		logger:        cfg.Logger,
	}, nil
}

// Process is the entry point for one run invocation. Operational failures are
// recorded on the run/stream rows; only a missing run, configuration errors
// and store failures on the entry path propagate to the caller.
func (p *RunProcessor) Process(ctx context.Context, req ProcessRequest) error {
	if req.RunID == "" {
		p.logger.Warn(ctx, "no runId provided, skipping stale message")
		return nil
	}
	log := p.logger.WithFields("runId", req.RunID)
	log.Info(ctx, "detected integration run")

	run, err := p.runs.FindByID(ctx, req.RunID)
	if err != nil {
		return errors.Wrapf(err, "loading run %v", req.RunID)
	}

	integration, err := p.resolveIntegration(ctx, run)
	if err != nil {
		return err
	}

	log = log.WithFields(
		"type", string(integration.Platform),
		"tenantId", run.TenantID,
		"integrationId", run.IntegrationID,
		"microserviceId", run.MicroserviceID,
		"onboarding", run.Onboarding,
	)
	log.Info(ctx, "processing integration")

	connector, ok := p.registry.Lookup(integration.Platform)
	if !ok {
		log.Error(ctx, "no connector configured for platform '%v'", integration.Platform)
		return NewSyncError(ErrCodeConfig, "no connector configured for platform '%v'", integration.Platform)
	}

	sc := &StepContext{
		RunID:       run.ID,
		Onboarding:  run.Onboarding,
		StartedAt:   time.Now().UTC(),
		LimitCount:  integration.LimitCount,
		Integration: integration,
		Pipeline:    NewMetadata(),
		Logger:      log,
	}

	if req.StreamID == "" {
		done, err := p.enterRun(ctx, run, connector, sc, log)
		if done || err != nil {
			return err
		}
	}

	if err := p.runStreams(ctx, req, run, integration, connector, sc, log); err != nil {
		log.Error(ctx, "error while processing integration: %v", err)
	}
	return p.finalize(ctx, req, run, integration, sc, log)
}

func (p *RunProcessor) resolveIntegration(ctx context.Context, run *Run) (*Integration, error) {
	switch {
	case run.IntegrationID != "":
		return p.integrations.FindByID(ctx, run.IntegrationID)
	case run.MicroserviceID != "":
		if p.microservices == nil {
			return nil, NewSyncError(ErrCodeConfig, "no microservice store configured")
		}
		microservice, err := p.microservices.FindByID(ctx, run.MicroserviceID)
		if err != nil {
			return nil, err
		}
		platform, ok := microservicePlatforms[microservice.Type]
		if !ok {
			return nil, NewSyncError(ErrCodeConfig, "microservice type '%v' is not supported", microservice.Type)
		}
		return p.integrations.FindByPlatform(ctx, run.TenantID, platform)
	default:
		return nil, NewSyncError(ErrCodeGeneral, "run '%v' has no integration or microservice", run.ID)
	}
}

// enterRun performs the whole-run entry work skipped by single-stream
// retries: the collision guard, the state transition into processing and the
// one-time side effects. done means the invocation must stop here.
func (p *RunProcessor) enterRun(ctx context.Context, run *Run, connector Connector, sc *StepContext, log Logger) (done bool, err error) {
	existing, err := p.runs.FindLastProcessingRun(ctx, run.IntegrationID, run.MicroserviceID, run.ID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		log.Info(ctx, "integration is already being processed by run '%v'", existing.ID)
		err = p.runs.MarkError(ctx, run.ID, &ErrorDetail{
			ErrorPoint:    "check_existing_run",
			Message:       "integration is already being processed",
			ExistingRunID: existing.ID,
		})
		return true, err
	}

	switch run.State {
	case RunStateProcessed:
		log.Warn(ctx, "integration run is already processed")
		return true, nil
	case RunStatePending:
		log.Info(ctx, "started processing integration")
	case RunStateDelayed:
		log.Info(ctx, "continued processing delayed integration")
	case RunStateError:
		log.Info(ctx, "restarted processing errored integration")
	case RunStateProcessing:
		// only single-stream invocations may observe a processing run
		panic(NewSyncError(ErrCodeState, "invalid state '%v' for run '%v'", run.State, run.ID))
	}
	if err := p.runs.MarkProcessing(ctx, run.ID); err != nil {
		return false, err
	}
	run.State = RunStateProcessing

	if sc.Integration.Settings.Bool("updateMemberAttributes") {
		log.Trace(ctx, "updating member attributes")
		if err := connector.CreateMemberAttributes(ctx, sc); err != nil {
			return false, err
		}
		sc.Integration.Settings.Set("updateMemberAttributes", false)
		settings := sc.Integration.Settings
		if err := p.integrations.Update(ctx, sc.Integration.ID, IntegrationUpdate{Settings: &settings}); err != nil {
			return false, err
		}
	}

	if run.Onboarding && p.sampleData != nil {
		if err := p.sampleData.DeleteSampleData(ctx, run.TenantID); err != nil {
			log.Error(ctx, "error deleting sample data: %v", err)
			merr := p.runs.MarkError(ctx, run.ID, newErrorDetail("delete_sample_data", err))
			return true, merr
		}
	}
	return false, nil
}

// runStreams runs the rate-limit bookkeeping, preprocessing, discovery and
// the main stream loop. Errors it returns are logged by the caller; the
// finalization path runs regardless.
func (p *RunProcessor) runStreams(ctx context.Context, req ProcessRequest, run *Run, integration *Integration, connector Connector, sc *StepContext, log Logger) error {
	now := time.Now().UTC()
	if freq := connector.LimitResetFrequency(); freq > 0 && integration.LimitLastResetAt != nil {
		if now.Sub(*integration.LimitLastResetAt) >= freq {
			resetAt := now
			zero := 0
			integration.LimitCount = 0
			integration.LimitLastResetAt = &resetAt
			// persisted immediately so a crash mid-run cannot lose the reset
			if err := p.integrations.Update(ctx, integration.ID, IntegrationUpdate{LimitCount: &zero, LimitLastResetAt: &resetAt}); err != nil {
				return err
			}
			sc.LimitCount = 0
		}
	}

	log.Trace(ctx, "preprocessing integration")
	if err := connector.Preprocess(ctx, sc); err != nil {
		if rle, ok := AsRateLimit(err); ok {
			log.Warn(ctx, "rate limit reached while preprocessing integration, delaying: %v", err)
			return p.delayForRateLimit(ctx, run, rle.ResetAfter, sc, nil, log)
		}
		log.Error(ctx, "error preprocessing integration: %v", err)
		return p.runs.MarkError(ctx, run.ID, newErrorDetail("preprocessing", err))
	}

	var forced *Stream
	if req.StreamID != "" {
		var err error
		forced, err = p.streams.FindByID(ctx, req.StreamID)
		if err != nil {
			return err
		}
		if forced == nil {
			log.Error(ctx, "stream '%v' not found", req.StreamID)
			return NewSyncError(ErrCodeGeneral, "stream '%v' not found", req.StreamID)
		}
	} else {
		existing, err := p.streams.FindByRunID(ctx, run.ID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			log.Trace(ctx, "streams already detected and saved")
		} else {
			log.Trace(ctx, "detecting streams")
			seeds, err := connector.GetStreams(ctx, sc)
			if err != nil {
				if rle, ok := AsRateLimit(err); ok {
					log.Warn(ctx, "rate limit reached while getting integration streams, delaying: %v", err)
					return p.delayForRateLimit(ctx, run, rle.ResetAfter, sc, nil, log)
				}
				return err
			}
			if err := p.streams.BulkCreate(ctx, p.seedStreams(run, seeds)); err != nil {
				return err
			}
			if err := p.runs.Touch(ctx, run.ID); err != nil {
				return err
			}
		}
	}

	processed, sinceLog := 0, 0
	next := forced
	if next == nil {
		var err error
		next, err = p.streams.NextPending(ctx, run.ID)
		if err != nil {
			return err
		}
	}
	for next != nil {
		if req.Exiting {
			if run.Onboarding {
				log.Warn(ctx, "stopped processing integration (onboarding), delaying")
				if err := p.runs.Delay(ctx, run.ID, time.Now().Add(p.cfg.OnboardingExitDelay)); err != nil {
					return err
				}
			} else {
				log.Warn(ctx, "stopped processing integration (not onboarding)")
			}
			break
		}
		stream := next
		processed++
		sinceLog++

		log.Trace(ctx, "processing stream '%v'", stream.ID)
		if err := p.streams.MarkProcessing(ctx, stream.ID); err != nil {
			return err
		}
		if err := p.runs.Touch(ctx, run.ID); err != nil {
			return err
		}

		result, err := connector.ProcessStream(ctx, stream, sc)
		if err != nil {
			if rle, ok := AsRateLimit(err); ok {
				log.Warn(ctx, "rate limit reached while processing stream '%v', delaying: %v", stream.ID, err)
				return p.delayForRateLimit(ctx, run, rle.ResetAfter, sc, stream, log)
			}
			retries, merr := p.streams.MarkError(ctx, stream.ID, newErrorDetail("process_stream", err))
			if merr != nil {
				return merr
			}
			if terr := p.runs.Touch(ctx, run.ID); terr != nil {
				return terr
			}
			log.Error(ctx, "error while processing stream '%v' (retries %v): %v", stream.ID, retries, err)
			result = nil
		}

		if result != nil {
			stop, err := p.applyResult(ctx, req, run, integration, connector, sc, stream, result, log)
			if err != nil {
				// the connector call itself succeeded; failing to apply its
				// results is a distinct error point for operators
				log.Error(ctx, "error processing stream '%v' results: %v", stream.ID, err)
				if _, merr := p.streams.MarkError(ctx, stream.ID, newErrorDetail("process_stream_results", err)); merr != nil {
					return merr
				}
				if terr := p.runs.Touch(ctx, run.ID); terr != nil {
					return terr
				}
			} else if stop {
				break
			}
		}

		if sinceLog >= p.cfg.StreamLogInterval {
			log.Info(ctx, "processed %v streams", processed)
			sinceLog = 0
		}
		if forced != nil {
			break
		}
		var nerr error
		next, nerr = p.streams.NextPending(ctx, run.ID)
		if nerr != nil {
			return nerr
		}
	}

	if err := connector.Postprocess(ctx, sc); err != nil {
		log.Error(ctx, "error postprocessing integration: %v", err)
	}
	log.Info(ctx, "done processing integration")
	return nil
}

// applyResult persists the outcome of one successful connector call. stop
// reports that the loop must break because a delay was scheduled.
func (p *RunProcessor) applyResult(ctx context.Context, req ProcessRequest, run *Run, integration *Integration, connector Connector, sc *StepContext, stream *Stream, result *ProcessResult, log Logger) (stop bool, err error) {
	log.Trace(ctx, "processing stream '%v' results", stream.ID)
	if len(result.NewStreams) > 0 {
		if err := p.streams.BulkCreate(ctx, p.seedStreams(run, result.NewStreams)); err != nil {
			return false, err
		}
		if err := p.runs.Touch(ctx, run.ID); err != nil {
			return false, err
		}
		log.Info(ctx, "detected %v new streams to process", len(result.NewStreams))
	}

	for _, op := range result.Operations {
		if len(op.Records) == 0 {
			continue
		}
		log.Trace(ctx, "dispatching '%v' operation with %v records", op.Type, len(op.Records))
		sc.LimitCount += len(op.Records)
		if err := p.dispatcher.Dispatch(ctx, op.Type, op.Records, req.ForwardSideEffects); err != nil {
			return false, err
		}
	}

	if result.NextPageStream != nil {
		finished := false
		if !run.Onboarding {
			finished, err = connector.IsProcessingFinished(ctx, sc, stream, result.Operations, result.LastRecordTimestamp)
			if err != nil {
				return false, err
			}
		}
		if finished {
			log.Warn(ctx, "integration processing finished by connector")
		} else {
			log.Trace(ctx, "detected next page stream")
			if err := p.streams.Create(ctx, p.seedStream(run, *result.NextPageStream)); err != nil {
				return false, err
			}
			if err := p.runs.Touch(ctx, run.ID); err != nil {
				return false, err
			}
		}
	}

	if result.Sleep > 0 {
		log.Warn(ctx, "stream processing requested a delay of %v, delaying remaining streams", result.Sleep)
		if err := p.runs.Delay(ctx, run.ID, time.Now().Add(result.Sleep)); err != nil {
			return false, err
		}
		return true, nil
	}

	if limit := connector.GlobalLimit(); limit > 0 && sc.LimitCount >= limit {
		// when the budget never resets there is nothing to enforce
		if freq := connector.LimitResetFrequency(); freq > 0 {
			log.Warn(ctx, "reached the global limit of %v records (%v processed), stopping", limit, sc.LimitCount)
			count := sc.LimitCount
			integration.LimitCount = count
			if err := p.integrations.Update(ctx, integration.ID, IntegrationUpdate{LimitCount: &count}); err != nil {
				return false, err
			}
			if integration.LimitLastResetAt != nil {
				if since := time.Since(*integration.LimitLastResetAt); since < freq {
					if err := p.runs.Delay(ctx, run.ID, time.Now().Add(freq-since)); err != nil {
						return false, err
					}
				}
			}
			return true, nil
		}
	}

	if err := p.streams.MarkProcessed(ctx, stream.ID); err != nil {
		return false, err
	}
	if err := p.runs.Touch(ctx, run.ID); err != nil {
		return false, err
	}
	return false, nil
}

// delayForRateLimit parks the run until the source's budget resets. The
// connector may have rotated credentials even on the failed call, so the
// settings snapshot is persisted first. The triggering stream goes back to
// pending, not error, so it is retried first on resumption.
func (p *RunProcessor) delayForRateLimit(ctx context.Context, run *Run, resetAfter time.Duration, sc *StepContext, stream *Stream, log Logger) error {
	settings := sc.Integration.Settings
	if err := p.integrations.Update(ctx, sc.Integration.ID, IntegrationUpdate{
		Settings:     &settings,
		Token:        &sc.Integration.Token,
		RefreshToken: &sc.Integration.RefreshToken,
	}); err != nil {
		return err
	}
	until := time.Now().Add(resetAfter + p.cfg.RateLimitMargin)
	log.Warn(ctx, "rate limit reached, delaying integration processing until %v", until)
	if err := p.runs.Delay(ctx, run.ID, until); err != nil {
		return err
	}
	if stream != nil {
		if err := p.streams.Reset(ctx, stream.ID); err != nil {
			return err
		}
	}
	return nil
}

// finalize recomputes the authoritative run state from its streams, sends the
// one-time completion notification, maps the state onto the integration's
// user-visible status and persists the settings snapshot. It runs for every
// invocation that reached the main phase, whatever the loop outcome.
func (p *RunProcessor) finalize(ctx context.Context, req ProcessRequest, run *Run, integration *Integration, sc *StepContext, log Logger) error {
	newState, err := p.runs.TouchState(ctx, run.ID)
	if err != nil {
		return err
	}

	var emailSentAt *time.Time
	if newState == RunStateProcessed && integration.EmailSentAt == nil && p.users != nil && p.notifier != nil {
		users, err := p.users.FindAllOfTenant(ctx, integration.TenantID)
		if err != nil {
			log.Error(ctx, "error loading tenant users for completion email: %v", err)
		} else {
			now := time.Now().UTC()
			emailSentAt = &now
			for _, user := range users {
				if err := p.notifier.SendCompletionEmail(ctx, user, integration); err != nil {
					log.Error(ctx, "error sending completion email to '%v': %v", user.Email, err)
				}
			}
		}
	}

	status := integration.Status
	switch newState {
	case RunStateProcessed:
		status = IntegrationStatusDone
	case RunStateError:
		status = IntegrationStatusError
	}
	update := IntegrationUpdate{
		Status:       &status,
		Settings:     &sc.Integration.Settings,
		Token:        &sc.Integration.Token,
		RefreshToken: &sc.Integration.RefreshToken,
	}
	if emailSentAt != nil {
		update.EmailSentAt = emailSentAt
	}
	if err := p.integrations.Update(ctx, integration.ID, update); err != nil {
		return err
	}

	if newState == RunStateProcessing && req.StreamID == "" {
		failed, err := p.streams.FindByRunID(ctx, run.ID, StreamStateError)
		if err != nil {
			return err
		}
		if len(failed) > 0 {
			log.Warn(ctx, "integration run ended but is still processing, delaying for retry")
			if err := p.runs.Delay(ctx, run.ID, time.Now().Add(p.cfg.ErrorRetryDelay)); err != nil {
				return err
			}
		} else {
			log.Error(ctx, "integration run ended but is still processing")
		}
	} else if newState == RunStateError && p.notifier != nil {
		if err := p.notifier.SendErrorAlert(ctx, integration, run.Error); err != nil {
			log.Error(ctx, "error sending error alert: %v", err)
		}
	}

	if run.Onboarding && p.notifier != nil {
		if err := p.notifier.PublishCompletion(ctx, integration.TenantID, integration.ID, status); err != nil {
			log.Error(ctx, "error publishing completion event: %v", err)
		}
	}
	return nil
}

func (p *RunProcessor) seedStream(run *Run, seed StreamSeed) *Stream {
	return &Stream{
		RunID:          run.ID,
		TenantID:       run.TenantID,
		IntegrationID:  run.IntegrationID,
		MicroserviceID: run.MicroserviceID,
		Name:           seed.Name,
		Metadata:       seed.Metadata,
		State:          StreamStatePending,
	}
}

func (p *RunProcessor) seedStreams(run *Run, seeds []StreamSeed) []*Stream {
	streams := make([]*Stream, 0, len(seeds))
	for _, seed := range seeds {
		streams = append(streams, p.seedStream(run, seed))
	}
	return streams
}
