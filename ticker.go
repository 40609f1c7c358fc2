package syncrun

import (
	"context"
	"time"

	"github.com/samber/lo"
)

const tickerPageSize = 10

// TickProcessor is driven by the external scheduler once per tick (one
// minute). It triggers periodic checks for integrations that are due and
// resumes delayed runs whose wake time has elapsed.
type TickProcessor struct {
	registry      *Registry
	runs          RunStore
	integrations  IntegrationStore
	microservices MicroserviceStore
	enqueuer      Enqueuer
	tickCounts    map[Platform]int
	logger        Logger
}

func NewTickProcessor(registry *Registry, runs RunStore, integrations IntegrationStore, microservices MicroserviceStore, enqueuer Enqueuer, logger Logger) (*TickProcessor, error) {
	if registry == nil || runs == nil || integrations == nil || enqueuer == nil {
		return nil, NewSyncError(ErrCodeConfig, "registry, run store, integration store and enqueuer are required")
	}
	if logger == nil {
		logger = DefaultLogger
	}
	return &TickProcessor{
		registry:      registry,
		runs:          runs,
		integrations:  integrations,
		microservices: microservices,
		enqueuer:      enqueuer,
		tickCounts:    map[Platform]int{},
		logger:        logger,
	}, nil
}

func (t *TickProcessor) ProcessTick(ctx context.Context) error {
	t.processCheckTick(ctx)
	return t.processDelayedTick(ctx)
}

// processCheckTick advances each connector's tick counter and fires a check
// for every connector that reached its cadence. Check failures are isolated
// per platform.
func (t *TickProcessor) processCheckTick(ctx context.Context) {
	t.logger.Trace(ctx, "processing integration check tick")
	for _, connector := range t.registry.All() {
		every := connector.ChecksEvery()
		platform := connector.Platform()
		trigger := false
		switch {
		case every < 0:
			t.logger.Debug(ctx, "integration '%v' is set to never be checked", platform)
		case every == 0:
			trigger = true
		default:
			t.tickCounts[platform]++
			if t.tickCounts[platform] >= every {
				t.logger.Info(ctx, "integration '%v' reached its target tick count", platform)
				trigger = true
				t.tickCounts[platform] = 0
			}
		}
		if trigger {
			if err := t.processCheck(ctx, connector); err != nil {
				t.logger.Error(ctx, "error while processing integration check for '%v': %v", platform, err)
			}
		}
	}
}

// processCheck pages through the platform's active integrations and starts a
// fresh non-onboarding run for each one without a live run.
func (t *TickProcessor) processCheck(ctx context.Context, connector Connector) error {
	platform := connector.Platform()
	log := t.logger.WithFields("type", string(platform))
	log.Trace(ctx, "processing integration check")
	for page := 1; ; page++ {
		integrations, err := t.integrations.FindAllActive(ctx, platform, page, tickerPageSize)
		if err != nil {
			return err
		}
		inactive := make([]*Integration, 0, len(integrations))
		for _, integration := range integrations {
			existing, err := t.runs.FindLastProcessingRun(ctx, integration.ID, "", "")
			if err != nil {
				return err
			}
			if existing == nil {
				inactive = append(inactive, integration)
			}
		}
		if len(inactive) > 0 {
			log.Info(ctx, "triggering checks for integrations %v", lo.Map(inactive, func(i *Integration, _ int) string { return i.ID }))
			for _, integration := range inactive {
				if err := t.trigger(ctx, &Run{
					TenantID:      integration.TenantID,
					IntegrationID: integration.ID,
					State:         RunStatePending,
				}); err != nil {
					return err
				}
			}
		}
		if len(integrations) < tickerPageSize {
			return nil
		}
	}
}

// CheckMicroservices starts runs for all microservices of the given type that
// have no live run. Invoked by the scheduler on its own cadence.
func (t *TickProcessor) CheckMicroservices(ctx context.Context, typ MicroserviceType) error {
	if _, ok := microservicePlatforms[typ]; !ok {
		return NewSyncError(ErrCodeConfig, "microservice type '%v' is not supported", typ)
	}
	if t.microservices == nil {
		return NewSyncError(ErrCodeConfig, "no microservice store configured")
	}
	for page := 1; ; page++ {
		microservices, err := t.microservices.FindAllByType(ctx, typ, page, tickerPageSize)
		if err != nil {
			return err
		}
		for _, microservice := range microservices {
			existing, err := t.runs.FindLastProcessingRun(ctx, "", microservice.ID, "")
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			if err := t.trigger(ctx, &Run{
				TenantID:       microservice.TenantID,
				MicroserviceID: microservice.ID,
				State:          RunStatePending,
			}); err != nil {
				return err
			}
		}
		if len(microservices) < tickerPageSize {
			return nil
		}
	}
}

// processDelayedTick re-enqueues delayed runs whose wake time has elapsed.
func (t *TickProcessor) processDelayedTick(ctx context.Context) error {
	runs, err := t.runs.FindDelayedRuns(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, run := range runs {
		t.logger.Info(ctx, "resuming delayed run '%v'", run.ID)
		if err := t.enqueuer.EnqueueRun(ctx, run.TenantID, ProcessRequest{RunID: run.ID, ForwardSideEffects: true}); err != nil {
			t.logger.Error(ctx, "error enqueueing delayed run '%v': %v", run.ID, err)
		}
	}
	return nil
}

func (t *TickProcessor) trigger(ctx context.Context, run *Run) error {
	if err := t.runs.Create(ctx, run); err != nil {
		return err
	}
	t.logger.Debug(ctx, "triggering run '%v'", run.ID)
	return t.enqueuer.EnqueueRun(ctx, run.TenantID, ProcessRequest{RunID: run.ID, ForwardSideEffects: true})
}
