package syncrun

import (
	"context"
)

// Engine is the front door of the pipeline: it owns the connector registry
// and turns integrations into runs. Processing itself is delegated to the
// RunProcessor.
type Engine interface {
	// Register adds a connector to the registry.
	Register(connector Connector) error
	// Unregister removes a connector from the registry.
	Unregister(connector Connector)
	// Process handles one run invocation synchronously.
	Process(ctx context.Context, req ProcessRequest) error
	// ProcessAsync handles one run invocation on the worker pool.
	ProcessAsync(ctx context.Context, req ProcessRequest) Future
	// StartIntegrationRun creates a pending run for an integration and hands
	// it to the scheduler (or the local pool when none is configured).
	StartIntegrationRun(ctx context.Context, integration *Integration, onboarding bool) (*Run, error)
	// StartMicroserviceRun creates a pending run for a microservice.
	StartMicroserviceRun(ctx context.Context, microservice *Microservice) (*Run, error)
}

// EngineConfig wires the engine. It is a superset of RunProcessorConfig;
// Enqueuer is optional and falls back to local async processing.
type EngineConfig struct {
	Runs          RunStore
	Streams       StreamStore
	Integrations  IntegrationStore
	Microservices MicroserviceStore
	Users         UserStore
	Dispatcher    Dispatcher
	Notifier      Notifier
	SampleData    SampleDataCleaner
	Enqueuer      Enqueuer
	Processing    ProcessingConfig
	Logger        Logger
}

func NewEngine(cfg EngineConfig) (Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = DefaultLogger
	}
	registry := NewRegistry()
	processor, err := NewRunProcessor(RunProcessorConfig{
		Registry:      registry,
		Runs:          cfg.Runs,
		Streams:       cfg.Streams,
		Integrations:  cfg.Integrations,
		Microservices: cfg.Microservices,
		Users:         cfg.Users,
		Dispatcher:    cfg.Dispatcher,
		Notifier:      cfg.Notifier,
		SampleData:    cfg.SampleData,
		Processing:    cfg.Processing,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &engine{
		registry:  registry,
		processor: processor,
		runs:      cfg.Runs,
		enqueuer:  cfg.Enqueuer,
		logger:    cfg.Logger,
	}, nil
}

type engine struct {
	registry  *Registry
	processor *RunProcessor
	runs      RunStore
	enqueuer  Enqueuer
	logger    Logger
}

func (e *engine) Register(connector Connector) error {
	return e.registry.Register(connector)
}

func (e *engine) Unregister(connector Connector) {
	e.registry.Unregister(connector)
}

func (e *engine) Process(ctx context.Context, req ProcessRequest) error {
	return e.processor.Process(ctx, req)
}

func (e *engine) ProcessAsync(ctx context.Context, req ProcessRequest) Future {
	return runPool.Submit(ctx, func() (interface{}, error) {
		return nil, e.processor.Process(ctx, req)
	})
}

func (e *engine) StartIntegrationRun(ctx context.Context, integration *Integration, onboarding bool) (*Run, error) {
	run := &Run{
		TenantID:      integration.TenantID,
		IntegrationID: integration.ID,
		Onboarding:    onboarding,
		State:         RunStatePending,
	}
	return run, e.startRun(ctx, run)
}

func (e *engine) StartMicroserviceRun(ctx context.Context, microservice *Microservice) (*Run, error) {
	if _, ok := microservicePlatforms[microservice.Type]; !ok {
		return nil, NewSyncError(ErrCodeConfig, "microservice type '%v' is not supported", microservice.Type)
	}
	run := &Run{
		TenantID:       microservice.TenantID,
		MicroserviceID: microservice.ID,
		State:          RunStatePending,
	}
	return run, e.startRun(ctx, run)
}

func (e *engine) startRun(ctx context.Context, run *Run) error {
	if err := e.runs.Create(ctx, run); err != nil {
		e.logger.Error(ctx, "error creating run: %v", err)
		return err
	}
	e.logger.Info(ctx, "triggering integration processing, runId '%v'", run.ID)
	req := ProcessRequest{RunID: run.ID, ForwardSideEffects: true}
	if e.enqueuer != nil {
		return e.enqueuer.EnqueueRun(ctx, run.TenantID, req)
	}
	e.ProcessAsync(ctx, req)
	return nil
}
