package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"erp_sync/internal/config"
	"erp_sync/internal/domain"
	"erp_sync/internal/metrics"
	"erp_sync/internal/retry"
)

type OrchestrationRequest struct {
	TenantID  string
	Direction domain.Direction
	// Entities defaults to every kind.
	Entities      []domain.EntityKind
	Mode          domain.SyncMode
	Conflict      domain.ConflictStrategy
	RetryAttempts int
	BatchSize     int
}

// Orchestrator runs the requested entities in dependency order. Kinds of the
// same depth run concurrently; a group starts only after the previous one
// finished.
type Orchestrator struct {
	worker    EntitySyncer
	history   HistoryStore
	queue     QueueStore
	publisher Publisher
	graph     domain.Graph
	cfg       config.SyncConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

type OrchestratorOption func(*Orchestrator)

func WithGraph(g domain.Graph) OrchestratorOption {
	return func(o *Orchestrator) {
		o.graph = g
	}
}

func WithOrchestratorMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithBackoffSleep replaces the sleep between invocation attempts.
func WithBackoffSleep(fn func(ctx context.Context, d time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sleep = fn
	}
}

func NewOrchestrator(
	worker EntitySyncer,
	history HistoryStore,
	queue QueueStore,
	publisher Publisher,
	cfg config.SyncConfig,
	logger *slog.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		worker:    worker,
		history:   history,
		queue:     queue,
		publisher: publisher,
		graph:     domain.DefaultGraph(),
		cfg:       cfg,
		logger:    logger.With("component", "orchestrator"),
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Plan validates req and returns its priority groups. Configuration errors
// surface here, before any work starts.
func (o *Orchestrator) Plan(req OrchestrationRequest) ([][]domain.EntityKind, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant is required", domain.ErrInvalidInput)
	}
	if len(req.Direction.Steps()) == 0 {
		return nil, fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidInput, req.Direction)
	}
	if err := o.graph.Validate(); err != nil {
		return nil, err
	}

	kinds := req.Entities
	if len(kinds) == 0 {
		kinds = domain.AllEntityKinds()
	}
	return o.graph.PriorityGroups(kinds)
}

func (o *Orchestrator) Run(ctx context.Context, req OrchestrationRequest) (*domain.OrchestrationResult, error) {
	groups, err := o.Plan(req)
	if err != nil {
		return nil, err
	}
	if req.Mode == "" {
		req.Mode = domain.SyncModeFull
	}

	lastSync, err := o.history.LastSuccessful(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load last successful sync: %w", err)
	}

	started := o.now()
	history := &domain.SyncHistory{
		ID:        uuid.Must(uuid.NewV7()),
		TenantID:  req.TenantID,
		Direction: req.Direction,
		Mode:      req.Mode,
		Entities:  flatten(groups),
		Status:    domain.HistoryInProgress,
		StartedAt: started,
	}
	if err := o.history.Start(ctx, history); err != nil {
		return nil, fmt.Errorf("start history: %w", err)
	}

	logger := o.logger.With("tenant", req.TenantID, "run_id", history.ID, "direction", req.Direction)
	logger.Info("orchestration started", "groups", len(groups), "mode", req.Mode)

	result := &domain.OrchestrationResult{
		RunID:     history.ID,
		TenantID:  req.TenantID,
		Direction: req.Direction,
		StartedAt: started,
	}

	for i, group := range groups {
		results := o.runGroup(ctx, req, group, lastSync)
		result.Results = append(result.Results, results...)

		if allFailed(results) {
			withheld := flatten(groups[i+1:])
			if len(withheld) > 0 {
				logger.Warn("priority group failed, withholding dependents",
					"group", group,
					"withheld", withheld,
				)
			}
			for _, kind := range withheld {
				result.Results = append(result.Results, domain.SyncRunResult{
					Entity: kind,
					Status: domain.RunFailed,
					Errors: []string{"not started: every dependency in the previous group failed"},
				})
			}
			break
		}
	}

	o.summarize(result)
	result.Duration = o.now().Sub(started)

	completed := o.now()
	history.Status = result.Status
	history.TotalPulled = result.TotalPulled
	history.TotalPushed = result.TotalPushed
	history.ErrorCount = result.ErrorCount()
	history.Results = result.Results
	history.CompletedAt = &completed

	persistCtx := context.WithoutCancel(ctx)
	if err := o.history.Finish(persistCtx, history); err != nil {
		logger.Error("failed to finish history", "error", err)
	}

	o.enqueueContinuations(persistCtx, req, result, logger)

	if o.publisher != nil {
		if err := o.publisher.Publish(persistCtx, result); err != nil {
			logger.Error("failed to publish run summary", "error", err)
		}
	}

	logger.Info("orchestration finished",
		"status", result.Status,
		"total_pulled", result.TotalPulled,
		"total_pushed", result.TotalPushed,
		"errors", result.ErrorCount(),
		"duration", result.Duration,
	)
	return result, nil
}

func (o *Orchestrator) runGroup(ctx context.Context, req OrchestrationRequest, group []domain.EntityKind, lastSync *time.Time) []domain.SyncRunResult {
	results := make([]domain.SyncRunResult, len(group))

	var g errgroup.Group
	for i, kind := range group {
		g.Go(func() error {
			results[i] = o.runEntity(ctx, req, kind, lastSync)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// runEntity drives one entity through every direction step, retrying whole
// invocations that fail with a transient error.
func (o *Orchestrator) runEntity(ctx context.Context, req OrchestrationRequest, kind domain.EntityKind, lastSync *time.Time) domain.SyncRunResult {
	started := o.now()
	res := domain.SyncRunResult{Entity: kind, Complete: true}
	logger := o.logger.With("tenant", req.TenantID, "entity", kind)

	attempts := req.RetryAttempts
	if attempts <= 0 {
		attempts = o.cfg.RetryAttempts
	}
	attempts = max(attempts, 1)

	var failed bool
	for _, step := range req.Direction.Steps() {
		wreq := domain.WorkerRequest{
			TenantID:  req.TenantID,
			Entity:    kind,
			Direction: step,
			BatchSize: req.BatchSize,
			Mode:      req.Mode,
			Conflict:  req.Conflict,
			LastSync:  lastSync,
		}

		responses, used, err := o.invoke(ctx, wreq, attempts, logger)
		res.Attempts += used
		// Failed attempts may have committed pages before giving up.
		for _, resp := range responses {
			if step == domain.DirectionPull {
				res.Pulled += resp.Upserted
			} else {
				res.Pushed += resp.Upserted
			}
			res.Skipped += resp.Skipped
			res.Conflicts += resp.Conflicts
			for _, recErr := range resp.Errors {
				res.Errors = append(res.Errors, recErr.Error())
			}
		}
		if err == nil && len(responses) > 0 {
			res.Complete = res.Complete && responses[len(responses)-1].IsComplete
		}
		if err != nil {
			failed = true
			res.Complete = false
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", step, err))
			break
		}
	}

	switch {
	case failed:
		res.Status = domain.RunFailed
	case len(res.Errors) > 0 || !res.Complete:
		res.Status = domain.RunPartial
	default:
		res.Status = domain.RunSuccess
	}
	res.Duration = o.now().Sub(started)

	o.metrics.ObserveEntityRun(string(kind), string(res.Status), res.Duration)
	return res
}

// invoke calls the worker until it succeeds or attempts run out. It returns
// the response of every attempt that produced one, in order.
func (o *Orchestrator) invoke(ctx context.Context, req domain.WorkerRequest, attempts int, logger *slog.Logger) ([]*domain.WorkerResponse, int, error) {
	var (
		responses []*domain.WorkerResponse
		err       error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		var resp *domain.WorkerResponse
		resp, err = o.worker.Sync(ctx, req)
		if resp != nil {
			responses = append(responses, resp)
		}
		if err == nil {
			return responses, attempt + 1, nil
		}
		if !retryableInvocation(err) || ctx.Err() != nil || attempt == attempts-1 {
			return responses, attempt + 1, err
		}

		delay := o.cfg.RetryBackoffUnit << attempt
		logger.Warn("entity invocation failed, retrying",
			"direction", req.Direction,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		if sErr := o.sleep(ctx, delay); sErr != nil {
			return responses, attempt + 1, err
		}
	}
	return responses, attempts, err
}

// retryableInvocation reports whether a whole-entity retry can help.
func retryableInvocation(err error) bool {
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrMissingCredential) {
		return false
	}
	if errors.Is(err, domain.ErrSessionConflict) {
		return true
	}
	return retry.IsRetryable(err)
}

// summarize derives the run status. Only a run where every entity finished
// without errors is completed, since completed runs move the delta watermark.
func (o *Orchestrator) summarize(result *domain.OrchestrationResult) {
	var succeeded, partial, failed int
	for _, r := range result.Results {
		result.TotalPulled += r.Pulled
		result.TotalPushed += r.Pushed
		switch r.Status {
		case domain.RunFailed:
			failed++
		case domain.RunPartial:
			partial++
		default:
			succeeded++
		}
	}

	switch {
	case failed == 0 && partial == 0:
		result.Status = domain.HistoryCompleted
	case succeeded == 0 && partial == 0:
		result.Status = domain.HistoryFailed
	default:
		result.Status = domain.HistoryPartialSuccess
	}
	result.Success = result.Status == domain.HistoryCompleted
}

// enqueueContinuations queues follow-up work for entities that yielded
// before finishing, so their sessions resume without an external trigger.
func (o *Orchestrator) enqueueContinuations(ctx context.Context, req OrchestrationRequest, result *domain.OrchestrationResult, logger *slog.Logger) {
	if o.queue == nil {
		return
	}
	for _, r := range result.Results {
		if r.Complete || r.Status == domain.RunFailed {
			continue
		}
		job := &domain.SyncQueueJob{
			ID:        uuid.Must(uuid.NewV7()),
			TenantID:  req.TenantID,
			Entity:    r.Entity,
			Direction: req.Direction,
			Priority:  domain.PriorityNormal,
			Mode:      req.Mode,
			Source:    domain.JobSourceContinuation,
		}
		if _, err := o.queue.Enqueue(ctx, job); err != nil {
			logger.Error("failed to enqueue continuation", "entity", r.Entity, "error", err)
			continue
		}
		logger.Info("continuation queued", "entity", r.Entity)
	}
}

func allFailed(results []domain.SyncRunResult) bool {
	for _, r := range results {
		if r.Status != domain.RunFailed {
			return false
		}
	}
	return len(results) > 0
}

func flatten(groups [][]domain.EntityKind) []domain.EntityKind {
	var out []domain.EntityKind
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return nil
}
