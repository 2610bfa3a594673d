package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"erp_sync/internal/config"
	"erp_sync/internal/domain"
	"erp_sync/internal/metrics"
	"erp_sync/internal/service"
)

// JobQueue is the claim side of the sync queue.
type JobQueue interface {
	Claim(ctx context.Context, limit int) ([]domain.SyncQueueJob, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, message string) error
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Runner executes one orchestrated run.
type Runner interface {
	Run(ctx context.Context, req service.OrchestrationRequest) (*domain.OrchestrationResult, error)
}

// QueueProcessor drains the sync queue. Jobs of one tenant run one after
// another; different tenants run concurrently up to the configured limit.
type QueueProcessor struct {
	queue   JobQueue
	runner  Runner
	cfg     config.QueueConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewQueueProcessor(queue JobQueue, runner Runner, cfg config.QueueConfig, m *metrics.Metrics, logger *slog.Logger) *QueueProcessor {
	return &QueueProcessor{
		queue:   queue,
		runner:  runner,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "queue"),
	}
}

func (p *QueueProcessor) Start(ctx context.Context) error {
	p.logger.Info("queue processor started",
		"poll_interval", p.cfg.PollInterval,
		"concurrency", p.cfg.Concurrency,
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := p.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("queue poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("queue processor stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce requeues stale jobs, claims a batch and runs it to completion.
// It returns the number of jobs claimed.
func (p *QueueProcessor) ProcessOnce(ctx context.Context) (int, error) {
	if p.cfg.StaleAfter > 0 {
		requeued, err := p.queue.RequeueStale(ctx, p.cfg.StaleAfter)
		if err != nil {
			return 0, fmt.Errorf("requeue stale jobs: %w", err)
		}
		if requeued > 0 {
			p.logger.Warn("requeued stale jobs", "count", requeued)
			for range requeued {
				p.metrics.QueueJob("requeued")
			}
		}
	}

	jobs, err := p.queue.Claim(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	for range jobs {
		p.metrics.QueueJob("claimed")
	}

	g, gCtx := errgroup.WithContext(ctx)
	if p.cfg.Concurrency > 0 {
		g.SetLimit(p.cfg.Concurrency)
	}
	for _, tenantJobs := range byTenant(jobs) {
		g.Go(func() error {
			for _, job := range tenantJobs {
				p.runJob(gCtx, job)
			}
			return nil
		})
	}
	_ = g.Wait()

	return len(jobs), nil
}

func (p *QueueProcessor) runJob(ctx context.Context, job domain.SyncQueueJob) {
	logger := p.logger.With(
		"job_id", job.ID,
		"tenant", job.TenantID,
		"entity", job.Entity,
		"direction", job.Direction,
		"source", job.Source,
	)

	jobCtx := ctx
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}

	result, err := p.runner.Run(jobCtx, service.OrchestrationRequest{
		TenantID:  job.TenantID,
		Direction: job.Direction,
		Entities:  job.Entities(),
		Mode:      job.Mode,
	})
	if err == nil && result.Status == domain.HistoryFailed {
		err = fmt.Errorf("run %s failed with %d errors", result.RunID, result.ErrorCount())
	}

	doneCtx := context.WithoutCancel(ctx)
	if err != nil {
		logger.Error("sync job failed", "error", err, "attempts", job.Attempts)
		p.metrics.QueueJob("failed")
		if fErr := p.queue.Fail(doneCtx, job.ID, err.Error()); fErr != nil {
			logger.Error("failed to mark job failed", "error", fErr)
		}
		return
	}

	logger.Info("sync job completed", "status", result.Status)
	p.metrics.QueueJob("completed")
	if cErr := p.queue.Complete(doneCtx, job.ID); cErr != nil {
		logger.Error("failed to mark job completed", "error", cErr)
	}
}

// byTenant groups jobs by tenant and keeps the claim order inside each group.
func byTenant(jobs []domain.SyncQueueJob) [][]domain.SyncQueueJob {
	index := make(map[string]int)
	var groups [][]domain.SyncQueueJob
	for _, job := range jobs {
		i, ok := index[job.TenantID]
		if !ok {
			i = len(groups)
			index[job.TenantID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], job)
	}
	return groups
}
