package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"erp_sync/internal/domain"
)

// ConnectionLister lists the tenants that have an active connection.
type ConnectionLister interface {
	ListActive(ctx context.Context) ([]domain.Connection, error)
}

// Enqueuer accepts deferred sync work.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *domain.SyncQueueJob) (bool, error)
}

// Scheduler periodically queues a delta sync of every entity for every
// connected tenant. The queue coalesces repeats while a job is still pending.
type Scheduler struct {
	connections ConnectionLister
	queue       Enqueuer
	interval    time.Duration
	logger      *slog.Logger
}

func NewScheduler(connections ConnectionLister, queue Enqueuer, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		connections: connections,
		queue:       queue,
		interval:    interval,
		logger:      logger.With("component", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runSchedule(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runSchedule(ctx)
		}
	}
}

func (s *Scheduler) runSchedule(ctx context.Context) {
	scheduleCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	queued, err := s.Schedule(scheduleCtx)
	if err != nil {
		s.logger.Error("schedule failed", "error", err)
		return
	}
	s.logger.Debug("scheduled sync jobs", "queued", queued)
}

// Schedule queues one job per active connection and returns how many were
// newly inserted.
func (s *Scheduler) Schedule(ctx context.Context) (int, error) {
	conns, err := s.connections.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, conn := range conns {
		inserted, err := s.queue.Enqueue(ctx, &domain.SyncQueueJob{
			ID:        uuid.Must(uuid.NewV7()),
			TenantID:  conn.TenantID,
			Direction: domain.DirectionBoth,
			Priority:  domain.PriorityNormal,
			Mode:      domain.SyncModeDelta,
			Source:    domain.JobSourceSchedule,
		})
		if err != nil {
			s.logger.Error("failed to queue scheduled sync", "tenant", conn.TenantID, "error", err)
			continue
		}
		if inserted {
			queued++
		}
	}
	return queued, nil
}
