package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"erp_sync/internal/domain"
)

const jobColumns = `id, tenant_id, entity, direction, priority, status, sync_mode, source,
	attempts, last_error, created_at, started_at, completed_at`

type QueueStore struct {
	db *sqlx.DB
}

func NewQueueStore(db *sqlx.DB) *QueueStore {
	return &QueueStore{db: db}
}

// modeBreadth orders sync modes from widest to narrowest.
func modeBreadth(col string) string {
	return "array_position(ARRAY['full', 'historical', 'delta'], " + col + ")"
}

// Enqueue adds a pending job. A pending job for the same tenant, entity and
// direction absorbs the new one, taking its priority when that is higher and
// its sync mode when that covers more records (full, historical, delta).
// The result reports whether a new row was created.
func (s *QueueStore) Enqueue(ctx context.Context, job *domain.SyncQueueJob) (bool, error) {
	query := `
		INSERT INTO sync_queue (
			id, tenant_id, entity, direction, priority, priority_rank, status, sync_mode, source
		) VALUES (
			$1, $2, $3, $4, $5, $6, 'pending', $7, $8
		)
		ON CONFLICT (tenant_id, entity, direction) WHERE status = 'pending' DO UPDATE SET
			priority = CASE WHEN EXCLUDED.priority_rank < sync_queue.priority_rank
				THEN EXCLUDED.priority ELSE sync_queue.priority END,
			priority_rank = LEAST(sync_queue.priority_rank, EXCLUDED.priority_rank),
			sync_mode = CASE WHEN ` + modeBreadth("EXCLUDED.sync_mode") + ` < ` + modeBreadth("sync_queue.sync_mode") + `
				THEN EXCLUDED.sync_mode ELSE sync_queue.sync_mode END
		WHERE sync_queue.priority_rank > EXCLUDED.priority_rank
			OR ` + modeBreadth("sync_queue.sync_mode") + ` > ` + modeBreadth("EXCLUDED.sync_mode") + `
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &inserted, query,
		job.ID,
		job.TenantID,
		job.Entity,
		job.Direction,
		job.Priority,
		job.Priority.Rank(),
		job.Mode,
		job.Source,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}
	return inserted, nil
}

// Claim moves up to limit pending jobs to processing, highest priority and
// oldest first. Rows locked by a concurrent claimer are skipped, and a job
// waits while the same tenant, entity and direction has one processing.
func (s *QueueStore) Claim(ctx context.Context, limit int) ([]domain.SyncQueueJob, error) {
	query := `
		UPDATE sync_queue SET
			status = 'processing',
			started_at = NOW(),
			attempts = attempts + 1
		WHERE id IN (
			SELECT q.id
			FROM sync_queue q
			WHERE q.status = 'pending'
				AND NOT EXISTS (
					SELECT 1 FROM sync_queue p
					WHERE p.status = 'processing'
						AND p.tenant_id = q.tenant_id
						AND p.entity = q.entity
						AND p.direction = q.direction
				)
			ORDER BY q.priority_rank, q.created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var jobs []domain.SyncQueueJob
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}

	slices.SortStableFunc(jobs, func(a, b domain.SyncQueueJob) int {
		if d := a.Priority.Rank() - b.Priority.Rank(); d != 0 {
			return d
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return jobs, nil
}

func (s *QueueStore) Complete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE sync_queue SET status = 'completed', completed_at = NOW(), last_error = NULL
		WHERE id = $1 AND status = 'processing'`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return expectOne(res, fmt.Errorf("job %s is not processing: %w", id, domain.ErrConflict))
}

func (s *QueueStore) Fail(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE sync_queue SET status = 'failed', completed_at = NOW(), last_error = $2
		WHERE id = $1 AND status = 'processing'`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, id, message)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return expectOne(res, fmt.Errorf("job %s is not processing: %w", id, domain.ErrConflict))
}

// RequeueStale returns jobs stuck in processing for longer than olderThan to
// pending. A stale job whose triple already has a pending job is failed as
// superseded instead.
func (s *QueueStore) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	exec := GetExecutor(ctx, s.db)
	secs := olderThan.Seconds()

	superseded := `
		UPDATE sync_queue q SET status = 'failed', completed_at = NOW(), last_error = 'superseded by pending job'
		WHERE q.status = 'processing'
			AND q.started_at < NOW() - make_interval(secs => $1)
			AND EXISTS (
				SELECT 1 FROM sync_queue p
				WHERE p.status = 'pending'
					AND p.tenant_id = q.tenant_id
					AND p.entity = q.entity
					AND p.direction = q.direction
			)`
	if _, err := exec.ExecContext(ctx, superseded, secs); err != nil {
		return 0, fmt.Errorf("fail superseded jobs: %w", err)
	}

	requeue := `
		UPDATE sync_queue SET status = 'pending', started_at = NULL, last_error = 'requeued after timeout'
		WHERE status = 'processing' AND started_at < NOW() - make_interval(secs => $1)`
	res, err := exec.ExecContext(ctx, requeue, secs)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *QueueStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.SyncQueueJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM sync_queue
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	var jobs []domain.SyncQueueJob
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &jobs, query, tenantID, limit)
	return jobs, err
}
