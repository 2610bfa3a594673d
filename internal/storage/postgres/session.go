package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"erp_sync/internal/domain"
)

const sessionColumns = `id, tenant_id, entity, direction, status, total_expected, total_processed,
	current_offset, batch_size, sync_mode, filter_since, started_at, completed_at, last_chunk_at, error_message`

type SessionStore struct {
	db *sqlx.DB
}

func NewSessionStore(db *sqlx.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts session unless the triple already has one in progress. In
// that case the existing session is returned and created is false.
func (s *SessionStore) Create(ctx context.Context, session *domain.SyncSession) (*domain.SyncSession, bool, error) {
	query := `
		INSERT INTO sync_sessions (
			id, tenant_id, entity, direction, status, total_expected,
			total_processed, current_offset, batch_size, sync_mode, filter_since
		) VALUES (
			$1, $2, $3, $4, 'in_progress', $5, 0, $6, $7, $8, $9
		)
		ON CONFLICT (tenant_id, entity, direction) WHERE status = 'in_progress' DO NOTHING
		RETURNING ` + sessionColumns

	var created domain.SyncSession
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &created, query,
		session.ID,
		session.TenantID,
		session.Entity,
		session.Direction,
		session.TotalExpected,
		session.CurrentOffset,
		session.BatchSize,
		session.Mode,
		session.FilterSince,
	)
	if errors.Is(err, sql.ErrNoRows) {
		existing, err := s.FindActive(ctx, session.TenantID, session.Entity, session.Direction)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("%w: session for %s/%s/%s finished during create",
				domain.ErrConflict, session.TenantID, session.Entity, session.Direction)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}
	return &created, true, nil
}

func (s *SessionStore) Get(ctx context.Context, id uuid.UUID) (*domain.SyncSession, error) {
	var session domain.SyncSession
	query := `SELECT ` + sessionColumns + ` FROM sync_sessions WHERE id = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &session, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindActive returns the in-progress session of the triple, or nil.
func (s *SessionStore) FindActive(ctx context.Context, tenantID string, entity domain.EntityKind, direction domain.Direction) (*domain.SyncSession, error) {
	var session domain.SyncSession
	query := `
		SELECT ` + sessionColumns + `
		FROM sync_sessions
		WHERE tenant_id = $1 AND entity = $2 AND direction = $3 AND status = 'in_progress'`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &session, query, tenantID, entity, direction)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionStore) Update(ctx context.Context, id uuid.UUID, upd domain.SessionUpdate) error {
	query := `
		UPDATE sync_sessions SET
			total_expected = COALESCE($2, total_expected),
			batch_size = COALESCE($3, batch_size),
			error_message = COALESCE($4, error_message)
		WHERE id = $1`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, id, upd.TotalExpected, upd.BatchSize, upd.ErrorMessage)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return expectOne(res, fmt.Errorf("session %s: %w", id, domain.ErrNotFound))
}

// Advance moves the offset from fromOffset to toOffset and adds processed to
// the running total. It fails with ErrSessionConflict when the stored offset
// is no longer fromOffset, so a page can never be counted twice.
func (s *SessionStore) Advance(ctx context.Context, id uuid.UUID, fromOffset, toOffset, processed int) error {
	query := `
		UPDATE sync_sessions SET
			current_offset = $3,
			total_processed = total_processed + $4,
			last_chunk_at = NOW()
		WHERE id = $1 AND current_offset = $2 AND status = 'in_progress'`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, id, fromOffset, toOffset, processed)
	if err != nil {
		return fmt.Errorf("advance session: %w", err)
	}
	return expectOne(res, fmt.Errorf("session %s at offset %d: %w", id, fromOffset, domain.ErrSessionConflict))
}

func (s *SessionStore) Complete(ctx context.Context, id uuid.UUID, success bool, errMsg *string) error {
	status := domain.SessionCompleted
	if !success {
		status = domain.SessionFailed
	}

	query := `
		UPDATE sync_sessions SET
			status = $2,
			completed_at = NOW(),
			error_message = COALESCE($3, error_message)
		WHERE id = $1 AND status = 'in_progress'`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return expectOne(res, fmt.Errorf("session %s is not in progress: %w", id, domain.ErrConflict))
}

func (s *SessionStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.SyncSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sync_sessions
		WHERE tenant_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	var sessions []domain.SyncSession
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &sessions, query, tenantID, limit)
	return sessions, err
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
