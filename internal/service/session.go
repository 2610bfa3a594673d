package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"erp_sync/internal/domain"
)

// SessionManager owns the resumable session of every (tenant, entity,
// direction) triple.
type SessionManager struct {
	store            SessionStore
	defaultBatchSize int
	logger           *slog.Logger
}

func NewSessionManager(store SessionStore, defaultBatchSize int, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		store:            store,
		defaultBatchSize: defaultBatchSize,
		logger:           logger.With("component", "sessions"),
	}
}

func (m *SessionManager) Create(ctx context.Context, session *domain.SyncSession) (*domain.SyncSession, bool, error) {
	return m.store.Create(ctx, session)
}

func (m *SessionManager) Get(ctx context.Context, id uuid.UUID) (*domain.SyncSession, error) {
	return m.store.Get(ctx, id)
}

func (m *SessionManager) FindActive(ctx context.Context, tenantID string, entity domain.EntityKind, direction domain.Direction) (*domain.SyncSession, error) {
	return m.store.FindActive(ctx, tenantID, entity, direction)
}

func (m *SessionManager) Update(ctx context.Context, id uuid.UUID, upd domain.SessionUpdate) error {
	return m.store.Update(ctx, id, upd)
}

// Advance records one processed page. Call it in the same transaction as the
// page's writes.
func (m *SessionManager) Advance(ctx context.Context, session *domain.SyncSession, toOffset, processed int) error {
	if err := m.store.Advance(ctx, session.ID, session.CurrentOffset, toOffset, processed); err != nil {
		return err
	}
	session.CurrentOffset = toOffset
	session.TotalProcessed += processed
	return nil
}

func (m *SessionManager) Complete(ctx context.Context, session *domain.SyncSession, success bool, errMsg *string) error {
	if err := m.store.Complete(ctx, session.ID, success, errMsg); err != nil {
		return err
	}
	session.Status = domain.SessionCompleted
	if !success {
		session.Status = domain.SessionFailed
	}
	return nil
}

func (m *SessionManager) List(ctx context.Context, tenantID string, limit int) ([]domain.SyncSession, error) {
	return m.store.ListByTenant(ctx, tenantID, limit)
}

// StartOrResume returns the session req should continue. An explicit session
// id must name the in-progress session of the same triple, and an explicit
// offset must match its stored offset. Without an id the active session of
// the triple is resumed, or a new one is created with filterSince as its
// pull bound. A resumed session keeps the bound it was created with.
func (m *SessionManager) StartOrResume(ctx context.Context, req domain.WorkerRequest, filterSince *time.Time) (*domain.SyncSession, bool, error) {
	if req.SessionID != nil {
		session, err := m.store.Get(ctx, *req.SessionID)
		if err != nil {
			return nil, false, err
		}
		if session.TenantID != req.TenantID || session.Entity != req.Entity || session.Direction != req.Direction {
			return nil, false, fmt.Errorf("%w: session %s belongs to %s/%s/%s",
				domain.ErrInvalidInput, session.ID, session.TenantID, session.Entity, session.Direction)
		}
		if session.Status != domain.SessionInProgress {
			return nil, false, fmt.Errorf("session %s is %s: %w", session.ID, session.Status, domain.ErrConflict)
		}
		if err := checkOffset(session, req.Offset); err != nil {
			return nil, false, err
		}
		return session, false, nil
	}

	active, err := m.store.FindActive(ctx, req.TenantID, req.Entity, req.Direction)
	if err != nil {
		return nil, false, fmt.Errorf("find active session: %w", err)
	}
	if active != nil {
		if err := checkOffset(active, req.Offset); err != nil {
			return nil, false, err
		}
		m.logger.Info("resuming session",
			"tenant", req.TenantID,
			"entity", req.Entity,
			"direction", req.Direction,
			"session_id", active.ID,
			"offset", active.CurrentOffset,
		)
		return active, false, nil
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = m.defaultBatchSize
	}
	offset := 0
	if req.Offset != nil {
		if *req.Offset < 0 {
			return nil, false, fmt.Errorf("%w: negative offset %d", domain.ErrInvalidInput, *req.Offset)
		}
		offset = *req.Offset
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.SyncModeFull
	}

	session, created, err := m.store.Create(ctx, &domain.SyncSession{
		ID:            uuid.Must(uuid.NewV7()),
		TenantID:      req.TenantID,
		Entity:        req.Entity,
		Direction:     req.Direction,
		Status:        domain.SessionInProgress,
		CurrentOffset: offset,
		BatchSize:     batchSize,
		Mode:          mode,
		FilterSince:   filterSince,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	return session, created, nil
}

func checkOffset(session *domain.SyncSession, offset *int) error {
	if offset != nil && *offset != session.CurrentOffset {
		return fmt.Errorf("session %s is at offset %d, not %d: %w",
			session.ID, session.CurrentOffset, *offset, domain.ErrSessionConflict)
	}
	return nil
}
