package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"erp_sync/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// memorySessions keeps sessions in memory with the same offset guard the
// database applies.
type memorySessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.SyncSession
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[uuid.UUID]*domain.SyncSession)}
}

func (m *memorySessions) Create(_ context.Context, s *domain.SyncSession) (*domain.SyncSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.Status == domain.SessionInProgress && existing.TenantID == s.TenantID &&
			existing.Entity == s.Entity && existing.Direction == s.Direction {
			cp := *existing
			return &cp, false, nil
		}
	}
	cp := *s
	cp.StartedAt = time.Now()
	m.sessions[cp.ID] = &cp
	out := cp
	return &out, true, nil
}

func (m *memorySessions) Get(_ context.Context, id uuid.UUID) (*domain.SyncSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *memorySessions) FindActive(_ context.Context, tenantID string, entity domain.EntityKind, direction domain.Direction) (*domain.SyncSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Status == domain.SessionInProgress && s.TenantID == tenantID && s.Entity == entity && s.Direction == direction {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memorySessions) Update(_ context.Context, id uuid.UUID, upd domain.SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if upd.TotalExpected != nil {
		s.TotalExpected = upd.TotalExpected
	}
	if upd.BatchSize != nil {
		s.BatchSize = *upd.BatchSize
	}
	if upd.ErrorMessage != nil {
		s.ErrorMessage = upd.ErrorMessage
	}
	return nil
}

func (m *memorySessions) Advance(_ context.Context, id uuid.UUID, fromOffset, toOffset, processed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != domain.SessionInProgress || s.CurrentOffset != fromOffset {
		return domain.ErrSessionConflict
	}
	s.CurrentOffset = toOffset
	s.TotalProcessed += processed
	return nil
}

func (m *memorySessions) Complete(_ context.Context, id uuid.UUID, success bool, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != domain.SessionInProgress {
		return domain.ErrConflict
	}
	s.Status = domain.SessionCompleted
	if !success {
		s.Status = domain.SessionFailed
	}
	now := time.Now()
	s.CompletedAt = &now
	s.ErrorMessage = errMsg
	return nil
}

func (m *memorySessions) ListByTenant(_ context.Context, tenantID string, limit int) ([]domain.SyncSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SyncSession
	for _, s := range m.sessions {
		if s.TenantID == tenantID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// only returns the single session stored, failing when there is not exactly one.
func (m *memorySessions) only() (domain.SyncSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) != 1 {
		return domain.SyncSession{}, fmt.Errorf("want one session, have %d", len(m.sessions))
	}
	for _, s := range m.sessions {
		return *s, nil
	}
	return domain.SyncSession{}, nil
}

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
