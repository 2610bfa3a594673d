package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"erp_sync/internal/domain"
)

type HistoryStore struct {
	db *sqlx.DB
}

func NewHistoryStore(db *sqlx.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

type historyRow struct {
	ID          uuid.UUID      `db:"id"`
	TenantID    string         `db:"tenant_id"`
	Direction   string         `db:"direction"`
	Mode        string         `db:"sync_mode"`
	Entities    pq.StringArray `db:"entities"`
	Status      string         `db:"status"`
	TotalPulled int            `db:"total_pulled"`
	TotalPushed int            `db:"total_pushed"`
	ErrorCount  int            `db:"error_count"`
	Results     []byte         `db:"results"`
	StartedAt   time.Time      `db:"started_at"`
	CompletedAt *time.Time     `db:"completed_at"`
}

func (r historyRow) toDomain() (domain.SyncHistory, error) {
	h := domain.SyncHistory{
		ID:          r.ID,
		TenantID:    r.TenantID,
		Direction:   domain.Direction(r.Direction),
		Mode:        domain.SyncMode(r.Mode),
		Status:      domain.HistoryStatus(r.Status),
		TotalPulled: r.TotalPulled,
		TotalPushed: r.TotalPushed,
		ErrorCount:  r.ErrorCount,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	for _, e := range r.Entities {
		h.Entities = append(h.Entities, domain.EntityKind(e))
	}
	if len(r.Results) > 0 {
		if err := json.Unmarshal(r.Results, &h.Results); err != nil {
			return h, fmt.Errorf("decode history results: %w", err)
		}
	}
	return h, nil
}

func entityNames(kinds []domain.EntityKind) pq.StringArray {
	names := make(pq.StringArray, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

// Start records a run as in progress.
func (s *HistoryStore) Start(ctx context.Context, h *domain.SyncHistory) error {
	query := `
		INSERT INTO sync_history (id, tenant_id, direction, sync_mode, entities, status, started_at)
		VALUES ($1, $2, $3, $4, $5, 'in_progress', $6)`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		h.ID, h.TenantID, h.Direction, h.Mode, entityNames(h.Entities), h.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("start history: %w", err)
	}
	return nil
}

func (s *HistoryStore) Finish(ctx context.Context, h *domain.SyncHistory) error {
	results, err := json.Marshal(h.Results)
	if err != nil {
		return fmt.Errorf("encode history results: %w", err)
	}

	query := `
		UPDATE sync_history SET
			status = $2,
			total_pulled = $3,
			total_pushed = $4,
			error_count = $5,
			results = $6,
			completed_at = $7
		WHERE id = $1`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		h.ID, h.Status, h.TotalPulled, h.TotalPushed, h.ErrorCount, results, h.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("finish history: %w", err)
	}
	return expectOne(res, fmt.Errorf("history %s: %w", h.ID, domain.ErrNotFound))
}

// LastSuccessful returns the start of the tenant's latest completed run, or
// nil. Changes made while that run was in flight stay above the watermark.
func (s *HistoryStore) LastSuccessful(ctx context.Context, tenantID string) (*time.Time, error) {
	var last sql.NullTime
	query := `SELECT MAX(started_at) FROM sync_history WHERE tenant_id = $1 AND status = 'completed'`

	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &last, query, tenantID); err != nil {
		return nil, fmt.Errorf("last successful sync: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}

func (s *HistoryStore) List(ctx context.Context, tenantID string, limit int) ([]domain.SyncHistory, error) {
	query := `
		SELECT id, tenant_id, direction, sync_mode, entities, status, total_pulled, total_pushed,
			error_count, results, started_at, completed_at
		FROM sync_history
		WHERE tenant_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	var rows []historyRow
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query, tenantID, limit); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	history := make([]domain.SyncHistory, 0, len(rows))
	for _, r := range rows {
		h, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, nil
}
