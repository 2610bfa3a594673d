package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"erp_sync/internal/domain"
)

type WebhookEventStore struct {
	db *sqlx.DB
}

func NewWebhookEventStore(db *sqlx.DB) *WebhookEventStore {
	return &WebhookEventStore{db: db}
}

// Record stores the event unless its idempotency key was seen before. The
// result is false for duplicates.
func (s *WebhookEventStore) Record(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	query := `
		INSERT INTO webhook_events (
			id, idempotency_key, realm_id, tenant_id, entity, external_id, operation, last_updated, status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, 'pending'
		)
		ON CONFLICT (idempotency_key) DO NOTHING`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		event.ID,
		event.IdempotencyKey,
		event.RealmID,
		event.TenantID,
		event.Entity,
		event.ExternalID,
		event.Operation,
		event.LastUpdated,
	)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *WebhookEventStore) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE webhook_events SET status = 'processed', processed_at = NOW() WHERE id = $1`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return expectOne(res, fmt.Errorf("webhook event %s: %w", id, domain.ErrNotFound))
}
