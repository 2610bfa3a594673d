package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"erp_sync/internal/domain"
)

var itemColumns = []string{
	"tenant_id", "external_id", "sync_token", "sync_status", "active", "external_updated_at",
	"name", "sku", "description", "item_type", "unit_price", "purchase_cost",
	"quantity_on_hand", "income_account_ref",
}

type ItemStore struct {
	db *sqlx.DB
}

func NewItemStore(db *sqlx.DB) *ItemStore {
	return &ItemStore{db: db}
}

func (s *ItemStore) UpsertBatch(ctx context.Context, tenantID string, items []domain.Item) (int, error) {
	items = dedupeByExternalID(items, func(i domain.Item) *string { return i.ExternalID })
	if len(items) == 0 {
		return 0, nil
	}

	b := newBatchInsert("items", itemColumns)
	for _, i := range items {
		b.add(
			tenantID, i.ExternalID, i.SyncToken, domain.SyncSynced, i.Active, i.ExternalUpdatedAt,
			i.Name, i.SKU, i.Description, i.Type, i.UnitPrice, i.PurchaseCost,
			i.QuantityOnHand, i.IncomeAccountRef,
		)
	}
	query, args := b.query(upsertOnExternalID("items", itemColumns[2:]))

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert items: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *ItemStore) ListPending(ctx context.Context, tenantID string, afterID int64, limit int) ([]domain.Item, error) {
	query := `
		SELECT ` + syncMetaColumns + `,
			name, sku, description, item_type, unit_price, purchase_cost,
			quantity_on_hand, income_account_ref
		FROM items
		WHERE tenant_id = $1 AND id > $2 AND active
			AND (external_id IS NULL OR sync_status = 'pending')
		ORDER BY id
		LIMIT $3`

	var items []domain.Item
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &items, query, tenantID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}
	return items, nil
}
