package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"erp_sync/internal/domain"
)

var customerColumns = []string{
	"tenant_id", "external_id", "sync_token", "sync_status", "active", "external_updated_at",
	"display_name", "company_name", "given_name", "family_name", "email", "phone",
	"address_line1", "city", "region", "postal_code", "country", "balance",
}

type CustomerStore struct {
	db *sqlx.DB
}

func NewCustomerStore(db *sqlx.DB) *CustomerStore {
	return &CustomerStore{db: db}
}

// UpsertBatch writes pulled customers in one statement and returns the number
// of rows inserted or updated.
func (s *CustomerStore) UpsertBatch(ctx context.Context, tenantID string, customers []domain.Customer) (int, error) {
	customers = dedupeByExternalID(customers, func(c domain.Customer) *string { return c.ExternalID })
	if len(customers) == 0 {
		return 0, nil
	}

	b := newBatchInsert("customers", customerColumns)
	for _, c := range customers {
		b.add(
			tenantID, c.ExternalID, c.SyncToken, domain.SyncSynced, c.Active, c.ExternalUpdatedAt,
			c.DisplayName, c.CompanyName, c.GivenName, c.FamilyName, c.Email, c.Phone,
			c.AddressLine1, c.City, c.Region, c.PostalCode, c.Country, c.Balance,
		)
	}
	query, args := b.query(upsertOnExternalID("customers", customerColumns[2:]))

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert customers: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListPending returns customers that still need a push, after afterID in id order.
func (s *CustomerStore) ListPending(ctx context.Context, tenantID string, afterID int64, limit int) ([]domain.Customer, error) {
	query := `
		SELECT ` + syncMetaColumns + `,
			display_name, company_name, given_name, family_name, email, phone,
			address_line1, city, region, postal_code, country, balance
		FROM customers
		WHERE tenant_id = $1 AND id > $2 AND active
			AND (external_id IS NULL OR sync_status = 'pending')
		ORDER BY id
		LIMIT $3`

	var customers []domain.Customer
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &customers, query, tenantID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending customers: %w", err)
	}
	return customers, nil
}
