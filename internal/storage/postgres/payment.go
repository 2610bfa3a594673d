package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"erp_sync/internal/domain"
)

var paymentColumns = []string{
	"tenant_id", "external_id", "sync_token", "sync_status", "active", "external_updated_at",
	"customer_id", "txn_date", "total_amount", "unapplied_amount", "reference_number", "voided",
}

type PaymentStore struct {
	db *sqlx.DB
}

func NewPaymentStore(db *sqlx.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

// UpsertBatch writes payments and replaces the invoice applications of every
// payment that was written. Call inside a transaction.
func (s *PaymentStore) UpsertBatch(ctx context.Context, tenantID string, payments []domain.Payment) (int, error) {
	payments = dedupeByExternalID(payments, func(p domain.Payment) *string { return p.ExternalID })
	if len(payments) == 0 {
		return 0, nil
	}

	exec := GetExecutor(ctx, s.db)

	b := newBatchInsert("payments", paymentColumns)
	for _, p := range payments {
		b.add(
			tenantID, p.ExternalID, p.SyncToken, domain.SyncSynced, p.Active, p.ExternalUpdatedAt,
			p.CustomerID, p.TxnDate, p.TotalAmount, p.UnappliedAmount, p.ReferenceNumber, p.Voided,
		)
	}
	query, args := b.query(upsertOnExternalID("payments", paymentColumns[2:]) + " RETURNING id, external_id")

	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert payments: %w", err)
	}
	written := make(map[string]int64)
	for rows.Next() {
		var id int64
		var extID string
		if err := rows.Scan(&id, &extID); err != nil {
			rows.Close()
			return 0, err
		}
		written[extID] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("upsert payments: %w", err)
	}
	if len(written) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(written))
	for _, id := range written {
		ids = append(ids, id)
	}
	if _, err := exec.ExecContext(ctx,
		"DELETE FROM payment_applications WHERE payment_id = ANY($1)", pq.Array(ids),
	); err != nil {
		return 0, fmt.Errorf("delete payment applications: %w", err)
	}

	apps := newBatchInsert("payment_applications", []string{"payment_id", "invoice_id", "amount"})
	for _, p := range payments {
		paymentID, ok := written[*p.ExternalID]
		if !ok {
			continue
		}
		seen := make(map[int64]bool, len(p.Applications))
		for _, a := range p.Applications {
			if seen[a.InvoiceID] {
				continue
			}
			seen[a.InvoiceID] = true
			apps.add(paymentID, a.InvoiceID, a.Amount)
		}
	}
	if !apps.empty() {
		query, args := apps.query("")
		if _, err := exec.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("insert payment applications: %w", err)
		}
	}

	return len(written), nil
}

func (s *PaymentStore) ListPending(ctx context.Context, tenantID string, afterID int64, limit int) ([]domain.Payment, error) {
	query := `
		SELECT p.id, p.tenant_id, p.external_id, p.sync_token, p.sync_status, p.active,
			p.external_updated_at, p.updated_at, p.customer_id, c.external_id AS customer_external_id,
			p.txn_date, p.total_amount, p.unapplied_amount, p.reference_number, p.voided
		FROM payments p
		INNER JOIN customers c ON c.id = p.customer_id
		WHERE p.tenant_id = $1 AND p.id > $2 AND p.active
			AND (p.external_id IS NULL OR p.sync_status = 'pending')
		ORDER BY p.id
		LIMIT $3`

	exec := GetExecutor(ctx, s.db)

	var payments []domain.Payment
	if err := sqlx.SelectContext(ctx, exec, &payments, query, tenantID, afterID, limit); err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}
	if len(payments) == 0 {
		return payments, nil
	}

	ids := make([]int64, len(payments))
	byID := make(map[int64]int, len(payments))
	for i, p := range payments {
		ids[i] = p.ID
		byID[p.ID] = i
	}

	appsQuery := `
		SELECT a.payment_id, a.invoice_id, i.external_id AS invoice_external_id, a.amount
		FROM payment_applications a
		INNER JOIN invoices i ON i.id = a.invoice_id
		WHERE a.payment_id = ANY($1)
		ORDER BY a.payment_id, a.invoice_id`

	var apps []domain.PaymentApplication
	if err := sqlx.SelectContext(ctx, exec, &apps, appsQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list payment applications: %w", err)
	}
	for _, a := range apps {
		p := &payments[byID[a.PaymentID]]
		p.Applications = append(p.Applications, a)
	}

	return payments, nil
}
