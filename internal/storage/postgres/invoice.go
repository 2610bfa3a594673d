package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"erp_sync/internal/domain"
)

var invoiceColumns = []string{
	"tenant_id", "external_id", "sync_token", "sync_status", "active", "external_updated_at",
	"customer_id", "doc_number", "txn_date", "due_date", "total_amount", "balance",
	"currency", "private_note", "voided",
}

var invoiceLineColumns = []string{
	"invoice_id", "line_number", "item_id", "description", "quantity", "unit_price", "amount",
}

type InvoiceStore struct {
	db *sqlx.DB
}

func NewInvoiceStore(db *sqlx.DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

// UpsertBatch writes invoice headers and replaces the lines of every header
// that was written. Headers skipped by the timestamp guard keep their lines.
// Call inside a transaction.
func (s *InvoiceStore) UpsertBatch(ctx context.Context, tenantID string, invoices []domain.Invoice) (int, error) {
	invoices = dedupeByExternalID(invoices, func(i domain.Invoice) *string { return i.ExternalID })
	if len(invoices) == 0 {
		return 0, nil
	}

	b := newBatchInsert("invoices", invoiceColumns)
	for _, inv := range invoices {
		b.add(
			tenantID, inv.ExternalID, inv.SyncToken, domain.SyncSynced, inv.Active, inv.ExternalUpdatedAt,
			inv.CustomerID, inv.DocNumber, inv.TxnDate, inv.DueDate, inv.TotalAmount, inv.Balance,
			inv.Currency, inv.PrivateNote, inv.Voided,
		)
	}
	query, args := b.query(upsertOnExternalID("invoices", invoiceColumns[2:]) + " RETURNING id, external_id")

	written, err := s.upsertReturningIDs(ctx, query, args)
	if err != nil {
		return 0, fmt.Errorf("upsert invoices: %w", err)
	}
	if len(written) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(written))
	for _, id := range written {
		ids = append(ids, id)
	}
	if _, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM invoice_lines WHERE invoice_id = ANY($1)", pq.Array(ids),
	); err != nil {
		return 0, fmt.Errorf("delete invoice lines: %w", err)
	}

	lines := newBatchInsert("invoice_lines", invoiceLineColumns)
	for _, inv := range invoices {
		invoiceID, ok := written[*inv.ExternalID]
		if !ok {
			continue
		}
		for _, l := range inv.Lines {
			lines.add(invoiceID, l.LineNumber, l.ItemID, l.Description, l.Quantity, l.UnitPrice, l.Amount)
		}
	}
	if !lines.empty() {
		query, args := lines.query("")
		if _, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("insert invoice lines: %w", err)
		}
	}

	return len(written), nil
}

func (s *InvoiceStore) upsertReturningIDs(ctx context.Context, query string, args []any) (map[string]int64, error) {
	rows, err := GetExecutor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	written := make(map[string]int64)
	for rows.Next() {
		var id int64
		var extID string
		if err := rows.Scan(&id, &extID); err != nil {
			return nil, err
		}
		written[extID] = id
	}
	return written, rows.Err()
}

// ListPending returns invoices needing a push with the external references
// of their customer and line items joined in.
func (s *InvoiceStore) ListPending(ctx context.Context, tenantID string, afterID int64, limit int) ([]domain.Invoice, error) {
	query := `
		SELECT inv.id, inv.tenant_id, inv.external_id, inv.sync_token, inv.sync_status, inv.active,
			inv.external_updated_at, inv.updated_at, inv.customer_id, c.external_id AS customer_external_id,
			inv.doc_number, inv.txn_date, inv.due_date, inv.total_amount, inv.balance, inv.currency,
			inv.private_note, inv.voided
		FROM invoices inv
		INNER JOIN customers c ON c.id = inv.customer_id
		WHERE inv.tenant_id = $1 AND inv.id > $2 AND inv.active
			AND (inv.external_id IS NULL OR inv.sync_status = 'pending')
		ORDER BY inv.id
		LIMIT $3`

	exec := GetExecutor(ctx, s.db)

	var invoices []domain.Invoice
	if err := sqlx.SelectContext(ctx, exec, &invoices, query, tenantID, afterID, limit); err != nil {
		return nil, fmt.Errorf("list pending invoices: %w", err)
	}
	if len(invoices) == 0 {
		return invoices, nil
	}

	ids := make([]int64, len(invoices))
	byID := make(map[int64]int, len(invoices))
	for i, inv := range invoices {
		ids[i] = inv.ID
		byID[inv.ID] = i
	}

	linesQuery := `
		SELECT l.invoice_id, l.line_number, l.item_id, i.external_id AS item_external_id,
			l.description, l.quantity, l.unit_price, l.amount
		FROM invoice_lines l
		INNER JOIN items i ON i.id = l.item_id
		WHERE l.invoice_id = ANY($1)
		ORDER BY l.invoice_id, l.line_number`

	var lines []domain.InvoiceLine
	if err := sqlx.SelectContext(ctx, exec, &lines, linesQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list invoice lines: %w", err)
	}
	for _, l := range lines {
		inv := &invoices[byID[l.InvoiceID]]
		inv.Lines = append(inv.Lines, l)
	}

	return invoices, nil
}
