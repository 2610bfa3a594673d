package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"erp_sync/internal/domain"
)

var recordTables = map[domain.EntityKind]string{
	domain.EntityCustomer: "customers",
	domain.EntityItem:     "items",
	domain.EntityInvoice:  "invoices",
	domain.EntityPayment:  "payments",
}

func tableFor(kind domain.EntityKind) (string, error) {
	table, ok := recordTables[kind]
	if !ok {
		return "", fmt.Errorf("%w: no table for entity %q", domain.ErrInvalidInput, kind)
	}
	return table, nil
}

// RecordIndex answers the entity-agnostic questions the sync engine asks of
// every record table.
type RecordIndex struct {
	db *sqlx.DB
}

func NewRecordIndex(db *sqlx.DB) *RecordIndex {
	return &RecordIndex{db: db}
}

// LoadMappings returns every known external id of kind mapped to its internal id.
func (r *RecordIndex) LoadMappings(ctx context.Context, tenantID string, kind domain.EntityKind) (map[string]int64, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := `SELECT external_id, id FROM ` + table + ` WHERE tenant_id = $1 AND external_id IS NOT NULL`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load %s mappings: %w", kind, err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var extID string
		var id int64
		if err := rows.Scan(&extID, &id); err != nil {
			return nil, err
		}
		result[extID] = id
	}

	return result, rows.Err()
}

func (r *RecordIndex) LocalVersions(ctx context.Context, tenantID string, kind domain.EntityKind, externalIDs []string) (map[string]domain.LocalVersion, error) {
	if len(externalIDs) == 0 {
		return make(map[string]domain.LocalVersion), nil
	}
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT external_id, id, updated_at, sync_status = 'pending'
		FROM ` + table + `
		WHERE tenant_id = $1 AND external_id = ANY($2)`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, tenantID, pq.Array(externalIDs))
	if err != nil {
		return nil, fmt.Errorf("load %s versions: %w", kind, err)
	}
	defer rows.Close()

	result := make(map[string]domain.LocalVersion)
	for rows.Next() {
		var extID string
		var v domain.LocalVersion
		if err := rows.Scan(&extID, &v.ID, &v.UpdatedAt, &v.Pending); err != nil {
			return nil, err
		}
		result[extID] = v
	}

	return result, rows.Err()
}

func (r *RecordIndex) CountPending(ctx context.Context, tenantID string, kind domain.EntityKind) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	var count int
	query := `
		SELECT COUNT(*) FROM ` + table + `
		WHERE tenant_id = $1 AND active AND (external_id IS NULL OR sync_status = 'pending')`

	err = sqlx.GetContext(ctx, GetExecutor(ctx, r.db), &count, query, tenantID)
	return count, err
}

// MarkSynced stamps a pushed record with its external identity.
func (r *RecordIndex) MarkSynced(ctx context.Context, kind domain.EntityKind, id int64, externalID, syncToken string, externalUpdated *time.Time) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	query := `
		UPDATE ` + table + ` SET
			external_id = $2,
			sync_token = $3,
			external_updated_at = COALESCE($4, external_updated_at),
			sync_status = 'synced',
			sync_error = NULL,
			synced_at = NOW()
		WHERE id = $1`

	res, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, id, externalID, syncToken, externalUpdated)
	if err != nil {
		return fmt.Errorf("mark %s %d synced: %w", kind, id, err)
	}
	return expectOne(res, fmt.Errorf("%s %d: %w", kind, id, domain.ErrNotFound))
}

func (r *RecordIndex) MarkSyncError(ctx context.Context, kind domain.EntityKind, id int64, message string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	query := `UPDATE ` + table + ` SET sync_status = 'error', sync_error = $2 WHERE id = $1`

	_, err = GetExecutor(ctx, r.db).ExecContext(ctx, query, id, message)
	if err != nil {
		return fmt.Errorf("mark %s %d error: %w", kind, id, err)
	}
	return nil
}

// Deactivate marks a record deleted externally. Unknown records are ignored
// and reported through the returned flag.
func (r *RecordIndex) Deactivate(ctx context.Context, tenantID string, kind domain.EntityKind, externalID string) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE ` + table + ` SET active = FALSE, updated_at = NOW()
		WHERE tenant_id = $1 AND external_id = $2`

	res, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, tenantID, externalID)
	if err != nil {
		return false, fmt.Errorf("deactivate %s %s: %w", kind, externalID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkVoided voids a transaction. Only invoices and payments can be voided.
func (r *RecordIndex) MarkVoided(ctx context.Context, tenantID string, kind domain.EntityKind, externalID string) (bool, error) {
	if kind != domain.EntityInvoice && kind != domain.EntityPayment {
		return false, fmt.Errorf("%w: %s cannot be voided", domain.ErrInvalidInput, kind)
	}
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE ` + table + ` SET voided = TRUE, updated_at = NOW()
		WHERE tenant_id = $1 AND external_id = $2`

	res, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, tenantID, externalID)
	if err != nil {
		return false, fmt.Errorf("void %s %s: %w", kind, externalID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
