package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"erp_sync/internal/domain"
)

type ConnectionStore struct {
	db *sqlx.DB
}

func NewConnectionStore(db *sqlx.DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

// GetByRealm returns the active connection for an external realm.
func (s *ConnectionStore) GetByRealm(ctx context.Context, realmID string) (*domain.Connection, error) {
	var conn domain.Connection
	query := `
		SELECT tenant_id, realm_id, access_token, active, updated_at
		FROM connections
		WHERE realm_id = $1 AND active`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &conn, query, realmID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("realm %s: %w", realmID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// Credential returns the active connection of a tenant.
func (s *ConnectionStore) Credential(ctx context.Context, tenantID string) (*domain.Connection, error) {
	var conn domain.Connection
	query := `
		SELECT tenant_id, realm_id, access_token, active, updated_at
		FROM connections
		WHERE tenant_id = $1 AND active`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &conn, query, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if conn.AccessToken == "" {
		return nil, fmt.Errorf("tenant %s has no access token: %w", tenantID, domain.ErrNotFound)
	}
	return &conn, nil
}

func (s *ConnectionStore) ListActive(ctx context.Context) ([]domain.Connection, error) {
	query := `
		SELECT tenant_id, realm_id, access_token, active, updated_at
		FROM connections
		WHERE active
		ORDER BY tenant_id`

	var conns []domain.Connection
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &conns, query)
	return conns, err
}

// Save creates or replaces a tenant connection.
func (s *ConnectionStore) Save(ctx context.Context, conn *domain.Connection) error {
	query := `
		INSERT INTO connections (tenant_id, realm_id, access_token, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id) DO UPDATE SET
			realm_id = EXCLUDED.realm_id,
			access_token = EXCLUDED.access_token,
			active = EXCLUDED.active,
			updated_at = NOW()`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, conn.TenantID, conn.RealmID, conn.AccessToken, conn.Active)
	if err != nil {
		return fmt.Errorf("save connection: %w", err)
	}
	return nil
}
