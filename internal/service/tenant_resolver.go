package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// TenantResolver maps external realm ids to tenants through a bounded cache
// in front of the connection store. Misses are not cached.
type TenantResolver struct {
	connections ConnectionStore
	cache       *expirable.LRU[string, string]
}

func NewTenantResolver(connections ConnectionStore, size int, ttl time.Duration) *TenantResolver {
	return &TenantResolver{
		connections: connections,
		cache:       expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// Resolve returns the tenant of the active connection for realmID, or an
// error wrapping domain.ErrNotFound.
func (r *TenantResolver) Resolve(ctx context.Context, realmID string) (string, error) {
	if tenantID, ok := r.cache.Get(realmID); ok {
		return tenantID, nil
	}

	conn, err := r.connections.GetByRealm(ctx, realmID)
	if err != nil {
		return "", err
	}

	r.cache.Add(realmID, conn.TenantID)
	return conn.TenantID, nil
}

func (r *TenantResolver) Forget(realmID string) {
	r.cache.Remove(realmID)
}
