package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"erp_sync/internal/domain"
	"erp_sync/internal/source/qbo"
)

type AccountingClient interface {
	Query(ctx context.Context, tenantID string, req qbo.QueryRequest) (*qbo.Page, error)
	Count(ctx context.Context, tenantID string, kind domain.EntityKind, where string) (int, error)
	Create(ctx context.Context, tenantID string, kind domain.EntityKind, payload any) (*qbo.MutationResult, error)
	Update(ctx context.Context, tenantID string, kind domain.EntityKind, payload any) (*qbo.MutationResult, error)
}

type SessionStore interface {
	Create(ctx context.Context, session *domain.SyncSession) (*domain.SyncSession, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.SyncSession, error)
	FindActive(ctx context.Context, tenantID string, entity domain.EntityKind, direction domain.Direction) (*domain.SyncSession, error)
	Update(ctx context.Context, id uuid.UUID, upd domain.SessionUpdate) error
	Advance(ctx context.Context, id uuid.UUID, fromOffset, toOffset, processed int) error
	Complete(ctx context.Context, id uuid.UUID, success bool, errMsg *string) error
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.SyncSession, error)
}

type RecordIndex interface {
	LoadMappings(ctx context.Context, tenantID string, kind domain.EntityKind) (map[string]int64, error)
	LocalVersions(ctx context.Context, tenantID string, kind domain.EntityKind, externalIDs []string) (map[string]domain.LocalVersion, error)
	CountPending(ctx context.Context, tenantID string, kind domain.EntityKind) (int, error)
	MarkSynced(ctx context.Context, kind domain.EntityKind, id int64, externalID, syncToken string, externalUpdated *time.Time) error
	MarkSyncError(ctx context.Context, kind domain.EntityKind, id int64, message string) error
	Deactivate(ctx context.Context, tenantID string, kind domain.EntityKind, externalID string) (bool, error)
	MarkVoided(ctx context.Context, tenantID string, kind domain.EntityKind, externalID string) (bool, error)
}

type CustomerStore interface {
	UpsertBatch(ctx context.Context, tenantID string, customers []domain.Customer) (int, error)
	ListPending(ctx context.Context, tenantID string, afterID int64, limit int) ([]domain.Customer, error)
}

type ItemStore interface {
	UpsertBatch(ctx context.Context, tenantID string, items []domain.Item) (int, error)
	ListPending(ctx context.Context, tenantID string, afterID int64, limit int) ([]domain.Item, error)
}

type InvoiceStore interface {
	UpsertBatch(ctx context.Context, tenantID string, invoices []domain.Invoice) (int, error)
	ListPending(ctx context.Context, tenantID string, afterID int64, limit int) ([]domain.Invoice, error)
}

type PaymentStore interface {
	UpsertBatch(ctx context.Context, tenantID string, payments []domain.Payment) (int, error)
	ListPending(ctx context.Context, tenantID string, afterID int64, limit int) ([]domain.Payment, error)
}

type QueueStore interface {
	Enqueue(ctx context.Context, job *domain.SyncQueueJob) (bool, error)
	Claim(ctx context.Context, limit int) ([]domain.SyncQueueJob, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, message string) error
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.SyncQueueJob, error)
}

type WebhookEventStore interface {
	Record(ctx context.Context, event *domain.WebhookEvent) (bool, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
}

type HistoryStore interface {
	Start(ctx context.Context, h *domain.SyncHistory) error
	Finish(ctx context.Context, h *domain.SyncHistory) error
	LastSuccessful(ctx context.Context, tenantID string) (*time.Time, error)
	List(ctx context.Context, tenantID string, limit int) ([]domain.SyncHistory, error)
}

type ConnectionStore interface {
	GetByRealm(ctx context.Context, realmID string) (*domain.Connection, error)
	ListActive(ctx context.Context) ([]domain.Connection, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, result *domain.OrchestrationResult) error
	Close() error
}

// EntitySyncer runs one pull or push invocation for a single entity.
type EntitySyncer interface {
	Sync(ctx context.Context, req domain.WorkerRequest) (*domain.WorkerResponse, error)
}
