package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type WebhookOperation string

const (
	OperationCreate WebhookOperation = "Create"
	OperationUpdate WebhookOperation = "Update"
	OperationDelete WebhookOperation = "Delete"
	OperationMerge  WebhookOperation = "Merge"
	OperationVoid   WebhookOperation = "Void"
)

func (o WebhookOperation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationMerge, OperationVoid:
		return true
	}
	return false
}

// Direct operations change local state without a sync.
func (o WebhookOperation) Direct() bool {
	return o == OperationDelete || o == OperationVoid
}

type WebhookEventStatus string

const (
	WebhookPending   WebhookEventStatus = "pending"
	WebhookProcessed WebhookEventStatus = "processed"
)

type WebhookEvent struct {
	ID             uuid.UUID          `db:"id"`
	IdempotencyKey string             `db:"idempotency_key"`
	RealmID        string             `db:"realm_id"`
	TenantID       string             `db:"tenant_id"`
	Entity         EntityKind         `db:"entity"`
	ExternalID     string             `db:"external_id"`
	Operation      WebhookOperation   `db:"operation"`
	LastUpdated    *time.Time         `db:"last_updated"`
	Status         WebhookEventStatus `db:"status"`
	CreatedAt      time.Time          `db:"created_at"`
	ProcessedAt    *time.Time         `db:"processed_at"`
}

// IdempotencyKey derives the dedupe key of a change notification. Timestamps
// that parse are normalized to UTC so equivalent renderings collapse.
func IdempotencyKey(realmID string, kind EntityKind, externalID, lastUpdated string) string {
	ts := strings.TrimSpace(lastUpdated)
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		ts = t.UTC().Format(time.RFC3339Nano)
	}
	return strings.Join([]string{realmID, string(kind), externalID, ts}, ":")
}
