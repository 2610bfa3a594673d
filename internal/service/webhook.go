package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"erp_sync/internal/domain"
	"erp_sync/internal/metrics"
	"erp_sync/internal/source/qbo"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

type WebhookPayload struct {
	EventNotifications []EventNotification `json:"eventNotifications"`
}

type EventNotification struct {
	RealmID         string          `json:"realmId"`
	DataChangeEvent DataChangeEvent `json:"dataChangeEvent"`
}

type DataChangeEvent struct {
	Entities []EntityChange `json:"entities"`
}

type EntityChange struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	Operation   string `json:"operation"`
	LastUpdated string `json:"lastUpdated"`
}

type WebhookResult struct {
	Success    bool     `json:"success"`
	Processed  int      `json:"processed"`
	Duplicates int      `json:"duplicates,omitempty"`
	Ignored    int      `json:"ignored,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// WebhookService turns change notifications into idempotent local work.
// Delete and Void apply directly; everything else becomes a queued job.
type WebhookService struct {
	verifierToken []byte
	tenants       *TenantResolver
	events        WebhookEventStore
	records       RecordIndex
	queue         QueueStore
	tx            TransactionManager
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

func NewWebhookService(
	verifierToken string,
	tenants *TenantResolver,
	events WebhookEventStore,
	records RecordIndex,
	queue QueueStore,
	tx TransactionManager,
	m *metrics.Metrics,
	logger *slog.Logger,
) *WebhookService {
	return &WebhookService{
		verifierToken: []byte(verifierToken),
		tenants:       tenants,
		events:        events,
		records:       records,
		queue:         queue,
		tx:            tx,
		metrics:       m,
		logger:        logger.With("component", "webhook"),
	}
}

// VerifySignature checks the base64 HMAC-SHA256 of payload. It is a no-op
// when no verifier token is configured.
func (s *WebhookService) VerifySignature(payload []byte, signature string) error {
	if len(s.verifierToken) == 0 {
		return nil
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, s.verifierToken)
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Ingest processes a verified payload. The result always reports success;
// failures are listed in Errors and logged.
func (s *WebhookService) Ingest(ctx context.Context, payload []byte) WebhookResult {
	result := WebhookResult{Success: true}

	var body WebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		s.logger.Warn("malformed webhook payload", "error", err)
		s.metrics.WebhookEvent("malformed")
		result.Errors = append(result.Errors, "malformed payload")
		return result
	}

	for _, n := range body.EventNotifications {
		tenantID, err := s.tenants.Resolve(ctx, n.RealmID)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Info("no active connection for realm, ignoring", "realm_id", n.RealmID)
			result.Ignored += len(n.DataChangeEvent.Entities)
			s.metrics.WebhookEvent("unknown_realm")
			continue
		}
		if err != nil {
			s.logger.Error("failed to resolve realm", "realm_id", n.RealmID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("realm %s: %v", n.RealmID, err))
			continue
		}

		for _, change := range n.DataChangeEvent.Entities {
			outcome, err := s.ingestChange(ctx, n.RealmID, tenantID, change)
			s.metrics.WebhookEvent(outcome)
			switch {
			case err != nil:
				s.logger.Error("failed to process change",
					"realm_id", n.RealmID,
					"entity", change.Name,
					"external_id", change.ID,
					"operation", change.Operation,
					"error", err,
				)
				result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", change.Name, change.ID, err))
			case outcome == "duplicate":
				result.Duplicates++
			case outcome == "ignored":
				result.Ignored++
			default:
				result.Processed++
			}
		}
	}

	return result
}

func (s *WebhookService) ingestChange(ctx context.Context, realmID, tenantID string, change EntityChange) (string, error) {
	kind, err := domain.ParseEntityKind(change.Name)
	if err != nil {
		s.logger.Debug("ignoring change for unsynced entity", "entity", change.Name)
		return "ignored", nil
	}
	op := domain.WebhookOperation(change.Operation)
	if !op.Valid() {
		return "invalid", fmt.Errorf("%w: unknown operation %q", domain.ErrInvalidInput, change.Operation)
	}
	if change.ID == "" {
		return "invalid", fmt.Errorf("%w: change carries no id", domain.ErrInvalidInput)
	}

	event := &domain.WebhookEvent{
		ID:             uuid.Must(uuid.NewV7()),
		IdempotencyKey: domain.IdempotencyKey(realmID, kind, change.ID, change.LastUpdated),
		RealmID:        realmID,
		TenantID:       tenantID,
		Entity:         kind,
		ExternalID:     change.ID,
		Operation:      op,
		LastUpdated:    qbo.Timestamp(change.LastUpdated),
		Status:         domain.WebhookPending,
	}

	outcome := "queued"
	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		recorded, err := s.events.Record(txCtx, event)
		if err != nil {
			return err
		}
		if !recorded {
			outcome = "duplicate"
			return nil
		}

		if op.Direct() {
			outcome = "applied"
			if err := s.apply(txCtx, tenantID, kind, change.ID, op); err != nil {
				return err
			}
		} else if err := s.enqueue(txCtx, tenantID, kind); err != nil {
			return err
		}

		return s.events.MarkProcessed(txCtx, event.ID)
	})
	if err != nil {
		return "error", err
	}
	return outcome, nil
}

func (s *WebhookService) apply(ctx context.Context, tenantID string, kind domain.EntityKind, externalID string, op domain.WebhookOperation) error {
	var (
		found bool
		err   error
	)
	if op == domain.OperationVoid && (kind == domain.EntityInvoice || kind == domain.EntityPayment) {
		found, err = s.records.MarkVoided(ctx, tenantID, kind, externalID)
	} else {
		found, err = s.records.Deactivate(ctx, tenantID, kind, externalID)
	}
	if err != nil {
		return fmt.Errorf("apply %s: %w", op, err)
	}
	if !found {
		s.logger.Info("change targets unknown record",
			"tenant", tenantID,
			"entity", kind,
			"external_id", externalID,
			"operation", op,
		)
	}
	return nil
}

func (s *WebhookService) enqueue(ctx context.Context, tenantID string, kind domain.EntityKind) error {
	job := &domain.SyncQueueJob{
		ID:        uuid.Must(uuid.NewV7()),
		TenantID:  tenantID,
		Entity:    kind,
		Direction: domain.DirectionPull,
		Priority:  domain.PriorityHigh,
		Mode:      domain.SyncModeDelta,
		Source:    domain.JobSourceWebhook,
	}
	inserted, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		return fmt.Errorf("enqueue sync job: %w", err)
	}
	if !inserted {
		s.logger.Debug("change coalesced into pending job", "tenant", tenantID, "entity", kind)
	}
	return nil
}
