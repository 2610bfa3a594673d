package httpapi

import (
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	"erp_sync/internal/domain"
	"erp_sync/internal/service"
)

const maxBatchSize = 1000

// parsed adapts a domain parser to a validation rule.
func parsed[T any](parse func(string) (T, error)) validation.Rule {
	return validation.By(func(value any) error {
		s, _ := value.(string)
		if _, err := parse(s); err != nil {
			return validation.NewError("validation_enum", err.Error())
		}
		return nil
	})
}

var validEntities = validation.Each(validation.By(func(value any) error {
	s, _ := value.(string)
	if _, err := domain.ParseEntityKind(s); err != nil {
		return validation.NewError("validation_entity", "unknown entity")
	}
	return nil
}))

type SyncRequest struct {
	Direction          string   `json:"direction"`
	Entities           []string `json:"entities"`
	ConflictResolution string   `json:"conflictResolution"`
	RetryAttempts      int      `json:"retryAttempts"`
	Mode               string   `json:"mode"`
	BatchSize          int      `json:"batchSize"`
}

func (r *SyncRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Direction, parsed(domain.ParseDirection)),
		validation.Field(&r.Entities, validEntities),
		validation.Field(&r.ConflictResolution, parsed(domain.ParseConflictStrategy)),
		validation.Field(&r.RetryAttempts, validation.Min(0), validation.Max(10)),
		validation.Field(&r.Mode, parsed(domain.ParseSyncMode)),
		validation.Field(&r.BatchSize, validation.Min(0), validation.Max(maxBatchSize)),
	)
}

// ToOrchestrationRequest expects a validated request.
func (r *SyncRequest) ToOrchestrationRequest(tenantID string) (service.OrchestrationRequest, error) {
	direction, err := domain.ParseDirection(r.Direction)
	if err != nil {
		return service.OrchestrationRequest{}, err
	}
	entities, err := domain.ParseEntityKinds(r.Entities)
	if err != nil {
		return service.OrchestrationRequest{}, err
	}
	conflict, err := domain.ParseConflictStrategy(r.ConflictResolution)
	if err != nil {
		return service.OrchestrationRequest{}, err
	}
	mode, err := domain.ParseSyncMode(r.Mode)
	if err != nil {
		return service.OrchestrationRequest{}, err
	}
	return service.OrchestrationRequest{
		TenantID:      tenantID,
		Direction:     direction,
		Entities:      entities,
		Mode:          mode,
		Conflict:      conflict,
		RetryAttempts: r.RetryAttempts,
		BatchSize:     r.BatchSize,
	}, nil
}

type EntitySyncRequest struct {
	Direction          string     `json:"direction"`
	SessionID          *uuid.UUID `json:"sessionId"`
	Offset             *int       `json:"offset"`
	BatchSize          int        `json:"batchSize"`
	Mode               string     `json:"mode"`
	Since              *time.Time `json:"since"`
	ConflictResolution string     `json:"conflictResolution"`
}

func (r *EntitySyncRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Direction, validation.In("", string(domain.DirectionPull), string(domain.DirectionPush)).
			Error("must be pull or push")),
		validation.Field(&r.Offset, validation.Min(0)),
		validation.Field(&r.BatchSize, validation.Min(0), validation.Max(maxBatchSize)),
		validation.Field(&r.Mode, parsed(domain.ParseSyncMode)),
		validation.Field(&r.ConflictResolution, parsed(domain.ParseConflictStrategy)),
	)
}

func (r *EntitySyncRequest) ToWorkerRequest(tenantID string, entity domain.EntityKind) (domain.WorkerRequest, error) {
	direction, err := domain.ParseDirection(r.Direction)
	if err != nil {
		return domain.WorkerRequest{}, err
	}
	mode, err := domain.ParseSyncMode(r.Mode)
	if err != nil {
		return domain.WorkerRequest{}, err
	}
	conflict, err := domain.ParseConflictStrategy(r.ConflictResolution)
	if err != nil {
		return domain.WorkerRequest{}, err
	}
	return domain.WorkerRequest{
		TenantID:  tenantID,
		Entity:    entity,
		Direction: direction,
		SessionID: r.SessionID,
		Offset:    r.Offset,
		BatchSize: r.BatchSize,
		Mode:      mode,
		Since:     r.Since,
		Conflict:  conflict,
	}, nil
}

type EntitySyncResponse struct {
	Success       bool                 `json:"success"`
	SessionID     uuid.UUID            `json:"sessionId"`
	Processed     int                  `json:"processed"`
	CurrentOffset int                  `json:"currentOffset"`
	IsComplete    bool                 `json:"isComplete"`
	NextOffset    *int                 `json:"nextOffset"`
	Upserted      int                  `json:"upserted"`
	Skipped       int                  `json:"skipped"`
	Conflicts     int                  `json:"conflicts"`
	Errors        []domain.RecordError `json:"errors,omitempty"`
}

func NewEntitySyncResponse(resp *domain.WorkerResponse) EntitySyncResponse {
	return EntitySyncResponse{
		Success:       resp.Success,
		SessionID:     resp.SessionID,
		Processed:     resp.Processed,
		CurrentOffset: resp.CurrentOffset,
		IsComplete:    resp.IsComplete,
		NextOffset:    resp.NextOffset,
		Upserted:      resp.Upserted,
		Skipped:       resp.Skipped,
		Conflicts:     resp.Conflicts,
		Errors:        resp.Errors,
	}
}

type EnqueueJobRequest struct {
	Entity    string `json:"entity"`
	Direction string `json:"direction"`
	Priority  string `json:"priority"`
	Mode      string `json:"mode"`
}

func (r *EnqueueJobRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Entity, validation.When(r.Entity != "", validation.By(func(any) error {
			if _, err := domain.ParseEntityKind(r.Entity); err != nil {
				return validation.NewError("validation_entity", "unknown entity")
			}
			return nil
		}))),
		validation.Field(&r.Direction, parsed(domain.ParseDirection)),
		validation.Field(&r.Priority, parsed(domain.ParsePriority)),
		validation.Field(&r.Mode, parsed(domain.ParseSyncMode)),
	)
}

// ToJob builds a pending manual job. An empty entity queues every kind and
// an empty direction means both.
func (r *EnqueueJobRequest) ToJob(tenantID string) (*domain.SyncQueueJob, error) {
	job := &domain.SyncQueueJob{
		ID:        uuid.Must(uuid.NewV7()),
		TenantID:  tenantID,
		Direction: domain.DirectionBoth,
		Status:    domain.JobPending,
		Source:    domain.JobSourceManual,
	}
	if r.Entity != "" {
		kind, err := domain.ParseEntityKind(r.Entity)
		if err != nil {
			return nil, err
		}
		job.Entity = kind
	}
	if r.Direction != "" {
		direction, err := domain.ParseDirection(r.Direction)
		if err != nil {
			return nil, err
		}
		job.Direction = direction
	}
	var err error
	if job.Priority, err = domain.ParsePriority(r.Priority); err != nil {
		return nil, err
	}
	if job.Mode, err = domain.ParseSyncMode(r.Mode); err != nil {
		return nil, err
	}
	return job, nil
}

type EnqueueJobResponse struct {
	Queued bool                `json:"queued"`
	Job    domain.SyncQueueJob `json:"job"`
}
