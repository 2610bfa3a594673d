package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank orders priorities; lower runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	}
	return 3
}

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return p, nil
	case "":
		return PriorityNormal, nil
	}
	return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, s)
}

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

const (
	JobSourceWebhook      = "webhook"
	JobSourceManual       = "manual"
	JobSourceSchedule     = "schedule"
	JobSourceContinuation = "continuation"
)

// SyncQueueJob is deferred sync work. An empty Entity means every entity kind.
type SyncQueueJob struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	TenantID    string     `db:"tenant_id" json:"tenant_id"`
	Entity      EntityKind `db:"entity" json:"entity"`
	Direction   Direction  `db:"direction" json:"direction"`
	Priority    Priority   `db:"priority" json:"priority"`
	Status      JobStatus  `db:"status" json:"status"`
	Mode        SyncMode   `db:"sync_mode" json:"sync_mode"`
	Source      string     `db:"source" json:"source"`
	Attempts    int        `db:"attempts" json:"attempts"`
	LastError   *string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at"`
}

func (j *SyncQueueJob) Entities() []EntityKind {
	if j.Entity == "" {
		return nil
	}
	return []EntityKind{j.Entity}
}
