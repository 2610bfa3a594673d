package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// SyncRunResult is the outcome of one entity within an orchestrated run.
type SyncRunResult struct {
	Entity    EntityKind    `json:"entity"`
	Pulled    int           `json:"pulled"`
	Pushed    int           `json:"pushed"`
	Skipped   int           `json:"skipped"`
	Conflicts int           `json:"conflicts"`
	Errors    []string      `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
	Status    RunStatus     `json:"status"`
	Complete  bool          `json:"complete"`
	Attempts  int           `json:"attempts"`
}

type HistoryStatus string

const (
	HistoryInProgress     HistoryStatus = "in_progress"
	HistoryCompleted      HistoryStatus = "completed"
	HistoryPartialSuccess HistoryStatus = "partial_success"
	HistoryFailed         HistoryStatus = "failed"
)

type OrchestrationResult struct {
	RunID       uuid.UUID       `json:"runId"`
	TenantID    string          `json:"tenantId"`
	Direction   Direction       `json:"direction"`
	Success     bool            `json:"success"`
	Status      HistoryStatus   `json:"status"`
	TotalPulled int             `json:"totalPulled"`
	TotalPushed int             `json:"totalPushed"`
	Results     []SyncRunResult `json:"results"`
	StartedAt   time.Time       `json:"startedAt"`
	Duration    time.Duration   `json:"duration"`
}

// ErrorCount sums error messages over all entity results.
func (r *OrchestrationResult) ErrorCount() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Errors)
	}
	return n
}

// SyncHistory is the persisted summary of one orchestrated run.
type SyncHistory struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Direction   Direction       `json:"direction"`
	Mode        SyncMode        `json:"mode"`
	Entities    []EntityKind    `json:"entities"`
	Status      HistoryStatus   `json:"status"`
	TotalPulled int             `json:"total_pulled"`
	TotalPushed int             `json:"total_pushed"`
	ErrorCount  int             `json:"error_count"`
	Results     []SyncRunResult `json:"results"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
