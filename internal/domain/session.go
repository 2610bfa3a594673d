package domain

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// SyncSession is the resumable state of one paginated run for a
// (tenant, entity, direction) triple. At most one is in progress per triple.
type SyncSession struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	TenantID       string        `db:"tenant_id" json:"tenant_id"`
	Entity         EntityKind    `db:"entity" json:"entity"`
	Direction      Direction     `db:"direction" json:"direction"`
	Status         SessionStatus `db:"status" json:"status"`
	TotalExpected  *int          `db:"total_expected" json:"total_expected"`
	TotalProcessed int           `db:"total_processed" json:"total_processed"`
	CurrentOffset  int           `db:"current_offset" json:"current_offset"`
	BatchSize      int           `db:"batch_size" json:"batch_size"`
	Mode           SyncMode      `db:"sync_mode" json:"sync_mode"`
	// FilterSince is the lower LastUpdatedTime bound of a delta or
	// historical pull, fixed when the session is created.
	FilterSince    *time.Time    `db:"filter_since" json:"filter_since"`
	StartedAt      time.Time     `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time    `db:"completed_at" json:"completed_at"`
	LastChunkAt    *time.Time    `db:"last_chunk_at" json:"last_chunk_at"`
	ErrorMessage   *string       `db:"error_message" json:"error_message"`
}

// Exhausted reports whether the processed count reached the known total.
func (s *SyncSession) Exhausted() bool {
	return s.TotalExpected != nil && s.TotalProcessed >= *s.TotalExpected
}

// SessionUpdate is a partial update. Nil fields are left untouched. Offset and
// processed counters move only through SessionStore.Advance.
type SessionUpdate struct {
	TotalExpected *int
	BatchSize     *int
	ErrorMessage  *string
}
