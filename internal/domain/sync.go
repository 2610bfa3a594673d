package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionPull Direction = "pull"
	DirectionPush Direction = "push"
	DirectionBoth Direction = "both"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case DirectionPull, DirectionPush, DirectionBoth:
		return d, nil
	case "":
		return DirectionPull, nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidInput, s)
}

// Steps expands both into pull followed by push.
func (d Direction) Steps() []Direction {
	if d == DirectionBoth {
		return []Direction{DirectionPull, DirectionPush}
	}
	return []Direction{d}
}

type SyncMode string

const (
	SyncModeFull       SyncMode = "full"
	SyncModeDelta      SyncMode = "delta"
	SyncModeHistorical SyncMode = "historical"
)

func ParseSyncMode(s string) (SyncMode, error) {
	switch m := SyncMode(s); m {
	case SyncModeFull, SyncModeDelta, SyncModeHistorical:
		return m, nil
	case "":
		return SyncModeFull, nil
	}
	return "", fmt.Errorf("%w: unknown sync mode %q", ErrInvalidInput, s)
}

type ConflictStrategy string

const (
	ConflictNone         ConflictStrategy = ""
	ConflictExternalWins ConflictStrategy = "external_wins"
	ConflictInternalWins ConflictStrategy = "internal_wins"
	ConflictNewestWins   ConflictStrategy = "newest_wins"
)

func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	switch c := ConflictStrategy(s); c {
	case ConflictNone, ConflictExternalWins, ConflictInternalWins, ConflictNewestWins:
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown conflict resolution %q", ErrInvalidInput, s)
}

// WorkerRequest drives one invocation of an entity worker for one direction.
type WorkerRequest struct {
	TenantID  string
	Entity    EntityKind
	Direction Direction
	SessionID *uuid.UUID
	Offset    *int
	BatchSize int
	Mode      SyncMode
	Since     *time.Time
	Conflict  ConflictStrategy
	// LastSync bounds conflict detection; nil disables it.
	LastSync *time.Time
}

type WorkerResponse struct {
	Success       bool
	SessionID     uuid.UUID
	Processed     int
	CurrentOffset int
	IsComplete    bool
	NextOffset    *int
	Upserted      int
	Skipped       int
	Conflicts     int
	Errors        []RecordError
}
