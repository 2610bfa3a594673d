package service

import (
	"time"

	"erp_sync/internal/domain"
)

// Side names the system of record whose version is written.
type Side int

const (
	SideExternal Side = iota
	SideInternal
)

func (s Side) String() string {
	if s == SideInternal {
		return "internal"
	}
	return "external"
}

// DetectConflict reports whether both systems changed a record since the last
// successful sync. Without a last sync there is no common base and nothing
// conflicts.
func DetectConflict(local domain.LocalVersion, externalUpdated, lastSync *time.Time) bool {
	if lastSync == nil || externalUpdated == nil || !local.Pending {
		return false
	}
	return local.UpdatedAt.After(*lastSync) && externalUpdated.After(*lastSync)
}

// ConflictWinner picks the side to keep. newest_wins compares the two
// timestamps and lets the external side win ties.
func ConflictWinner(strategy domain.ConflictStrategy, localUpdated, externalUpdated time.Time) Side {
	switch strategy {
	case domain.ConflictInternalWins:
		return SideInternal
	case domain.ConflictNewestWins:
		if localUpdated.After(externalUpdated) {
			return SideInternal
		}
		return SideExternal
	}
	return SideExternal
}

// Versioned pairs a record with the time its owner last changed it.
type Versioned[T any] struct {
	Record    T
	UpdatedAt time.Time
}

// ResolveConflict returns the record that strategy keeps.
func ResolveConflict[T any](strategy domain.ConflictStrategy, local, external Versioned[T]) T {
	if ConflictWinner(strategy, local.UpdatedAt, external.UpdatedAt) == SideInternal {
		return local.Record
	}
	return external.Record
}
