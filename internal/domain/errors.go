package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
	ErrSessionConflict   = fmt.Errorf("%w: session advanced concurrently", ErrConflict)
	ErrMissingCredential = errors.New("missing credential")
)

// RecordError is a per-record failure. The record is skipped and the run continues.
type RecordError struct {
	Entity     EntityKind `json:"entity"`
	ExternalID string     `json:"external_id,omitempty"`
	InternalID int64      `json:"internal_id,omitempty"`
	Reason     string     `json:"reason"`
}

func (e RecordError) Error() string {
	switch {
	case e.ExternalID != "":
		return fmt.Sprintf("%s %s: %s", e.Entity, e.ExternalID, e.Reason)
	case e.InternalID != 0:
		return fmt.Sprintf("%s #%d: %s", e.Entity, e.InternalID, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Entity, e.Reason)
}
