package service

import (
	"errors"
	"fmt"

	"github.com/Guizzs26/go-datasync/internal/models"
)

var (
	// Storage level signals, returned by Repository implementations.
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyExists   = errors.New("record already exists")
	ErrVersionMismatch = errors.New("version mismatch")

	ErrUnknownTable      = errors.New("unknown table")
	ErrForbidden         = errors.New("operation not allowed")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrSyncInProgress    = errors.New("sync already in progress")
	ErrPendingOperations = errors.New("table has pending local operations")
)

// ConflictKind distinguishes the three conflict outcomes of a write.
type ConflictKind int

const (
	AlreadyExists ConflictKind = iota + 1
	VersionMismatch
	Gone
)

func (k ConflictKind) String() string {
	switch k {
	case AlreadyExists:
		return "already_exists"
	case VersionMismatch:
		return "version_mismatch"
	case Gone:
		return "gone"
	}
	return "unknown"
}

// ConflictError rejects a write or read. Current is always the authoritative
// server record so the caller can reconcile without another round trip.
type ConflictError struct {
	Kind    ConflictKind
	Table   string
	ID      string
	Current *models.Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s/%s: %s", e.Table, e.ID, e.Kind)
}

// AsConflict unwraps a *ConflictError.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	ok := errors.As(err, &ce)
	return ce, ok
}
