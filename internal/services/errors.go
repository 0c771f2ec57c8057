package services

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by the services. Callers test with errors.Is; the
// wrapped chain keeps the underlying cause.
var (
	// ErrValidation means the input had the wrong shape. Nothing changed.
	ErrValidation = errors.New("validation failed")
	// ErrOutOfStock means the item has no units left; pick another outlet or zone.
	ErrOutOfStock = errors.New("item is out of stock")
	// ErrDuplicateParticipation means the phone or UPI id was already used.
	ErrDuplicateParticipation = errors.New("already participated")
	// ErrNoPendingSelection means the caller has no pending selection to act on.
	ErrNoPendingSelection = errors.New("no pending selection")
	// ErrStorageFailure means a store, blob or email call failed; retrying may help.
	ErrStorageFailure = errors.New("storage failure")
	// ErrNoOutletAvailable means the zone has no active outlet.
	ErrNoOutletAvailable = errors.New("no outlet available")
	// ErrNotFound means an admin operation named an unknown row.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition means the selection is not in a reviewable state.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrPendingSelectionExists means the phone already holds a pending
	// selection. It matches ErrDuplicateParticipation.
	ErrPendingSelectionExists = fmt.Errorf("%w: phone has a pending selection", ErrDuplicateParticipation)
)

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storageErr wraps an unexpected store error so it reads as a StorageFailure
// while keeping the cause.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
}
