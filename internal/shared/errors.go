package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied indicates the actor's role lacks the privilege.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInsufficientStock is the match target for InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidState is the match target for StateError.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrAlreadyProcessed marks a repeated idempotent action. Callers treat it
	// as success, not failure.
	ErrAlreadyProcessed = errors.New("already processed")
)

// InsufficientStockError carries the shortfall detail for UI messaging.
type InsufficientStockError struct {
	BatchID   int64
	Available float64
	Requested float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for batch %d: available %.4f, requested %.4f", e.BatchID, e.Available, e.Requested)
}

// Is lets errors.Is(err, ErrInsufficientStock) match.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// StateError reports an action attempted from a status that does not permit it.
type StateError struct {
	Current  string
	Expected string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid state transition: current %s, expected %s", e.Current, e.Expected)
}

// Is lets errors.Is(err, ErrInvalidState) match.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}
