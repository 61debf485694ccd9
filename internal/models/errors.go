package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrTenantInactive       = errors.New("tenant is inactive")
	ErrConflict             = errors.New("conflict")
	ErrVersionConflict      = errors.New("row version conflict")
	ErrValidation           = errors.New("validation failed")
	ErrConfirmationRequired = errors.New("explicit confirmation required")
	ErrHasHistory           = errors.New("asset has assignment or maintenance history")
)

// ValidationError describes a rejected input field
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// QuotaExceededError is returned when a reservation would push a tenant over its limit
type QuotaExceededError struct {
	Kind      ResourceKind
	Limit     int64
	Attempted int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: limit %d, attempted %d", e.Kind, e.Limit, e.Attempted)
}

// InvalidStateTransitionError is returned when a lifecycle event is not allowed from the current status
type InvalidStateTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition from %s to %s", e.Entity, e.From, e.To)
}

// AlreadyAssignedError is returned when an asset already has an active assignment
type AlreadyAssignedError struct {
	AssetID string
}

func (e *AlreadyAssignedError) Error() string {
	return fmt.Sprintf("asset %s already has an active assignment", e.AssetID)
}

// NotActiveError is returned when returning an assignment that is already closed
type NotActiveError struct {
	AssignmentID string
}

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("assignment %s is not active", e.AssignmentID)
}

// AlreadyAcknowledgedError is returned when acknowledging an alert twice
type AlreadyAcknowledgedError struct {
	AlertID string
}

func (e *AlreadyAcknowledgedError) Error() string {
	return fmt.Sprintf("warranty alert %s is already acknowledged", e.AlertID)
}

// TenantMismatchError is returned when an entity resolves to another tenant.
// It reads and matches exactly like ErrNotFound so callers cannot probe other tenants.
type TenantMismatchError struct {
	Expected string
	Actual   string
}

func (e *TenantMismatchError) Error() string { return ErrNotFound.Error() }

func (e *TenantMismatchError) Is(target error) bool { return target == ErrNotFound }

// CheckTenant returns a TenantMismatchError when actual differs from expected
func CheckTenant(expected, actual string) error {
	if expected != actual {
		return &TenantMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}
