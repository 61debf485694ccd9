package models

import (
	"fmt"
	"time"
)

// MaintenanceStatus is the workflow status of a service record
type MaintenanceStatus string

const (
	MaintenancePending    MaintenanceStatus = "pending"
	MaintenanceInProgress MaintenanceStatus = "in_progress"
	MaintenanceCompleted  MaintenanceStatus = "completed"
	MaintenanceCancelled  MaintenanceStatus = "cancelled"
)

// MaintenanceStatuses lists every maintenance status
var MaintenanceStatuses = []MaintenanceStatus{
	MaintenancePending, MaintenanceInProgress, MaintenanceCompleted, MaintenanceCancelled,
}

// Valid reports whether s is a known maintenance status
func (s MaintenanceStatus) Valid() bool {
	switch s {
	case MaintenancePending, MaintenanceInProgress, MaintenanceCompleted, MaintenanceCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s
func (s MaintenanceStatus) Terminal() bool {
	return s == MaintenanceCompleted || s == MaintenanceCancelled
}

// MaintenanceEvent is a requested workflow step
type MaintenanceEvent string

const (
	MaintenanceStart    MaintenanceEvent = "start"
	MaintenanceComplete MaintenanceEvent = "complete"
	MaintenanceCancel   MaintenanceEvent = "cancel"
)

// MaintenanceEvents lists every maintenance event
var MaintenanceEvents = []MaintenanceEvent{MaintenanceStart, MaintenanceComplete, MaintenanceCancel}

var maintenanceTransitions = map[MaintenanceStatus]map[MaintenanceEvent]MaintenanceStatus{
	MaintenancePending: {
		MaintenanceStart:  MaintenanceInProgress,
		MaintenanceCancel: MaintenanceCancelled,
	},
	MaintenanceInProgress: {
		MaintenanceComplete: MaintenanceCompleted,
		MaintenanceCancel:   MaintenanceCancelled,
	},
	MaintenanceCompleted: {},
	MaintenanceCancelled: {},
}

var maintenanceEventTargets = map[MaintenanceEvent]MaintenanceStatus{
	MaintenanceStart:    MaintenanceInProgress,
	MaintenanceComplete: MaintenanceCompleted,
	MaintenanceCancel:   MaintenanceCancelled,
}

// NextMaintenanceStatus applies ev to from
func NextMaintenanceStatus(from MaintenanceStatus, ev MaintenanceEvent) (MaintenanceStatus, error) {
	if to, ok := maintenanceTransitions[from][ev]; ok {
		return to, nil
	}
	return from, &InvalidStateTransitionError{
		Entity: "maintenance",
		From:   string(from),
		To:     string(maintenanceEventTargets[ev]),
	}
}

// MaintenanceType classifies the service performed
type MaintenanceType string

const (
	MaintenancePreventive MaintenanceType = "preventive"
	MaintenanceRepair     MaintenanceType = "repair"
	MaintenanceInspection MaintenanceType = "inspection"
	MaintenanceUpgrade    MaintenanceType = "upgrade"
	MaintenanceOther      MaintenanceType = "other"
)

// Valid reports whether t is a known maintenance type
func (t MaintenanceType) Valid() bool {
	switch t {
	case MaintenancePreventive, MaintenanceRepair, MaintenanceInspection, MaintenanceUpgrade, MaintenanceOther:
		return true
	}
	return false
}

// Maintenance represents one service record for an asset
type Maintenance struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	AssetID         string            `json:"asset_id"`
	Type            MaintenanceType   `json:"type"`
	Title           string            `json:"title"`
	Description     *string           `json:"description,omitempty"`
	Status          MaintenanceStatus `json:"status"`
	ScheduledFor    *time.Time        `json:"scheduled_for,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	Technician      *string           `json:"technician,omitempty"`
	CostCents       *int64            `json:"cost_cents,omitempty"`
	Resolution      *string           `json:"resolution,omitempty"`
	CreatedByUserID string            `json:"created_by_user_id"`
	Attachments     []Attachment      `json:"attachments"`
	RowVersion      int64             `json:"row_version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Validate checks the timestamp invariants of the record
func (m *Maintenance) Validate() error {
	if !m.Status.Valid() {
		return ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", m.Status)}
	}
	if m.StartedAt != nil && m.Status == MaintenancePending {
		return ValidationError{Field: "started_at", Reason: "set on a pending record"}
	}
	if m.CompletedAt != nil && m.Status != MaintenanceCompleted {
		return ValidationError{Field: "completed_at", Reason: "set on a record that is not completed"}
	}
	if m.Status == MaintenanceCompleted && (m.StartedAt == nil || m.CompletedAt == nil) {
		return ValidationError{Field: "completed_at", Reason: "completed record needs started_at and completed_at"}
	}
	return nil
}
