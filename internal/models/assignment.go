package models

import (
	"fmt"
	"time"
)

// ReturnCondition records the state of an asset handed back by its assignee
type ReturnCondition string

const (
	ConditionExcellent ReturnCondition = "excellent"
	ConditionGood      ReturnCondition = "good"
	ConditionFair      ReturnCondition = "fair"
	ConditionPoor      ReturnCondition = "poor"
	ConditionDamaged   ReturnCondition = "damaged"
)

// Valid reports whether c is a known condition
func (c ReturnCondition) Valid() bool {
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor, ConditionDamaged:
		return true
	}
	return false
}

// ParseReturnCondition defaults an empty condition to good
func ParseReturnCondition(s string) (ReturnCondition, error) {
	if s == "" {
		return ConditionGood, nil
	}
	c := ReturnCondition(s)
	if !c.Valid() {
		return "", ValidationError{Field: "condition", Reason: fmt.Sprintf("unknown condition %q", s)}
	}
	return c, nil
}

// AssetAssignment is an audit record of one custody period. Only the return
// fields are ever written after insert, and only once.
type AssetAssignment struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenant_id"`
	AssetID          string           `json:"asset_id"`
	UserID           string           `json:"user_id"`
	AssignedByUserID string           `json:"assigned_by_user_id"`
	AssignedAt       time.Time        `json:"assigned_at"`
	Notes            *string          `json:"notes,omitempty"`
	ReturnedAt       *time.Time       `json:"returned_at,omitempty"`
	ReturnedByUserID *string          `json:"returned_by_user_id,omitempty"`
	ReturnCondition  *ReturnCondition `json:"return_condition,omitempty"`
	ReturnNotes      *string          `json:"return_notes,omitempty"`
}

// IsActive reports whether the assignment is still open
func (a *AssetAssignment) IsActive() bool {
	return a.ReturnedAt == nil
}

// Duration is (ReturnedAt or now) minus AssignedAt
func (a *AssetAssignment) Duration(now time.Time) time.Duration {
	end := now
	if a.ReturnedAt != nil {
		end = *a.ReturnedAt
	}
	return end.Sub(a.AssignedAt)
}

// AssignmentReturn carries the one-time return fields of an assignment
type AssignmentReturn struct {
	ReturnedAt       time.Time
	ReturnedByUserID string
	Condition        ReturnCondition
	Notes            *string
}
