package models

import (
	"math"
	"time"
)

// WarrantyExpiringWindowDays is how far ahead an end date raises an expiring alert
const WarrantyExpiringWindowDays = 90

// AlertType is the kind of warranty alert
type AlertType string

const (
	AlertExpiring AlertType = "expiring"
	AlertExpired  AlertType = "expired"
)

// Valid reports whether t is a known alert type
func (t AlertType) Valid() bool {
	return t == AlertExpiring || t == AlertExpired
}

// WarrantyAlert is a derived record signalling an impending or past warranty end
type WarrantyAlert struct {
	ID                   string     `json:"id"`
	TenantID             string     `json:"tenant_id"`
	AssetID              string     `json:"asset_id"`
	Type                 AlertType  `json:"alert_type"`
	WarrantyEndDate      time.Time  `json:"warranty_end_date"`
	DaysRemaining        int        `json:"days_remaining"`
	CreatedAt            time.Time  `json:"created_at"`
	AcknowledgedAt       *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedByUserID *string    `json:"acknowledged_by_user_id,omitempty"`
}

// IsAcknowledged reports whether a user has acknowledged the alert
func (a *WarrantyAlert) IsAcknowledged() bool {
	return a.AcknowledgedAt != nil
}

// DateOnly truncates t to midnight UTC of its UTC calendar day
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysUntil counts calendar days from today to end, negative when end is past
func DaysUntil(end, today time.Time) int {
	return int(math.Round(DateOnly(end).Sub(DateOnly(today)).Hours() / 24))
}

// ClassifyWarranty decides which alert, if any, an end date warrants today
func ClassifyWarranty(end, today time.Time) (AlertType, int, bool) {
	days := DaysUntil(end, today)
	switch {
	case days < 0:
		return AlertExpired, days, true
	case days <= WarrantyExpiringWindowDays:
		return AlertExpiring, days, true
	}
	return "", days, false
}

// AlertFilter narrows alert listings
type AlertFilter struct {
	AssetID            string
	UnacknowledgedOnly bool
	Limit              int
	Offset             int
}
