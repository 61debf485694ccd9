package models

import "time"

// NotificationType classifies a notification for the delivery channel
type NotificationType string

const (
	NotifyWarrantyExpiring     NotificationType = "warranty_expiring"
	NotifyWarrantyExpired      NotificationType = "warranty_expired"
	NotifyAssetAssigned        NotificationType = "asset_assigned"
	NotifyMaintenanceCompleted NotificationType = "maintenance_completed"
)

// Notification is a message queued for an external delivery channel
type Notification struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenant_id"`
	UserID            string           `json:"user_id"`
	Title             string           `json:"title"`
	Message           string           `json:"message"`
	Type              NotificationType `json:"type"`
	Link              *string          `json:"link,omitempty"`
	RelatedEntityType *string          `json:"related_entity_type,omitempty"`
	RelatedEntityID   *string          `json:"related_entity_id,omitempty"`
	IsRead            bool             `json:"is_read"`
	CreatedAt         time.Time        `json:"created_at"`
	DeliveredAt       *time.Time       `json:"delivered_at,omitempty"`
}
