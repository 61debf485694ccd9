package models

import (
	"fmt"
	"time"
)

// AttachmentOwnerKind names the entity an attachment hangs off
type AttachmentOwnerKind string

const (
	OwnerAsset       AttachmentOwnerKind = "asset"
	OwnerMaintenance AttachmentOwnerKind = "maintenance"
)

// Valid reports whether k is a known owner kind
func (k AttachmentOwnerKind) Valid() bool {
	return k == OwnerAsset || k == OwnerMaintenance
}

// AttachmentCategory classifies an uploaded file
type AttachmentCategory string

const (
	CategoryPhoto    AttachmentCategory = "photo"
	CategoryReceipt  AttachmentCategory = "receipt"
	CategoryInvoice  AttachmentCategory = "invoice"
	CategoryWarranty AttachmentCategory = "warranty"
	CategoryManual   AttachmentCategory = "manual"
	CategoryReport   AttachmentCategory = "report"
	CategoryOther    AttachmentCategory = "other"
)

// Valid reports whether c is a known category
func (c AttachmentCategory) Valid() bool {
	switch c {
	case CategoryPhoto, CategoryReceipt, CategoryInvoice, CategoryWarranty, CategoryManual, CategoryReport, CategoryOther:
		return true
	}
	return false
}

// ParseAttachmentCategory defaults an empty category to other
func ParseAttachmentCategory(s string) (AttachmentCategory, error) {
	if s == "" {
		return CategoryOther, nil
	}
	c := AttachmentCategory(s)
	if !c.Valid() {
		return "", ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", s)}
	}
	return c, nil
}

// Attachment is file metadata; the bytes live in blob storage under StorageKey
type Attachment struct {
	ID               string              `json:"id"`
	TenantID         string              `json:"tenant_id"`
	OwnerKind        AttachmentOwnerKind `json:"owner_kind"`
	OwnerID          string              `json:"owner_id"`
	FileName         string              `json:"file_name"`
	StorageKey       string              `json:"storage_key"`
	ContentType      string              `json:"content_type"`
	SizeBytes        int64               `json:"size_bytes"`
	Category         AttachmentCategory  `json:"category"`
	UploadedByUserID string              `json:"uploaded_by_user_id"`
	UploadedAt       time.Time           `json:"uploaded_at"`
}

// TotalSize sums the sizes of attachments
func TotalSize(atts []Attachment) int64 {
	var n int64
	for _, a := range atts {
		n += a.SizeBytes
	}
	return n
}
