package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DeviceType is the closed set of trackable hardware categories
type DeviceType string

const (
	DeviceLaptop     DeviceType = "laptop"
	DeviceDesktop    DeviceType = "desktop"
	DeviceMonitor    DeviceType = "monitor"
	DevicePhone      DeviceType = "phone"
	DeviceTablet     DeviceType = "tablet"
	DevicePrinter    DeviceType = "printer"
	DeviceServer     DeviceType = "server"
	DeviceNetwork    DeviceType = "network_device"
	DevicePeripheral DeviceType = "peripheral"
	DeviceOther      DeviceType = "other"
)

var deviceTypeLabels = map[DeviceType]string{
	DeviceLaptop:     "Laptop",
	DeviceDesktop:    "Desktop",
	DeviceMonitor:    "Monitor",
	DevicePhone:      "Phone",
	DeviceTablet:     "Tablet",
	DevicePrinter:    "Printer",
	DeviceServer:     "Server",
	DeviceNetwork:    "Network Device",
	DevicePeripheral: "Peripheral",
	DeviceOther:      "Other",
}

// Valid reports whether d is a known device type
func (d DeviceType) Valid() bool {
	_, ok := deviceTypeLabels[d]
	return ok
}

// Label returns the human readable name of the device type
func (d DeviceType) Label() string {
	if l, ok := deviceTypeLabels[d]; ok {
		return l
	}
	return string(d)
}

// AssetStatus is the lifecycle status of an asset
type AssetStatus string

const (
	AssetAvailable   AssetStatus = "available"
	AssetInUse       AssetStatus = "in_use"
	AssetMaintenance AssetStatus = "maintenance"
	AssetRetired     AssetStatus = "retired"
	AssetLost        AssetStatus = "lost"
)

// Valid reports whether s is a known asset status
func (s AssetStatus) Valid() bool {
	switch s {
	case AssetAvailable, AssetInUse, AssetMaintenance, AssetRetired, AssetLost:
		return true
	}
	return false
}

// AssetEvent is a requested lifecycle operation on an asset
type AssetEvent string

const (
	EventAssign              AssetEvent = "assign"
	EventReturn              AssetEvent = "return"
	EventSendToMaintenance   AssetEvent = "send_to_maintenance"
	EventCompleteMaintenance AssetEvent = "complete_maintenance"
	EventRetire              AssetEvent = "retire"
	EventReportLost          AssetEvent = "report_lost"
	EventRecover             AssetEvent = "recover"
)

// AssetEvents lists every asset event
var AssetEvents = []AssetEvent{
	EventAssign, EventReturn, EventSendToMaintenance, EventCompleteMaintenance,
	EventRetire, EventReportLost, EventRecover,
}

// AssetStatuses lists every asset status
var AssetStatuses = []AssetStatus{AssetAvailable, AssetInUse, AssetMaintenance, AssetRetired, AssetLost}

// eventTargets is the status each event asks for; complete_maintenance resolves
// to in_use when custody is still open.
var eventTargets = map[AssetEvent]AssetStatus{
	EventAssign:              AssetInUse,
	EventReturn:              AssetAvailable,
	EventSendToMaintenance:   AssetMaintenance,
	EventCompleteMaintenance: AssetAvailable,
	EventRetire:              AssetRetired,
	EventReportLost:          AssetLost,
	EventRecover:             AssetAvailable,
}

var assetTransitions = map[AssetStatus]map[AssetEvent]bool{
	AssetAvailable: {
		EventAssign: true, EventSendToMaintenance: true, EventRetire: true, EventReportLost: true,
	},
	AssetInUse: {
		EventReturn: true, EventSendToMaintenance: true, EventRetire: true, EventReportLost: true,
	},
	AssetMaintenance: {
		EventCompleteMaintenance: true, EventRetire: true, EventReportLost: true,
	},
	AssetLost: {
		EventRecover: true, EventRetire: true,
	},
	AssetRetired: {},
}

// NextAssetStatus applies ev to from. custodyOpen tells whether the asset still has
// an active assignment, which decides where a finished maintenance lands.
func NextAssetStatus(from AssetStatus, ev AssetEvent, custodyOpen bool) (AssetStatus, error) {
	target := eventTargets[ev]
	if ev == EventCompleteMaintenance && custodyOpen {
		target = AssetInUse
	}
	if !assetTransitions[from][ev] {
		return from, &InvalidStateTransitionError{Entity: "asset", From: string(from), To: string(target)}
	}
	return target, nil
}

// Asset represents a tracked physical device owned by one tenant
type Asset struct {
	ID                string      `json:"id"`
	TenantID          string      `json:"tenant_id"`
	Tag               string      `json:"asset_tag"`
	Name              *string     `json:"name,omitempty"`
	DeviceType        DeviceType  `json:"device_type"`
	Manufacturer      *string     `json:"manufacturer,omitempty"`
	Model             *string     `json:"model,omitempty"`
	SerialNumber      *string     `json:"serial_number,omitempty"`
	Location          *string     `json:"location,omitempty"`
	Notes             *string     `json:"notes,omitempty"`
	Status            AssetStatus `json:"status"`
	AssignedToUserID  *string     `json:"assigned_to_user_id,omitempty"`
	WarrantyStart     *time.Time  `json:"warranty_start,omitempty"`
	WarrantyEnd       *time.Time  `json:"warranty_end,omitempty"`
	PurchaseDate      *time.Time  `json:"purchase_date,omitempty"`
	PurchaseCostCents *int64      `json:"purchase_cost_cents,omitempty"`
	Vendor            *string     `json:"vendor,omitempty"`
	OrderNumber       *string     `json:"order_number,omitempty"`
	Specs             JSONB       `json:"specs,omitempty"`
	RowVersion        int64       `json:"row_version"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// DisplayName returns the free-text name when set, else "<Manufacturer> <Model>"
// with "Unknown" and the device type label standing in for missing parts.
func (a *Asset) DisplayName() string {
	if a.Name != nil && *a.Name != "" {
		return *a.Name
	}
	manufacturer := "Unknown"
	if a.Manufacturer != nil && strings.TrimSpace(*a.Manufacturer) != "" {
		manufacturer = *a.Manufacturer
	}
	model := a.DeviceType.Label()
	if a.Model != nil && strings.TrimSpace(*a.Model) != "" {
		model = *a.Model
	}
	return strings.TrimSpace(manufacturer + " " + model)
}

// Validate checks the asset's structural invariants
func (a *Asset) Validate() error {
	if !a.DeviceType.Valid() {
		return ValidationError{Field: "device_type", Reason: fmt.Sprintf("unknown device type %q", a.DeviceType)}
	}
	if !a.Status.Valid() {
		return ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", a.Status)}
	}
	if err := ValidateWarranty(a.WarrantyStart, a.WarrantyEnd); err != nil {
		return err
	}
	if (a.AssignedToUserID != nil) != (a.Status == AssetInUse) {
		return ValidationError{Field: "assigned_to_user_id", Reason: "must be set if and only if status is in_use"}
	}
	return nil
}

// ValidateWarranty rejects a warranty window that ends on a day before it
// starts. Times within one UTC day compare equal.
func ValidateWarranty(start, end *time.Time) error {
	if start != nil && end != nil && DateOnly(*end).Before(DateOnly(*start)) {
		return ValidationError{Field: "warranty_end", Reason: "must not be before warranty_start"}
	}
	return nil
}

// MarshalJSON adds the derived display name
func (a Asset) MarshalJSON() ([]byte, error) {
	type plain Asset
	return json.Marshal(struct {
		plain
		DisplayName string `json:"display_name"`
	}{plain(a), a.DisplayName()})
}

// AssetFilter narrows asset listings
type AssetFilter struct {
	Status           AssetStatus
	DeviceType       DeviceType
	AssignedToUserID string
	Query            string

	// Sort is a comma separated list of tag, name, status, device_type,
	// created_at or warranty_end, each optionally prefixed with '-'
	Sort   string
	Limit  int
	Offset int
}

// JSONB is a custom type for JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	}
	return fmt.Errorf("unsupported JSONB source %T", value)
}

// Clone returns a shallow copy of j
func (j JSONB) Clone() JSONB {
	if j == nil {
		return nil
	}
	out := make(JSONB, len(j))
	for k, v := range j {
		out[k] = v
	}
	return out
}
