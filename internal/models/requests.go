package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateStruct runs the validate tags of s and reports the first failure
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := "failed " + fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return ValidationError{Field: fe.Field(), Reason: reason}
	}
	return ValidationError{Reason: err.Error()}
}

// CreateTenantRequest represents the request body for provisioning a tenant
type CreateTenantRequest struct {
	Name string `json:"name" validate:"required,max=200"`
	Slug string `json:"slug" validate:"required,max=63"`
	Tier string `json:"tier" validate:"omitempty,oneof=free pro enterprise"`
}

// ChangeTierRequest represents the request body for changing a tenant's tier
type ChangeTierRequest struct {
	Tier string `json:"tier" validate:"required,oneof=free pro enterprise"`
}

// CreateAssetRequest represents the request body for registering an asset
type CreateAssetRequest struct {
	Name              *string    `json:"name,omitempty" validate:"omitempty,max=200"`
	DeviceType        DeviceType `json:"device_type" validate:"required"`
	Manufacturer      *string    `json:"manufacturer,omitempty" validate:"omitempty,max=100"`
	Model             *string    `json:"model,omitempty" validate:"omitempty,max=100"`
	SerialNumber      *string    `json:"serial_number,omitempty" validate:"omitempty,max=100"`
	Location          *string    `json:"location,omitempty" validate:"omitempty,max=200"`
	Notes             *string    `json:"notes,omitempty"`
	WarrantyStart     *time.Time `json:"warranty_start,omitempty"`
	WarrantyEnd       *time.Time `json:"warranty_end,omitempty"`
	PurchaseDate      *time.Time `json:"purchase_date,omitempty"`
	PurchaseCostCents *int64     `json:"purchase_cost_cents,omitempty" validate:"omitempty,gte=0"`
	Vendor            *string    `json:"vendor,omitempty" validate:"omitempty,max=200"`
	OrderNumber       *string    `json:"order_number,omitempty" validate:"omitempty,max=100"`
	Specs             JSONB      `json:"specs,omitempty"`
}

// Validate checks field tags, the device type and the warranty window
func (r CreateAssetRequest) Validate() error {
	if err := ValidateStruct(r); err != nil {
		return err
	}
	if !r.DeviceType.Valid() {
		return ValidationError{Field: "device_type", Reason: fmt.Sprintf("unknown device type %q", r.DeviceType)}
	}
	return ValidateWarranty(r.WarrantyStart, r.WarrantyEnd)
}

// UpdateAssetRequest represents the request body for editing asset details.
// Status and assignment are changed only through lifecycle operations.
type UpdateAssetRequest struct {
	Name              *string     `json:"name,omitempty" validate:"omitempty,max=200"`
	DeviceType        *DeviceType `json:"device_type,omitempty"`
	Manufacturer      *string     `json:"manufacturer,omitempty" validate:"omitempty,max=100"`
	Model             *string     `json:"model,omitempty" validate:"omitempty,max=100"`
	SerialNumber      *string     `json:"serial_number,omitempty" validate:"omitempty,max=100"`
	Location          *string     `json:"location,omitempty" validate:"omitempty,max=200"`
	Notes             *string     `json:"notes,omitempty"`
	WarrantyStart     *time.Time  `json:"warranty_start,omitempty"`
	WarrantyEnd       *time.Time  `json:"warranty_end,omitempty"`
	PurchaseDate      *time.Time  `json:"purchase_date,omitempty"`
	PurchaseCostCents *int64      `json:"purchase_cost_cents,omitempty" validate:"omitempty,gte=0"`
	Vendor            *string     `json:"vendor,omitempty" validate:"omitempty,max=200"`
	OrderNumber       *string     `json:"order_number,omitempty" validate:"omitempty,max=100"`
	Specs             JSONB       `json:"specs,omitempty"`
}

// Apply copies the set fields of r onto a and revalidates the result. Dates
// are cut to the UTC day before the warranty window is checked.
func (r UpdateAssetRequest) Apply(a *Asset) error {
	if err := ValidateStruct(r); err != nil {
		return err
	}
	if r.DeviceType != nil {
		if !r.DeviceType.Valid() {
			return ValidationError{Field: "device_type", Reason: fmt.Sprintf("unknown device type %q", *r.DeviceType)}
		}
		a.DeviceType = *r.DeviceType
	}
	set := func(dst **string, src *string) {
		if src != nil {
			*dst = nullIfEmpty(src)
		}
	}
	set(&a.Name, r.Name)
	set(&a.Manufacturer, r.Manufacturer)
	set(&a.Model, r.Model)
	set(&a.SerialNumber, r.SerialNumber)
	set(&a.Location, r.Location)
	set(&a.Notes, r.Notes)
	set(&a.Vendor, r.Vendor)
	set(&a.OrderNumber, r.OrderNumber)
	if r.WarrantyStart != nil {
		a.WarrantyStart = datePtr(*r.WarrantyStart)
	}
	if r.WarrantyEnd != nil {
		a.WarrantyEnd = datePtr(*r.WarrantyEnd)
	}
	if r.PurchaseDate != nil {
		a.PurchaseDate = datePtr(*r.PurchaseDate)
	}
	if r.PurchaseCostCents != nil {
		a.PurchaseCostCents = r.PurchaseCostCents
	}
	if r.Specs != nil {
		a.Specs = r.Specs.Clone()
	}
	return a.Validate()
}

func datePtr(t time.Time) *time.Time {
	d := DateOnly(t)
	return &d
}

// AssignAssetRequest represents the request body for assigning an asset
type AssignAssetRequest struct {
	UserID string  `json:"user_id" validate:"required"`
	Notes  *string `json:"notes,omitempty"`
}

// ReturnAssetRequest represents the request body for closing an assignment
type ReturnAssetRequest struct {
	Condition string  `json:"condition,omitempty" validate:"omitempty,oneof=excellent good fair poor damaged"`
	Notes     *string `json:"notes,omitempty"`
}

// RetireAssetRequest represents the request body for retiring an asset
type RetireAssetRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// RecoverAssetRequest represents the request body for the found-asset path
type RecoverAssetRequest struct {
	Confirm bool    `json:"confirm"`
	Notes   *string `json:"notes,omitempty"`
}

// CreateMaintenanceRequest represents the request body for sending an asset to maintenance
type CreateMaintenanceRequest struct {
	Type         MaintenanceType `json:"type" validate:"required"`
	Title        string          `json:"title" validate:"required,max=200"`
	Description  *string         `json:"description,omitempty"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	Technician   *string         `json:"technician,omitempty" validate:"omitempty,max=200"`
	CostCents    *int64          `json:"cost_cents,omitempty" validate:"omitempty,gte=0"`
}

// Validate checks field tags and the maintenance type
func (r CreateMaintenanceRequest) Validate() error {
	if err := ValidateStruct(r); err != nil {
		return err
	}
	if !r.Type.Valid() {
		return ValidationError{Field: "type", Reason: fmt.Sprintf("unknown maintenance type %q", r.Type)}
	}
	return nil
}

// CompleteMaintenanceRequest represents the request body for finishing maintenance
type CompleteMaintenanceRequest struct {
	Resolution *string `json:"resolution,omitempty"`
	CostCents  *int64  `json:"cost_cents,omitempty" validate:"omitempty,gte=0"`
}

// Upload is an incoming file destined for blob storage
type Upload struct {
	FileName    string             `json:"file_name" validate:"required,max=255"`
	ContentType string             `json:"content_type" validate:"required,max=255"`
	Category    AttachmentCategory `json:"category"`
	Data        []byte             `json:"-"`
}

// Validate checks field tags, the category and that there is content
func (u Upload) Validate() error {
	if err := ValidateStruct(u); err != nil {
		return err
	}
	if !u.Category.Valid() {
		return ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", u.Category)}
	}
	if len(u.Data) == 0 {
		return ValidationError{Field: "file", Reason: "is empty"}
	}
	return nil
}

// CreateUserRequest represents the request body for creating a tenant user
type CreateUserRequest struct {
	Email     string   `json:"email" validate:"required,email"`
	Password  string   `json:"password" validate:"required,min=8"`
	FirstName *string  `json:"first_name,omitempty"`
	LastName  *string  `json:"last_name,omitempty"`
	Roles     []string `json:"roles" validate:"required,min=1"`
}

// Validate checks field tags and role names
func (r CreateUserRequest) Validate() error {
	if err := ValidateStruct(r); err != nil {
		return err
	}
	if !ValidateRoles(r.Roles) {
		return ValidationError{Field: "roles", Reason: "contains an unknown role"}
	}
	return nil
}

// LoginRequest represents the request body for user login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents the response body for successful login
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

func nullIfEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := *s
	return &v
}
