package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Tier is a tenant's subscription tier
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is one of the known tiers
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierEnterprise:
		return true
	}
	return false
}

// ParseTier parses a tier name, case-insensitively
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", ValidationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", s)}
	}
	return t, nil
}

// ResourceKind identifies a quota-governed resource
type ResourceKind string

const (
	ResourceAsset        ResourceKind = "asset"
	ResourceUser         ResourceKind = "user"
	ResourceStorageBytes ResourceKind = "storage_bytes"
)

// Valid reports whether k is one of the known resource kinds
func (k ResourceKind) Valid() bool {
	switch k {
	case ResourceAsset, ResourceUser, ResourceStorageBytes:
		return true
	}
	return false
}

const (
	MiB int64 = 1 << 20
	GiB int64 = 1 << 30
)

// Limits holds the per-tenant ceilings for each resource kind
type Limits struct {
	MaxAssets       int64 `json:"max_assets"`
	MaxUsers        int64 `json:"max_users"`
	MaxStorageBytes int64 `json:"max_storage_bytes"`
}

// For returns the ceiling for kind
func (l Limits) For(kind ResourceKind) int64 {
	switch kind {
	case ResourceAsset:
		return l.MaxAssets
	case ResourceUser:
		return l.MaxUsers
	case ResourceStorageBytes:
		return l.MaxStorageBytes
	}
	return 0
}

var tierLimits = map[Tier]Limits{
	TierFree:       {MaxAssets: 50, MaxUsers: 5, MaxStorageBytes: 100 * MiB},
	TierPro:        {MaxAssets: 500, MaxUsers: 25, MaxStorageBytes: 1 * GiB},
	TierEnterprise: {MaxAssets: 10000, MaxUsers: 500, MaxStorageBytes: 50 * GiB},
}

// LimitsFor returns the limits of a tier. Unknown tiers get Free limits.
func LimitsFor(t Tier) Limits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[TierFree]
}

// Usage holds a tenant's current consumption counters
type Usage struct {
	Assets       int64 `json:"asset_count"`
	Users        int64 `json:"user_count"`
	StorageBytes int64 `json:"storage_bytes"`
}

// For returns the counter for kind
func (u Usage) For(kind ResourceKind) int64 {
	switch kind {
	case ResourceAsset:
		return u.Assets
	case ResourceUser:
		return u.Users
	case ResourceStorageBytes:
		return u.StorageBytes
	}
	return 0
}

// Add returns u with delta applied to kind, floored at zero
func (u Usage) Add(kind ResourceKind, delta int64) Usage {
	floor := func(v int64) int64 {
		if v < 0 {
			return 0
		}
		return v
	}
	switch kind {
	case ResourceAsset:
		u.Assets = floor(u.Assets + delta)
	case ResourceUser:
		u.Users = floor(u.Users + delta)
	case ResourceStorageBytes:
		u.StorageBytes = floor(u.StorageBytes + delta)
	}
	return u
}

// Tenant represents an isolated customer account
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Tier      Tier      `json:"tier"`
	IsActive  bool      `json:"is_active"`
	Limits    Limits    `json:"limits"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Exceeds returns the first resource kind whose usage is above limits, if any
func (u Usage) Exceeds(l Limits) (ResourceKind, bool) {
	for _, k := range []ResourceKind{ResourceAsset, ResourceUser, ResourceStorageBytes} {
		if u.For(k) > l.For(k) {
			return k, true
		}
	}
	return "", false
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// NormalizeSlug lowercases and trims a slug and checks its shape
func NormalizeSlug(s string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(s))
	if !slugPattern.MatchString(slug) {
		return "", ValidationError{Field: "slug", Reason: "must be 2-63 chars of a-z, 0-9 or '-', starting alphanumeric"}
	}
	return slug, nil
}
