package authz

import "time"

// Tenant is the unit of isolation: every role grant and audit record is
// partitioned by tenant, and cross-tenant reads are never performed here.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identity is an authenticated caller resolved by the upstream auth system.
// This layer only ever reads it.
type Identity struct {
	UserID string `json:"user_id"`
}

// Role is a named bundle of permissions scoped to one tenant. Default roles
// are system-seeded; their name and default flag are immutable.
type Role struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is an atomic (featureArea, actionType) capability. The catalog
// is global and seeded once.
type Permission struct {
	ID          string    `json:"id"`
	FeatureArea string    `json:"feature_area"`
	ActionType  string    `json:"action_type"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key returns the canonical "featureArea:actionType" form.
func (p Permission) Key() string {
	return p.FeatureArea + ":" + p.ActionType
}

// RolePermission links a role to a permission.
type RolePermission struct {
	RoleID       string `json:"role_id"`
	PermissionID string `json:"permission_id"`
}

// UserRole grants an identity a role inside a tenant. This is the
// authorization edge walked at request time. Invariant: the role always
// belongs to the same tenant as the grant.
type UserRole struct {
	UserID     string    `json:"user_id"`
	RoleID     string    `json:"role_id"`
	TenantID   string    `json:"tenant_id"`
	AssignedBy string    `json:"assigned_by,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}

// RoleUpdate carries optional role field changes.
type RoleUpdate struct {
	Name        *string
	Description *string
}
