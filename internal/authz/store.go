package authz

import "context"

// Store describes the persistence capabilities this layer depends on:
// role/permission membership evaluation plus the role administration surface.
type Store interface {
	// Membership resolves the tenant an identity operates in. Returns
	// ErrNoRoles when the identity holds no roles in any tenant.
	Membership(ctx context.Context, userID string) (string, error)

	// HasPermission reports whether any role held by the user grants the
	// (featureArea, actionType) pair. Implementations must evaluate this as
	// a single existence check, not by loading role collections.
	HasPermission(ctx context.Context, userID, featureArea, actionType string) (bool, error)

	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, roleID string) (*Role, error)
	ListRoles(ctx context.Context, tenantID string) ([]*Role, error)
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (*Role, error)
	DeleteRole(ctx context.Context, roleID string) error
	RoleAssignmentCount(ctx context.Context, roleID string) (int, error)

	SetRolePermissions(ctx context.Context, roleID string, permissionKeys []string) error
	AssignRole(ctx context.Context, grant UserRole) error
	RemoveRole(ctx context.Context, userID, roleID string) error
	Assignments(ctx context.Context, userID string) ([]UserRole, error)

	EnsurePermissions(ctx context.Context, perms []Permission) error
}
