package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"opsdeck.io/internal/audit"
)

// Service is the role-administration surface. It validates input, enforces
// the invariants the store cannot express (default roles stay immutable,
// roles are deleted only when unassigned) and appends an audit event for
// every mutation.
type Service struct {
	store Store
	log   *audit.Logger
}

// NewService constructs a Service.
func NewService(store Store, log *audit.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("authz store is required")
	}
	return &Service{store: store, log: log}, nil
}

// SeedCatalog ensures the builtin permission catalog exists.
func (s *Service) SeedCatalog(ctx context.Context) error {
	return s.store.EnsurePermissions(ctx, BuiltinPermissions)
}

// CreateRole registers a new custom role inside a tenant.
func (s *Service) CreateRole(ctx context.Context, tenantID, name, description string) (*Role, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role := &Role{
		TenantID:    tenantID,
		Name:        name,
		Description: strings.TrimSpace(description),
	}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	s.mutation(ctx, tenantID, "role_created", map[string]string{
		"role_id": role.ID,
		"name":    role.Name,
	})
	return role, nil
}

// GetRole fetches one role.
func (s *Service) GetRole(ctx context.Context, roleID string) (*Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, roleID)
}

// ListRoles lists the roles of one tenant.
func (s *Service) ListRoles(ctx context.Context, tenantID string) ([]*Role, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	return s.store.ListRoles(ctx, tenantID)
}

// UpdateRole changes name or description. System-seeded default roles cannot
// be renamed.
func (s *Service) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (*Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	current, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		if current.IsDefault {
			return nil, ErrDefaultRole
		}
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	role, err := s.store.UpdateRole(ctx, roleID, upd)
	if err != nil {
		return nil, err
	}
	s.mutation(ctx, role.TenantID, "role_updated", map[string]string{"role_id": role.ID})
	return role, nil
}

// DeleteRole removes a role that is not default and not held by any user.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsDefault {
		return ErrDefaultRole
	}
	holders, err := s.store.RoleAssignmentCount(ctx, roleID)
	if err != nil {
		return err
	}
	if holders > 0 {
		return ErrRoleInUse
	}
	if err := s.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	s.mutation(ctx, role.TenantID, "role_deleted", map[string]string{"role_id": roleID})
	return nil
}

// SetRolePermissions replaces a role's permission set.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, permissionKeys []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	keys := dedupeKeys(permissionKeys)
	if err := s.store.SetRolePermissions(ctx, roleID, keys); err != nil {
		return err
	}
	s.mutation(ctx, role.TenantID, "role_permissions_changed", map[string]string{
		"role_id":     roleID,
		"permissions": strings.Join(keys, ","),
	})
	return nil
}

// AssignRole grants a role to a user. The grant and the role must live in
// the same tenant; the store rejects cross-tenant edges.
func (s *Service) AssignRole(ctx context.Context, grant UserRole) error {
	grant.UserID = strings.TrimSpace(grant.UserID)
	grant.RoleID = strings.TrimSpace(grant.RoleID)
	grant.TenantID = strings.TrimSpace(grant.TenantID)
	if grant.UserID == "" || grant.RoleID == "" || grant.TenantID == "" {
		return fmt.Errorf("%w: user_id, role_id and tenant_id are required", ErrInvalidInput)
	}
	if err := s.store.AssignRole(ctx, grant); err != nil {
		return err
	}
	s.mutation(ctx, grant.TenantID, "role_assigned", map[string]string{
		"user_id":     grant.UserID,
		"role_id":     grant.RoleID,
		"assigned_by": grant.AssignedBy,
	})
	return nil
}

// RemoveRole revokes a grant.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	if err := s.store.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.mutation(ctx, "", "role_removed", map[string]string{
		"user_id": userID,
		"role_id": roleID,
	})
	return nil
}

// Assignments lists a user's grants.
func (s *Service) Assignments(ctx context.Context, userID string) ([]UserRole, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.Assignments(ctx, userID)
}

func (s *Service) mutation(ctx context.Context, tenantID, reason string, meta map[string]string) {
	if s.log == nil {
		return
	}
	actorID := ""
	if identity, ok := IdentityFromContext(ctx); ok {
		actorID = identity.UserID
	}
	s.log.Log(ctx, audit.Event{
		TenantID:   tenantID,
		ActorID:    actorID,
		EntityType: audit.EntityRoleChange,
		Outcome:    "applied",
		Reason:     reason,
		Metadata:   meta,
	})
}

func dedupeKeys(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
