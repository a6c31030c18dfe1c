// Package pg implements the authz store and audit sink on PostgreSQL via
// database/sql over the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"opsdeck.io/internal/authz"
	"opsdeck.io/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var _ authz.Store = (*Store)(nil)

// Store implements authz.Store.
type Store struct {
	db *sql.DB
}

// New constructs a Store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Membership(ctx context.Context, userID string) (string, error) {
	if s.db == nil {
		return "", errors.New("database connection unavailable")
	}
	var tenantID string
	err := s.db.QueryRowContext(ctx, `
		select tenant_id
		from user_roles
		where user_id = $1
		group by tenant_id
		order by min(assigned_at)
		limit 1
	`, userID).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", authz.ErrNoRoles
	}
	if err != nil {
		return "", err
	}
	return tenantID, nil
}

func (s *Store) HasPermission(ctx context.Context, userID, featureArea, actionType string) (bool, error) {
	if s.db == nil {
		return false, errors.New("database connection unavailable")
	}
	// One existence check across the whole membership chain: O(1) round
	// trips no matter how many roles or permissions exist.
	var granted bool
	err := s.db.QueryRowContext(ctx, `
		select exists (
			select 1
			from user_roles ur
			join role_permissions rp on rp.role_id = ur.role_id
			join permissions p on p.id = rp.permission_id
			where ur.user_id = $1
			  and p.feature_area = $2
			  and p.action_type = $3
		)
	`, userID, featureArea, actionType).Scan(&granted)
	if err != nil {
		return false, err
	}
	return granted, nil
}

func (s *Store) CreateRole(ctx context.Context, role *authz.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, tenant_id, name, description, is_default)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, role.ID, role.TenantID, role.Name, role.Description, role.IsDefault)
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return authz.ErrConflict
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: unknown tenant %s", authz.ErrInvalidInput, role.TenantID)
			}
		}
		return err
	}
	return nil
}

func (s *Store) GetRole(ctx context.Context, roleID string) (*authz.Role, error) {
	var role authz.Role
	err := s.db.QueryRowContext(ctx, `
		select id, tenant_id, name, description, is_default, created_at, updated_at
		from roles
		where id = $1
	`, roleID).Scan(&role.ID, &role.TenantID, &role.Name, &role.Description,
		&role.IsDefault, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *Store) ListRoles(ctx context.Context, tenantID string) ([]*authz.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, name, description, is_default, created_at, updated_at
		from roles
		where tenant_id = $1
		order by created_at
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*authz.Role
	for rows.Next() {
		var role authz.Role
		if err := rows.Scan(&role.ID, &role.TenantID, &role.Name, &role.Description,
			&role.IsDefault, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, &role)
	}
	return roles, rows.Err()
}

func (s *Store) UpdateRole(ctx context.Context, roleID string, upd authz.RoleUpdate) (*authz.Role, error) {
	var role authz.Role
	err := s.db.QueryRowContext(ctx, `
		update roles
		set name = coalesce($2, name),
		    description = coalesce($3, description),
		    updated_at = now()
		where id = $1
		returning id, tenant_id, name, description, is_default, created_at, updated_at
	`, roleID, upd.Name, upd.Description).Scan(&role.ID, &role.TenantID, &role.Name,
		&role.Description, &role.IsDefault, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil, authz.ErrConflict
		}
		return nil, err
	}
	return &role, nil
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return authz.ErrRoleInUse
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s *Store) RoleAssignmentCount(ctx context.Context, roleID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from user_roles where role_id = $1
	`, roleID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionKeys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, key := range permissionKeys {
		area, action, ok := strings.Cut(key, ":")
		if !ok {
			return fmt.Errorf("%w: malformed permission key %q", authz.ErrInvalidInput, key)
		}
		res, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			select $1, id from permissions
			where feature_area = $2 and action_type = $3
		`, roleID, area, action)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: unknown permission %q", authz.ErrInvalidInput, key)
		}
	}
	return tx.Commit()
}

func (s *Store) AssignRole(ctx context.Context, grant authz.UserRole) error {
	role, err := s.GetRole(ctx, grant.RoleID)
	if err != nil {
		return err
	}
	if role.TenantID != grant.TenantID {
		return authz.ErrTenantMismatch
	}
	_, err = s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, tenant_id, assigned_by)
		values ($1, $2, $3, $4)
		on conflict do nothing
	`, grant.UserID, grant.RoleID, grant.TenantID, nullable(grant.AssignedBy))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: unknown user or role", authz.ErrInvalidInput)
		}
		return err
	}
	return nil
}

func (s *Store) RemoveRole(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s *Store) Assignments(ctx context.Context, userID string) ([]authz.UserRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, role_id, tenant_id, coalesce(assigned_by, ''), assigned_at
		from user_roles
		where user_id = $1
		order by assigned_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.UserRole
	for rows.Next() {
		var g authz.UserRole
		if err := rows.Scan(&g.UserID, &g.RoleID, &g.TenantID, &g.AssignedBy, &g.AssignedAt); err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

func (s *Store) EnsurePermissions(ctx context.Context, perms []authz.Permission) error {
	for _, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
		}
		_, err := s.db.ExecContext(ctx, `
			insert into permissions (id, feature_area, action_type, description)
			values ($1, $2, $3, $4)
			on conflict (feature_area, action_type) do nothing
		`, p.ID, p.FeatureArea, p.ActionType, p.Description)
		if err != nil {
			return err
		}
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
