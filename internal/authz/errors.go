package authz

import "errors"

var (
	ErrNotFound       = errors.New("authz: not found")
	ErrConflict       = errors.New("authz: resource conflict")
	ErrInvalidInput   = errors.New("authz: invalid input")
	ErrNoRoles        = errors.New("authz: no roles assigned")
	ErrRoleInUse      = errors.New("authz: role still assigned to users")
	ErrDefaultRole    = errors.New("authz: default role is immutable")
	ErrTenantMismatch = errors.New("authz: role belongs to a different tenant")
	ErrInvalidToken   = errors.New("authz: invalid token")
)
