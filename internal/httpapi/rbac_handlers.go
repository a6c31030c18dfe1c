package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"opsdeck.io/internal/authz"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

// /v1/tenants/{tenantID}/roles
func (a *API) handleTenantScoped(w http.ResponseWriter, r *http.Request) {
	if a.roles == nil {
		writeError(w, http.StatusServiceUnavailable, "INTERNAL_ERROR", "role service unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/tenants/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "roles" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
		return
	}
	tenantID := parts[0]
	switch r.Method {
	case http.MethodGet:
		a.guard(w, r, authz.ActionView, func(w http.ResponseWriter, r *http.Request) {
			a.listRoles(w, r, tenantID)
		})
	case http.MethodPost:
		a.guard(w, r, authz.ActionCreate, func(w http.ResponseWriter, r *http.Request) {
			a.createRole(w, r, tenantID)
		})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request, tenantID string) {
	roles, err := a.roles.ListRoles(r.Context(), tenantID)
	if err != nil {
		handleRoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	role, err := a.roles.CreateRole(r.Context(), tenantID, req.Name, req.Description)
	if err != nil {
		handleRoleError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

// /v1/roles/{roleID} and /v1/roles/{roleID}/permissions
func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	if a.roles == nil {
		writeError(w, http.StatusServiceUnavailable, "INTERNAL_ERROR", "role service unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	roleID := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.guard(w, r, authz.ActionView, func(w http.ResponseWriter, r *http.Request) {
				a.getRole(w, r, roleID)
			})
		case http.MethodPut:
			a.guard(w, r, authz.ActionEdit, func(w http.ResponseWriter, r *http.Request) {
				a.updateRole(w, r, roleID)
			})
		case http.MethodDelete:
			a.guard(w, r, authz.ActionDelete, func(w http.ResponseWriter, r *http.Request) {
				a.deleteRole(w, r, roleID)
			})
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "permissions":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, http.MethodPut)
			return
		}
		a.guard(w, r, authz.ActionEdit, func(w http.ResponseWriter, r *http.Request) {
			a.setRolePermissions(w, r, roleID)
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	}
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request, roleID string) {
	role, err := a.roles.GetRole(r.Context(), roleID)
	if err != nil {
		handleRoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request, roleID string) {
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	role, err := a.roles.UpdateRole(r.Context(), roleID, authz.RoleUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		handleRoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request, roleID string) {
	if err := a.roles.DeleteRole(r.Context(), roleID); err != nil {
		handleRoleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	var req setRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	if err := a.roles.SetRolePermissions(r.Context(), roleID, req.Permissions); err != nil {
		handleRoleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// /v1/users/{userID}/roles and /v1/users/{userID}/roles/{roleID}
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	if a.roles == nil {
		writeError(w, http.StatusServiceUnavailable, "INTERNAL_ERROR", "role service unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[1] != "roles" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
		return
	}
	userID := parts[0]

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		a.guard(w, r, authz.ActionView, func(w http.ResponseWriter, r *http.Request) {
			a.listAssignments(w, r, userID)
		})
	case len(parts) == 2 && r.Method == http.MethodPost:
		a.guard(w, r, authz.ActionAssign, func(w http.ResponseWriter, r *http.Request) {
			a.assignRole(w, r, userID)
		})
	case len(parts) == 3 && r.Method == http.MethodDelete:
		a.guard(w, r, authz.ActionAssign, func(w http.ResponseWriter, r *http.Request) {
			a.removeRole(w, r, userID, parts[2])
		})
	case len(parts) == 2:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	case len(parts) == 3:
		methodNotAllowed(w, http.MethodDelete)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	}
}

func (a *API) listAssignments(w http.ResponseWriter, r *http.Request, userID string) {
	grants, err := a.roles.Assignments(r.Context(), userID)
	if err != nil {
		handleRoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": grants})
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request, userID string) {
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	grant := authz.UserRole{UserID: userID, RoleID: req.RoleID}
	if tenantID, ok := authz.TenantFromContext(r.Context()); ok {
		grant.TenantID = tenantID
	}
	if identity, ok := authz.IdentityFromContext(r.Context()); ok {
		grant.AssignedBy = identity.UserID
	}
	if err := a.roles.AssignRole(r.Context(), grant); err != nil {
		handleRoleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) removeRole(w http.ResponseWriter, r *http.Request, userID, roleID string) {
	if err := a.roles.RemoveRole(r.Context(), userID, roleID); err != nil {
		handleRoleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
