package authz

// Feature areas of the platform guarded by permission checks.
const (
	AreaClients   = "clients"
	AreaProjects  = "projects"
	AreaInvoices  = "invoices"
	AreaProposals = "proposals"
	AreaRoles     = "roles"
	AreaReports   = "reports"
)

// Action types applicable to feature areas.
const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionEdit   = "edit"
	ActionDelete = "delete"
	ActionAssign = "assign"
)

// BuiltinPermissions is the seeded global catalog. Permissions are effectively
// immutable once seeded; Ensure is idempotent on the (area, action) pair.
var BuiltinPermissions = buildCatalog()

func buildCatalog() []Permission {
	areas := []string{AreaClients, AreaProjects, AreaInvoices, AreaProposals, AreaRoles, AreaReports}
	actions := []string{ActionView, ActionCreate, ActionEdit, ActionDelete}

	var perms []Permission
	for _, area := range areas {
		for _, action := range actions {
			perms = append(perms, Permission{FeatureArea: area, ActionType: action})
		}
	}
	perms = append(perms, Permission{
		FeatureArea: AreaRoles,
		ActionType:  ActionAssign,
		Description: "Grant and revoke roles for users",
	})
	return perms
}
