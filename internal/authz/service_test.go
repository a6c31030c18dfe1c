package authz

import (
	"context"
	"errors"
	"testing"

	"opsdeck.io/internal/audit"
)

func newTestService(t *testing.T, store Store, sink audit.Sink) *Service {
	t.Helper()
	svc, err := NewService(store, newTestLogger(t, sink))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestCreateRoleValidation(t *testing.T) {
	svc := newTestService(t, newFakeStore(), &captureSink{})

	if _, err := svc.CreateRole(context.Background(), "", "editor", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.CreateRole(context.Background(), "tenant-1", "   ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCreateRoleAuditsMutation(t *testing.T) {
	sink := &captureSink{}
	svc := newTestService(t, newFakeStore(), sink)

	ctx := ContextWithIdentity(context.Background(), Identity{UserID: "admin-1"})
	role, err := svc.CreateRole(ctx, "tenant-1", "editor", "edits things")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if role.ID == "" {
		t.Fatal("role id not assigned")
	}

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.EntityType != audit.EntityRoleChange || ev.Reason != "role_created" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.ActorID != "admin-1" || ev.TenantID != "tenant-1" {
		t.Fatalf("unexpected attribution %+v", ev)
	}
}

func TestUpdateRoleDefaultRename(t *testing.T) {
	store := newFakeStore()
	store.roles["role-owner"] = &Role{ID: "role-owner", TenantID: "tenant-1", Name: "owner", IsDefault: true}
	svc := newTestService(t, store, &captureSink{})

	name := "renamed"
	if _, err := svc.UpdateRole(context.Background(), "role-owner", RoleUpdate{Name: &name}); !errors.Is(err, ErrDefaultRole) {
		t.Fatalf("err = %v, want ErrDefaultRole", err)
	}

	// Description changes on default roles are allowed.
	desc := "updated description"
	if _, err := svc.UpdateRole(context.Background(), "role-owner", RoleUpdate{Description: &desc}); err != nil {
		t.Fatalf("update description: %v", err)
	}
}

func TestDeleteRoleGuards(t *testing.T) {
	store := newFakeStore()
	store.roles["role-owner"] = &Role{ID: "role-owner", TenantID: "tenant-1", Name: "owner", IsDefault: true}
	store.roles["role-editor"] = &Role{ID: "role-editor", TenantID: "tenant-1", Name: "editor"}
	store.assignCount["role-editor"] = 2
	svc := newTestService(t, store, &captureSink{})

	if err := svc.DeleteRole(context.Background(), "role-owner"); !errors.Is(err, ErrDefaultRole) {
		t.Fatalf("err = %v, want ErrDefaultRole", err)
	}
	if err := svc.DeleteRole(context.Background(), "role-editor"); !errors.Is(err, ErrRoleInUse) {
		t.Fatalf("err = %v, want ErrRoleInUse", err)
	}

	store.assignCount["role-editor"] = 0
	if err := svc.DeleteRole(context.Background(), "role-editor"); err != nil {
		t.Fatalf("delete role: %v", err)
	}
	if err := svc.DeleteRole(context.Background(), "role-editor"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSetRolePermissionsDedupes(t *testing.T) {
	store := newFakeStore()
	store.roles["role-editor"] = &Role{ID: "role-editor", TenantID: "tenant-1", Name: "editor"}
	svc := newTestService(t, store, &captureSink{})

	keys := []string{"invoices:view", " invoices:view ", "", "projects:edit"}
	if err := svc.SetRolePermissions(context.Background(), "role-editor", keys); err != nil {
		t.Fatalf("set permissions: %v", err)
	}
	got := store.rolePerms["role-editor"]
	want := []string{"invoices:view", "projects:edit"}
	if len(got) != len(want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys = %v, want %v", got, want)
		}
	}
}

func TestAssignRoleTenantMismatch(t *testing.T) {
	store := newFakeStore()
	store.roles["role-editor"] = &Role{ID: "role-editor", TenantID: "tenant-2", Name: "editor"}
	svc := newTestService(t, store, &captureSink{})

	err := svc.AssignRole(context.Background(), UserRole{
		UserID: "user-1", RoleID: "role-editor", TenantID: "tenant-1",
	})
	if !errors.Is(err, ErrTenantMismatch) {
		t.Fatalf("err = %v, want ErrTenantMismatch", err)
	}
}

func TestAssignAndRemoveRole(t *testing.T) {
	store := newFakeStore()
	store.roles["role-editor"] = &Role{ID: "role-editor", TenantID: "tenant-1", Name: "editor"}
	svc := newTestService(t, store, &captureSink{})

	grant := UserRole{UserID: "user-1", RoleID: "role-editor", TenantID: "tenant-1", AssignedBy: "admin-1"}
	if err := svc.AssignRole(context.Background(), grant); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	grants, err := svc.Assignments(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("assignments: %v", err)
	}
	if len(grants) != 1 || grants[0].RoleID != "role-editor" {
		t.Fatalf("grants = %+v", grants)
	}
	if err := svc.RemoveRole(context.Background(), "user-1", "role-editor"); err != nil {
		t.Fatalf("remove role: %v", err)
	}
	if err := svc.RemoveRole(context.Background(), "user-1", "role-editor"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSeedCatalog(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, &captureSink{})

	if err := svc.SeedCatalog(context.Background()); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	if len(store.ensured) != len(BuiltinPermissions) {
		t.Fatalf("seeded %d permissions, want %d", len(store.ensured), len(BuiltinPermissions))
	}
	seen := make(map[string]bool)
	for _, p := range store.ensured {
		if seen[p.Key()] {
			t.Fatalf("duplicate permission %s", p.Key())
		}
		seen[p.Key()] = true
	}
	if !seen["roles:assign"] {
		t.Fatal("catalog missing roles:assign")
	}
}
