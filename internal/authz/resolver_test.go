package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"opsdeck.io/internal/audit"
)

type fakeStore struct {
	tenant        string
	membershipErr error
	granted       bool
	permErr       error

	mu          sync.Mutex
	roles       map[string]*Role
	grants      map[string][]UserRole
	rolePerms   map[string][]string
	ensured     []Permission
	assignCount map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenant:      "tenant-1",
		roles:       make(map[string]*Role),
		grants:      make(map[string][]UserRole),
		rolePerms:   make(map[string][]string),
		assignCount: make(map[string]int),
	}
}

func (f *fakeStore) Membership(_ context.Context, _ string) (string, error) {
	if f.membershipErr != nil {
		return "", f.membershipErr
	}
	return f.tenant, nil
}

func (f *fakeStore) HasPermission(_ context.Context, _, _, _ string) (bool, error) {
	if f.permErr != nil {
		return false, f.permErr
	}
	return f.granted, nil
}

func (f *fakeStore) CreateRole(_ context.Context, role *Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if role.ID == "" {
		role.ID = "role-" + role.Name
	}
	for _, existing := range f.roles {
		if existing.TenantID == role.TenantID && existing.Name == role.Name {
			return ErrConflict
		}
	}
	copied := *role
	f.roles[role.ID] = &copied
	return nil
}

func (f *fakeStore) GetRole(_ context.Context, roleID string) (*Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[roleID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *role
	return &copied, nil
}

func (f *fakeStore) ListRoles(_ context.Context, tenantID string) ([]*Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*Role
	for _, role := range f.roles {
		if role.TenantID == tenantID {
			copied := *role
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (f *fakeStore) UpdateRole(_ context.Context, roleID string, upd RoleUpdate) (*Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[roleID]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		role.Name = *upd.Name
	}
	if upd.Description != nil {
		role.Description = *upd.Description
	}
	copied := *role
	return &copied, nil
}

func (f *fakeStore) DeleteRole(_ context.Context, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.roles[roleID]; !ok {
		return ErrNotFound
	}
	delete(f.roles, roleID)
	return nil
}

func (f *fakeStore) RoleAssignmentCount(_ context.Context, roleID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assignCount[roleID], nil
}

func (f *fakeStore) SetRolePermissions(_ context.Context, roleID string, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rolePerms[roleID] = keys
	return nil
}

func (f *fakeStore) AssignRole(_ context.Context, grant UserRole) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[grant.RoleID]
	if !ok {
		return ErrNotFound
	}
	if role.TenantID != grant.TenantID {
		return ErrTenantMismatch
	}
	f.grants[grant.UserID] = append(f.grants[grant.UserID], grant)
	f.assignCount[grant.RoleID]++
	return nil
}

func (f *fakeStore) RemoveRole(_ context.Context, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	grants := f.grants[userID]
	for i, g := range grants {
		if g.RoleID == roleID {
			f.grants[userID] = append(grants[:i], grants[i+1:]...)
			f.assignCount[roleID]--
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeStore) Assignments(_ context.Context, userID string) ([]UserRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]UserRole(nil), f.grants[userID]...), nil
}

func (f *fakeStore) EnsurePermissions(_ context.Context, perms []Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, perms...)
	return nil
}

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Append(_ context.Context, event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *captureSink) all() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

func newTestLogger(t *testing.T, sink audit.Sink) *audit.Logger {
	t.Helper()
	log, err := audit.NewLogger(sink)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return log
}

func newTestResolver(t *testing.T, store Store, sink audit.Sink) *Resolver {
	t.Helper()
	rv, err := NewResolver(store, newTestLogger(t, sink))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return rv
}

func doRequest(rv *Resolver, area, action string, authed bool, next http.Handler) *httptest.ResponseRecorder {
	if next == nil {
		next = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/invoices", nil)
	if authed {
		req = req.WithContext(ContextWithIdentity(req.Context(), Identity{UserID: "user-1"}))
	}
	rec := httptest.NewRecorder()
	rv.RequirePermission(area, action)(next).ServeHTTP(rec, req)
	return rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestRequirePermissionUnauthenticated(t *testing.T) {
	sink := &captureSink{}
	rv := newTestResolver(t, newFakeStore(), sink)

	rec := doRequest(rv, AreaInvoices, ActionView, false, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body["code"] != CodeAuthRequired {
		t.Fatalf("code = %q, want %q", body["code"], CodeAuthRequired)
	}

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.EntityType != audit.EntityPermissionCheck || ev.Reason != ReasonUnauthenticated || ev.Outcome != "denied" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.TenantID != audit.SystemTenant {
		t.Fatalf("tenant = %q, want %q", ev.TenantID, audit.SystemTenant)
	}
	if ev.ID == "" || ev.OccurredAt.IsZero() {
		t.Fatalf("event not normalized: %+v", ev)
	}
}

func TestRequirePermissionNoRoles(t *testing.T) {
	store := newFakeStore()
	store.membershipErr = ErrNoRoles
	sink := &captureSink{}
	rv := newTestResolver(t, store, sink)

	rec := doRequest(rv, AreaInvoices, ActionView, true, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body["code"] != CodeInsufficientPermissions {
		t.Fatalf("code = %q, want %q", body["code"], CodeInsufficientPermissions)
	}
	events := sink.all()
	if len(events) != 1 || events[0].Reason != ReasonNoRolesAssigned {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestRequirePermissionDenied(t *testing.T) {
	store := newFakeStore()
	store.granted = false
	sink := &captureSink{}
	rv := newTestResolver(t, store, sink)

	rec := doRequest(rv, AreaInvoices, ActionEdit, true, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body["code"] != CodePermissionDenied {
		t.Fatalf("code = %q, want %q", body["code"], CodePermissionDenied)
	}
	events := sink.all()
	if len(events) != 1 || events[0].Reason != ReasonPermissionDenied {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[0].TenantID != "tenant-1" {
		t.Fatalf("tenant = %q, want tenant-1", events[0].TenantID)
	}
	if events[0].Metadata["permission"] != "invoices:edit" {
		t.Fatalf("permission metadata = %q", events[0].Metadata["permission"])
	}
}

func TestRequirePermissionGranted(t *testing.T) {
	store := newFakeStore()
	store.granted = true
	sink := &captureSink{}
	rv := newTestResolver(t, store, sink)

	var gotTenant string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant, _ = TenantFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := doRequest(rv, AreaInvoices, ActionView, true, next)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotTenant != "tenant-1" {
		t.Fatalf("tenant in context = %q, want tenant-1", gotTenant)
	}
	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Outcome != "granted" || events[0].Reason != ReasonPermissionGranted {
		t.Fatalf("unexpected event %+v", events[0])
	}
	if events[0].ActorID != "user-1" {
		t.Fatalf("actor = %q, want user-1", events[0].ActorID)
	}
}

func TestRequirePermissionStoreError(t *testing.T) {
	store := newFakeStore()
	store.permErr = errors.New("connection refused to 10.0.0.5")
	sink := &captureSink{}
	rv := newTestResolver(t, store, sink)

	rec := doRequest(rv, AreaInvoices, ActionView, true, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body["code"] != CodeInternalError {
		t.Fatalf("code = %q, want %q", body["code"], CodeInternalError)
	}
	// The caller never sees backend detail; the audit record keeps it.
	if body["message"] != "internal error" {
		t.Fatalf("message leaked detail: %q", body["message"])
	}
	events := sink.all()
	if len(events) != 1 || events[0].Outcome != "error" || events[0].Reason != ReasonSystemError {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[0].Metadata["error"] == "" {
		t.Fatal("audit record missing error detail")
	}
}

func TestRequirePermissionRepeatedChecksAgree(t *testing.T) {
	store := newFakeStore()
	store.granted = true
	sink := &captureSink{}
	rv := newTestResolver(t, store, sink)

	// Without an intervening role change, the same identity asking for the
	// same permission gets the same answer every time.
	first := doRequest(rv, AreaInvoices, ActionView, true, nil)
	second := doRequest(rv, AreaInvoices, ActionView, true, nil)
	if first.Code != http.StatusOK || second.Code != first.Code {
		t.Fatalf("codes = %d, %d, want both 200", first.Code, second.Code)
	}

	store.granted = false
	third := doRequest(rv, AreaInvoices, ActionView, true, nil)
	fourth := doRequest(rv, AreaInvoices, ActionView, true, nil)
	if third.Code != http.StatusForbidden || fourth.Code != third.Code {
		t.Fatalf("codes = %d, %d, want both 403", third.Code, fourth.Code)
	}

	events := sink.all()
	if len(events) != 4 {
		t.Fatalf("events = %d, want one per check", len(events))
	}
	if events[0].Reason != events[1].Reason || events[0].Outcome != events[1].Outcome {
		t.Fatalf("granted pair diverged: %+v vs %+v", events[0], events[1])
	}
	if events[2].Reason != events[3].Reason || events[2].Outcome != events[3].Outcome {
		t.Fatalf("denied pair diverged: %+v vs %+v", events[2], events[3])
	}
}

func TestRequirePermissionEveryOutcomeHasFingerprint(t *testing.T) {
	store := newFakeStore()
	store.granted = true
	sink := &captureSink{}
	rv := newTestResolver(t, store, sink)

	doRequest(rv, AreaInvoices, ActionView, true, nil)
	doRequest(rv, AreaInvoices, ActionView, false, nil)

	for _, ev := range sink.all() {
		if ev.ClientFingerprint == "" {
			t.Fatalf("event without fingerprint: %+v", ev)
		}
	}
}
