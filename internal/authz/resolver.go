package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"opsdeck.io/internal/audit"
	"opsdeck.io/internal/fingerprint"
	"opsdeck.io/internal/obs"
)

// Stable error codes surfaced to callers.
const (
	CodeAuthRequired            = "AUTH_REQUIRED"
	CodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	CodePermissionDenied        = "PERMISSION_DENIED"
	CodeInternalError           = "INTERNAL_ERROR"
)

// Audit reasons recorded for each terminal state of a permission check.
const (
	ReasonUnauthenticated   = "unauthenticated"
	ReasonNoRolesAssigned   = "no_roles_assigned"
	ReasonPermissionDenied  = "permission_denied"
	ReasonPermissionGranted = "permission_granted"
	ReasonSystemError       = "system_error"
)

// Resolver decides, per request, whether the authenticated identity may
// perform a (featureArea, actionType) operation. Every invocation writes
// exactly one audit event before the outcome is signaled to the caller.
type Resolver struct {
	store Store
	log   *audit.Logger
}

// NewResolver constructs a Resolver over the membership store and audit log.
func NewResolver(store Store, log *audit.Logger) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("authz store is required")
	}
	if log == nil {
		return nil, errors.New("audit logger is required")
	}
	return &Resolver{store: store, log: log}, nil
}

// RequirePermission returns middleware enforcing the given permission pair.
//
// States per request: unauthenticated, no roles, denied, granted, system
// error — all terminal, no retries. On grant the resolved tenant id is
// attached to the request context for downstream handlers.
func (rv *Resolver) RequirePermission(featureArea, actionType string) func(http.Handler) http.Handler {
	permKey := featureArea + ":" + actionType
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			identity, ok := IdentityFromContext(ctx)
			if !ok {
				rv.deny(w, r, verdict{
					status: http.StatusUnauthorized,
					code:   CodeAuthRequired, message: "authentication required",
					reason: ReasonUnauthenticated, permKey: permKey, start: start,
				})
				return
			}

			tenantID, err := rv.store.Membership(ctx, identity.UserID)
			if errors.Is(err, ErrNoRoles) {
				rv.deny(w, r, verdict{
					status: http.StatusForbidden,
					code:   CodeInsufficientPermissions, message: "no roles assigned",
					reason: ReasonNoRolesAssigned, actorID: identity.UserID,
					permKey: permKey, start: start,
				})
				return
			}
			if err != nil {
				rv.deny(w, r, verdict{
					status: http.StatusInternalServerError,
					code:   CodeInternalError, message: "internal error",
					reason: ReasonSystemError, actorID: identity.UserID,
					permKey: permKey, start: start, err: err,
				})
				return
			}

			granted, err := rv.store.HasPermission(ctx, identity.UserID, featureArea, actionType)
			if err != nil {
				rv.deny(w, r, verdict{
					status: http.StatusInternalServerError,
					code:   CodeInternalError, message: "internal error",
					reason: ReasonSystemError, actorID: identity.UserID, tenantID: tenantID,
					permKey: permKey, start: start, err: err,
				})
				return
			}
			if !granted {
				rv.deny(w, r, verdict{
					status: http.StatusForbidden,
					code:   CodePermissionDenied, message: "permission denied",
					reason: ReasonPermissionDenied, actorID: identity.UserID, tenantID: tenantID,
					permKey: permKey, start: start,
				})
				return
			}

			// The audit write is awaited before next() runs: a small latency
			// cost in exchange for guaranteed audit completeness.
			rv.record(ctx, r, verdict{
				reason: ReasonPermissionGranted, actorID: identity.UserID, tenantID: tenantID,
				permKey: permKey, start: start,
			})
			next.ServeHTTP(w, r.WithContext(ContextWithTenant(ctx, tenantID)))
		})
	}
}

// verdict carries one terminal state of a permission check.
type verdict struct {
	status   int
	code     string
	message  string
	reason   string
	actorID  string
	tenantID string
	permKey  string
	start    time.Time
	err      error
}

func (rv *Resolver) record(ctx context.Context, r *http.Request, v verdict) {
	outcome := "denied"
	switch v.reason {
	case ReasonPermissionGranted:
		outcome = "granted"
	case ReasonSystemError:
		outcome = "error"
	}
	meta := map[string]string{"permission": v.permKey}
	if v.err != nil {
		// Full detail goes to the audit record only, never to the caller.
		meta["error"] = v.err.Error()
	}
	rv.log.Log(ctx, audit.Event{
		TenantID:          v.tenantID,
		ActorID:           v.actorID,
		EntityType:        audit.EntityPermissionCheck,
		Outcome:           outcome,
		Reason:            v.reason,
		RequestPath:       r.URL.Path,
		RequestMethod:     r.Method,
		ClientFingerprint: fingerprint.Client(r),
		DurationMs:        time.Since(v.start).Milliseconds(),
		Metadata:          meta,
	})
	obs.PermissionDecision(v.reason)
}

func (rv *Resolver) deny(w http.ResponseWriter, r *http.Request, v verdict) {
	rv.record(r.Context(), r, v)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(v.status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message": v.message,
		"code":    v.code,
	})
}
