package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"opsdeck.io/internal/authz"
	"opsdeck.io/internal/obs"
	"opsdeck.io/internal/ratelimit"
)

// ReadyProbe reports whether downstream dependencies answer.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the API surface.
type Options struct {
	ReadyProbe   ReadyProbe
	Version      string
	Roles        *authz.Service
	Resolver     *authz.Resolver
	APILimiter   *ratelimit.Limiter
	AdminLimiter *ratelimit.Limiter
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	roles      *authz.Service
	resolver   *authz.Resolver
}

func New(opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: opts.ReadyProbe,
		version:    opts.Version,
		roles:      opts.Roles,
		resolver:   opts.Resolver,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/v1/info", limited(opts.APILimiter, http.HandlerFunc(a.Info)))

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// role administration
	a.mux.Handle("/v1/tenants/", limited(opts.AdminLimiter, http.HandlerFunc(a.handleTenantScoped)))
	a.mux.Handle("/v1/roles/", limited(opts.AdminLimiter, http.HandlerFunc(a.handleRoleResource)))
	a.mux.Handle("/v1/users/", limited(opts.AdminLimiter, http.HandlerFunc(a.handleUserScoped)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func limited(l *ratelimit.Limiter, next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return l.Middleware()(next)
}

// guard runs h only when the identity holds the roles permission for action.
func (a *API) guard(w http.ResponseWriter, r *http.Request, action string, h http.HandlerFunc) {
	if a.resolver == nil {
		writeError(w, http.StatusServiceUnavailable, "INTERNAL_ERROR", "authorization unavailable")
		return
	}
	a.resolver.RequirePermission(authz.AreaRoles, action)(h).ServeHTTP(w, r)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "opsdeck-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "opsdeck-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"message": message,
		"code":    code,
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func handleRoleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authz.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, authz.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, authz.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", "resource already exists")
	case errors.Is(err, authz.ErrDefaultRole):
		writeError(w, http.StatusConflict, "DEFAULT_ROLE_IMMUTABLE", "default roles cannot be changed")
	case errors.Is(err, authz.ErrRoleInUse):
		writeError(w, http.StatusConflict, "ROLE_IN_USE", "role is still assigned to users")
	case errors.Is(err, authz.ErrTenantMismatch):
		writeError(w, http.StatusUnprocessableEntity, "TENANT_MISMATCH", "role belongs to a different tenant")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}
