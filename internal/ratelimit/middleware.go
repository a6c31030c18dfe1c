package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"opsdeck.io/internal/audit"
	"opsdeck.io/internal/authz"
	"opsdeck.io/internal/fingerprint"
	"opsdeck.io/internal/obs"
)

// CodeRateLimitExceeded is the stable error code for rejected requests.
const CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

// Config describes one limiter call site. Limits are enumerated explicitly
// per endpoint group; the documented fallback is 100 requests / 15 minutes.
type Config struct {
	Window      time.Duration
	MaxRequests int
	// KeyFunc overrides the rate-limit key. Default: fingerprint + ":" +
	// request path, so a caller's budget on one endpoint does not starve
	// its budget on another.
	KeyFunc func(r *http.Request) string
}

// DefaultConfig is the documented fallback limit.
func DefaultConfig() Config {
	return Config{Window: 15 * time.Minute, MaxRequests: 100}
}

// AuthConfig guards credential endpoints.
func AuthConfig() Config { return Config{Window: 15 * time.Minute, MaxRequests: 5} }

// APIConfig guards the general API surface.
func APIConfig() Config { return Config{Window: 15 * time.Minute, MaxRequests: 100} }

// AdminConfig guards administrative endpoints.
func AdminConfig() Config { return Config{Window: 15 * time.Minute, MaxRequests: 50} }

// UploadConfig guards file-upload endpoints.
func UploadConfig() Config { return Config{Window: time.Hour, MaxRequests: 10} }

// Limiter is the middleware composing fingerprinting, counter state and risk
// scoring into an accept/reject decision with standard response headers.
type Limiter struct {
	cfg   Config
	store Store
	log   *audit.Logger
}

// New constructs a Limiter. Zero config fields fall back to DefaultConfig.
func New(cfg Config, store Store, log *audit.Logger) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}
	if log == nil {
		return nil, errors.New("audit logger is required")
	}
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	return &Limiter{cfg: cfg, store: store, log: log}, nil
}

// Middleware returns the handler wrapper for this call site.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()
			fp := fingerprint.Client(r)

			key := fp + ":" + r.URL.Path
			if l.cfg.KeyFunc != nil {
				key = l.cfg.KeyFunc(r)
			}

			counter, err := l.store.Increment(ctx, key, l.cfg.Window)
			if err != nil {
				// Fail open: a broken counter store must degrade limiting,
				// not availability. The failure is still audited.
				obs.RateLimitDecision("error")
				l.audit(ctx, r, auditInput{
					outcome: "error", reason: "system_error",
					fp: fp, start: start,
					meta: map[string]string{"error": err.Error()},
				})
				next.ServeHTTP(w, r)
				return
			}

			remaining := l.cfg.MaxRequests - counter.Count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.MaxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(counter.ResetAt.Unix(), 10))

			if counter.Count <= l.cfg.MaxRequests {
				obs.RateLimitDecision("allowed")
				next.ServeHTTP(w, r)
				return
			}

			_, authenticated := authz.IdentityFromContext(ctx)
			score, indicators := Score(Signal{
				UserAgent:     r.Header.Get("User-Agent"),
				Path:          r.URL.Path,
				Authenticated: authenticated,
				Count:         counter.Count,
				MaxRequests:   l.cfg.MaxRequests,
				SinceLast:     sinceLast(counter, start),
			})

			retryAfter := int(math.Ceil(time.Until(counter.ResetAt).Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}

			obs.RateLimitDecision("rejected")
			l.audit(ctx, r, auditInput{
				outcome: "rejected", reason: "rate_limit_exceeded",
				fp: fp, start: start,
				score: &score, indicators: indicators,
				meta: map[string]string{
					"key":         key,
					"count":       strconv.Itoa(counter.Count),
					"max":         strconv.Itoa(l.cfg.MaxRequests),
					"retry_after": strconv.Itoa(retryAfter),
				},
			})

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message":    "rate limit exceeded",
				"code":       CodeRateLimitExceeded,
				"retryAfter": retryAfter,
			})
		})
	}
}

type auditInput struct {
	outcome    string
	reason     string
	fp         string
	start      time.Time
	score      *int
	indicators []string
	meta       map[string]string
}

// audit writes the decision record before the response is finalized, so a
// rejected caller is never unrecorded.
func (l *Limiter) audit(ctx context.Context, r *http.Request, in auditInput) {
	actorID := ""
	if identity, ok := authz.IdentityFromContext(ctx); ok {
		actorID = identity.UserID
	}
	tenantID := ""
	if id, ok := authz.TenantFromContext(ctx); ok {
		tenantID = id
	}
	l.log.Log(ctx, audit.Event{
		TenantID:          tenantID,
		ActorID:           actorID,
		EntityType:        audit.EntityRateLimitViolation,
		Outcome:           in.outcome,
		Reason:            in.reason,
		RequestPath:       r.URL.Path,
		RequestMethod:     r.Method,
		ClientFingerprint: in.fp,
		DurationMs:        time.Since(in.start).Milliseconds(),
		RiskScore:         in.score,
		AnomalyIndicators: in.indicators,
		Metadata:          in.meta,
	})
}

func sinceLast(counter Counter, now time.Time) time.Duration {
	if counter.Last.IsZero() {
		return 0
	}
	return now.Sub(counter.Last)
}
