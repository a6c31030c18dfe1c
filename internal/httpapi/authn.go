package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"opsdeck.io/internal/authz"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
}

// withAuth attaches the caller identity to the request context when a valid
// bearer token is presented. A missing token is not rejected here: requests
// proceed unauthenticated so the permission layer records the denial.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := strings.TrimSpace(r.Header.Get(authHeader))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			writeError(w, http.StatusUnauthorized, authz.CodeAuthRequired, err.Error())
			return
		}

		claims, err := authz.ParseAndValidate(token)
		if err != nil {
			switch {
			case errors.Is(err, authz.ErrInvalidToken):
				writeError(w, http.StatusUnauthorized, authz.CodeAuthRequired, "invalid token")
			default:
				writeError(w, http.StatusInternalServerError, authz.CodeInternalError, "authentication error")
			}
			return
		}

		ctx := authz.ContextWithIdentity(r.Context(), authz.Identity{UserID: claims.Subject})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
