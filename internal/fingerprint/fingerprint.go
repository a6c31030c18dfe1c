// Package fingerprint derives a coarse client identifier from connection and
// header metadata. The identifier groups likely-same-client traffic for rate
// limiting and audit correlation; it makes no claim of cryptographic identity.
package fingerprint

import (
	"encoding/base64"
	"net"
	"net/http"
	"strings"
)

// maxLen bounds the encoded fingerprint so it stays usable as a map and
// storage key regardless of header sizes.
const maxLen = 48

// Client returns the fingerprint for a request: connection address plus
// User-Agent, Accept-Language and Accept-Encoding, encoded and truncated.
func Client(r *http.Request) string {
	raw := strings.Join([]string{
		ClientIP(r),
		r.Header.Get("User-Agent"),
		r.Header.Get("Accept-Language"),
		r.Header.Get("Accept-Encoding"),
	}, "|")
	encoded := base64.RawURLEncoding.EncodeToString([]byte(raw))
	if len(encoded) > maxLen {
		return encoded[:maxLen]
	}
	return encoded
}

// ClientIP extracts the caller address, honoring the first hop of
// X-Forwarded-For before falling back to the socket address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}
