// Gateway authentication: a static bearer token.
//
// Requests other than the health check must carry one of
//
//	Authorization: Bearer <api_key>
//	X-API-Key: <api_key>
//
// WebSocket upgrades, which cannot set headers from a browser, may pass it
// as ?token=<api_key>. An empty key disables the check.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/wndlink/wndlink/pkg/logger"
)

// authMiddleware wraps a handler with bearer token checking.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		logger.WarnC("auth", "API auth disabled, no key configured")
		return next
	}

	logger.InfoC("auth", "API bearer token auth enabled")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if !tokenValid(extractToken(r), apiKey) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="wndlink"`)
			writeError(w, http.StatusUnauthorized, "unauthorized: bearer token required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractToken pulls the token from the Authorization header, the
// X-API-Key header, or the token query parameter, in that order.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return r.URL.Query().Get("token")
}

// tokenValid compares in constant time.
func tokenValid(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

func isPublicPath(path string) bool {
	return path == "/api/health"
}
