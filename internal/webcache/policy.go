package webcache

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/shieldedge/shield/internal/config"
)

// cookieAuthPattern matches cookie names that indicate a logged-in or
// stateful session. This is a heuristic, not a verified identity check.
var cookieAuthPattern = regexp.MustCompile(`(?i)(^|;\s*)(session[\w-]*|sess_\w+|cart[\w-]*|auth[\w-]*|token|jwt|login[\w-]*)=`)

// authSchemePrefixes are recognized Authorization header schemes.
var authSchemePrefixes = []string{"Bearer ", "Basic ", "Digest "}

// IsAuthenticated infers whether the request belongs to an authenticated
// session from its cookie and authorization headers.
func IsAuthenticated(r *http.Request) bool {
	if cookie := r.Header.Get("Cookie"); cookie != "" && cookieAuthPattern.MatchString(cookie) {
		return true
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		for _, prefix := range authSchemePrefixes {
			if strings.HasPrefix(auth, prefix) {
				return true
			}
		}
	}
	return false
}

// excludedPathPrefixes are never cached regardless of mode: API-shaped and
// checkout-shaped paths.
var excludedPathPrefixes = []string{
	"/api/", "/v1/", "/graphql",
	"/checkout", "/cart", "/payment", "/account", "/login", "/logout", "/admin",
}

func isExcludedPath(path string) bool {
	for _, prefix := range excludedPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// cacheableMethods may be served from cache. The cache key normalizes the
// method to GET, so anything with non-GET response semantics must stay out.
var cacheableMethods = map[string]bool{
	http.MethodGet:  true,
	http.MethodHead: true,
}

// Cacheable applies the cacheability policy: only GET and HEAD; excluded
// paths never; aggressive modes cache unless authenticated; other modes cache
// only when unauthenticated and the request carries no explicit no-cache
// directive.
func Cacheable(r *http.Request, cfg *config.ClientConfig) bool {
	if !cacheableMethods[r.Method] {
		return false
	}
	if isExcludedPath(r.URL.Path) {
		return false
	}

	authenticated := IsAuthenticated(r)
	if AggressiveModes[cfg.Mode] {
		return !authenticated
	}
	return !authenticated && !requestForbidsCache(r)
}

func requestForbidsCache(r *http.Request) bool {
	cc := strings.ToLower(r.Header.Get("Cache-Control"))
	if strings.Contains(cc, "no-cache") || strings.Contains(cc, "no-store") {
		return true
	}
	return strings.EqualFold(r.Header.Get("Pragma"), "no-cache")
}
