package edgecache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// relevantHeaders take part in the request identity because they change the
// representation the origin returns.
var relevantHeaders = []string{"Accept", "Accept-Encoding"}

// Key derives the normalized cache key for a request. The method is forced to
// GET so that purges and lookups for the same resource always agree, and the
// identity covers scheme, host, path, query, and the representation headers.
func Key(r *http.Request) string {
	var sb strings.Builder
	sb.WriteString(http.MethodGet)
	sb.WriteByte('\n')

	scheme := "https"
	if r.TLS == nil && r.URL.Scheme != "" {
		scheme = r.URL.Scheme
	}
	sb.WriteString(scheme)
	sb.WriteString("://")
	sb.WriteString(r.Host)
	sb.WriteString(r.URL.Path)
	if r.URL.RawQuery != "" {
		sb.WriteByte('?')
		sb.WriteString(r.URL.RawQuery)
	}

	for _, h := range relevantHeaders {
		sb.WriteByte('\n')
		sb.WriteString(h)
		sb.WriteByte(':')
		sb.WriteString(r.Header.Get(h))
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return "req:" + hex.EncodeToString(sum[:])
}
