// Package security implements the gate that runs before every mode handler:
// CORS preflight, geo-blocking, rate limiting, the administrative purge
// channel, and a lightweight pattern-based attack filter.
package security

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/shieldedge/shield/internal/config"
	"github.com/shieldedge/shield/internal/edgecache"
	"github.com/shieldedge/shield/internal/kv"
	"github.com/shieldedge/shield/internal/metrics"
	"github.com/shieldedge/shield/internal/observability"
	"github.com/shieldedge/shield/internal/task"
)

// Administrative control channel headers.
const (
	CommandHeader  = "X-Shield-Command"
	SecretHeader   = "X-Shield-Secret"
	CommandPurge   = "purge-cache"
	countryHeader  = "CF-IPCountry"
	countryHeader2 = "X-Client-Country"
)

// rateLimitWindow is the expiry on per-(client, IP) counters; counters reset
// implicitly when the window elapses.
const rateLimitWindow = 60 * time.Second

// Gate evaluates the security rules in order; the first denial wins.
type Gate struct {
	store  kv.Store
	cache  *edgecache.Cache
	logger *observability.Logger
}

// New creates a gate. cache may be nil when no edge cache binding exists; the
// purge channel then reports 500 per the control-channel contract.
func New(store kv.Store, cache *edgecache.Cache, logger *observability.Logger) *Gate {
	return &Gate{store: store, cache: cache, logger: logger}
}

// Check runs the gate. It returns true when the request may proceed to mode
// dispatch; otherwise it has already written a terminal response. The gate
// never mutates the request for downstream handlers.
func (g *Gate) Check(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig, clientID string, tasks *task.Set) bool {
	if g.handleCORSPreflight(w, r, cfg) {
		return false
	}
	if g.handleGeoBlock(w, r, cfg) {
		return false
	}
	if g.handleRateLimit(w, r, cfg, clientID, tasks) {
		return false
	}
	if g.handlePurge(w, r, cfg) {
		return false
	}
	if g.handlePatternFilter(w, r) {
		return false
	}
	return true
}

// corsModes are the modes that receive canned preflight responses.
var corsModes = map[config.Mode]bool{
	config.ModeAPI:         true,
	config.ModeSaaS:        true,
	config.ModeAIInference: true,
}

func (g *Gate) handleCORSPreflight(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig) bool {
	if r.Method != http.MethodOptions {
		return false
	}
	if !corsModes[cfg.Mode] && !isAPIPath(r.URL.Path) {
		return false
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
	h.Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
	return true
}

func (g *Gate) handleGeoBlock(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig) bool {
	if len(cfg.BlockedCountries) == 0 {
		return false
	}

	country := r.Header.Get(countryHeader)
	if country == "" {
		country = r.Header.Get(countryHeader2)
	}
	if country == "" || !cfg.IsBlockedCountry(country) {
		return false
	}

	metrics.GateDenials.WithLabelValues("geo").Inc()
	writeDenial(w, http.StatusUnavailableForLegalReasons, "access from your region is not available")
	return true
}

func (g *Gate) handleRateLimit(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig, clientID string, tasks *task.Set) bool {
	if !cfg.RateLimitEnabled || cfg.RateLimitThreshold <= 0 {
		return false
	}

	ip := clientIP(r)
	key := "ratelimit:" + clientID + ":" + ip

	count, err := g.readCounter(r.Context(), key)
	if err != nil {
		// Counter-read failure is non-fatal: fail open.
		g.logger.Warn("rate limit read failed, failing open", "error", err)
		return false
	}

	if count >= cfg.RateLimitThreshold {
		metrics.GateDenials.WithLabelValues("rate_limit").Inc()
		w.Header().Set("Retry-After", "60")
		writeDenial(w, http.StatusTooManyRequests, "rate limit exceeded")
		return true
	}

	tasks.Schedule("rate-limit-increment", func(ctx context.Context) error {
		_, err := g.store.Increment(ctx, key, 1, rateLimitWindow)
		return err
	})
	return false
}

func (g *Gate) readCounter(ctx context.Context, key string) (int64, error) {
	data, err := g.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (g *Gate) handlePurge(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig) bool {
	if r.Header.Get(CommandHeader) != CommandPurge {
		return false
	}

	if cfg.PurgeSecret == "" || r.Header.Get(SecretHeader) != cfg.PurgeSecret {
		metrics.GateDenials.WithLabelValues("purge_auth").Inc()
		writeDenial(w, http.StatusForbidden, "invalid purge secret")
		return true
	}

	if g.cache == nil {
		writeDenial(w, http.StatusInternalServerError, "cache purge is not available")
		return true
	}

	if err := g.cache.Delete(r.Context(), edgecache.Key(r)); err != nil {
		g.logger.Warn("cache purge failed", "error", err)
		writeDenial(w, http.StatusInternalServerError, "cache purge failed")
		return true
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"purged": r.URL.String(),
	})
	return true
}

func (g *Gate) handlePatternFilter(w http.ResponseWriter, r *http.Request) bool {
	if !MatchesAttackPattern(r.URL.Path, r.URL.RawQuery) {
		return false
	}

	metrics.GateDenials.WithLabelValues("pattern").Inc()
	writeDenial(w, http.StatusForbidden, "request blocked")
	return true
}

// clientIP resolves the source IP, preferring the first forwarded address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeDenial(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// isAPIPath reports whether a path is API-shaped.
func isAPIPath(path string) bool {
	return path == "/api" || path == "/graphql" ||
		strings.HasPrefix(path, "/api/") ||
		strings.HasPrefix(path, "/v1/") ||
		strings.HasPrefix(path, "/graphql/")
}
