// Package webcache implements the cache decision engine for standard web
// traffic: authentication inference, per-mode cache eligibility, and
// stale-while-revalidate serving.
package webcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/shieldedge/shield/internal/config"
	"github.com/shieldedge/shield/internal/edgecache"
	"github.com/shieldedge/shield/internal/metrics"
	"github.com/shieldedge/shield/internal/observability"
	"github.com/shieldedge/shield/internal/origin"
	"github.com/shieldedge/shield/internal/task"
)

// CacheTagHeader carries the cache decision tag on every web response.
const CacheTagHeader = "X-Shield-Cache"

// maxCacheableBody caps how much of an origin response is buffered for
// storage; larger responses are streamed through uncached.
const maxCacheableBody = 10 << 20

// AggressiveModes cache unless the request is authenticated and may override
// an origin no-store directive. The override is a deliberate, configuration
// gated business choice for these modes, not an oversight.
var AggressiveModes = map[config.Mode]bool{
	config.ModeEcommerce: true,
	config.ModeNews:      true,
}

// OriginFetcher is the slice of the origin client the engine needs.
type OriginFetcher interface {
	Fetch(ctx context.Context, r *http.Request, hints origin.Hints) (*http.Response, error)
}

// Engine is the web traffic mode handler.
type Engine struct {
	cache  *edgecache.Cache
	origin OriginFetcher
	logger *observability.Logger
}

// New creates the engine. cache may be nil, in which case every request is a bypass.
func New(cache *edgecache.Cache, originClient OriginFetcher, logger *observability.Logger) *Engine {
	return &Engine{cache: cache, origin: originClient, logger: logger}
}

// Handle serves a web request according to the cache policy.
func (e *Engine) Handle(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig, tasks *task.Set) {
	if e.cache == nil || !Cacheable(r, cfg) {
		e.passthrough(w, r, cfg)
		return
	}

	key := edgecache.Key(r)
	now := e.cache.Now()

	entry, err := e.cache.Match(r.Context(), key)
	if err != nil {
		e.logger.Warn("edge cache match failed, bypassing", "error", err)
		entry = nil
	}

	if entry != nil {
		if entry.IsFresh(now) {
			e.serveEntry(w, entry, edgecache.TagHit, now)
			return
		}
		// Stale: serve immediately, refresh in the background.
		e.serveEntry(w, entry, edgecache.TagSWR, now)
		tasks.Schedule("swr-refresh", func(ctx context.Context) error {
			return e.refresh(ctx, r.Clone(ctx), cfg, key)
		})
		return
	}

	e.serveMiss(w, r, cfg, tasks, key)
}

// passthrough forwards to the origin without any cache interaction.
func (e *Engine) passthrough(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig) {
	resp, err := e.origin.Fetch(r.Context(), r, e.hints(r, cfg))
	if err != nil {
		e.writeOriginError(w, err)
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.Header().Set(CacheTagHeader, edgecache.TagBypass)
	metrics.CacheResults.WithLabelValues(edgecache.TagBypass).Inc()
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// serveMiss fetches the origin and schedules an asynchronous store when the
// response qualifies.
func (e *Engine) serveMiss(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig, tasks *task.Set, key string) {
	resp, err := e.origin.Fetch(r.Context(), r, e.hints(r, cfg))
	if err != nil {
		e.writeOriginError(w, err)
		return
	}
	defer resp.Body.Close()

	if resp.ContentLength > maxCacheableBody {
		copyHeader(w.Header(), resp.Header)
		w.Header().Set(CacheTagHeader, edgecache.TagBypass)
		metrics.CacheResults.WithLabelValues(edgecache.TagBypass).Inc()
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCacheableBody+1))
	if err != nil {
		e.writeOriginError(w, err)
		return
	}

	// Chunked responses carry no length up front. When the buffer overflows
	// the cap, relay the buffered prefix and stream the remainder untouched.
	if len(body) > maxCacheableBody {
		copyHeader(w.Header(), resp.Header)
		w.Header().Set(CacheTagHeader, edgecache.TagBypass)
		metrics.CacheResults.WithLabelValues(edgecache.TagBypass).Inc()
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(body)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	storeable := resp.StatusCode == http.StatusOK &&
		(!originForbidsStore(resp.Header) || AggressiveModes[cfg.Mode])

	tag := edgecache.TagBypass
	if storeable {
		tag = edgecache.TagMiss
		status := resp.StatusCode
		header := resp.Header.Clone()
		ttl := time.Duration(cfg.CacheTTL) * time.Second
		tasks.Schedule("cache-store", func(ctx context.Context) error {
			return e.cache.Store(ctx, key, status, header, body, ttl)
		})
	}

	copyHeader(w.Header(), resp.Header)
	w.Header().Set(CacheTagHeader, tag)
	metrics.CacheResults.WithLabelValues(tag).Inc()
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// refresh re-fetches the origin and re-stores the entry. Runs as a deferred task.
func (e *Engine) refresh(ctx context.Context, r *http.Request, cfg *config.ClientConfig, key string) error {
	resp, err := e.origin.Fetch(ctx, r, e.hints(r, cfg))
	if err != nil {
		return fmt.Errorf("swr refresh fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}
	if originForbidsStore(resp.Header) && !AggressiveModes[cfg.Mode] {
		return e.cache.Delete(ctx, key)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCacheableBody+1))
	if err != nil {
		return fmt.Errorf("swr refresh read: %w", err)
	}
	if len(body) > maxCacheableBody {
		return nil
	}

	ttl := time.Duration(cfg.CacheTTL) * time.Second
	return e.cache.Store(ctx, key, resp.StatusCode, resp.Header, body, ttl)
}

func (e *Engine) serveEntry(w http.ResponseWriter, entry *edgecache.Entry, tag string, now time.Time) {
	copyHeader(w.Header(), entry.Header)
	w.Header().Set(CacheTagHeader, tag)
	w.Header().Set("Age", strconv.FormatInt(int64(entry.Age(now).Seconds()), 10))
	metrics.CacheResults.WithLabelValues(tag).Inc()
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)
}

func (e *Engine) writeOriginError(w http.ResponseWriter, err error) {
	e.logger.Warn("origin fetch failed", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "origin unreachable"})
}

// hints asks the delivery tier for minification and image optimization on
// qualifying plans. API and realtime traffic is never rewritten.
func (e *Engine) hints(r *http.Request, cfg *config.ClientConfig) origin.Hints {
	switch cfg.Plan {
	case "pro", "business", "enterprise":
	default:
		return origin.Hints{}
	}
	if cfg.Mode == config.ModeAPI || cfg.Mode == config.ModeRealtime {
		return origin.Hints{}
	}
	return origin.Hints{Minify: true, OptimizeImages: r.Method == http.MethodGet}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func originForbidsStore(h http.Header) bool {
	cc := strings.ToLower(h.Get("Cache-Control"))
	return strings.Contains(cc, "no-store") || strings.Contains(cc, "private")
}
