// Package mirror implements cache-aside mirroring of static assets into the
// object storage bucket. Matching requests are served from the bucket when
// present; on a bucket miss the origin response is served and, when eligible,
// copied into the bucket in the background so traffic populates the mirror
// lazily.
package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shieldedge/shield/internal/config"
	"github.com/shieldedge/shield/internal/edgecache"
	"github.com/shieldedge/shield/internal/metrics"
	"github.com/shieldedge/shield/internal/objstore"
	"github.com/shieldedge/shield/internal/observability"
	"github.com/shieldedge/shield/internal/origin"
	"github.com/shieldedge/shield/internal/task"
)

// StorageTagHeader carries the storage outcome tag on mirror responses.
const StorageTagHeader = "X-Shield-Storage"

// maxMirrorBody caps how large an origin response may be and still be copied
// into the bucket.
const maxMirrorBody = 100 << 20

// immutableCacheControl is served with bucket hits; mirrored assets are
// addressed by path and treated as immutable.
const immutableCacheControl = "public, max-age=31536000, immutable"

// ObjectStore is the slice of the bucket client the engine needs. A missing
// key returns (nil, nil).
type ObjectStore interface {
	Get(ctx context.Context, key string) (*objstore.Object, error)
	Put(ctx context.Context, key string, obj objstore.Object) error
}

// OriginFetcher is the slice of the origin client the engine needs.
type OriginFetcher interface {
	Fetch(ctx context.Context, r *http.Request, hints origin.Hints) (*http.Response, error)
}

// Fallback handles requests the mirror engine declines.
type Fallback interface {
	Handle(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig, tasks *task.Set)
}

// Engine is the storage mirror engine.
type Engine struct {
	bucket   ObjectStore
	cache    *edgecache.Cache
	origin   OriginFetcher
	fallback Fallback
	logger   *observability.Logger
	maxBody  int
}

// New creates a mirror engine. A nil bucket is allowed; every request then
// fails open to the fallback.
func New(bucket ObjectStore, cache *edgecache.Cache, originClient OriginFetcher, fallback Fallback, logger *observability.Logger) *Engine {
	return &Engine{
		bucket:   bucket,
		cache:    cache,
		origin:   originClient,
		fallback: fallback,
		logger:   logger,
		maxBody:  maxMirrorBody,
	}
}

// Handle serves a request in a mirror-enabled mode. Non-asset paths, non-GET
// methods, and a missing bucket binding fall through to the web cache engine.
func (e *Engine) Handle(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig, tasks *task.Set) {
	if r.Method != http.MethodGet || !IsStaticAsset(r.URL.Path) || e.bucket == nil {
		e.fallback.Handle(w, r, cfg, tasks)
		return
	}

	key, ok := storageKey(r.URL)
	if !ok {
		metrics.GateDenials.WithLabelValues("path-traversal").Inc()
		http.Error(w, "invalid asset path", http.StatusBadRequest)
		return
	}

	if e.cache != nil {
		entry, err := e.cache.Match(r.Context(), edgecache.Key(r))
		if err != nil {
			e.logger.Warn("edge cache match failed", "key", key, "error", err)
		} else if entry != nil {
			e.serveCached(w, entry)
			return
		}
	}

	obj, err := e.bucket.Get(r.Context(), key)
	if err != nil {
		// Treat a storage failure as a miss; the origin still serves.
		e.logger.Warn("bucket get failed", "key", key, "error", err)
		obj = nil
	}

	if obj != nil {
		e.serveObject(w, r, cfg, key, obj, tasks)
		return
	}
	e.serveMiss(w, r, cfg, key, tasks)
}

// storageKey derives the bucket key from the request path. It rejects any
// path whose decoded form contains a parent-directory or doubled-slash
// segment.
func storageKey(u *url.URL) (string, bool) {
	decoded, err := url.PathUnescape(u.EscapedPath())
	if err != nil {
		return "", false
	}
	if strings.Contains(decoded, "..") || strings.Contains(decoded, "//") {
		return "", false
	}
	return strings.TrimPrefix(decoded, "/"), true
}

// serveCached serves a previously filled edge cache entry, skipping the
// bucket round trip entirely.
func (e *Engine) serveCached(w http.ResponseWriter, entry *edgecache.Entry) {
	copyHeader(w.Header(), entry.Header)
	w.Header().Set(StorageTagHeader, edgecache.TagR2Hit)
	metrics.CacheResults.WithLabelValues(edgecache.TagR2Hit).Inc()
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)
}

func (e *Engine) serveObject(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig, key string, obj *objstore.Object, tasks *task.Set) {
	contentType := obj.ContentType
	if contentType == "" {
		contentType = mimeForPath(r.URL.Path)
	}

	header := w.Header()
	header.Set("Content-Type", contentType)
	if obj.ContentEncoding != "" {
		header.Set("Content-Encoding", obj.ContentEncoding)
	}
	header.Set("Content-Length", strconv.Itoa(len(obj.Body)))
	header.Set("Cache-Control", immutableCacheControl)
	header.Set(StorageTagHeader, edgecache.TagR2Hit)
	metrics.CacheResults.WithLabelValues(edgecache.TagR2Hit).Inc()

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(obj.Body); err != nil {
		e.logger.Warn("mirror hit write failed", "key", key, "error", err)
		return
	}

	if e.cache == nil {
		return
	}

	// Fill the shared edge cache so nearby requests skip the bucket round trip.
	cacheKey := edgecache.Key(r)
	entryHeader := http.Header{}
	entryHeader.Set("Content-Type", contentType)
	if obj.ContentEncoding != "" {
		entryHeader.Set("Content-Encoding", obj.ContentEncoding)
	}
	entryHeader.Set("Cache-Control", immutableCacheControl)

	body := obj.Body
	ttl := time.Duration(cfg.CacheTTL) * time.Second
	tasks.Schedule("edge-cache-fill", func(ctx context.Context) error {
		return e.cache.Store(ctx, cacheKey, http.StatusOK, entryHeader, body, ttl)
	})
}

func (e *Engine) serveMiss(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig, key string, tasks *task.Set) {
	resp, err := e.origin.Fetch(r.Context(), r, origin.Hints{})
	if err != nil {
		e.logger.Error("origin fetch failed", "path", r.URL.Path, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":"origin unreachable"}`)
		return
	}
	defer resp.Body.Close()

	// Oversized responses are streamed through and never mirrored.
	if resp.ContentLength > int64(e.maxBody) {
		copyHeader(w.Header(), resp.Header)
		w.Header().Set(StorageTagHeader, edgecache.TagR2Miss)
		metrics.CacheResults.WithLabelValues(edgecache.TagR2Miss).Inc()
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(e.maxBody)+1))
	if err != nil {
		e.logger.Error("origin read failed", "path", r.URL.Path, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":"origin read failed"}`)
		return
	}

	copyHeader(w.Header(), resp.Header)
	w.Header().Set(StorageTagHeader, edgecache.TagR2Miss)
	metrics.CacheResults.WithLabelValues(edgecache.TagR2Miss).Inc()
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)

	// A chunked response may overflow the buffer even though no length was
	// declared. Stream the remainder to the client and skip the mirror.
	if len(body) > e.maxBody {
		_, _ = io.Copy(w, resp.Body)
		return
	}

	if resp.StatusCode != http.StatusOK {
		return
	}

	obj := objstore.Object{
		Body:            body,
		ContentType:     resp.Header.Get("Content-Type"),
		ContentEncoding: resp.Header.Get("Content-Encoding"),
	}
	cacheControl := resp.Header.Get("Cache-Control")
	tasks.Schedule("mirror-write", func(ctx context.Context) error {
		if !e.mirrorable(obj, cacheControl) {
			metrics.MirrorWrites.WithLabelValues("ineligible").Inc()
			return nil
		}
		if err := e.bucket.Put(ctx, key, obj); err != nil {
			metrics.MirrorWrites.WithLabelValues("error").Inc()
			return fmt.Errorf("mirror write %q: %w", key, err)
		}
		metrics.MirrorWrites.WithLabelValues("stored").Inc()
		return nil
	})
}

// mirrorable applies the eligibility rules for a background mirror write.
func (e *Engine) mirrorable(obj objstore.Object, cacheControl string) bool {
	if len(obj.Body) == 0 || len(obj.Body) > e.maxBody {
		return false
	}
	if !isMirrorableType(obj.ContentType) {
		return false
	}
	cc := strings.ToLower(cacheControl)
	if strings.Contains(cc, "no-store") || strings.Contains(cc, "private") {
		return false
	}
	return true
}

func copyHeader(dst, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
