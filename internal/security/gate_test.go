package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldedge/shield/internal/config"
	"github.com/shieldedge/shield/internal/edgecache"
	"github.com/shieldedge/shield/internal/kv"
	"github.com/shieldedge/shield/internal/observability"
	"github.com/shieldedge/shield/internal/task"
)

func newTestGate(t *testing.T) (*Gate, kv.Store, *edgecache.Cache) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := kv.NewRedisStoreFromClient(client, "", time.Hour)
	t.Cleanup(func() { _ = store.Close() })

	cache := edgecache.New(store)
	return New(store, cache, observability.NewNopLogger()), store, cache
}

func runGate(g *Gate, r *http.Request, cfg *config.ClientConfig) (*httptest.ResponseRecorder, bool, *task.Set) {
	w := httptest.NewRecorder()
	tasks := task.NewSet(observability.NewNopLogger())
	ok := g.Check(w, r, cfg, "acme", tasks)
	return w, ok, tasks
}

func TestCORSPreflightForAPIMode(t *testing.T) {
	g, _, _ := newTestGate(t)

	r := httptest.NewRequest(http.MethodOptions, "https://example.com/anything", nil)
	w, ok, _ := runGate(g, r, &config.ClientConfig{Mode: config.ModeAPI})

	assert.False(t, ok)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORSPreflightForAPIShapedPath(t *testing.T) {
	g, _, _ := newTestGate(t)

	r := httptest.NewRequest(http.MethodOptions, "https://example.com/api/users", nil)
	w, ok, _ := runGate(g, r, &config.ClientConfig{Mode: config.ModeStandard})

	assert.False(t, ok)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestNonPreflightOptionsPasses(t *testing.T) {
	g, _, _ := newTestGate(t)

	r := httptest.NewRequest(http.MethodOptions, "https://example.com/page", nil)
	_, ok, _ := runGate(g, r, &config.ClientConfig{Mode: config.ModeStandard})
	assert.True(t, ok)
}

func TestGeoBlock(t *testing.T) {
	g, _, _ := newTestGate(t)
	cfg := &config.ClientConfig{Mode: config.ModeStandard, BlockedCountries: []string{"XX"}}

	r := httptest.NewRequest(http.MethodGet, "https://example.com/", nil)
	r.Header.Set("CF-IPCountry", "XX")
	w, ok, _ := runGate(g, r, cfg)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnavailableForLegalReasons, w.Code)

	r = httptest.NewRequest(http.MethodGet, "https://example.com/", nil)
	r.Header.Set("CF-IPCountry", "US")
	_, ok, _ = runGate(g, r, cfg)
	assert.True(t, ok)
}

func TestRateLimitBelowThresholdSchedulesIncrement(t *testing.T) {
	g, store, _ := newTestGate(t)
	cfg := &config.ClientConfig{Mode: config.ModeStandard, RateLimitEnabled: true, RateLimitThreshold: 100}

	r := httptest.NewRequest(http.MethodGet, "https://example.com/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	_, ok, tasks := runGate(g, r, cfg)

	assert.True(t, ok)
	assert.Equal(t, 1, tasks.Len())

	tasks.Drain(context.Background())
	data, err := store.Get(context.Background(), "ratelimit:acme:203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))
}

func TestRateLimitAtThresholdDenies(t *testing.T) {
	g, store, _ := newTestGate(t)
	cfg := &config.ClientConfig{Mode: config.ModeStandard, RateLimitEnabled: true, RateLimitThreshold: 100}
	ctx := context.Background()

	// Simulate 100 prior requests in the window.
	_, err := store.Increment(ctx, "ratelimit:acme:203.0.113.9", 100, time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "https://example.com/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	w, ok, _ := runGate(g, r, cfg)

	assert.False(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestRateLimitFailsOpenOnStoreError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := kv.NewRedisStoreFromClient(client, "", time.Hour)
	g := New(store, edgecache.New(store), observability.NewNopLogger())
	mr.Close()

	cfg := &config.ClientConfig{Mode: config.ModeStandard, RateLimitEnabled: true, RateLimitThreshold: 1}
	r := httptest.NewRequest(http.MethodGet, "https://example.com/", nil)
	_, ok, _ := runGate(g, r, cfg)
	assert.True(t, ok)
}

func TestPurgeWithValidSecret(t *testing.T) {
	g, _, cache := newTestGate(t)
	cfg := &config.ClientConfig{Mode: config.ModeStandard, PurgeSecret: "s3cret"}
	ctx := context.Background()

	r := httptest.NewRequest(http.MethodGet, "https://example.com/page", nil)
	require.NoError(t, cache.Store(ctx, edgecache.Key(r), http.StatusOK, nil, []byte("body"), time.Hour))

	r.Header.Set(CommandHeader, CommandPurge)
	r.Header.Set(SecretHeader, "s3cret")
	w, ok, _ := runGate(g, r, cfg)

	assert.False(t, ok)
	assert.Equal(t, http.StatusOK, w.Code)

	entry, err := cache.Match(ctx, edgecache.Key(r))
	require.NoError(t, err)
	assert.Nil(t, entry)

	// Purges are idempotent: repeating with a valid token still returns 200.
	w, ok, _ = runGate(g, r, cfg)
	assert.False(t, ok)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPurgeWithInvalidSecret(t *testing.T) {
	g, _, _ := newTestGate(t)
	cfg := &config.ClientConfig{Mode: config.ModeStandard, PurgeSecret: "s3cret"}

	r := httptest.NewRequest(http.MethodGet, "https://example.com/page", nil)
	r.Header.Set(CommandHeader, CommandPurge)
	r.Header.Set(SecretHeader, "wrong")
	w, ok, _ := runGate(g, r, cfg)

	assert.False(t, ok)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Invalid token always returns 403 regardless of prior state.
	w, _, _ = runGate(g, r, cfg)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPurgeWithoutCacheBinding(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := kv.NewRedisStoreFromClient(client, "", time.Hour)
	g := New(store, nil, observability.NewNopLogger())

	cfg := &config.ClientConfig{Mode: config.ModeStandard, PurgeSecret: "s3cret"}
	r := httptest.NewRequest(http.MethodGet, "https://example.com/page", nil)
	r.Header.Set(CommandHeader, CommandPurge)
	r.Header.Set(SecretHeader, "s3cret")
	w, ok, _ := runGate(g, r, cfg)

	assert.False(t, ok)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPatternFilter(t *testing.T) {
	g, _, _ := newTestGate(t)
	cfg := &config.ClientConfig{Mode: config.ModeStandard}

	blocked := []string{
		"https://example.com/?q=%3Cscript%3Ealert(1)%3C/script%3E",
		"https://example.com/?id=1%20UNION%20SELECT%20*%20FROM%20users",
		"https://example.com/?id=1%27%20or%201%3D1",
		"https://example.com/files?path=..%2F..%2Fetc%2Fpasswd",
	}
	for _, target := range blocked {
		r := httptest.NewRequest(http.MethodGet, target, nil)
		w, ok, _ := runGate(g, r, cfg)
		assert.False(t, ok, "expected denial for %s", target)
		assert.Equal(t, http.StatusForbidden, w.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "https://example.com/products?q=select+color", nil)
	_, ok, _ := runGate(g, r, cfg)
	assert.True(t, ok)
}

func TestMatchesAttackPattern(t *testing.T) {
	assert.True(t, MatchesAttackPattern("/page", "q=<script src=x>"))
	assert.True(t, MatchesAttackPattern("/page", "id=1; drop table users"))
	assert.True(t, MatchesAttackPattern("/../secret", ""))
	assert.False(t, MatchesAttackPattern("/page", "q=hello world"))
	assert.False(t, MatchesAttackPattern("/scripts/app.js", ""))
}
