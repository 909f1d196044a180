package config

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldedge/shield/internal/kv"
	"github.com/shieldedge/shield/internal/observability"
)

func newLoaderWithStore(t *testing.T) (*Loader, kv.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := kv.NewRedisStoreFromClient(client, "", time.Hour)
	t.Cleanup(func() { _ = store.Close() })

	loader := NewLoaderTTL(store, observability.NewNopLogger(), 50*time.Millisecond)
	return loader, store, mr
}

func TestLoadDefaultsOnAbsentKey(t *testing.T) {
	loader, _, _ := newLoaderWithStore(t)

	cfg := loader.Load(context.Background(), "acme")
	assert.Equal(t, "acme", cfg.ID)
	assert.Equal(t, ModeStandard, cfg.Mode)
	assert.Equal(t, 3600, cfg.CacheTTL)
	assert.InDelta(t, 0.92, cfg.SemanticCacheThreshold, 0.001)
}

func TestLoadFromStore(t *testing.T) {
	loader, store, _ := newLoaderWithStore(t)
	ctx := context.Background()

	stored := &ClientConfig{
		Mode:               ModeEcommerce,
		CacheTTL:           600,
		RateLimitEnabled:   true,
		RateLimitThreshold: 100,
		BlockedCountries:   []string{"XX"},
	}
	require.NoError(t, kv.SetJSON(ctx, store, ClientConfigKey("acme"), stored, time.Hour))

	cfg := loader.Load(ctx, "acme")
	assert.Equal(t, "acme", cfg.ID)
	assert.Equal(t, ModeEcommerce, cfg.Mode)
	assert.Equal(t, 600, cfg.CacheTTL)
	assert.True(t, cfg.RateLimitEnabled)
	assert.True(t, cfg.IsBlockedCountry("XX"))
	assert.False(t, cfg.IsBlockedCountry("US"))
	// Absent threshold falls back to the default.
	assert.InDelta(t, 0.92, cfg.SemanticCacheThreshold, 0.001)
}

func TestLoadCachesUntilTTL(t *testing.T) {
	loader, store, _ := newLoaderWithStore(t)
	ctx := context.Background()

	require.NoError(t, kv.SetJSON(ctx, store, ClientConfigKey("acme"),
		&ClientConfig{Mode: ModeNews, CacheTTL: 60}, time.Hour))
	cfg := loader.Load(ctx, "acme")
	assert.Equal(t, ModeNews, cfg.Mode)

	// A store update is not visible until the cache TTL elapses.
	require.NoError(t, kv.SetJSON(ctx, store, ClientConfigKey("acme"),
		&ClientConfig{Mode: ModeAPI, CacheTTL: 60}, time.Hour))
	cfg = loader.Load(ctx, "acme")
	assert.Equal(t, ModeNews, cfg.Mode)

	time.Sleep(80 * time.Millisecond)
	cfg = loader.Load(ctx, "acme")
	assert.Equal(t, ModeAPI, cfg.Mode)
}

func TestInvalidateForcesReload(t *testing.T) {
	loader, store, _ := newLoaderWithStore(t)
	ctx := context.Background()

	require.NoError(t, kv.SetJSON(ctx, store, ClientConfigKey("acme"),
		&ClientConfig{Mode: ModeNews, CacheTTL: 60}, time.Hour))
	_ = loader.Load(ctx, "acme")

	require.NoError(t, kv.SetJSON(ctx, store, ClientConfigKey("acme"),
		&ClientConfig{Mode: ModeAPI, CacheTTL: 60}, time.Hour))
	loader.Invalidate("acme")

	cfg := loader.Load(ctx, "acme")
	assert.Equal(t, ModeAPI, cfg.Mode)
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeAIInference, ParseMode("AI_INFERENCE"))
	assert.Equal(t, ModeStorageMigration, ParseMode("STORAGE_MIGRATION"))
	assert.Equal(t, ModeStandard, ParseMode("TYPO_MODE"))
	assert.Equal(t, ModeStandard, ParseMode(""))
}

func TestLoadDefaultsWhenStoreUnreachable(t *testing.T) {
	loader, store, mr := newLoaderWithStore(t)
	_ = store
	mr.Close()

	cfg := loader.Load(context.Background(), "acme")
	assert.Equal(t, ModeStandard, cfg.Mode)
	assert.Equal(t, 3600, cfg.CacheTTL)
}
