package config

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/shieldedge/shield/internal/kv"
	"github.com/shieldedge/shield/internal/observability"
)

// Mode selects the request-handling pipeline for a client.
type Mode string

const (
	ModeStandard         Mode = "STANDARD"
	ModeSaaS             Mode = "SAAS"
	ModeAPI              Mode = "API"
	ModeRealtime         Mode = "REALTIME"
	ModeEcommerce        Mode = "ECOMMERCE"
	ModeIoT              Mode = "IOT"
	ModeNews             Mode = "NEWS"
	ModeStorageMigration Mode = "STORAGE_MIGRATION"
	ModeAIInference      Mode = "AI_INFERENCE"
)

// ParseMode maps a stored mode string onto the enum. Unrecognized values fall
// back to STANDARD so a typo in stored config degrades to plain web handling.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeStandard, ModeSaaS, ModeAPI, ModeRealtime,
		ModeEcommerce, ModeIoT, ModeNews, ModeStorageMigration,
		ModeAIInference:
		return Mode(s)
	}
	return ModeStandard
}

// ClientConfig is the per-tenant configuration resolved on every request.
// It is replaced wholesale on reload, never partially mutated.
type ClientConfig struct {
	// ID is the resolved client identifier; set by the Loader, not stored.
	ID string `json:"-"`

	Mode                   Mode     `json:"mode"`
	CacheTTL               int      `json:"cache_ttl"` // seconds
	RateLimitEnabled       bool     `json:"rate_limit_enabled"`
	RateLimitThreshold     int64    `json:"rate_limit_threshold"`
	BlockedCountries       []string `json:"blocked_countries"`
	PurgeSecret            string   `json:"purge_secret"`
	AIGatewayID            string   `json:"ai_gateway_id"`
	AICacheTTL             int      `json:"ai_cache_ttl"` // seconds
	SemanticCacheEnabled   bool     `json:"semantic_cache_enabled"`
	SemanticCacheThreshold float64  `json:"semantic_cache_threshold"`
	EmbeddingProvider      string   `json:"embedding_provider"`
	EmbeddingModel         string   `json:"embedding_model"`
	Plan                   string   `json:"cloudflare_plan"`
}

// DefaultClientConfig is used when the store is unreachable or the key absent.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Mode:                   ModeStandard,
		CacheTTL:               3600,
		SemanticCacheThreshold: 0.92,
	}
}

// IsBlockedCountry reports whether a resolved country code is in the block set.
func (c *ClientConfig) IsBlockedCountry(country string) bool {
	for _, blocked := range c.BlockedCountries {
		if blocked == country {
			return true
		}
	}
	return false
}

// clientConfigTTL is how long a resolved ClientConfig may be served from the
// warm-instance cache before the store is consulted again.
const clientConfigTTL = 60 * time.Second

// Loader resolves ClientConfig from the key-value store with a process-local
// TTL cache in front. Readers tolerate staleness up to the TTL.
type Loader struct {
	store  kv.Store
	cache  *gocache.Cache
	logger *observability.Logger
}

// NewLoader creates a loader with the standard 60-second cache TTL.
func NewLoader(store kv.Store, logger *observability.Logger) *Loader {
	return NewLoaderTTL(store, logger, clientConfigTTL)
}

// NewLoaderTTL creates a loader with an explicit cache TTL. Tests use short
// TTLs to force reloads deterministically.
func NewLoaderTTL(store kv.Store, logger *observability.Logger, ttl time.Duration) *Loader {
	return &Loader{
		store:  store,
		cache:  gocache.New(ttl, 2*ttl),
		logger: logger,
	}
}

// ClientConfigKey is the KV key holding a client's configuration.
func ClientConfigKey(clientID string) string {
	return "client:" + clientID + ":config"
}

// Load resolves the configuration for a client. It never fails: store errors
// and absent keys yield the documented defaults.
func (l *Loader) Load(ctx context.Context, clientID string) *ClientConfig {
	if cached, found := l.cache.Get(clientID); found {
		if cfg, ok := cached.(*ClientConfig); ok {
			return cfg
		}
	}

	cfg := DefaultClientConfig()
	cfg.ID = clientID
	found, err := kv.GetJSON(ctx, l.store, ClientConfigKey(clientID), cfg)
	if err != nil {
		l.logger.Warn("client config load failed, using defaults",
			"client_id", clientID, "error", err)
		fallback := DefaultClientConfig()
		fallback.ID = clientID
		return fallback
	}
	if !found {
		l.cache.Set(clientID, cfg, gocache.DefaultExpiration)
		return cfg
	}

	cfg.Mode = ParseMode(string(cfg.Mode))
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 3600
	}
	if cfg.SemanticCacheThreshold <= 0 || cfg.SemanticCacheThreshold > 1 {
		cfg.SemanticCacheThreshold = 0.92
	}

	l.cache.Set(clientID, cfg, gocache.DefaultExpiration)
	return cfg
}

// Invalidate drops a client's cached config, forcing the next Load to hit the store.
func (l *Loader) Invalidate(clientID string) {
	l.cache.Delete(clientID)
}
