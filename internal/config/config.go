// Package config holds the gateway's two configuration layers: the bootstrap
// server configuration loaded from YAML, and the per-client ClientConfig
// resolved from the key-value store on every request.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shieldedge/shield/internal/kv"
	"github.com/shieldedge/shield/internal/objstore"
	"github.com/shieldedge/shield/internal/observability"
)

// Config is the bootstrap server configuration.
type Config struct {
	Server    ServerConfig                    `yaml:"server"`
	Origin    OriginConfig                    `yaml:"origin"`
	Redis     kv.RedisConfig                  `yaml:"redis"`
	Storage   objstore.Config                 `yaml:"storage"`
	AI        AIConfig                        `yaml:"ai"`
	Analytics observability.AnalyticsConfig   `yaml:"analytics"`
	Metrics   MetricsConfig                   `yaml:"metrics"`
	Logging   LoggingConfig                   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OriginConfig points at the origin web service.
type OriginConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// AIConfig holds the inference gateway, embedding, and vector index settings.
type AIConfig struct {
	AccountID      string        `yaml:"account_id"`
	GatewayBaseURL string        `yaml:"gateway_base_url"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
}

// EmbeddingConfig selects and configures the embedding capability.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // "local" or "openai"
	APIBase   string        `yaml:"api_base"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// VectorConfig selects and configures the vector similarity index.
type VectorConfig struct {
	Kind       string        `yaml:"kind"` // "qdrant" or "memory"
	APIBase    string        `yaml:"api_base"`
	APIKey     string        `yaml:"api_key"`
	Collection string        `yaml:"collection"`
	Dimension  int           `yaml:"dimension"`
	Timeout    time.Duration `yaml:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Source bool   `yaml:"source"`
}

// LoadFromFile reads and validates a bootstrap config file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %q: %w", path, err)
	}
	return cfg, nil
}

// Default returns a config populated with defaults for every optional field.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Origin: OriginConfig{
			Timeout: 30 * time.Second,
		},
		Redis: kv.DefaultRedisConfig(),
		AI: AIConfig{
			GatewayBaseURL:  "https://gateway.ai.cloudflare.com/v1",
			MaxBodyBytes:    10 << 20,
			UpstreamTimeout: 2 * time.Minute,
			Embedding: EmbeddingConfig{
				Provider:  "local",
				Model:     "@cf/baai/bge-base-en-v1.5",
				Dimension: 768,
				Timeout:   30 * time.Second,
			},
			Vector: VectorConfig{
				Kind:       "memory",
				Collection: "shield_semantic_cache",
				Dimension:  768,
				Timeout:    30 * time.Second,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	if c.Origin.BaseURL == "" {
		return fmt.Errorf("origin.base_url is required")
	}
	if c.AI.MaxBodyBytes <= 0 {
		return fmt.Errorf("ai.max_body_bytes must be positive")
	}
	switch c.AI.Vector.Kind {
	case "memory":
	case "qdrant":
		if c.AI.Vector.APIBase == "" {
			return fmt.Errorf("ai.vector.api_base is required for qdrant")
		}
		if c.AI.Vector.Collection == "" {
			return fmt.Errorf("ai.vector.collection is required for qdrant")
		}
	default:
		return fmt.Errorf("ai.vector.kind must be %q or %q", "qdrant", "memory")
	}
	switch c.AI.Embedding.Provider {
	case "local":
	case "openai":
		if c.AI.Embedding.APIKey == "" {
			return fmt.Errorf("ai.embedding.api_key is required for openai")
		}
	default:
		return fmt.Errorf("ai.embedding.provider must be %q or %q", "local", "openai")
	}
	return nil
}
