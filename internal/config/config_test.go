package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
origin:
  base_url: https://origin.example.com
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "https://origin.example.com", cfg.Origin.BaseURL)
	assert.Equal(t, int64(10<<20), cfg.AI.MaxBodyBytes)
	assert.Equal(t, "memory", cfg.AI.Vector.Kind)
	assert.Equal(t, "local", cfg.AI.Embedding.Provider)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFromFileRejectsMissingOrigin(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
`)

	_, err := LoadFromFile(path)
	assert.ErrorContains(t, err, "origin.base_url")
}

func TestValidateVectorKind(t *testing.T) {
	cfg := Default()
	cfg.Origin.BaseURL = "https://origin.example.com"

	cfg.AI.Vector.Kind = "qdrant"
	assert.ErrorContains(t, cfg.Validate(), "ai.vector.api_base")

	cfg.AI.Vector.APIBase = "http://localhost:6333"
	assert.NoError(t, cfg.Validate())

	cfg.AI.Vector.Kind = "pinecone"
	assert.ErrorContains(t, cfg.Validate(), "ai.vector.kind")
}

func TestValidateEmbeddingProvider(t *testing.T) {
	cfg := Default()
	cfg.Origin.BaseURL = "https://origin.example.com"

	cfg.AI.Embedding.Provider = "openai"
	assert.ErrorContains(t, cfg.Validate(), "ai.embedding.api_key")

	cfg.AI.Embedding.APIKey = "sk-test"
	assert.NoError(t, cfg.Validate())
}
