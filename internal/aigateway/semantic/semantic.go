// Package semantic implements the similarity response cache for LLM traffic.
// Prompts are embedded and matched against a vector index; cached response
// payloads live separately in the KV store so the two populations expire
// independently. A vector whose payload has expired is an orphan and resolves
// to a miss, never an error.
package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/shieldedge/shield/internal/aigateway/semantic/embedding"
	"github.com/shieldedge/shield/internal/aigateway/semantic/vector"
	"github.com/shieldedge/shield/internal/kv"
	"github.com/shieldedge/shield/internal/metrics"
	"github.com/shieldedge/shield/internal/observability"
)

// State classifies a lookup outcome.
type State int

const (
	// Miss means no vector scored at or above the threshold.
	Miss State = iota
	// Hit means a vector matched and its payload was found.
	Hit
	// Orphaned means a vector matched but its payload has expired. Callers
	// treat it exactly like a miss; the state exists for observability.
	Orphaned
)

// String returns the metric label for the state.
func (s State) String() string {
	switch s {
	case Hit:
		return "hit"
	case Orphaned:
		return "orphaned"
	default:
		return "miss"
	}
}

// Payload is a cached LLM response.
type Payload struct {
	Model     string          `json:"model,omitempty"`
	Response  json.RawMessage `json:"response"`
	CreatedAt int64           `json:"created_at"`
}

// LookupResult reports a cache lookup. Score and ID are populated whenever a
// candidate vector was found, including the Orphaned case.
type LookupResult struct {
	State   State
	Payload *Payload
	Score   float64
	ID      string
}

// Cached reports whether the result carries a servable payload.
func (r LookupResult) Cached() bool { return r.State == Hit }

// Cache is the semantic response cache.
type Cache struct {
	embedder embedding.Embedder
	index    vector.Store
	payloads kv.Store
	logger   *observability.Logger
	now      func() time.Time
}

// New creates a semantic cache.
func New(embedder embedding.Embedder, index vector.Store, payloads kv.Store, logger *observability.Logger) *Cache {
	return &Cache{
		embedder: embedder,
		index:    index,
		payloads: payloads,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the cache's clock. Intended for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Lookup embeds the prompt and searches the index. A hit requires the best
// match to score at or above threshold and its payload to still be present.
func (c *Cache) Lookup(ctx context.Context, prompt string, threshold float64) (LookupResult, error) {
	vec, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		return LookupResult{}, fmt.Errorf("embed prompt: %w", err)
	}

	matches, err := c.index.Search(ctx, vec, 1)
	if err != nil {
		return LookupResult{}, fmt.Errorf("vector search: %w", err)
	}

	if len(matches) == 0 || matches[0].Score < threshold {
		result := LookupResult{State: Miss}
		if len(matches) > 0 {
			result.Score = matches[0].Score
			result.ID = matches[0].ID
		}
		metrics.SemanticLookups.WithLabelValues(result.State.String()).Inc()
		return result, nil
	}

	match := matches[0]
	var payload Payload
	found, err := kv.GetJSON(ctx, c.payloads, match.ID, &payload)
	if err != nil {
		return LookupResult{}, fmt.Errorf("payload fetch %q: %w", match.ID, err)
	}
	if !found {
		// The vector outlived its payload. The orphan stays in the index; a
		// future store under a fresh ID supersedes it.
		c.logger.Debug("orphaned vector", "id", match.ID, "score", match.Score)
		metrics.SemanticLookups.WithLabelValues(Orphaned.String()).Inc()
		return LookupResult{State: Orphaned, Score: match.Score, ID: match.ID}, nil
	}

	metrics.SemanticLookups.WithLabelValues(Hit.String()).Inc()
	return LookupResult{State: Hit, Payload: &payload, Score: match.Score, ID: match.ID}, nil
}

// Store writes a response under a fresh entry ID: the payload into the KV
// store with ttl, the prompt embedding into the index.
func (c *Cache) Store(ctx context.Context, prompt string, payload Payload, ttl time.Duration) (string, error) {
	vec, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("embed prompt: %w", err)
	}

	hash := promptHash(prompt)
	now := c.now()
	id := fmt.Sprintf("prompt-%s-%d", hash, now.UnixNano())
	if payload.CreatedAt == 0 {
		payload.CreatedAt = now.Unix()
	}

	if err := kv.SetJSON(ctx, c.payloads, id, payload, ttl); err != nil {
		return "", fmt.Errorf("payload store %q: %w", id, err)
	}

	meta := vector.Meta{
		Model:      payload.Model,
		PromptHash: hash,
		CreatedAt:  payload.CreatedAt,
	}
	if err := c.index.Upsert(ctx, id, vec, meta); err != nil {
		// The payload without its vector is unreachable garbage that the TTL
		// collects; surface the index failure to the caller.
		return "", fmt.Errorf("vector upsert %q: %w", id, err)
	}
	return id, nil
}

func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:16]
}
