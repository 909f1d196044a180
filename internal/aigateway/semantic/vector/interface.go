// Package vector provides the similarity index backends for the semantic
// cache. The index stores embeddings and lightweight metadata only; cached
// response payloads live in the KV store under the entry ID.
package vector

import "context"

// Store is a similarity index over prompt embeddings.
type Store interface {
	// Search returns up to topK matches sorted most similar first. Scores are
	// cosine similarity: 1 identical, 0 orthogonal.
	Search(ctx context.Context, vector []float64, topK int) ([]Match, error)

	// Upsert stores a vector under the entry ID with its metadata.
	Upsert(ctx context.Context, id string, vector []float64, meta Meta) error

	// Ping checks backend health.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// Meta is the metadata stored alongside a vector. The cached payload itself
// is deliberately absent; it is fetched from the KV store by entry ID so the
// index and the payload expire independently.
type Meta struct {
	Model      string `json:"model,omitempty"`
	PromptHash string `json:"prompt_hash"`
	CreatedAt  int64  `json:"created_at,omitempty"`
}

// Match is a single search result.
type Match struct {
	ID    string
	Score float64
	Meta  Meta
}
