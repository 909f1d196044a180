// Package embedding provides text embedding backends for the semantic cache.
package embedding

import "context"

// Embedder converts text into embedding vectors.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float64, error)

	// Model returns the embedding model name.
	Model() string

	// Dimension returns the embedding dimension.
	Dimension() int
}
