package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

// InMemStore is a brute-force in-process index. It serves single-instance
// deployments and tests; similarity search is a linear scan.
type InMemStore struct {
	mu      sync.RWMutex
	entries map[string]inmemEntry
}

type inmemEntry struct {
	vector []float64
	meta   Meta
}

// NewInMemStore creates an empty in-memory vector store.
func NewInMemStore() *InMemStore {
	return &InMemStore{entries: map[string]inmemEntry{}}
}

// Search scans all entries and returns the topK most similar.
func (s *InMemStore) Search(ctx context.Context, vector []float64, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 1
	}

	s.mu.RLock()
	matches := make([]Match, 0, len(s.entries))
	for id, e := range s.entries {
		matches = append(matches, Match{
			ID:    id,
			Score: cosineSimilarity(vector, e.vector),
			Meta:  e.meta,
		})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Upsert stores or replaces a vector under id.
func (s *InMemStore) Upsert(ctx context.Context, id string, vector []float64, meta Meta) error {
	v := make([]float64, len(vector))
	copy(v, vector)

	s.mu.Lock()
	s.entries[id] = inmemEntry{vector: v, meta: meta}
	s.mu.Unlock()
	return nil
}

// Delete removes an entry; absent IDs are ignored.
func (s *InMemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored vectors.
func (s *InMemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Ping always succeeds.
func (s *InMemStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *InMemStore) Close() error { return nil }

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
