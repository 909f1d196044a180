package vector

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQdrantConfigValidation(t *testing.T) {
	_, err := NewQdrantStore(QdrantConfig{Collection: "c"})
	assert.Error(t, err)

	_, err = NewQdrantStore(QdrantConfig{APIBase: "http://localhost:6333"})
	assert.Error(t, err)

	s, err := NewQdrantStore(QdrantConfig{APIBase: "http://localhost:6333", Collection: "c"})
	require.NoError(t, err)
	assert.Equal(t, 768, s.dimension)
}

func TestQdrantUpsertAndSearch(t *testing.T) {
	var upserted struct {
		Points []qdrantPoint `json:"points"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/test/points":
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &upserted))
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/collections/test/points/search":
			resp := qdrantSearchResponse{Result: []qdrantSearchResult{{
				ID:    "3b6a6f44-1d18-5f5a-a8ff-1111aaaa2222",
				Score: 0.97,
				Payload: qdrantPayload{
					EntryID:    "prompt-abc-123",
					Model:      "gpt-4o-mini",
					PromptHash: "abc",
					CreatedAt:  1700000000,
				},
			}}}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s, err := NewQdrantStore(QdrantConfig{APIBase: srv.URL, Collection: "test", Dimension: 3})
	require.NoError(t, err)

	ctx := context.Background()
	err = s.Upsert(ctx, "prompt-abc-123", []float64{0.1, 0.2, 0.3},
		Meta{Model: "gpt-4o-mini", PromptHash: "abc", CreatedAt: 1700000000})
	require.NoError(t, err)

	require.Len(t, upserted.Points, 1)
	point := upserted.Points[0]
	assert.Equal(t, "prompt-abc-123", point.Payload.EntryID)
	assert.NotEqual(t, "prompt-abc-123", point.ID, "point ID is a derived UUID")
	assert.Len(t, point.Vector, 3)

	matches, err := s.Search(ctx, []float64{0.1, 0.2, 0.3}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "prompt-abc-123", matches[0].ID, "entry ID comes from the payload")
	assert.InDelta(t, 0.97, matches[0].Score, 1e-9)
	assert.Equal(t, "gpt-4o-mini", matches[0].Meta.Model)
}

func TestQdrantUpsertStablePointID(t *testing.T) {
	var ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Points []qdrantPoint `json:"points"`
		}
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		ids = append(ids, body.Points[0].ID)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	s, err := NewQdrantStore(QdrantConfig{APIBase: srv.URL, Collection: "test"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "prompt-x-1", []float64{1}, Meta{}))
	require.NoError(t, s.Upsert(ctx, "prompt-x-1", []float64{1}, Meta{}))
	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1], "same entry ID maps to the same point")
}
