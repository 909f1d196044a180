package semantic

import (
	"context"
	"crypto/sha256"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldedge/shield/internal/aigateway/semantic/vector"
	"github.com/shieldedge/shield/internal/kv"
	"github.com/shieldedge/shield/internal/observability"
)

// hashEmbedder maps text deterministically into a small vector so identical
// prompts embed identically and different prompts land elsewhere.
type hashEmbedder struct{}

func (hashEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float64, 8)
	for i := range vec {
		vec[i] = float64(sum[i]) / 255.0
	}
	return vec, nil
}

func (hashEmbedder) Model() string  { return "test-embedder" }
func (hashEmbedder) Dimension() int { return 8 }

func newCache(t *testing.T) (*Cache, *miniredis.Miniredis, *vector.InMemStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	payloads := kv.NewRedisStoreFromClient(client, "", time.Hour)
	t.Cleanup(func() { _ = payloads.Close() })

	index := vector.NewInMemStore()
	return New(hashEmbedder{}, index, payloads, observability.NewNopLogger()), mr, index
}

func TestStoreThenIdenticalPromptHits(t *testing.T) {
	cache, _, _ := newCache(t)
	ctx := context.Background()

	response := json.RawMessage(`{"choices":[{"message":{"content":"four"}}]}`)
	id, err := cache.Store(ctx, "what is two plus two", Payload{Model: "gpt-4o", Response: response}, time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "prompt-"))

	result, err := cache.Lookup(ctx, "what is two plus two", 0.92)
	require.NoError(t, err)
	assert.Equal(t, Hit, result.State)
	assert.True(t, result.Cached())
	assert.InDelta(t, 1.0, result.Score, 1e-9)
	assert.Equal(t, id, result.ID)
	require.NotNil(t, result.Payload)
	assert.Equal(t, "gpt-4o", result.Payload.Model)
	assert.JSONEq(t, string(response), string(result.Payload.Response))
}

func TestLookupBelowThresholdIsMiss(t *testing.T) {
	cache, _, _ := newCache(t)
	ctx := context.Background()

	_, err := cache.Store(ctx, "capital of france", Payload{Response: json.RawMessage(`{}`)}, time.Hour)
	require.NoError(t, err)

	result, err := cache.Lookup(ctx, "completely different question about golang", 0.99)
	require.NoError(t, err)
	assert.Equal(t, Miss, result.State)
	assert.False(t, result.Cached())
	assert.Nil(t, result.Payload)
	assert.Less(t, result.Score, 0.99)
}

func TestEmptyIndexIsMiss(t *testing.T) {
	cache, _, _ := newCache(t)

	result, err := cache.Lookup(context.Background(), "anything", 0.5)
	require.NoError(t, err)
	assert.Equal(t, Miss, result.State)
	assert.Empty(t, result.ID)
}

func TestOrphanedVectorIsMissNotError(t *testing.T) {
	cache, mr, _ := newCache(t)
	ctx := context.Background()

	id, err := cache.Store(ctx, "orphan me", Payload{Response: json.RawMessage(`{"ok":true}`)}, time.Minute)
	require.NoError(t, err)

	// Expire the payload while the vector stays in the index.
	mr.FastForward(2 * time.Minute)

	result, err := cache.Lookup(ctx, "orphan me", 0.92)
	require.NoError(t, err)
	assert.Equal(t, Orphaned, result.State)
	assert.False(t, result.Cached())
	assert.Nil(t, result.Payload)
	assert.Equal(t, id, result.ID)
	assert.InDelta(t, 1.0, result.Score, 1e-9)
}

func TestStoreGeneratesDistinctIDs(t *testing.T) {
	cache, _, index := newCache(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	tick := 0
	cache.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Nanosecond)
	})

	id1, err := cache.Store(ctx, "same prompt", Payload{Response: json.RawMessage(`{}`)}, time.Hour)
	require.NoError(t, err)
	id2, err := cache.Store(ctx, "same prompt", Payload{Response: json.RawMessage(`{}`)}, time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, index.Len())
}

func TestExtractPrompt(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"messages",
			`{"messages":[{"role":"system","content":"be terse"},{"role":"user","content":"hi"}]}`,
			"system: be terse\nuser: hi",
		},
		{
			"multimodal content parts",
			`{"messages":[{"role":"user","content":[{"type":"text","text":"describe"},{"type":"image_url"},{"type":"text","text":"this"}]}]}`,
			"user: describe this",
		},
		{"prompt field", `{"prompt":"complete me"}`, "complete me"},
		{"input string", `{"input":"embed me"}`, "embed me"},
		{"input array", `{"input":["a","b"]}`, "a\nb"},
		{"content field", `{"content":"raw content"}`, "raw content"},
		{"no text", `{"model":"gpt-4o"}`, ""},
		{"invalid json", `{not json`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractPrompt([]byte(tt.body)))
		})
	}
}

func TestExtractPromptTruncates(t *testing.T) {
	long := strings.Repeat("x", maxPromptLength*2)
	body, err := json.Marshal(map[string]string{"prompt": long})
	require.NoError(t, err)

	got := ExtractPrompt(body)
	assert.Len(t, got, maxPromptLength)
}
