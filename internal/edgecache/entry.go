// Package edgecache implements the shared edge response cache: normalized
// request identity keys, serialized response entries, and a KV-backed store.
package edgecache

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Status tags reported on X-Shield-Cache / X-Shield-Storage headers.
const (
	TagHit    = "HIT"
	TagMiss   = "MISS"
	TagSWR    = "SWR"
	TagBypass = "BYPASS"
	TagR2Hit  = "R2-HIT"
	TagR2Miss = "R2-MISS"
)

// FreshnessWindow is how long a stored entry is served as a plain HIT before
// it flips to stale-while-revalidate.
const FreshnessWindow = time.Hour

// Entry is a cached HTTP response body plus its header set, tagged with the
// freshness timestamp injected at store time.
type Entry struct {
	Status    int         `json:"status"`
	Header    http.Header `json:"header"`
	Body      []byte      `json:"body"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// IsFresh reports whether the entry is inside the freshness window at now.
func (e *Entry) IsFresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) < FreshnessWindow
}

// Age returns the entry's age at now, floored at zero.
func (e *Entry) Age(now time.Time) time.Duration {
	age := now.Sub(e.FetchedAt)
	if age < 0 {
		return 0
	}
	return age
}

// Encode serializes the entry for storage.
func (e *Entry) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode deserializes a stored entry.
func Decode(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
