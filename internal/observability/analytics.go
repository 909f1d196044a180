package observability

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/shieldedge/shield/internal/objstore"
)

// AnalyticsEntry is one AI gateway request record, written as JSONL to the bucket.
type AnalyticsEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	ClientID   string    `json:"client_id"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model,omitempty"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	CacheHit   bool      `json:"cache_hit"`
	Similarity float64   `json:"similarity,omitempty"`
	Streamed   bool      `json:"streamed"`
	LatencyMs  int64     `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
}

// objectPutter is the slice of the bucket API the analytics sink needs.
type objectPutter interface {
	Put(ctx context.Context, key string, obj objstore.Object) error
}

// AnalyticsConfig configures the analytics sink.
type AnalyticsConfig struct {
	PathPrefix    string        `yaml:"path_prefix"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
}

// Analytics batches AI gateway request records and flushes them to the object
// storage bucket as date-partitioned JSONL files. Records are fire-and-forget;
// a failed flush is logged and the batch dropped.
type Analytics struct {
	cfg    AnalyticsConfig
	bucket objectPutter
	logger *Logger

	mu     sync.Mutex
	queue  []AnalyticsEntry
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewAnalytics creates the sink and starts its flush loop.
func NewAnalytics(cfg AnalyticsConfig, bucket objectPutter, logger *Logger) *Analytics {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	a := &Analytics{
		cfg:    cfg,
		bucket: bucket,
		logger: logger,
		queue:  make([]AnalyticsEntry, 0, cfg.BatchSize),
		stopCh: make(chan struct{}),
	}

	a.wg.Add(1)
	go a.flushLoop()

	return a
}

// Record queues a single entry.
func (a *Analytics) Record(entry AnalyticsEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.queue = append(a.queue, entry)
	if len(a.queue) >= a.cfg.BatchSize {
		go a.flush(context.Background())
	}
}

// Shutdown stops the flush loop and writes any queued entries.
func (a *Analytics) Shutdown(ctx context.Context) error {
	close(a.stopCh)
	a.wg.Wait()
	return a.flush(ctx)
}

func (a *Analytics) flushLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.flush(context.Background()); err != nil {
				a.logger.Warn("analytics flush failed", "error", err)
			}
		case <-a.stopCh:
			return
		}
	}
}

func (a *Analytics) flush(ctx context.Context) error {
	a.mu.Lock()
	if len(a.queue) == 0 {
		a.mu.Unlock()
		return nil
	}
	entries := a.queue
	a.queue = make([]AnalyticsEntry, 0, a.cfg.BatchSize)
	a.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			continue
		}
	}

	key := a.objectKey(time.Now().UTC())
	return a.bucket.Put(ctx, key, objstore.Object{
		Body:        buf.Bytes(),
		ContentType: "application/x-ndjson",
	})
}

func (a *Analytics) objectKey(t time.Time) string {
	datePrefix := fmt.Sprintf("year=%d/month=%02d/day=%02d/hour=%02d",
		t.Year(), t.Month(), t.Day(), t.Hour())
	filename := fmt.Sprintf("requests_%d.jsonl", t.UnixNano())

	if a.cfg.PathPrefix != "" {
		return path.Join(a.cfg.PathPrefix, datePrefix, filename)
	}
	return path.Join(datePrefix, filename)
}
