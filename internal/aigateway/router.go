// Package aigateway routes LLM traffic to upstream inference providers
// through the platform AI gateway, with a semantic response cache layered in
// front of the upstream call.
package aigateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/shieldedge/shield/internal/aigateway/semantic"
	"github.com/shieldedge/shield/internal/config"
	"github.com/shieldedge/shield/internal/metrics"
	"github.com/shieldedge/shield/internal/observability"
	"github.com/shieldedge/shield/internal/task"
	"github.com/shieldedge/shield/pkg/errors"
)

// Response headers describing a semantic cache hit.
const (
	AICacheHeader      = "X-Shield-AI-Cache"
	AISimilarityHeader = "X-Shield-AI-Similarity"
	AIModelHeader      = "X-Shield-AI-Model"
	AILatencyHeader    = "X-Shield-AI-Latency"
	GatewayHeader      = "X-Shield-Gateway"

	// AICacheHit is the AICacheHeader value on a semantic hit.
	AICacheHit = "SEMANTIC-HIT"
)

// defaultAzureAPIVersion is injected when an Azure-shaped request omits the
// mandatory api-version query parameter.
const defaultAzureAPIVersion = "2024-02-01"

// forwardedHeaders are the only request headers passed to the upstream
// gateway; everything else, including platform control headers, is dropped.
var forwardedHeaders = []string{
	"Authorization",
	"Content-Type",
	"Accept",
	"X-Api-Key",
	"Api-Key",
	"Anthropic-Version",
	"Anthropic-Beta",
	"Openai-Organization",
	"Openai-Project",
}

// Fallback handles requests whose path shape matches no known provider.
type Fallback interface {
	Handle(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig, tasks *task.Set)
}

// Router is the LLM gateway router mode handler.
type Router struct {
	ai        config.AIConfig
	semantic  *semantic.Cache
	analytics *observability.Analytics
	fallback  Fallback
	logger    *observability.Logger
	client    *http.Client
}

// New creates a router. semanticCache and analytics may be nil, disabling
// the respective pipeline.
func New(ai config.AIConfig, semanticCache *semantic.Cache, analytics *observability.Analytics, fallback Fallback, logger *observability.Logger) *Router {
	timeout := ai.UpstreamTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Router{
		ai:        ai,
		semantic:  semanticCache,
		analytics: analytics,
		fallback:  fallback,
		logger:    logger,
		client:    &http.Client{Timeout: timeout},
	}
}

// Handle routes one LLM request. Unrecognized path shapes fall through to
// the web cache engine.
func (rt *Router) Handle(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig, tasks *task.Set) {
	provider, ok := DetectProvider(r)
	if !ok {
		rt.fallback.Handle(w, r, cfg, tasks)
		return
	}

	start := time.Now()
	defer func() {
		metrics.UpstreamDuration.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
	}()

	if gerr := rt.validate(r); gerr != nil {
		rt.writeError(w, gerr)
		return
	}

	if rt.ai.AccountID == "" || cfg.AIGatewayID == "" {
		rt.writeError(w, errors.NewConfigurationError("ai gateway is not configured for this client"))
		return
	}
	w.Header().Set(GatewayHeader, cfg.AIGatewayID)
	w.Header().Set(ProviderHeader, string(provider))

	body, err := io.ReadAll(io.LimitReader(r.Body, rt.ai.MaxBodyBytes+1))
	if err != nil {
		rt.writeError(w, errors.NewInvalidRequestError("failed to read request body"))
		return
	}
	if int64(len(body)) > rt.ai.MaxBodyBytes {
		rt.writeError(w, &errors.GatewayError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Message:    "request body exceeds the configured limit",
			Type:       errors.TypeInvalidRequest,
		})
		return
	}

	var prompt string
	if rt.semanticEnabled(cfg) && r.Method == http.MethodPost {
		prompt = semantic.ExtractPrompt(body)
	}

	if prompt != "" {
		result, err := rt.semantic.Lookup(r.Context(), prompt, cfg.SemanticCacheThreshold)
		if err != nil {
			// The cache is advisory; a broken lookup never blocks the request.
			rt.logger.Warn("semantic lookup failed", "error", err)
		} else if result.Cached() {
			rt.serveSemanticHit(w, r, cfg, provider, result, start, tasks)
			return
		}
	}

	rt.forward(w, r, cfg, provider, body, prompt, start, tasks)
}

// validate applies the method, content-type, and declared-length rules.
func (rt *Router) validate(r *http.Request) *errors.GatewayError {
	switch r.Method {
	case http.MethodGet, http.MethodPost:
	default:
		return &errors.GatewayError{
			StatusCode: http.StatusMethodNotAllowed,
			Message:    fmt.Sprintf("method %s is not allowed", r.Method),
			Type:       errors.TypeInvalidRequest,
		}
	}

	if r.Method == http.MethodPost {
		ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || ct != "application/json" {
			return errors.NewInvalidRequestError("content type must be application/json")
		}
	}

	if r.ContentLength > rt.ai.MaxBodyBytes {
		return &errors.GatewayError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Message:    "request body exceeds the configured limit",
			Type:       errors.TypeInvalidRequest,
		}
	}
	return nil
}

func (rt *Router) semanticEnabled(cfg *config.ClientConfig) bool {
	return rt.semantic != nil && cfg.SemanticCacheEnabled
}

func (rt *Router) serveSemanticHit(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig, provider Provider, result semantic.LookupResult, start time.Time, tasks *task.Set) {
	header := w.Header()
	header.Set("Content-Type", "application/json")
	header.Set(AICacheHeader, AICacheHit)
	header.Set(AISimilarityHeader, strconv.FormatFloat(result.Score, 'f', 4, 64))
	if result.Payload.Model != "" {
		header.Set(AIModelHeader, result.Payload.Model)
	}
	header.Set(AILatencyHeader, "0ms")

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Payload.Response)

	rt.record(r, cfg, start, tasks, observability.AnalyticsEntry{
		Provider:   string(provider),
		Model:      result.Payload.Model,
		Status:     http.StatusOK,
		CacheHit:   true,
		Similarity: result.Score,
	})
}

func (rt *Router) forward(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig, provider Provider, body []byte, prompt string, start time.Time, tasks *task.Set) {
	upstreamURL := rt.upstreamURL(cfg, provider, r.URL)

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, bytes.NewReader(body))
	if err != nil {
		rt.writeError(w, errors.NewInternalError("failed to build upstream request"))
		return
	}
	for _, name := range forwardedHeaders {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	resp, err := rt.client.Do(req)
	if err != nil {
		rt.logger.Error("upstream call failed", "provider", provider, "error", err)
		rt.record(r, cfg, start, tasks, observability.AnalyticsEntry{
			Provider: string(provider),
			Status:   http.StatusBadGateway,
			Error:    err.Error(),
		})
		rt.writeError(w, errors.NewUpstreamError(string(provider), "upstream gateway unreachable"))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
		rt.record(r, cfg, start, tasks, observability.AnalyticsEntry{Provider: string(provider), Status: resp.StatusCode})
		rt.writeError(w, errors.NewUpstreamRateLimitError(string(provider), "upstream rate limit exceeded"))
		return
	}

	if isEventStream(resp.Header.Get("Content-Type")) {
		rt.relayStream(w, r, cfg, provider, resp, start, tasks)
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		rt.writeError(w, errors.NewUpstreamError(string(provider), "failed to read upstream response"))
		return
	}

	header := w.Header()
	for name, values := range resp.Header {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)

	if resp.StatusCode == http.StatusOK && prompt != "" {
		rt.scheduleStore(tasks, cfg, prompt, respBody)
	}
	rt.record(r, cfg, start, tasks, observability.AnalyticsEntry{
		Provider: string(provider),
		Model:    modelFromResponse(respBody),
		Status:   resp.StatusCode,
	})
}

// relayStream forwards an event stream to the client unbuffered. Streamed
// responses are never cached semantically.
func (rt *Router) relayStream(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig, provider Provider, resp *http.Response, start time.Time, tasks *task.Set) {
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			break
		}
	}

	rt.record(r, cfg, start, tasks, observability.AnalyticsEntry{
		Provider: string(provider),
		Status:   resp.StatusCode,
		Streamed: true,
	})
}

func (rt *Router) scheduleStore(tasks *task.Set, cfg *config.ClientConfig, prompt string, respBody []byte) {
	payload := semantic.Payload{
		Model:    modelFromResponse(respBody),
		Response: json.RawMessage(respBody),
	}
	ttl := time.Duration(cfg.AICacheTTL) * time.Second
	tasks.Schedule("semantic-store", func(ctx context.Context) error {
		_, err := rt.semantic.Store(ctx, prompt, payload, ttl)
		return err
	})
}

func (rt *Router) record(r *http.Request, cfg *config.ClientConfig, start time.Time, tasks *task.Set, entry observability.AnalyticsEntry) {
	if rt.analytics == nil {
		return
	}
	entry.Timestamp = time.Now()
	entry.RequestID = observability.RequestIDFromContext(r.Context())
	entry.ClientID = cfg.ID
	entry.Path = r.URL.Path
	entry.LatencyMs = time.Since(start).Milliseconds()
	tasks.Schedule("analytics-record", func(ctx context.Context) error {
		rt.analytics.Record(entry)
		return nil
	})
}

// upstreamURL builds the gateway URL:
// {base}/{account}/{gateway}/{provider}{path}?{query}
// with provider-specific path normalization applied.
func (rt *Router) upstreamURL(cfg *config.ClientConfig, provider Provider, u *url.URL) string {
	path := u.Path
	query := u.RawQuery

	switch provider {
	case ProviderOpenAI:
		// The gateway's openai route already includes the /v1 segment.
		path = strings.TrimPrefix(path, "/v1")
	case ProviderAzure:
		if !strings.Contains(query, "api-version=") {
			if query != "" {
				query += "&"
			}
			query += "api-version=" + defaultAzureAPIVersion
		}
	}

	out := fmt.Sprintf("%s/%s/%s/%s%s",
		strings.TrimSuffix(rt.ai.GatewayBaseURL, "/"),
		rt.ai.AccountID, cfg.AIGatewayID, provider, path)
	if query != "" {
		out += "?" + query
	}
	return out
}

func (rt *Router) writeError(w http.ResponseWriter, gerr *errors.GatewayError) {
	header := w.Header()
	header.Set("Content-Type", "application/json")
	if gerr.StatusCode == http.StatusMethodNotAllowed {
		header.Set("Allow", "GET, POST")
	}
	w.WriteHeader(gerr.HTTPStatusCode())

	body := map[string]any{
		"error": map[string]any{
			"type":    gerr.Type,
			"message": gerr.Message,
		},
	}
	if gerr.Provider != "" {
		body["error"].(map[string]any)["provider"] = gerr.Provider
	}
	_ = json.NewEncoder(w).Encode(body)
}

func isEventStream(contentType string) bool {
	ct, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return ct == "text/event-stream"
}

// modelFromResponse pulls the model name out of a JSON response body, when
// present.
func modelFromResponse(body []byte) string {
	var head struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return ""
	}
	return head.Model
}
