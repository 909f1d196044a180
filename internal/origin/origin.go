// Package origin wraps outbound fetches to the origin web service.
package origin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shieldedge/shield/internal/config"
)

// Hints ask the platform edge for content optimization on asset responses.
// They are forwarded as headers the delivery tier understands; the origin
// itself ignores them.
type Hints struct {
	Minify         bool
	OptimizeImages bool
}

// Client performs origin fetches with the request rewritten onto the
// configured origin base URL.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates an origin client.
func New(cfg config.OriginConfig) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("origin base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("origin base url %q must be absolute", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		base: base,
		http: &http.Client{Timeout: timeout},
	}, nil
}

// NewForTest creates a client against an arbitrary base URL with a short timeout.
func NewForTest(baseURL string) (*Client, error) {
	return New(config.OriginConfig{BaseURL: baseURL, Timeout: 10 * time.Second})
}

// Fetch forwards r to the origin, preserving method, path, query, headers,
// and body. The caller owns the response body.
func (c *Client) Fetch(ctx context.Context, r *http.Request, hints Hints) (*http.Response, error) {
	target := *c.base
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("origin request: %w", err)
	}

	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	out.Header.Del("Connection")
	out.Header.Del("Upgrade")
	out.Header.Set("X-Forwarded-Host", r.Host)

	if hints.Minify {
		out.Header.Set("X-Edge-Minify", "css,js,html")
	}
	if hints.OptimizeImages {
		out.Header.Set("X-Edge-Image-Optimize", "lossy")
	}

	resp, err := c.http.Do(out)
	if err != nil {
		return nil, fmt.Errorf("origin fetch %s: %w", r.URL.Path, err)
	}
	return resp, nil
}
