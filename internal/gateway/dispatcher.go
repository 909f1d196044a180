// Package gateway wires the request pipeline: per-client configuration,
// security gate, mode dispatch, response fortification, and deferred task
// draining.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/shieldedge/shield/internal/config"
	"github.com/shieldedge/shield/internal/metrics"
	"github.com/shieldedge/shield/internal/observability"
	"github.com/shieldedge/shield/internal/relay"
	"github.com/shieldedge/shield/internal/security"
	"github.com/shieldedge/shield/internal/task"
)

// Handler is a mode handler.
type Handler interface {
	Handle(w http.ResponseWriter, r *http.Request, cfg *config.ClientConfig, tasks *task.Set)
}

// Upgrader tunnels protocol upgrade requests.
type Upgrader interface {
	Handle(w http.ResponseWriter, r *http.Request)
}

// Dispatcher is the top-level request handler.
type Dispatcher struct {
	loader   *config.Loader
	gate     *security.Gate
	upgrader Upgrader
	webcache Handler
	mirror   Handler
	ai       Handler
	logger   *observability.Logger
}

// NewDispatcher creates the dispatcher. upgrader may be nil; upgrade
// requests then take the web path and fail there.
func NewDispatcher(loader *config.Loader, gate *security.Gate, upgrader Upgrader, webcache, mirror, ai Handler, logger *observability.Logger) *Dispatcher {
	return &Dispatcher{
		loader:   loader,
		gate:     gate,
		upgrader: upgrader,
		webcache: webcache,
		mirror:   mirror,
		ai:       ai,
		logger:   logger,
	}
}

// ServeHTTP runs one request through the pipeline. It never lets a panic
// escape; an uncaught failure degrades to a generic 500.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("panic in request pipeline",
				"path", r.URL.Path, "panic", rec)
			// Headers may already be out; this is best effort.
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}()

	clientID := resolveClientID(r)
	cfg := d.loader.Load(r.Context(), clientID)

	if d.upgrader != nil && relay.IsUpgrade(r) {
		// Tunneled bytes are opaque; fortification does not apply.
		d.upgrader.Handle(w, r)
		return
	}

	start := time.Now()
	fw := newFortifyWriter(w, cfg.Mode, clientID)
	tasks := task.NewSet(d.logger)

	if d.gate.Check(fw, r, cfg, clientID, tasks) {
		d.handlerFor(cfg.Mode).Handle(fw, r, cfg, tasks)
	}

	// The response is out; run deferred work on a context that survives the
	// client going away.
	tasks.Drain(context.WithoutCancel(r.Context()))

	mode := string(cfg.Mode)
	metrics.RequestsTotal.WithLabelValues(mode, strconv.Itoa(fw.status)).Inc()
	metrics.RequestDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

// handlerFor is the static mode table covering every mode. Unrecognized
// modes were already normalized to STANDARD at config load; the default arm
// is unreachable and exists only to keep the function total.
func (d *Dispatcher) handlerFor(mode config.Mode) Handler {
	switch mode {
	case config.ModeStandard, config.ModeSaaS, config.ModeAPI, config.ModeRealtime:
		return d.webcache
	case config.ModeEcommerce, config.ModeIoT, config.ModeNews, config.ModeStorageMigration:
		return d.mirror
	case config.ModeAIInference:
		return d.ai
	default:
		return d.webcache
	}
}

// resolveClientID identifies the tenant: an explicit header when present,
// otherwise the requested host.
func resolveClientID(r *http.Request) string {
	if id := r.Header.Get(ClientHeader); id != "" {
		return id
	}
	return r.Host
}
