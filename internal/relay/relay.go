// Package relay provides transparent bidirectional tunneling for protocol
// upgrade requests. The gateway does not speak the upgraded protocol; it
// hands the raw byte streams to each other and steps out of the way.
package relay

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shieldedge/shield/internal/config"
	"github.com/shieldedge/shield/internal/observability"
)

const dialTimeout = 10 * time.Second

// IsUpgrade reports whether the request asks for a protocol upgrade.
func IsUpgrade(r *http.Request) bool {
	if r.Header.Get("Upgrade") == "" {
		return false
	}
	for _, token := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
			return true
		}
	}
	return false
}

// Relay tunnels upgrade requests to the origin.
type Relay struct {
	origin *url.URL
	logger *observability.Logger
}

// New creates a relay targeting the configured origin.
func New(cfg config.OriginConfig, logger *observability.Logger) (*Relay, error) {
	origin, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("relay origin url: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("relay origin url %q must be absolute", cfg.BaseURL)
	}
	return &Relay{origin: origin, logger: logger}, nil
}

// Handle hijacks the client connection, replays the upgrade request to the
// origin, and copies bytes in both directions until either side closes.
func (rl *Relay) Handle(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "upgrade not supported", http.StatusInternalServerError)
		return
	}

	originConn, err := rl.dial()
	if err != nil {
		rl.logger.Error("relay dial failed", "origin", rl.origin.Host, "error", err)
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		return
	}
	defer originConn.Close()

	// Replay the upgrade request verbatim; the origin answers with 101 and
	// from then on neither side's bytes are interpreted.
	outReq := r.Clone(r.Context())
	outReq.Host = rl.origin.Host
	outReq.URL.Scheme = rl.origin.Scheme
	outReq.URL.Host = rl.origin.Host
	if err := outReq.Write(originConn); err != nil {
		rl.logger.Error("relay request write failed", "error", err)
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		return
	}

	clientConn, buffered, err := hijacker.Hijack()
	if err != nil {
		rl.logger.Error("hijack failed", "error", err)
		return
	}
	defer clientConn.Close()

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(originConn, buffered)
		closeWrite(originConn)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(clientConn, originConn)
		closeWrite(clientConn)
		return err
	})
	if err := g.Wait(); err != nil {
		rl.logger.Debug("relay closed", "error", err)
	}
}

func (rl *Relay) dial() (net.Conn, error) {
	host := rl.origin.Host
	if rl.origin.Port() == "" {
		if rl.origin.Scheme == "https" {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	if rl.origin.Scheme == "https" {
		return tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, "tcp", host,
			&tls.Config{ServerName: rl.origin.Hostname()})
	}
	return net.DialTimeout("tcp", host, dialTimeout)
}

// closeWrite half-closes when the transport supports it so the peer sees EOF
// while its own sends still drain.
func closeWrite(conn net.Conn) {
	type writeCloser interface{ CloseWrite() error }
	if wc, ok := conn.(writeCloser); ok {
		_ = wc.CloseWrite()
		return
	}
	_ = conn.Close()
}
