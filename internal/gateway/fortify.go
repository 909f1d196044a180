package gateway

import (
	"bufio"
	"net"
	"net/http"

	"github.com/shieldedge/shield/internal/config"
)

// Version is stamped on every response.
const Version = "1.0.0"

// Identity headers added during fortification.
const (
	VersionHeader = "X-Shield-Version"
	ClientHeader  = "X-Shield-Client"
)

// originIdentifyingHeaders are stripped from every response.
var originIdentifyingHeaders = []string{"Server", "X-Powered-By", "Via"}

// contentSecurityPolicy is applied to non-API modes, where responses are
// rendered by browsers.
const contentSecurityPolicy = "default-src 'self' https:; script-src 'self' 'unsafe-inline' https:; style-src 'self' 'unsafe-inline' https:; img-src 'self' data: https:"

// corsModes get a permissive cross-origin allow header on responses.
var corsModes = map[config.Mode]bool{
	config.ModeAPI:         true,
	config.ModeSaaS:        true,
	config.ModeAIInference: true,
}

// fortifyWriter wraps a ResponseWriter and applies hardening headers at the
// moment the header set is flushed, after the handler has written its own
// headers and the origin's have been copied in.
type fortifyWriter struct {
	http.ResponseWriter
	mode        config.Mode
	clientID    string
	wroteHeader bool
	status      int
}

func newFortifyWriter(w http.ResponseWriter, mode config.Mode, clientID string) *fortifyWriter {
	return &fortifyWriter{ResponseWriter: w, mode: mode, clientID: clientID, status: http.StatusOK}
}

func (f *fortifyWriter) WriteHeader(status int) {
	if f.wroteHeader {
		return
	}
	f.wroteHeader = true
	f.status = status
	f.fortify()
	f.ResponseWriter.WriteHeader(status)
}

func (f *fortifyWriter) Write(p []byte) (int, error) {
	if !f.wroteHeader {
		f.WriteHeader(http.StatusOK)
	}
	return f.ResponseWriter.Write(p)
}

func (f *fortifyWriter) fortify() {
	h := f.Header()
	for _, name := range originIdentifyingHeaders {
		h.Del(name)
	}

	h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

	if !corsModes[f.mode] {
		h.Set("Content-Security-Policy", contentSecurityPolicy)
	} else {
		h.Set("Access-Control-Allow-Origin", "*")
	}

	h.Set(VersionHeader, Version)
	if f.clientID != "" {
		h.Set(ClientHeader, f.clientID)
	}
}

// Flush forwards to the underlying writer so streamed responses work.
func (f *fortifyWriter) Flush() {
	if !f.wroteHeader {
		f.WriteHeader(http.StatusOK)
	}
	if flusher, ok := f.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack forwards to the underlying writer so upgrade relaying works.
func (f *fortifyWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := f.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
