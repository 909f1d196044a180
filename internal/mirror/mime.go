package mirror

import (
	"path"
	"strings"
)

// staticExtensions lists asset suffixes the mirror engine claims. Everything
// else falls through to the web cache engine.
var staticExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".avif": true, ".svg": true, ".ico": true,
	".css": true, ".js": true, ".mjs": true, ".map": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".mp4": true, ".webm": true, ".mp3": true, ".ogg": true, ".wav": true,
	".pdf": true, ".zip": true, ".wasm": true,
}

// extToMIME backs content-type inference when the stored object carries none.
var extToMIME = map[string]string{
	".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".png": "image/png",
	".gif": "image/gif", ".webp": "image/webp", ".avif": "image/avif",
	".svg": "image/svg+xml", ".ico": "image/x-icon",
	".css": "text/css", ".js": "text/javascript", ".mjs": "text/javascript",
	".map": "application/json",
	".woff": "font/woff", ".woff2": "font/woff2", ".ttf": "font/ttf",
	".otf": "font/otf", ".eot": "application/vnd.ms-fontobject",
	".mp4": "video/mp4", ".webm": "video/webm", ".mp3": "audio/mpeg",
	".ogg": "audio/ogg", ".wav": "audio/wav",
	".pdf": "application/pdf", ".zip": "application/zip",
	".wasm": "application/wasm",
}

// IsStaticAsset reports whether the request path names a mirrorable asset.
func IsStaticAsset(p string) bool {
	return staticExtensions[strings.ToLower(path.Ext(p))]
}

// mimeForPath returns the table content type for a path, or octet-stream.
func mimeForPath(p string) string {
	if mt, ok := extToMIME[strings.ToLower(path.Ext(p))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// mirrorableTypePrefixes gate which origin content types are worth copying
// into the bucket.
var mirrorableTypePrefixes = []string{
	"image/", "video/", "audio/", "font/",
	"text/css", "text/javascript", "application/javascript",
	"application/font", "application/pdf", "application/zip",
	"application/wasm", "application/octet-stream",
}

func isMirrorableType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	for _, prefix := range mirrorableTypePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}
