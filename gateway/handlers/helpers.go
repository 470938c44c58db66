package handlers

import (
	"bytes"
	"net/http"
)

const (
	headerXCache = "X-Cache"

	cacheHit  = "HIT"
	cacheMiss = "MISS"

	// immutableCacheControl is set on every successful media response. Object
	// keys never change content, so clients may keep them for a year.
	immutableCacheControl = "public, max-age=31536000, immutable"

	// originBodySnippetSize bounds how much of a failed origin response is logged.
	originBodySnippetSize = 512

	// statusClientClosedRequest is logged when the client went away before the
	// response could be written.
	statusClientClosedRequest = 499
)

// passthroughHeaders are the origin response headers forwarded to clients and
// kept in cache entries. Anything else the origin sends is dropped.
var passthroughHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Content-Encoding",
	"ETag",
	"Last-Modified",
}

func copyPassthroughHeaders(dst, src http.Header) {
	for _, name := range passthroughHeaders {
		if values := src.Values(name); len(values) > 0 {
			dst[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
		}
	}
}

// setHeaders copies src into dst, replacing any value dst had for the same
// names.
func setHeaders(dst, src http.Header) {
	for name, values := range src {
		dst[name] = append([]string(nil), values...)
	}
}

// clientGone reports whether the client of r disconnected.
func clientGone(r *http.Request) bool {
	select {
	case <-r.Context().Done():
		return true
	default:
		return false
	}
}

// captureBuffer keeps a copy of a response body for the cache. It holds at
// most limit bytes; once a write would exceed it the copy is discarded and
// the buffer only counts as truncated. Writes never fail so that it can sit
// next to the client in an io.MultiWriter. A limit <= 0 means no limit.
type captureBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func newCaptureBuffer(limit int64) *captureBuffer {
	return &captureBuffer{limit: limit}
}

func (b *captureBuffer) Write(p []byte) (int, error) {
	if b.truncated {
		return len(p), nil
	}
	if b.limit > 0 && int64(b.buf.Len())+int64(len(p)) > b.limit {
		b.truncated = true
		b.buf = bytes.Buffer{}
		return len(p), nil
	}
	return b.buf.Write(p)
}

// Truncated reports whether the body exceeded the limit.
func (b *captureBuffer) Truncated() bool {
	return b.truncated
}

// Bytes returns the captured body.
func (b *captureBuffer) Bytes() []byte {
	return b.buf.Bytes()
}
