// Package context carries request-scoped values used by the gateway handlers.
package context

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/famgallery/mediagate/log"
	"gitlab.com/gitlab-org/labkit/correlation"
)

// Background returns a non-nil, empty context.
func Background() context.Context {
	return context.Background()
}

type requestKey struct{}

// WithRequest places the request on the context and attaches a logger
// carrying the request fields.
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	ctx = context.WithValue(ctx, requestKey{}, r)

	fields := log.Fields{
		"method":      r.Method,
		"uri":         r.URL.RequestURI(),
		"remote_addr": RemoteIP(r),
		"user_agent":  r.UserAgent(),
	}
	// a base logger stored on a server context does not know the request ID
	if id := correlation.ExtractFromContext(ctx); id != "" {
		fields["correlation_id"] = id
	}
	l := log.GetLogger(log.WithContext(ctx)).WithFields(fields)

	return log.WithLogger(ctx, l)
}

// GetRequest returns the http request in the given context.
func GetRequest(ctx context.Context) (*http.Request, bool) {
	r, ok := ctx.Value(requestKey{}).(*http.Request)
	return r, ok
}

// RemoteIP extracts the remote IP of the request, taking into account
// X-Forwarded-For and X-Real-IP set by proxies in front of the gateway.
func RemoteIP(r *http.Request) string {
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		addr, _, _ := strings.Cut(prior, ",")
		if ip := strings.TrimSpace(addr); ip != "" {
			return ip
		}
	}

	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return strings.TrimSpace(realIP)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
