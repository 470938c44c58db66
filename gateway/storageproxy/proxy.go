// Package storageproxy serves objects of an S3-compatible bucket over plain
// GET and HEAD requests, signing every upstream request with AWS Signature
// Version 4. It is the raw storage origin of the media gateway.
package storageproxy

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"
	v4 "github.com/aws/aws-sdk-go/aws/signer/v4"
	"github.com/benbjohnson/clock"
	"github.com/famgallery/mediagate/configuration"
	dcontext "github.com/famgallery/mediagate/context"
	"github.com/famgallery/mediagate/gateway/origin"
	"github.com/famgallery/mediagate/gateway/storageproxy/internal/metrics"
	"github.com/famgallery/mediagate/internal/feature"
	"github.com/famgallery/mediagate/log"
	"github.com/gorilla/handlers"
	"gitlab.com/gitlab-org/labkit/correlation"
)

// Special values of storageproxy.bucket.
const (
	// BucketFromPath takes the bucket from the first path segment and
	// addresses the endpoint path-style.
	BucketFromPath = "$path"
	// BucketFromHost takes the bucket from the first label of the request host.
	BucketFromHost = "$host"
)

const (
	signingService = "s3"
	clientName     = "mediagate-storageproxy"

	immutableCacheControl = "public, max-age=31536000, immutable"

	statusClientClosedRequest = 499
)

// devOrigin is the local frontend, always allowed for CORS.
const devOrigin = "http://localhost:3000"

// unsignableHeaders are never forwarded. Proxies in front of us add some of
// them and any of them would end up in the signature the bucket checks.
var unsignableHeaders = map[string]struct{}{
	"Accept-Encoding":     {},
	"Authorization":       {},
	"Connection":          {},
	"If-Match":            {},
	"If-Modified-Since":   {},
	"If-None-Match":       {},
	"If-Range":            {},
	"If-Unmodified-Since": {},
	"Keep-Alive":          {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"X-Forwarded-Proto":   {},
	"X-Real-Ip":           {},
	"X-Request-Id":        {},
}

var rcloneFilePrefix = regexp.MustCompile(`^file/[^/]+/`)

// Proxy is an http.Handler forwarding requests to the bucket endpoint.
type Proxy struct {
	config   configuration.StorageProxy
	endpoint *url.URL

	signer *v4.Signer
	clock  clock.Clock
	client *http.Client
	ranges *origin.RangeFetcher

	allowedHosts   map[string]struct{}
	allowedHeaders map[string]struct{}

	handler http.Handler
}

// Option customizes a Proxy.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	clock     clock.Clock
}

// WithTransport sets the transport used to reach the bucket endpoint.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// WithClock sets the clock providing signing times.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// New creates a Proxy from config.
func New(config configuration.StorageProxy, opts ...Option) (*Proxy, error) {
	o := &options{
		transport: http.DefaultTransport,
		clock:     clock.New(),
	}
	for _, opt := range opts {
		opt(o)
	}

	endpoint, err := parseEndpoint(config.Endpoint)
	if err != nil {
		return nil, err
	}
	if config.Bucket == "" {
		return nil, errors.New("storage proxy bucket is required")
	}

	client := &http.Client{
		Transport: correlation.NewInstrumentedRoundTripper(o.transport, correlation.WithClientName(clientName)),
		// S3 redirects carry no signature for the new location
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	// S3 expects object paths to be escaped once, as sent
	signer := v4.NewSigner(
		credentials.NewStaticCredentials(config.AccessKeyID, config.SecretAccessKey, ""),
		func(s *v4.Signer) {
			s.DisableURIPathEscaping = true
		},
	)

	p := &Proxy{
		config:         config,
		endpoint:       endpoint,
		signer:         signer,
		clock:          o.clock,
		client:         client,
		allowedHosts:   map[string]struct{}{"localhost": {}},
		allowedHeaders: make(map[string]struct{}),
	}
	p.ranges = origin.NewRangeFetcher(&timedDoer{client: client}, config.RangeAttempts)

	corsOrigins := []string{devOrigin}
	for _, h := range config.AllowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		p.allowedHosts[h] = struct{}{}
		corsOrigins = append(corsOrigins, "https://"+h)
	}
	for _, h := range config.AllowedHeaders {
		if h = strings.TrimSpace(h); h != "" {
			p.allowedHeaders[http.CanonicalHeaderKey(h)] = struct{}{}
		}
	}

	var h http.Handler = handlers.MethodHandler{
		http.MethodGet:  http.HandlerFunc(p.serveObject),
		http.MethodHead: http.HandlerFunc(p.serveObject),
	}
	h = handlers.CORS(
		handlers.AllowedOrigins(corsOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodHead}),
		handlers.AllowedHeaders([]string{"Range"}),
		handlers.ExposedHeaders([]string{"Content-Length", "Content-Range", "Accept-Ranges", "ETag"}),
	)(h)
	h = p.checkReferer(h)
	h = handlers.CustomLoggingHandler(io.Discard, h, logAccess)
	h = withRequestContext(h)
	p.handler = correlation.InjectCorrelationID(h, correlation.WithPropagation())

	return p, nil
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// checkReferer rejects requests whose Referer host is not allowed, unless
// they carry the configured service token.
func (p *Proxy) checkReferer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.hasServiceToken(r) {
			next.ServeHTTP(w, r)
			return
		}

		ref, err := url.Parse(r.Referer())
		if err != nil || !p.refererAllowed(ref.Hostname()) {
			metrics.Rejected(metrics.RejectReferer)
			log.GetLogger(log.WithContext(r.Context())).WithFields(log.Fields{"referer": r.Referer()}).
				Info("rejecting request from unknown referer")
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *Proxy) hasServiceToken(r *http.Request) bool {
	if p.config.AccessClientID == "" {
		return false
	}
	id := subtle.ConstantTimeCompare([]byte(r.Header.Get(origin.HeaderAccessClientID)), []byte(p.config.AccessClientID))
	secret := subtle.ConstantTimeCompare([]byte(r.Header.Get(origin.HeaderAccessClientSecret)), []byte(p.config.AccessClientSecret))
	return id&secret == 1
}

func (p *Proxy) refererAllowed(host string) bool {
	_, ok := p.allowedHosts[strings.ToLower(host)]
	return ok
}

func (p *Proxy) serveObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	target, objectPath := p.upstreamURL(r)
	l := log.GetLogger(log.WithContext(ctx)).WithFields(log.Fields{"upstream_host": target.Host, "path": objectPath})

	if isListBucketRequest(p.config.Bucket, objectPath) && !p.config.AllowListBucket {
		metrics.Rejected(metrics.RejectListBucket)
		l.Debug("refusing to list bucket")
		http.NotFound(w, r)
		return
	}

	method := http.MethodGet
	if r.Method == http.MethodHead && feature.StorageHeadPassthrough.Enabled() {
		method = http.MethodHead
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		l.WithError(err).Error("failed to create upstream request")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	req.Header = p.filterHeaders(r.Header)

	if _, err := p.signer.Sign(req, nil, signingService, p.config.Region, p.clock.Now()); err != nil {
		metrics.Rejected(metrics.RejectSignFailure)
		l.WithError(err).Error("failed to sign upstream request")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var resp *http.Response
	if req.Header.Get("Range") != "" {
		resp, err = p.ranges.Fetch(ctx, req)
	} else {
		resp, err = (&timedDoer{client: p.client}).Do(req)
	}
	if err != nil {
		if ctx.Err() != nil {
			w.WriteHeader(statusClientClosedRequest)
			l.WithError(err).Warn("client disconnected before upstream responded")
			return
		}
		l.WithError(err).Error("upstream request failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for name, values := range resp.Header {
		header[name] = values
	}
	p.decorate(header, resp.StatusCode)
	w.WriteHeader(resp.StatusCode)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		l.WithError(err).Warn("failed to stream object")
	}
}

// upstreamURL maps r onto the bucket endpoint. It also returns the request
// path without its leading and trailing slashes.
func (p *Proxy) upstreamURL(r *http.Request) (*url.URL, string) {
	objectPath := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), "/")

	u := &url.URL{
		Scheme:   p.endpoint.Scheme,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}

	switch p.config.Bucket {
	case BucketFromPath:
		u.Host = p.endpoint.Host
	case BucketFromHost:
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		label, _, _ := strings.Cut(host, ".")
		u.Host = label + "." + p.endpoint.Host
	default:
		u.Host = p.config.Bucket + "." + p.endpoint.Host
	}

	if p.config.RcloneDownload {
		u.RawPath = ""
		if p.config.Bucket == BucketFromPath {
			u.Path = "/" + strings.TrimPrefix(objectPath, "file/")
		} else {
			u.Path = "/" + rcloneFilePrefix.ReplaceAllString(objectPath, "")
		}
	}

	return u, objectPath
}

func isListBucketRequest(bucket, objectPath string) bool {
	if bucket == BucketFromPath {
		return len(strings.Split(objectPath, "/")) < 2
	}
	return objectPath == ""
}

// filterHeaders returns the inbound headers that may be signed and forwarded.
func (p *Proxy) filterHeaders(in http.Header) http.Header {
	out := make(http.Header)
	for name, values := range in {
		name = http.CanonicalHeaderKey(name)
		if _, ok := unsignableHeaders[name]; ok {
			continue
		}
		if strings.HasPrefix(name, "Cf-") {
			continue
		}
		if len(p.allowedHeaders) > 0 {
			if _, ok := p.allowedHeaders[name]; !ok {
				continue
			}
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

// decorate sets the long-lived caching headers of media objects on
// successful responses.
func (p *Proxy) decorate(h http.Header, status int) {
	if status < 200 || status > 299 {
		return
	}

	h.Set("Cache-Control", immutableCacheControl)
	h.Set("Vary", "Accept-Encoding, Accept")
	h.Set("Accept-Ranges", "bytes")
	if h.Get("Last-Modified") == "" {
		h.Set("Last-Modified", p.clock.Now().UTC().Format(http.TimeFormat))
	}
}

func parseEndpoint(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("storage proxy endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing storage proxy endpoint: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("storage proxy endpoint %q has no host", raw)
	}

	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

// timedDoer records upstream request metrics for every attempt.
type timedDoer struct {
	client *http.Client
}

func (d *timedDoer) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		metrics.Upstream(req.Method, 0, start)
		return nil, err
	}
	metrics.Upstream(req.Method, resp.StatusCode, start)
	return resp, nil
}

func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(dcontext.WithRequest(r.Context(), r)))
	})
}

func logAccess(_ io.Writer, params handlers.LogFormatterParams) {
	log.GetLogger(log.WithContext(params.Request.Context())).WithFields(log.Fields{
		"status":     params.StatusCode,
		"size":       params.Size,
		"duration_s": time.Since(params.TimeStamp).Seconds(),
	}).Info("request completed")
}
