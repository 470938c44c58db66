package origin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/famgallery/mediagate/gateway/origin/internal/metrics"
	"gitlab.com/gitlab-org/labkit/correlation"
)

const storageClientName = "mediagate-storage"

// Service token headers sent to the storage proxy.
const (
	HeaderAccessClientID     = "CF-Access-Client-Id"
	HeaderAccessClientSecret = "CF-Access-Client-Secret"
)

// StorageClient fetches original object bytes from the raw storage proxy.
// Only the Range header of the inbound request is ever forwarded, since
// anything else breaks the signature the proxy computes for the bucket.
type StorageClient struct {
	baseURL      *url.URL
	client       *http.Client
	ranges       *RangeFetcher
	accessID     string
	accessSecret string
}

// StorageOption customizes a StorageClient.
type StorageOption func(*storageOptions)

type storageOptions struct {
	transport     http.RoundTripper
	rangeAttempts int
	accessID      string
	accessSecret  string
}

// WithStorageTransport sets the base transport for outgoing requests.
func WithStorageTransport(rt http.RoundTripper) StorageOption {
	return func(o *storageOptions) {
		o.transport = rt
	}
}

// WithRangeAttempts overrides DefaultRangeAttempts.
func WithRangeAttempts(n int) StorageOption {
	return func(o *storageOptions) {
		if n > 0 {
			o.rangeAttempts = n
		}
	}
}

// WithAccessCredentials sends service token headers with every request when
// the storage proxy sits behind an access gateway.
func WithAccessCredentials(id, secret string) StorageOption {
	return func(o *storageOptions) {
		o.accessID = id
		o.accessSecret = secret
	}
}

// NewStorageClient creates a StorageClient for the proxy at baseURL.
func NewStorageClient(baseURL string, opts ...StorageOption) (*StorageClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing storage URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("storage URL %q must be absolute", baseURL)
	}

	o := storageOptions{
		transport:     http.DefaultTransport,
		rangeAttempts: DefaultRangeAttempts,
	}
	for _, opt := range opts {
		opt(&o)
	}

	client := &http.Client{
		Transport: correlation.NewInstrumentedRoundTripper(o.transport, correlation.WithClientName(storageClientName)),
	}

	return &StorageClient{
		baseURL:      u,
		client:       client,
		ranges:       NewRangeFetcher(&timedDoer{client: client}, o.rangeAttempts),
		accessID:     o.accessID,
		accessSecret: o.accessSecret,
	}, nil
}

// Fetch requests GET /{key}. When rangeHeader is set the request goes
// through the RangeFetcher.
func (c *StorageClient) Fetch(ctx context.Context, key, rangeHeader string) (*http.Response, error) {
	u := c.baseURL.JoinPath(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating storage request: %w", err)
	}
	if c.accessID != "" {
		req.Header.Set(HeaderAccessClientID, c.accessID)
		req.Header.Set(HeaderAccessClientSecret, c.accessSecret)
	}

	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
		return c.ranges.Fetch(ctx, req)
	}

	resp, err := (&timedDoer{client: c.client}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting storage: %w", err)
	}
	return resp, nil
}

// timedDoer records origin request metrics for every attempt.
type timedDoer struct {
	client *http.Client
}

func (d *timedDoer) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		metrics.Request(OriginStorage, 0, start)
		return nil, err
	}
	metrics.Request(OriginStorage, resp.StatusCode, start)
	return resp, nil
}
