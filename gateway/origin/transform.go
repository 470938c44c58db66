package origin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/famgallery/mediagate/gateway/origin/internal/metrics"
	"gitlab.com/gitlab-org/labkit/correlation"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/idtoken"
)

const (
	// DefaultTransformTimeout bounds a transform call, body included.
	DefaultTransformTimeout = 30 * time.Second

	transformClientName = "mediagate-transform"
	tokenRefreshWindow  = 5 * time.Minute
)

// ErrTimeout is returned when the transform service does not answer within
// the configured deadline.
var ErrTimeout = errors.New("transform request timed out")

// TransformClient requests resized or re-encoded images from the transform
// service.
type TransformClient struct {
	baseURL *url.URL
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
}

// TransformOption customizes a TransformClient.
type TransformOption func(*transformOptions)

type transformOptions struct {
	transport       http.RoundTripper
	timeout         time.Duration
	credentialsFile string
	rateLimit       float64
	burst           int
}

// WithTransport sets the base transport for outgoing requests.
func WithTransport(rt http.RoundTripper) TransformOption {
	return func(o *transformOptions) {
		o.transport = rt
	}
}

// WithTimeout overrides DefaultTransformTimeout.
func WithTimeout(d time.Duration) TransformOption {
	return func(o *transformOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithCredentialsFile attaches a Google ID token, minted from the service
// account key at path for the transform URL audience, to every request.
func WithCredentialsFile(path string) TransformOption {
	return func(o *transformOptions) {
		o.credentialsFile = path
	}
}

// WithRateLimit caps the rate of transform requests. A limit of zero
// disables limiting.
func WithRateLimit(limit float64, burst int) TransformOption {
	return func(o *transformOptions) {
		o.rateLimit = limit
		o.burst = burst
	}
}

// NewTransformClient creates a TransformClient for the service at baseURL.
func NewTransformClient(ctx context.Context, baseURL string, opts ...TransformOption) (*TransformClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing transform URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("transform URL %q must be absolute", baseURL)
	}

	o := transformOptions{
		transport: http.DefaultTransport,
		timeout:   DefaultTransformTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	rt := correlation.NewInstrumentedRoundTripper(o.transport, correlation.WithClientName(transformClientName))

	if o.credentialsFile != "" {
		ts, err := idtoken.NewTokenSource(ctx, baseURL, idtoken.WithCredentialsFile(o.credentialsFile))
		if err != nil {
			return nil, fmt.Errorf("creating ID token source: %w", err)
		}
		rt = &oauth2.Transport{
			Source: oauth2.ReuseTokenSourceWithExpiry(nil, ts, tokenRefreshWindow),
			Base:   rt,
		}
	}

	c := &TransformClient{
		baseURL: u,
		client:  &http.Client{Transport: rt},
		timeout: o.timeout,
	}
	if o.rateLimit > 0 {
		burst := o.burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(o.rateLimit), burst)
	}

	return c, nil
}

// Fetch requests GET /transform/{key}?{rawQuery}. The returned body must be
// closed by the caller. Exceeding the deadline before or while reading the
// response yields ErrTimeout.
func (c *TransformClient) Fetch(ctx context.Context, key, rawQuery string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for transform rate limit: %w", err)
		}
	}

	u := c.baseURL.JoinPath("transform", key)
	u.RawQuery = rawQuery

	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating transform request: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Request(OriginTransform, 0, start)
		cancel()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return nil, fmt.Errorf("requesting transform: %w", err)
	}
	metrics.Request(OriginTransform, resp.StatusCode, start)

	return bindCancel(resp, cancel), nil
}
