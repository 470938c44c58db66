package origin

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/famgallery/mediagate/gateway/origin/internal/metrics"
	"github.com/famgallery/mediagate/log"
)

// DefaultRangeAttempts is the number of times a ranged fetch is attempted
// before falling back to whatever the upstream returned last.
const DefaultRangeAttempts = 3

var errMissingContentRange = errors.New("successful response without Content-Range")

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// RangeFetcher fetches byte ranges from an upstream that sometimes ignores
// the Range header and answers with a full 200 response instead.
type RangeFetcher struct {
	client   Doer
	attempts int
}

// NewRangeFetcher creates a RangeFetcher that makes at most attempts requests
// per fetch. Values below one are treated as one.
func NewRangeFetcher(client Doer, attempts int) *RangeFetcher {
	if attempts < 1 {
		attempts = 1
	}
	return &RangeFetcher{client: client, attempts: attempts}
}

// Fetch sends req until a response carries a Content-Range header. A
// successful response without it is discarded and retried, while an error
// status is returned as is. When all attempts are exhausted the last response
// is returned and the degradation is logged. Cancelling ctx aborts any
// in-flight attempt.
func (f *RangeFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	var (
		last    *http.Response
		attempt int
	)

	op := func() error {
		attempt++

		attemptCtx, cancel := context.WithCancel(ctx)
		resp, err := f.client.Do(req.Clone(attemptCtx))
		if err != nil {
			cancel()
			metrics.RangeAttempt(metrics.RangeError)
			return backoff.Permanent(fmt.Errorf("fetching range: %w", err))
		}

		if resp.Header.Get("Content-Range") != "" {
			metrics.RangeAttempt(metrics.RangeAccepted)
			last = bindCancel(resp, cancel)
			return nil
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			metrics.RangeAttempt(metrics.RangeError)
			last = bindCancel(resp, cancel)
			return backoff.Permanent(fmt.Errorf("upstream status %d", resp.StatusCode))
		}

		if attempt < f.attempts {
			metrics.RangeAttempt(metrics.RangeRetried)
			discard(resp, cancel)
			return errMissingContentRange
		}

		last = bindCancel(resp, cancel)
		return errMissingContentRange
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(f.attempts-1)), ctx)
	err := backoff.Retry(op, policy)

	switch {
	case err == nil:
		return last, nil
	case last == nil:
		return nil, err
	case errors.Is(err, errMissingContentRange):
		metrics.RangeDegraded()
		log.GetLogger(log.WithContext(ctx)).WithFields(log.Fields{
			"url":      req.URL.Redacted(),
			"range":    req.Header.Get("Range"),
			"attempts": attempt,
			"status":   last.StatusCode,
		}).Warn("upstream ignored range request on every attempt, returning full response")
		return last, nil
	default:
		// error status, returned as is
		return last, nil
	}
}
