package origin_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/famgallery/mediagate/gateway/origin"
	"github.com/famgallery/mediagate/log"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const objectBody = "0123456789abcdefghijklmnopqrstuvwxyz"

// rangeServer answers the first ignored requests with a full 200 response and
// every later one with a proper 206.
func rangeServer(t *testing.T, ignored int32, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)

		if status != 0 {
			http.Error(w, "upstream failure", status)
			return
		}

		if r.Header.Get("Range") != "bytes=0-9" {
			http.Error(w, "missing range", http.StatusBadRequest)
			return
		}

		if n <= ignored {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, objectBody)
			return
		}

		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-9/%d", len(objectBody)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = io.WriteString(w, objectBody[:10])
	}))
	t.Cleanup(srv.Close)

	return srv, &calls
}

func rangeRequest(t *testing.T, ctx context.Context, url string) *http.Request {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-9")
	return req
}

func testLogger(t *testing.T, ctx context.Context) (context.Context, *logtest.Hook) {
	t.Helper()

	logger, hook := logtest.NewNullLogger()
	return log.WithLogger(ctx, log.NewEntry(logrus.NewEntry(logger))), hook
}

func TestRangeFetcher_Fetch(t *testing.T) {
	tt := map[string]struct {
		ignored          int32
		status           int
		attempts         int
		expectedStatus   int
		expectedBody     string
		expectedCalls    int32
		expectedWarnings int
	}{
		"accepted on first attempt": {
			attempts:       3,
			expectedStatus: http.StatusPartialContent,
			expectedBody:   objectBody[:10],
			expectedCalls:  1,
		},
		"accepted on third attempt": {
			ignored:        2,
			attempts:       3,
			expectedStatus: http.StatusPartialContent,
			expectedBody:   objectBody[:10],
			expectedCalls:  3,
		},
		"exhausted": {
			ignored:          100,
			attempts:         3,
			expectedStatus:   http.StatusOK,
			expectedBody:     objectBody,
			expectedCalls:    3,
			expectedWarnings: 1,
		},
		"single attempt": {
			ignored:          100,
			attempts:         1,
			expectedStatus:   http.StatusOK,
			expectedBody:     objectBody,
			expectedCalls:    1,
			expectedWarnings: 1,
		},
		"error status is not retried": {
			status:         http.StatusInternalServerError,
			attempts:       3,
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "upstream failure\n",
			expectedCalls:  1,
		},
		"unsatisfiable range is not retried": {
			status:         http.StatusRequestedRangeNotSatisfiable,
			attempts:       3,
			expectedStatus: http.StatusRequestedRangeNotSatisfiable,
			expectedBody:   "upstream failure\n",
			expectedCalls:  1,
		},
	}

	for name, test := range tt {
		t.Run(name, func(t *testing.T) {
			srv, calls := rangeServer(t, test.ignored, test.status)
			ctx, hook := testLogger(t, context.Background())

			f := origin.NewRangeFetcher(srv.Client(), test.attempts)
			resp, err := f.Fetch(ctx, rangeRequest(t, ctx, srv.URL+"/video.mp4"))
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			require.Equal(t, test.expectedStatus, resp.StatusCode)
			require.Equal(t, test.expectedBody, string(body))
			require.Equal(t, test.expectedCalls, calls.Load())

			var warnings int
			for _, e := range hook.AllEntries() {
				if e.Level == logrus.WarnLevel {
					warnings++
					require.Equal(t, int(test.expectedCalls), e.Data["attempts"])
				}
			}
			require.Equal(t, test.expectedWarnings, warnings)
		})
	}
}

func TestRangeFetcher_Fetch_TransportError(t *testing.T) {
	srv, _ := rangeServer(t, 0, 0)
	url := srv.URL
	srv.Close()

	f := origin.NewRangeFetcher(http.DefaultClient, 3)
	resp, err := f.Fetch(context.Background(), rangeRequest(t, context.Background(), url))
	require.Error(t, err)
	require.Nil(t, resp)
}

func TestRangeFetcher_Fetch_Canceled(t *testing.T) {
	srv, calls := rangeServer(t, 100, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := origin.NewRangeFetcher(srv.Client(), 3)
	resp, err := f.Fetch(ctx, rangeRequest(t, ctx, srv.URL))
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, resp)
	require.Zero(t, calls.Load())
}
