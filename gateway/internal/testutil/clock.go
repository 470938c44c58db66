package testutil

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// MockClock returns a mock clock set to now, truncated to the second so that
// values survive the round trip through JWT numeric dates.
func MockClock(tb testing.TB, now time.Time) *clock.Mock {
	tb.Helper()

	c := clock.NewMock()
	c.Set(now.Truncate(time.Second))
	return c
}
