package origin

import (
	"context"
	"io"
	"net/http"
)

// cancelOnClose releases the context of an upstream request once its body is
// closed, so that a response can outlive the function that issued it.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func bindCancel(resp *http.Response, cancel context.CancelFunc) *http.Response {
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp
}

// discard closes an unwanted response body without reading it, which aborts
// the transfer instead of draining it.
func discard(resp *http.Response, cancel context.CancelFunc) {
	cancel()
	_ = resp.Body.Close()
}

// ReadSnippet reads at most n bytes of body for diagnostics.
func ReadSnippet(body io.Reader, n int64) string {
	b, err := io.ReadAll(io.LimitReader(body, n))
	if err != nil && len(b) == 0 {
		return "(unreadable)"
	}
	return string(b)
}
