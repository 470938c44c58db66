package handlers

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/famgallery/mediagate/configuration"
	"github.com/stretchr/testify/require"
)

func TestCaptureBuffer(t *testing.T) {
	tests := map[string]struct {
		limit         int64
		writes        []string
		wantTruncated bool
		want          string
	}{
		"unlimited": {
			writes: []string{"abc", "def"},
			want:   "abcdef",
		},
		"exactly at limit": {
			limit:  6,
			writes: []string{"abc", "def"},
			want:   "abcdef",
		},
		"over limit": {
			limit:         5,
			writes:        []string{"abc", "def", "ghi"},
			wantTruncated: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			b := newCaptureBuffer(test.limit)
			for _, w := range test.writes {
				n, err := b.Write([]byte(w))
				require.NoError(t, err)
				require.Equal(t, len(w), n)
			}

			require.Equal(t, test.wantTruncated, b.Truncated())
			require.Equal(t, test.want, string(b.Bytes()))
		})
	}
}

func TestCaptureBuffer_MultiWriter(t *testing.T) {
	var client strings.Builder
	b := newCaptureBuffer(4)

	_, err := io.Copy(io.MultiWriter(&client, b), strings.NewReader("0123456789"))
	require.NoError(t, err)
	require.Equal(t, "0123456789", client.String())
	require.True(t, b.Truncated())
}

func TestCopyPassthroughHeaders(t *testing.T) {
	src := http.Header{}
	src.Set("Content-Type", "image/png")
	src.Set("ETag", `"v1"`)
	src.Set("Set-Cookie", "a=b")
	src.Set("Server", "origin")
	src.Set("Content-Range", "bytes 0-1/2")

	dst := http.Header{}
	copyPassthroughHeaders(dst, src)

	require.Equal(t, http.Header{
		"Content-Type":  []string{"image/png"},
		"Etag":          []string{`"v1"`},
		"Content-Range": []string{"bytes 0-1/2"},
	}, dst)
}

func TestRequestURL(t *testing.T) {
	tests := map[string]struct {
		host   string
		target string
		header http.Header
		tls    bool
		want   string
	}{
		"request host": {
			target: "/images/cat.jpg?w=1",
			want:   "http://example.com/images/cat.jpg?w=1",
		},
		"configured host": {
			host:   "media.example.com",
			target: "/images/cat.jpg",
			want:   "https://media.example.com/images/cat.jpg",
		},
		"configured host ignores client origin": {
			host:   "media.example.com",
			target: "http://attacker.example.net/images/cat.jpg",
			header: http.Header{"X-Forwarded-Proto": []string{"http"}},
			want:   "https://media.example.com/images/cat.jpg",
		},
		"tls": {
			target: "/images/cat.jpg",
			tls:    true,
			want:   "https://example.com/images/cat.jpg",
		},
		"forwarded proto": {
			target: "/images/cat.jpg",
			header: http.Header{"X-Forwarded-Proto": []string{"HTTPS"}},
			want:   "https://example.com/images/cat.jpg",
		},
		"encoded path is kept": {
			target: "/images/a%2Fb.jpg",
			want:   "http://example.com/images/a%2Fb.jpg",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			app := &App{Config: &configuration.Configuration{HTTP: configuration.HTTP{Host: test.host}}}

			r := httptest.NewRequest(http.MethodGet, test.target, nil)
			for k, v := range test.header {
				r.Header[k] = v
			}
			if test.tls {
				r.TLS = &tls.ConnectionState{}
			}

			require.Equal(t, test.want, app.requestURL(r))
		})
	}
}
