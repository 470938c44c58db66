package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildKey(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		download bool
		want     string
	}{
		{
			name: "no query",
			url:  "https://cdn.example.com/images/a.jpg",
			want: "https://cdn.example.com/images/a.jpg",
		},
		{
			name: "allow-list order",
			url:  "https://cdn.example.com/images/a.jpg?q=80&f=webp&h=300&w=400",
			want: "https://cdn.example.com/images/a.jpg?w=400&h=300&f=webp&q=80",
		},
		{
			name: "unknown params dropped",
			url:  "https://cdn.example.com/images/a.jpg?w=400&utm_source=x&cb=123",
			want: "https://cdn.example.com/images/a.jpg?w=400",
		},
		{
			name: "numeric canonicalization",
			url:  "https://cdn.example.com/images/a.jpg?w=0400&h=300.0&q=8e1",
			want: "https://cdn.example.com/images/a.jpg?w=400&h=300&q=80",
		},
		{
			name: "format lower-cased",
			url:  "https://cdn.example.com/images/a.jpg?f=WEBP",
			want: "https://cdn.example.com/images/a.jpg?f=webp",
		},
		{
			name: "non numeric collapses",
			url:  "https://cdn.example.com/images/a.jpg?w=abc",
			want: "https://cdn.example.com/images/a.jpg?w=NaN",
		},
		{
			name: "empty numeric",
			url:  "https://cdn.example.com/images/a.jpg?w=",
			want: "https://cdn.example.com/images/a.jpg?w=0",
		},
		{
			name:     "download drops transform params",
			url:      "https://cdn.example.com/images/a.jpg?w=400&f=webp&download=1",
			download: true,
			want:     "https://cdn.example.com/images/a.jpg?download=true",
		},
		{
			name: "host lower-cased",
			url:  "https://CDN.Example.com/images/A.jpg",
			want: "https://cdn.example.com/images/A.jpg",
		},
		{
			name: "hex float collapses",
			url:  "https://cdn.example.com/images/a.jpg?w=0x1p4",
			want: "https://cdn.example.com/images/a.jpg?w=NaN",
		},
		{
			name: "overflow is infinite",
			url:  "https://cdn.example.com/images/a.jpg?w=1e400&h=-1e400",
			want: "https://cdn.example.com/images/a.jpg?w=Infinity&h=-Infinity",
		},
		{
			name: "fragment dropped",
			url:  "https://cdn.example.com/images/a.jpg#frag",
			want: "https://cdn.example.com/images/a.jpg",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := BuildKey(test.url, test.download)
			require.NoError(t, err)
			require.Equal(t, test.want, got)
		})
	}
}

func TestBuildKey_EquivalentRequestsCollide(t *testing.T) {
	a, err := BuildKey("https://cdn.example.com/images/a.jpg?w=0400&f=WEBP&x=1", false)
	require.NoError(t, err)
	b, err := BuildKey("https://cdn.example.com/images/a.jpg?f=webp&w=400", false)
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := BuildKey("https://cdn.example.com/images/a.jpg?f=webp&w=400", true)
	require.NoError(t, err)
	require.NotEqual(t, b, c)
}

func TestBuildKey_Idempotent(t *testing.T) {
	urls := map[string]string{
		"plain":              "https://cdn.example.com/images/a.jpg",
		"canonicalized":      "https://CDN.example.com/images/a.jpg?w=0400&f=AVIF&evil=1",
		"infinity and zero":  "https://cdn.example.com/images/a.jpg?w=1e400&h=-0",
		"negative infinity":  "https://cdn.example.com/images/a.jpg?w=-1e400",
		"not a number":       "https://cdn.example.com/images/a.jpg?w=abc&q=0x1p4",
		"empty values":       "https://cdn.example.com/images/a.jpg?w=&h=&f=&q=",
		"encoded path":       "https://cdn.example.com/images/a%2Fb.jpg?w=400",
		"escaped format":     "https://cdn.example.com/images/a.jpg?f=a%20b%2Bc",
		"download parameter": "https://cdn.example.com/images/a.jpg?download=true&w=400",
	}

	for name, u := range urls {
		for _, download := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s download=%t", name, download), func(t *testing.T) {
				once, err := BuildKey(u, download)
				require.NoError(t, err)
				twice, err := BuildKey(once, download)
				require.NoError(t, err)
				require.Equal(t, once, twice)
			})
		}
	}
}

func TestBuildKey_Invalid(t *testing.T) {
	_, err := BuildKey("/images/a.jpg", false)
	require.Error(t, err)

	_, err = BuildKey("://bad", false)
	require.Error(t, err)
}
