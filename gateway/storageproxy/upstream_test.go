package storageproxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/famgallery/mediagate/configuration"
	"github.com/stretchr/testify/require"
)

func TestUpstreamURL(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		rclone   bool
		target   string
		wantURL  string
		wantPath string
	}{
		{
			name:     "fixed bucket",
			bucket:   "photos",
			target:   "http://cdn.example.com/2024/cat.jpg?versionId=3",
			wantURL:  "https://photos.s3.example.com/2024/cat.jpg?versionId=3",
			wantPath: "2024/cat.jpg",
		},
		{
			name:     "bucket from path",
			bucket:   BucketFromPath,
			target:   "http://cdn.example.com/photos/2024/cat.jpg",
			wantURL:  "https://s3.example.com/photos/2024/cat.jpg",
			wantPath: "photos/2024/cat.jpg",
		},
		{
			name:     "bucket from host",
			bucket:   BucketFromHost,
			target:   "http://videos.cdn.example.com:8081/clip.mp4",
			wantURL:  "https://videos.s3.example.com/clip.mp4",
			wantPath: "clip.mp4",
		},
		{
			name:     "trailing slash",
			bucket:   "photos",
			target:   "http://cdn.example.com/2024/",
			wantURL:  "https://photos.s3.example.com/2024/",
			wantPath: "2024",
		},
		{
			name:     "encoded path is kept",
			bucket:   "photos",
			target:   "http://cdn.example.com/a%20b.jpg",
			wantURL:  "https://photos.s3.example.com/a%20b.jpg",
			wantPath: "a b.jpg",
		},
		{
			name:     "rclone fixed bucket",
			bucket:   "photos",
			rclone:   true,
			target:   "http://cdn.example.com/file/photos/2024/cat.jpg",
			wantURL:  "https://photos.s3.example.com/2024/cat.jpg",
			wantPath: "file/photos/2024/cat.jpg",
		},
		{
			name:     "rclone bucket from path",
			bucket:   BucketFromPath,
			rclone:   true,
			target:   "http://cdn.example.com/file/photos/2024/cat.jpg",
			wantURL:  "https://s3.example.com/photos/2024/cat.jpg",
			wantPath: "file/photos/2024/cat.jpg",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p, err := New(configuration.StorageProxy{
				Endpoint:       "s3.example.com",
				Bucket:         test.bucket,
				RcloneDownload: test.rclone,
			})
			require.NoError(t, err)

			u, path := p.upstreamURL(httptest.NewRequest(http.MethodGet, test.target, nil))
			require.Equal(t, test.wantURL, u.String())
			require.Equal(t, test.wantPath, path)
		})
	}
}

func TestIsListBucketRequest(t *testing.T) {
	require.True(t, isListBucketRequest("photos", ""))
	require.False(t, isListBucketRequest("photos", "cat.jpg"))
	require.True(t, isListBucketRequest(BucketFromPath, ""))
	require.True(t, isListBucketRequest(BucketFromPath, "photos"))
	require.False(t, isListBucketRequest(BucketFromPath, "photos/cat.jpg"))
	require.True(t, isListBucketRequest(BucketFromHost, ""))
}

func TestFilterHeaders(t *testing.T) {
	in := http.Header{
		"Range":             []string{"bytes=0-1"},
		"Accept":            []string{"*/*"},
		"Accept-Encoding":   []string{"gzip"},
		"Cf-Ray":            []string{"abc"},
		"Cf-Connecting-Ip":  []string{"203.0.113.7"},
		"X-Forwarded-Proto": []string{"https"},
		"X-Real-Ip":         []string{"203.0.113.7"},
		"If-Modified-Since": []string{"Mon, 01 Jan 2024 00:00:00 GMT"},
		"Connection":        []string{"keep-alive"},
		"Authorization":     []string{"Bearer x"},
	}

	tests := map[string]struct {
		allowed []string
		want    http.Header
	}{
		"all signable": {
			want: http.Header{
				"Range":  []string{"bytes=0-1"},
				"Accept": []string{"*/*"},
			},
		},
		"allow-list": {
			allowed: []string{"range", "x-real-ip"},
			want: http.Header{
				"Range": []string{"bytes=0-1"},
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			p, err := New(configuration.StorageProxy{
				Endpoint:       "s3.example.com",
				Bucket:         "photos",
				AllowedHeaders: test.allowed,
			})
			require.NoError(t, err)

			require.Equal(t, test.want, p.filterHeaders(in))
		})
	}
}
