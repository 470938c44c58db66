// Package origin decides which upstream serves a cache miss and talks to it:
// the image transform service or the raw storage proxy.
package origin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/famgallery/mediagate/gateway/api/errcode"
	v1 "github.com/famgallery/mediagate/gateway/api/v1"
	"github.com/famgallery/mediagate/gateway/validation"
)

// Origin names, also used as metric and log labels.
const (
	OriginTransform = "transform"
	OriginStorage   = "storage"
)

// MediaKind classifies an object by its file extension.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
	MediaKindOther MediaKind = "other"
)

var (
	imageExtensions = map[string]struct{}{
		"avif": {}, "webp": {}, "jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "bmp": {}, "tiff": {}, "svg": {},
	}
	videoExtensions = map[string]struct{}{
		"mp4": {}, "webm": {}, "mov": {}, "m4v": {}, "ogg": {}, "ogv": {},
	}
)

// InferMediaKind returns the media kind of key based on its extension,
// ignoring case.
func InferMediaKind(key string) MediaKind {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(key), "."))
	if _, ok := imageExtensions[ext]; ok {
		return MediaKindImage
	}
	if _, ok := videoExtensions[ext]; ok {
		return MediaKindVideo
	}
	return MediaKindOther
}

// Request is the part of an inbound request relevant to routing.
type Request struct {
	// Key is the validated, decoded object key.
	Key string
	// Query holds the inbound query parameters.
	Query url.Values
	// Download is set for download=true requests.
	Download bool
	// CacheKey is the canonical URL built for the request. Its query is what
	// the transform service receives.
	CacheKey string
	// Range is the inbound Range header, forwarded to storage only.
	Range string
}

// Choice is the upstream selected for a request.
type Choice struct {
	Origin string
	Kind   MediaKind
	Params validation.TransformParams
}

// Transformer fetches a transformed image.
type Transformer interface {
	Fetch(ctx context.Context, key, rawQuery string) (*http.Response, error)
}

// Storage fetches original object bytes.
type Storage interface {
	Fetch(ctx context.Context, key, rangeHeader string) (*http.Response, error)
}

// Router routes cache misses to the transform service or raw storage.
type Router struct {
	transform Transformer
	storage   Storage
}

// NewRouter creates a Router.
func NewRouter(transform Transformer, storage Storage) *Router {
	return &Router{transform: transform, storage: storage}
}

// Route picks the upstream for req. Downloads and non-image objects always go
// to storage and ignore transform parameters. Images go to the transform
// service once their parameters validate.
func (r *Router) Route(req Request) (Choice, error) {
	kind := InferMediaKind(req.Key)

	if req.Download || kind != MediaKindImage {
		return Choice{Origin: OriginStorage, Kind: kind}, nil
	}

	params, err := validation.ParseTransformParams(req.Query)
	if err != nil {
		return Choice{}, err
	}

	return Choice{Origin: OriginTransform, Kind: kind, Params: params}, nil
}

// Fetch performs the upstream call for choice. The caller owns the response
// body.
func (r *Router) Fetch(ctx context.Context, choice Choice, req Request) (*http.Response, error) {
	switch choice.Origin {
	case OriginTransform:
		var rawQuery string
		if u, err := url.Parse(req.CacheKey); err == nil {
			rawQuery = u.RawQuery
		}
		return r.transform.Fetch(ctx, req.Key, rawQuery)
	case OriginStorage:
		return r.storage.Fetch(ctx, req.Key, req.Range)
	default:
		return nil, fmt.Errorf("unknown origin %q", choice.Origin)
	}
}

// MapOriginStatus maps a non-2xx upstream status to the error reported to the
// client. Only 404 and 422 are passed through; every other status means the
// origin is failing and becomes a 502.
func MapOriginStatus(status int) errcode.ErrorCode {
	switch status {
	case http.StatusNotFound:
		return v1.ErrorCodeNotFound
	case http.StatusUnprocessableEntity:
		return v1.ErrorCodeTransformFailed
	default:
		return v1.ErrorCodeFetchFailed
	}
}

// MapFetchError maps an error that prevented an upstream response from being
// received.
func MapFetchError(err error) errcode.ErrorCode {
	if errors.Is(err, ErrTimeout) {
		return v1.ErrorCodeTimeout
	}
	return v1.ErrorCodeFetchFailed
}
