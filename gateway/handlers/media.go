package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/famgallery/mediagate/gateway/api/errcode"
	"github.com/famgallery/mediagate/gateway/cache"
	"github.com/famgallery/mediagate/gateway/origin"
	"github.com/famgallery/mediagate/gateway/validation"
	"github.com/famgallery/mediagate/internal/feature"
	"github.com/famgallery/mediagate/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"gitlab.com/gitlab-org/labkit/errortracking"
)

// mediaDispatcher uses the request context to build a mediaHandler.
func mediaDispatcher(ctx *Context, r *http.Request) http.Handler {
	mh := &mediaHandler{
		Context: ctx,
		RawKey:  mux.Vars(r)["key"],
	}

	return handlers.MethodHandler{
		http.MethodGet:  http.HandlerFunc(mh.GetMedia),
		http.MethodHead: http.HandlerFunc(mh.GetMedia),
	}
}

// mediaHandler serves media objects from the edge cache or their origin.
type mediaHandler struct {
	*Context

	// RawKey is the object key as it appears in the request path, still
	// percent-encoded.
	RawKey string
}

// GetMedia serves GET and HEAD requests for a media object. HEAD goes
// through the same steps as GET and only drops the body.
func (mh *mediaHandler) GetMedia(w http.ResponseWriter, r *http.Request) {
	key, err := validation.ValidateKey(mh.RawKey)
	if err != nil {
		mh.Errors = append(mh.Errors, err)
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		if err := validation.ValidateRange(rangeHeader); err != nil {
			mh.Errors = append(mh.Errors, err)
			return
		}
	}

	query := r.URL.Query()
	download := query.Get("download") == "true"

	cacheKey, err := cache.BuildKey(mh.App.requestURL(r), download)
	if err != nil {
		mh.unexpected(r, fmt.Errorf("building cache key: %w", err))
		return
	}

	l := log.GetLogger(log.WithContext(mh)).WithFields(log.Fields{"key": key, "cache_key": cacheKey})

	entry, err := mh.App.store.Match(mh, cacheKey)
	switch {
	case err == nil:
		l.Debug("serving media from cache")
		serveEntry(w, r, entry)
		return
	case errors.Is(err, cache.ErrCacheMiss):
	default:
		l.WithError(err).Warn("cache lookup failed, fetching from origin")
	}

	req := origin.Request{
		Key:      key,
		Query:    query,
		Download: download,
		CacheKey: cacheKey,
		Range:    rangeHeader,
	}

	choice, err := mh.App.origins.Route(req)
	if err != nil {
		mh.Errors = append(mh.Errors, err)
		return
	}
	l = l.WithFields(log.Fields{"origin": choice.Origin, "media_kind": choice.Kind})

	resp, err := mh.App.origins.Fetch(mh, choice, req)
	if err != nil {
		if clientGone(r) {
			w.WriteHeader(statusClientClosedRequest)
			l.WithError(err).Warn("client disconnected while fetching from origin")
			return
		}
		l.WithError(err).Error("failed to fetch from origin")
		mh.Errors = append(mh.Errors, origin.MapFetchError(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logOriginError(l, resp)
		mh.Errors = append(mh.Errors, origin.MapOriginStatus(resp.StatusCode))
		return
	}

	mh.serveOrigin(w, r, l, resp, key, cacheKey, download)
}

// serveOrigin streams a successful origin response to the client and, when it
// is a complete 200 response small enough, hands a copy to the cache writer.
func (mh *mediaHandler) serveOrigin(w http.ResponseWriter, r *http.Request, l log.Logger, resp *http.Response, key, cacheKey string, download bool) {
	header := make(http.Header)
	copyPassthroughHeaders(header, resp.Header)
	header.Set("Cache-Control", immutableCacheControl)
	if download {
		header.Set("Content-Disposition", validation.ContentDisposition(key))
	}

	setHeaders(w.Header(), header)
	w.Header().Set(headerXCache, cacheMiss)

	writer := mh.App.writer
	maxBytes := mh.App.Config.Cache.MaxEntryBytes

	cacheable := writer != nil && resp.StatusCode == http.StatusOK
	if cacheable && maxBytes > 0 && resp.ContentLength > maxBytes {
		writer.Skip(mh, cacheKey, "response exceeds cache.maxentrybytes")
		cacheable = false
	}

	w.WriteHeader(resp.StatusCode)

	var dst io.Writer = w
	if r.Method == http.MethodHead {
		dst = io.Discard
	}

	var capture *captureBuffer
	if cacheable {
		capture = newCaptureBuffer(maxBytes)
		dst = io.MultiWriter(dst, capture)
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		if clientGone(r) {
			l.WithError(err).Warn("client disconnected while streaming media")
			return
		}
		// headers are out, all that can be done is to cut the response short
		l.WithError(err).Error("failed to stream origin response")
		return
	}

	if capture == nil {
		return
	}
	if capture.Truncated() {
		writer.Skip(mh, cacheKey, "response exceeds cache.maxentrybytes")
		return
	}

	writer.Submit(mh, cacheKey, &cache.Entry{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       capture.Bytes(),
	})
}

// unexpected records err as an internal failure. The client only sees a
// generic error.
func (mh *mediaHandler) unexpected(r *http.Request, err error) {
	log.GetLogger(log.WithContext(mh)).WithError(err).Error("unexpected error serving media")
	errortracking.Capture(err, errortracking.WithContext(mh), errortracking.WithRequest(r))
	mh.Errors = append(mh.Errors, errcode.ErrorCodeUnknown)
}

// serveEntry writes a cached response. Range and conditional requests are
// answered from the cached body.
func serveEntry(w http.ResponseWriter, r *http.Request, entry *cache.Entry) {
	setHeaders(w.Header(), entry.Header)
	w.Header().Set(headerXCache, cacheHit)
	// recomputed by ServeContent for the range actually served
	w.Header().Del("Content-Length")

	modtime, _ := http.ParseTime(entry.Header.Get("Last-Modified"))
	http.ServeContent(w, r, "", modtime, bytes.NewReader(entry.Body))
}

func logOriginError(l log.Logger, resp *http.Response) {
	fields := log.Fields{"origin_status": resp.StatusCode}
	if feature.OriginErrorBodyLogging.Enabled() {
		fields["origin_body"] = origin.ReadSnippet(resp.Body, originBodySnippetSize)
	}
	l = l.WithFields(fields)

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusUnprocessableEntity:
		l.Warn("origin rejected media request")
	default:
		l.Error("origin failed to serve media request")
	}
}
