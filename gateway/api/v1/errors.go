// Package v1 declares the error codes returned by the media endpoints.
package v1

import (
	"net/http"

	"github.com/famgallery/mediagate/gateway/api/errcode"
)

const errGroup = "mediagate.api.v1"

// ErrorCodeInvalidKey is returned when the object key in the request path is
// malformed or attempts path traversal.
var ErrorCodeInvalidKey = errcode.Register(errGroup, errcode.ErrorDescriptor{
	Value:          "INVALID_KEY",
	Message:        "invalid object key",
	Description:    "The object key is empty, too long, cannot be decoded, or contains forbidden characters or sequences",
	HTTPStatusCode: http.StatusBadRequest,
})

// ErrorCodeInvalidParameter is returned when a transform query parameter is
// out of range or not supported.
var ErrorCodeInvalidParameter = errcode.Register(errGroup, errcode.ErrorDescriptor{
	Value:          "INVALID_PARAMETER",
	Message:        "invalid query parameter",
	Description:    "A transform query parameter (w, h, f or q) is not an accepted value",
	HTTPStatusCode: http.StatusBadRequest,
})

// ErrorCodeInvalidRange is returned when the Range header cannot be served.
var ErrorCodeInvalidRange = errcode.Register(errGroup, errcode.ErrorDescriptor{
	Value:          "INVALID_RANGE",
	Message:        "invalid range header",
	Description:    "The Range header is malformed or requests bytes beyond the supported maximum",
	HTTPStatusCode: http.StatusBadRequest,
})

// ErrorCodeNotFound is returned when the origin does not know the object.
var ErrorCodeNotFound = errcode.Register(errGroup, errcode.ErrorDescriptor{
	Value:          "NOT_FOUND",
	Message:        "not found",
	Description:    "The requested object does not exist in the origin",
	HTTPStatusCode: http.StatusNotFound,
})

// ErrorCodeTransformFailed is returned when the transform service could not
// process the source image.
var ErrorCodeTransformFailed = errcode.Register(errGroup, errcode.ErrorDescriptor{
	Value:          "TRANSFORM_FAILED",
	Message:        "transform failed",
	Description:    "The image transform service rejected the source object",
	HTTPStatusCode: http.StatusUnprocessableEntity,
})

// ErrorCodeFetchFailed is returned for any other origin failure.
var ErrorCodeFetchFailed = errcode.Register(errGroup, errcode.ErrorDescriptor{
	Value:          "FETCH_FAILED",
	Message:        "failed to fetch from origin",
	Description:    "The origin returned an unexpected status or could not be reached",
	HTTPStatusCode: http.StatusBadGateway,
})

// ErrorCodeTimeout is returned when the transform service did not answer in time.
var ErrorCodeTimeout = errcode.Register(errGroup, errcode.ErrorDescriptor{
	Value:          "TIMEOUT",
	Message:        "origin timeout",
	Description:    "The transform service did not respond within the configured timeout",
	HTTPStatusCode: http.StatusGatewayTimeout,
})

// ErrorCodeMethodNotAllowed is returned for methods other than GET and HEAD.
var ErrorCodeMethodNotAllowed = errcode.Register(errGroup, errcode.ErrorDescriptor{
	Value:          "METHOD_NOT_ALLOWED",
	Message:        "method not allowed",
	Description:    "Media endpoints only support GET and HEAD",
	HTTPStatusCode: http.StatusMethodNotAllowed,
})
