// Package validation checks the untrusted parts of a media request: the object
// key, the transform query and the Range header.
package validation

import (
	"net/url"
	"regexp"
	"strings"

	v1 "github.com/famgallery/mediagate/gateway/api/v1"
)

// MaxKeyLength is the maximum length of an object key.
const MaxKeyLength = 1024

var keyRegexp = regexp.MustCompile(`^[A-Za-z0-9/_.-]+$`)

// ValidateKey percent-decodes raw and checks it is a safe object key. The
// decoded key is returned on success. Every failure is an INVALID_KEY error
// whose detail names the violated rule.
func ValidateKey(raw string) (string, error) {
	if raw == "" {
		return "", v1.ErrorCodeInvalidKey.WithDetail("key is empty")
	}

	key, err := url.PathUnescape(raw)
	if err != nil {
		return "", v1.ErrorCodeInvalidKey.WithDetail("invalid percent-encoding")
	}
	if len(key) > MaxKeyLength {
		return "", v1.ErrorCodeInvalidKey.WithDetail("key is too long (max 1024 characters)")
	}

	if strings.Contains(key, "..") ||
		strings.HasPrefix(key, "/") ||
		strings.Contains(key, "//") ||
		strings.Contains(key, `\`) {
		return "", v1.ErrorCodeInvalidKey.WithDetail("key contains a forbidden path sequence")
	}

	if !keyRegexp.MatchString(key) {
		return "", v1.ErrorCodeInvalidKey.WithDetail("key contains forbidden characters")
	}

	return key, nil
}
