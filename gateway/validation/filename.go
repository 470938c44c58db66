package validation

import (
	"net/url"
	"path"
	"regexp"
)

var unsafeFilenameChars = regexp.MustCompile(`[^\w\-.]`)

// SanitizeFilename returns the last path element of key with every character
// outside [A-Za-z0-9_.-] replaced by an underscore, percent-encoded for use
// in an RFC 5987 filename* parameter.
func SanitizeFilename(key string) string {
	name := path.Base(key)
	if name == "." || name == "/" {
		name = key
	}
	return url.PathEscape(unsafeFilenameChars.ReplaceAllString(name, "_"))
}

// ContentDisposition builds an attachment Content-Disposition header value
// for key.
func ContentDisposition(key string) string {
	return "attachment; filename*=UTF-8''" + SanitizeFilename(key)
}
