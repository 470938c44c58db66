package cache

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/famgallery/mediagate/gateway/validation"
)

// transformParams is the ordered allow-list of query parameters kept in a
// cache key. Anything else is dropped.
var transformParams = []string{
	validation.ParamWidth,
	validation.ParamHeight,
	validation.ParamFormat,
	validation.ParamQuality,
}

// BuildKey derives the canonical cache key for rawURL. The key is the origin
// and path of the URL followed by either download=true alone, or the
// normalized transform parameters in allow-list order.
func BuildKey(rawURL string, download bool) (string, error) {
	src, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing request url: %w", err)
	}
	if src.Scheme == "" || src.Host == "" {
		return "", fmt.Errorf("request url must be absolute: %q", rawURL)
	}

	dst := url.URL{
		Scheme:  strings.ToLower(src.Scheme),
		Host:    strings.ToLower(src.Host),
		Path:    src.Path,
		RawPath: src.RawPath,
	}

	// url.Values.Encode sorts keys, so the query is assembled by hand to keep
	// allow-list order.
	var pairs []string
	if download {
		pairs = append(pairs, "download=true")
	} else {
		q := src.Query()
		for _, name := range transformParams {
			if !q.Has(name) {
				continue
			}
			pairs = append(pairs, name+"="+url.QueryEscape(normalizeParam(name, q.Get(name))))
		}
	}
	dst.RawQuery = strings.Join(pairs, "&")

	return dst.String(), nil
}

func normalizeParam(name, value string) string {
	if name == validation.ParamFormat {
		return strings.ToLower(value)
	}
	return canonicalNumber(value)
}

// canonicalNumber renders value the way a number parse and restringify
// would, so that "0400", "400.0" and "4e2" all collapse to "400". Values that
// are not numbers collapse to "NaN".
func canonicalNumber(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "0"
	}

	v, err := validation.ParseNumber(value)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return "NaN"
	}
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	if v == 0 {
		// -0 prints as 0
		return "0"
	}

	return strconv.FormatFloat(v, 'f', -1, 64)
}
