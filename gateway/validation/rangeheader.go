package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	v1 "github.com/famgallery/mediagate/gateway/api/v1"
)

// MaxRangeValue is the largest byte offset accepted in a Range header (10GiB).
const MaxRangeValue = 10 << 30

var rangeSpecRegexp = regexp.MustCompile(`^(\d+)?\s*-\s*(\d+)?$`)

// ValidateRange checks a Range header value of the form
// "bytes=start-end[, start-end...]" where either bound may be omitted, but not
// both. Offsets above MaxRangeValue are rejected.
func ValidateRange(header string) error {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return v1.ErrorCodeInvalidRange.WithDetail("range must start with 'bytes='")
	}

	spec = strings.TrimSpace(spec)
	if spec == "" {
		return v1.ErrorCodeInvalidRange.WithDetail("range is empty")
	}

	for _, r := range strings.Split(spec, ",") {
		r = strings.TrimSpace(r)

		m := rangeSpecRegexp.FindStringSubmatch(r)
		if m == nil {
			return v1.ErrorCodeInvalidRange.WithDetail(fmt.Sprintf("malformed range %q (expected start-end, start- or -end)", r))
		}
		if m[1] == "" && m[2] == "" {
			return v1.ErrorCodeInvalidRange.WithDetail("range start and end are both missing")
		}

		for _, bound := range m[1:] {
			if bound == "" {
				continue
			}
			// overflowing values are necessarily over the limit
			n, err := strconv.ParseUint(bound, 10, 64)
			if err != nil || n > MaxRangeValue {
				return v1.ErrorCodeInvalidRange.WithDetail(fmt.Sprintf("range value exceeds the maximum of %d bytes", int64(MaxRangeValue)))
			}
		}
	}

	return nil
}
