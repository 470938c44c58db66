package validation

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	v1 "github.com/famgallery/mediagate/gateway/api/v1"
)

// Transform query parameter names.
const (
	ParamWidth   = "w"
	ParamHeight  = "h"
	ParamFormat  = "f"
	ParamQuality = "q"
)

// Limits applied to transform parameters.
const (
	MaxDimension = 4096
	MinQuality   = 1
	MaxQuality   = 100
)

// Format is an output image format accepted by the transform service.
type Format string

// Supported output formats.
const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
)

var formats = []Format{FormatJPEG, FormatPNG, FormatWebP, FormatAVIF}

// ContentType returns the MIME type produced for the format.
func (f Format) ContentType() string {
	return "image/" + string(f)
}

// TransformParams are the validated image transform options. Zero values mean
// the parameter was not requested.
type TransformParams struct {
	Width   int
	Height  int
	Format  Format
	Quality int
}

// Empty reports whether no transform option was requested.
func (p TransformParams) Empty() bool {
	return p == TransformParams{}
}

// ValidateQuery checks the transform parameters in q in the order w, h, f, q.
// The first failing parameter determines the error. Values are never clamped.
func ValidateQuery(q url.Values) error {
	_, err := ParseTransformParams(q)
	return err
}

// ParseTransformParams validates q and returns the typed transform options.
func ParseTransformParams(q url.Values) (TransformParams, error) {
	var p TransformParams
	var err error

	if q.Has(ParamWidth) {
		if p.Width, err = parseDimension("width", q.Get(ParamWidth)); err != nil {
			return TransformParams{}, err
		}
	}
	if q.Has(ParamHeight) {
		if p.Height, err = parseDimension("height", q.Get(ParamHeight)); err != nil {
			return TransformParams{}, err
		}
	}
	if q.Has(ParamFormat) {
		if p.Format, err = parseFormat(q.Get(ParamFormat)); err != nil {
			return TransformParams{}, err
		}
	}
	if q.Has(ParamQuality) {
		if p.Quality, err = parseQuality(q.Get(ParamQuality)); err != nil {
			return TransformParams{}, err
		}
	}

	return p, nil
}

func parseDimension(name, raw string) (int, error) {
	v, ok := parseInteger(raw)
	if !ok || v <= 0 {
		return 0, v1.ErrorCodeInvalidParameter.WithDetail(fmt.Sprintf("%s must be a positive integer", name))
	}
	if v > MaxDimension {
		return 0, v1.ErrorCodeInvalidParameter.WithDetail(fmt.Sprintf("%s exceeds the maximum of %dpx", name, MaxDimension))
	}
	return int(v), nil
}

func parseQuality(raw string) (int, error) {
	v, ok := parseInteger(raw)
	if !ok {
		return 0, v1.ErrorCodeInvalidParameter.WithDetail("quality must be an integer")
	}
	if v < MinQuality || v > MaxQuality {
		return 0, v1.ErrorCodeInvalidParameter.WithDetail(fmt.Sprintf("quality must be between %d and %d", MinQuality, MaxQuality))
	}
	return int(v), nil
}

func parseFormat(raw string) (Format, error) {
	f := Format(strings.ToLower(raw))
	for _, allowed := range formats {
		if f == allowed {
			return f, nil
		}
	}
	return "", v1.ErrorCodeInvalidParameter.WithDetail(fmt.Sprintf("unsupported format %q (allowed: jpeg, png, webp, avif)", raw))
}

// ParseNumber parses a decimal number the way strconv.ParseFloat does, but
// rejects the 0x, 0o and 0b prefixed forms.
func ParseNumber(raw string) (float64, error) {
	digits := strings.TrimLeft(raw, "+-")
	if len(digits) > 1 && digits[0] == '0' && strings.ContainsRune("xXoObB", rune(digits[1])) {
		return 0, &strconv.NumError{Func: "ParseFloat", Num: raw, Err: strconv.ErrSyntax}
	}
	return strconv.ParseFloat(raw, 64)
}

// parseInteger accepts any decimal notation of an integral value, so "0400"
// and "400.0" both yield 400.
func parseInteger(raw string) (int64, bool) {
	v, err := ParseNumber(strings.TrimSpace(raw))
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) || v != math.Trunc(v) {
		return 0, false
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, false
	}
	return int64(v), true
}
