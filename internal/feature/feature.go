package feature

import (
	"os"
	"strconv"
)

// Feature is a gateway behavior that can be switched at runtime through an
// environment variable.
type Feature struct {
	// EnvVariable is the name of the environment variable controlling the feature.
	EnvVariable    string
	defaultEnabled bool
}

// Enabled reports whether the feature is on. Any value strconv.ParseBool
// understands overrides the default; anything else leaves the default in place.
func (f Feature) Enabled() bool {
	v, err := strconv.ParseBool(os.Getenv(f.EnvVariable))
	if err != nil {
		return f.defaultEnabled
	}
	return v
}

// OriginErrorBodyLogging includes the first bytes of a failed origin response in
// the error log line. Bodies never reach the client either way.
var OriginErrorBodyLogging = Feature{
	EnvVariable:    "MEDIAGATE_FF_ORIGIN_ERROR_BODY_LOGGING",
	defaultEnabled: true,
}

// StorageHeadPassthrough makes the storage proxy send HEAD upstream for HEAD
// requests. When disabled a GET is issued and the body is dropped, which some
// S3-compatible backends need to report an accurate Content-Length.
var StorageHeadPassthrough = Feature{
	EnvVariable: "MEDIAGATE_FF_STORAGE_HEAD_PASSTHROUGH",
}

// testFeature is used for testing purposes only
var testFeature = Feature{
	EnvVariable: "MEDIAGATE_FF_TEST",
}

var all = []Feature{
	testFeature,
	OriginErrorBodyLogging,
	StorageHeadPassthrough,
}

// KnownEnvVar evaluates whether the input string matches the name of one of the known feature flag env vars.
func KnownEnvVar(name string) bool {
	for _, f := range all {
		if f.EnvVariable == name {
			return true
		}
	}

	return false
}
