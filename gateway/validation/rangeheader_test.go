package validation

import (
	"testing"

	v1 "github.com/famgallery/mediagate/gateway/api/v1"
	"github.com/stretchr/testify/require"
)

func TestValidateRange(t *testing.T) {
	valid := []string{
		"bytes=0-1023",
		"bytes=100-",
		"bytes=-500",
		"bytes=0 - 10",
		"bytes=0-1, 5-10",
		"bytes=10737418240-",
	}
	for _, h := range valid {
		t.Run(h, func(t *testing.T) {
			require.NoError(t, ValidateRange(h))
		})
	}

	invalid := []string{
		"0-1023",
		"items=0-10",
		"bytes=",
		"bytes=   ",
		"bytes=-",
		"bytes=a-b",
		"bytes=0-10,",
		"bytes=10737418241-",
		"bytes=0-99999999999999999999999",
	}
	for _, h := range invalid {
		t.Run(h, func(t *testing.T) {
			requireErrorCode(t, ValidateRange(h), v1.ErrorCodeInvalidRange)
		})
	}
}
