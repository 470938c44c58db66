package testutil

import (
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// SessionClaims describes the payload of a test session token.
type SessionClaims struct {
	Email     any
	IssuedAt  time.Time
	NotBefore time.Time
	Expiry    time.Time
}

// SessionToken encrypts claims into an Auth.js style session token using
// direct encryption with key. Zero times are omitted from the payload.
func SessionToken(tb testing.TB, key []byte, claims SessionClaims) string {
	tb.Helper()

	enc, err := jose.NewEncrypter(
		jose.A256CBC_HS512,
		jose.Recipient{Algorithm: jose.DIRECT, Key: key},
		(&jose.EncrypterOptions{}).WithType("JWT"),
	)
	require.NoError(tb, err)

	std := jwt.Claims{}
	if !claims.IssuedAt.IsZero() {
		std.IssuedAt = jwt.NewNumericDate(claims.IssuedAt)
	}
	if !claims.NotBefore.IsZero() {
		std.NotBefore = jwt.NewNumericDate(claims.NotBefore)
	}
	if !claims.Expiry.IsZero() {
		std.Expiry = jwt.NewNumericDate(claims.Expiry)
	}

	builder := jwt.Encrypted(enc).Claims(std)
	if claims.Email != nil {
		builder = builder.Claims(map[string]any{"email": claims.Email})
	}

	token, err := builder.Serialize()
	require.NoError(tb, err)

	return token
}
