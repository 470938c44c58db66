// Package auth verifies Auth.js session cookies and enforces the email
// allow-list in front of the media endpoints.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/famgallery/mediagate/gateway/internal/memo"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/crypto/hkdf"
)

const (
	// ClockSkew is the tolerance applied to the exp, nbf and iat claims.
	ClockSkew = 15 * time.Second

	// encryption key size for A256CBC-HS512: 32 bytes MAC key, 32 bytes AES key
	derivedKeyLength = 64
)

// ErrAuthentication is wrapped by every token verification failure.
var ErrAuthentication = errors.New("authentication failed")

// Claims are the verified claims of a session token.
type Claims struct {
	jwt.Claims
	Email string
}

type keyMaterial struct {
	secret string
	salt   string
}

// TokenVerifier decrypts and validates Auth.js session tokens. The key derived
// from the most recent secret and salt pair is kept for reuse.
type TokenVerifier struct {
	clock clock.Clock
	keys  memo.Slot[keyMaterial, []byte]
}

// VerifierOption customizes a TokenVerifier.
type VerifierOption func(*TokenVerifier)

// WithClock sets the clock used to validate time based claims.
func WithClock(c clock.Clock) VerifierOption {
	return func(v *TokenVerifier) {
		v.clock = c
	}
}

// NewTokenVerifier creates a new TokenVerifier.
func NewTokenVerifier(opts ...VerifierOption) *TokenVerifier {
	v := &TokenVerifier{clock: clock.New()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// DeriveKey derives the Auth.js encryption key for secret and salt using
// HKDF-SHA256.
func DeriveKey(secret, salt string) ([]byte, error) {
	info := fmt.Sprintf("Auth.js Generated Encryption Key (%s)", salt)
	r := hkdf.New(sha256.New, []byte(secret), []byte(salt), []byte(info))

	key := make([]byte, derivedKeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving encryption key: %w", err)
	}
	return key, nil
}

// Verify decrypts token with the key derived from secret and salt, validates
// its time based claims and returns its claims. A non-empty string email
// claim is required.
func (v *TokenVerifier) Verify(token, secret, salt string) (*Claims, error) {
	key, err := v.keys.Get(keyMaterial{secret: secret, salt: salt}, func(m keyMaterial) ([]byte, error) {
		return DeriveKey(m.secret, m.salt)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	tok, err := jwt.ParseEncrypted(token,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256CBC_HS512},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing token: %v", ErrAuthentication, err)
	}

	var (
		std    jwt.Claims
		custom struct {
			Email any `json:"email"`
		}
	)
	if err := tok.Claims(key, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: decrypting token: %v", ErrAuthentication, err)
	}

	if err := std.ValidateWithLeeway(jwt.Expected{Time: v.clock.Now()}, ClockSkew); err != nil {
		return nil, fmt.Errorf("%w: validating claims: %v", ErrAuthentication, err)
	}

	email, ok := custom.Email.(string)
	if !ok || email == "" {
		return nil, fmt.Errorf("%w: token has no email claim", ErrAuthentication)
	}

	return &Claims{Claims: std, Email: email}, nil
}
