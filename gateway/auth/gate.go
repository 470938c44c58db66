package auth

import (
	"errors"
	"net/http"

	"github.com/famgallery/mediagate/configuration"
	dcontext "github.com/famgallery/mediagate/context"
	"github.com/famgallery/mediagate/gateway/api/errcode"
	"github.com/famgallery/mediagate/log"
)

// Session cookie names set by Auth.js. The __Secure- prefixed name is used
// when the app is served over HTTPS.
const (
	SecureCookieName = "__Secure-authjs.session-token"
	CookieName       = "authjs.session-token"
)

var (
	errMissingToken = errors.New("no session cookie")
	errNotAllowed   = errors.New("identity is not in the allow-list")
)

// Gate rejects requests that do not carry a valid session for an allowed
// identity. All rejections are indistinguishable to the client.
type Gate struct {
	config   configuration.Auth
	verifier *TokenVerifier
	policy   *AccessPolicy
}

// NewGate creates a Gate using the given auth settings.
func NewGate(config configuration.Auth, verifier *TokenVerifier) *Gate {
	if verifier == nil {
		verifier = NewTokenVerifier()
	}
	return &Gate{
		config:   config,
		verifier: verifier,
		policy:   &AccessPolicy{},
	}
}

// Authorize returns the identity of the session attached to r.
func (g *Gate) Authorize(r *http.Request) (string, error) {
	token := sessionToken(r)
	if token == "" {
		return "", errMissingToken
	}

	claims, err := g.verifier.Verify(token, g.config.Secret, g.config.Salt)
	if err != nil {
		return "", err
	}

	if !g.policy.IsAllowed(claims.Email, g.config.AllowEmails) {
		return "", errNotAllowed
	}

	return claims.Email, nil
}

// Handler wraps next so that it only runs for authorized requests. The
// identity is made available through context.GetIdentity.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		identity, err := g.Authorize(r)
		if err != nil {
			log.GetLogger(log.WithContext(ctx)).WithError(err).Debug("rejecting unauthenticated request")
			_ = errcode.ServeJSON(w, errcode.ErrorCodeUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(dcontext.WithIdentity(ctx, identity)))
	})
}

func sessionToken(r *http.Request) string {
	for _, name := range []string{SecureCookieName, CookieName} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return ""
}
