package context

import "context"

const (
	// IdentityKey is used to get the authenticated session identity from a context.
	IdentityKey = "auth.identity"
)

type identityContext struct {
	context.Context
	identity string
}

// Value implements context.Context.
func (c identityContext) Value(key any) any {
	switch key {
	case IdentityKey:
		return c.identity
	default:
		return c.Context.Value(key)
	}
}

// WithIdentity returns a context carrying the email address of the session
// that was authorized for the current request.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return identityContext{
		Context:  ctx,
		identity: identity,
	}
}

// GetIdentity returns the session identity stored by WithIdentity, or an
// empty string for unauthenticated contexts.
func GetIdentity(ctx context.Context) string {
	if v, ok := ctx.Value(IdentityKey).(string); ok {
		return v
	}
	return ""
}
