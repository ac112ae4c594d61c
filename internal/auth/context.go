// ABOUTME: Identity context for tracking the authenticated caller through request handlers
// ABOUTME: Provides WithIdentity/IdentityFromContext for explicit propagation

package auth

import (
	"context"
)

// Identity holds the authenticated caller information extracted from a bearer
// token. It is threaded explicitly through every call from the gateway down.
type Identity struct {
	UserID   string
	ClientID string
	AgentID  string
	Resource string
	Scopes   []string
}

// HasScope returns true if the identity carries the given scope.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the Identity from the context, returning nil if not present.
func IdentityFromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}
