package gate

import (
	"context"

	"github.com/sasha-gershtein/Sodia/cmd/identity"
	"github.com/sasha-gershtein/Sodia/cmd/internal/auth/session"
)

// Auth is the authenticated principal attached to a request.
type Auth struct {
	Session session.Session
	User    identity.User
}

type ctxKey struct{}

// WithAuth returns a copy of ctx carrying a.
func WithAuth(ctx context.Context, a Auth) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the Auth attached by the gate, if any.
func FromContext(ctx context.Context) (Auth, bool) {
	a, ok := ctx.Value(ctxKey{}).(Auth)
	return a, ok
}
