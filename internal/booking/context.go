package booking

import (
	"context"
	"strings"

	"github.com/avstrong/bnb/internal/identity"
)

type idempotencyCtxKey struct{}

// WithIdempotencyKey marks booking creation with a client supplied key. A repeated
// create by the same principal carrying the same key returns the booking created
// the first time.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyCtxKey{}, strings.TrimSpace(key))
}

// idempotencyKeyFrom returns the key of ctx namespaced by the principal, so equal
// keys sent by different users never meet.
func idempotencyKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyCtxKey{}).(string)
	if key == "" {
		return ""
	}

	owner := "anonymous"
	if p, ok := identity.PrincipalFromContext(ctx); ok {
		owner = p.ID
	}

	return owner + ":" + key
}
