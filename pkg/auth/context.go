package auth

import "context"

type ctxKey int

const identityCtxKey ctxKey = iota

// NewContext returns a copy of ctx that carries id.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, id)
}

// FromContext returns the identity stored by the middleware. The second
// result is false for requests that skipped authentication.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityCtxKey).(*Identity)
	return id, ok && id != nil
}
