package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/rhuss/tensorgate/pkg/api"
)

// RequestID returns middleware that assigns a unique request ID to each
// request. If the incoming context already carries one (set by the HTTP
// adapter from the X-Request-ID header), that value is used. A request
// without a client-supplied id takes the request ID as its id.
func RequestID() Middleware {
	return func(next Inferer) Inferer {
		return InfererFunc(func(ctx context.Context, req *api.InferRequest) (*api.InferResponse, error) {
			id := RequestIDFromContext(ctx)
			if id == "" {
				id = GenerateRequestID()
				ctx = ContextWithRequestID(ctx, id)
			}
			if req.ID == "" {
				req.ID = id
			}
			return next.Infer(ctx, req)
		})
	}
}

type requestIDKey struct{}

// ContextWithRequestID returns a copy of ctx carrying id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// GenerateRequestID creates a new unique request ID as a hex string.
func GenerateRequestID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
