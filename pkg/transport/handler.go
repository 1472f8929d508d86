package transport

import (
	"context"

	"github.com/rhuss/tensorgate/pkg/api"
)

// Inferer runs one decoded inference request. It is the primary handler
// contract between the HTTP adapter and the runtime.
type Inferer interface {
	Infer(ctx context.Context, req *api.InferRequest) (*api.InferResponse, error)
}

// InfererFunc is an adapter that allows using an ordinary function as an
// Inferer.
type InfererFunc func(ctx context.Context, req *api.InferRequest) (*api.InferResponse, error)

// Infer calls f(ctx, req).
func (f InfererFunc) Infer(ctx context.Context, req *api.InferRequest) (*api.InferResponse, error) {
	return f(ctx, req)
}
