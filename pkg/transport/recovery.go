package transport

import (
	"context"
	"fmt"

	"github.com/rhuss/tensorgate/pkg/api"
)

// Recovery returns middleware that catches panics in the runtime and
// converts them to internal errors. The server continues to accept new
// requests after a panic is recovered.
func Recovery() Middleware {
	return func(next Inferer) Inferer {
		return InfererFunc(func(ctx context.Context, req *api.InferRequest) (resp *api.InferResponse, retErr error) {
			defer func() {
				if r := recover(); r != nil {
					resp = nil
					retErr = api.NewInternalError(fmt.Sprintf("internal server error: %v", r))
				}
			}()
			return next.Infer(ctx, req)
		})
	}
}
