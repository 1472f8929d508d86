package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/tensorgate/pkg/api"
)

// Logging returns middleware that emits one structured log entry per
// inference. HTTP status codes are logged by the adapter's HTTP-level
// middleware.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Inferer) Inferer {
		return InfererFunc(func(ctx context.Context, req *api.InferRequest) (*api.InferResponse, error) {
			start := time.Now()

			resp, err := next.Infer(ctx, req)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("model", req.ModelName),
				slog.Int("inputs", len(req.Inputs)),
				slog.Duration("duration", time.Since(start)),
			}
			if req.ModelVersion != "" {
				attrs = append(attrs, slog.String("version", req.ModelVersion))
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "inference failed", attrs...)
			} else {
				attrs = append(attrs, slog.Int("outputs", len(resp.Outputs)))
				logger.LogAttrs(ctx, slog.LevelInfo, "inference completed", attrs...)
			}

			return resp, err
		})
	}
}
