package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rhuss/tensorgate/pkg/api"
	"github.com/rhuss/tensorgate/pkg/observability"
	"github.com/rhuss/tensorgate/pkg/router"
	"github.com/rhuss/tensorgate/pkg/transport"
)

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/v2/health/live", "/v2/health/ready", "/metrics"}

// Options configures the middleware.
type Options struct {
	// Limiter is applied after authentication. Nil disables rate limiting.
	Limiter RateLimiter

	// Bypass lists exact paths served without authentication.
	Bypass []string

	// ControlScope, when set, is required for requests that change server
	// state: repository load and unload, shared-memory registration and
	// trace setting updates.
	ControlScope string
}

// Middleware creates HTTP middleware from an AuthChain.
func Middleware(chain *AuthChain, opts Options) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(opts.Bypass))
	for _, ep := range opts.Bypass {
		bypass[ep] = true
	}
	routes := router.New("")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			result := chain.Authenticate(r.Context(), r)
			if result.Decision != Yes || result.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
				reject(w, "unauthenticated", api.NewUnauthenticatedError(ErrUnauthenticated.Error()))
				return
			}

			id := result.Identity
			if id.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				reject(w, "internal", api.NewInternalError("internal authentication error"))
				return
			}

			route := routes.Match(r.URL.Path)
			if route.Model != "" && !id.CanUseModel(route.Model) {
				slog.Warn("model access denied", "subject", id.Subject, "model", route.Model)
				reject(w, "forbidden", api.NewPermissionDeniedError(fmt.Sprintf("%s: model '%s'", ErrForbidden, route.Model)))
				return
			}
			if opts.ControlScope != "" && changesState(route, r.Method) && !id.HasScope(opts.ControlScope) {
				slog.Warn("control access denied", "subject", id.Subject, "path", r.URL.Path)
				reject(w, "forbidden", api.NewPermissionDeniedError(fmt.Sprintf("%s: scope '%s' required", ErrForbidden, opts.ControlScope)))
				return
			}

			if opts.Limiter != nil {
				if err := opts.Limiter.Allow(r.Context(), id); err != nil {
					slog.Warn("rate limit exceeded",
						"subject", id.Subject,
						"tier", id.ServiceTier,
					)
					observability.AuthRejectedTotal.WithLabelValues("rate_limited").Inc()
					transport.WriteErrorResponse(w, api.NewUnavailableError(err.Error()), http.StatusTooManyRequests)
					return
				}
			}

			slog.Debug("authentication succeeded",
				"subject", id.Subject,
				"path", r.URL.Path,
			)
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
		})
	}
}

func reject(w http.ResponseWriter, reason string, err *api.APIError) {
	observability.AuthRejectedTotal.WithLabelValues(reason).Inc()
	transport.WriteAPIError(w, err)
}

func changesState(route router.Route, method string) bool {
	switch route.Kind {
	case router.KindRepositoryControl:
		return true
	case router.KindSystemSharedMemory, router.KindCUDASharedMemory:
		return route.Action != "status"
	case router.KindTrace, router.KindModelTrace:
		return method == http.MethodPost
	default:
		return false
	}
}
