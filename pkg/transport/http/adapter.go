package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rhuss/tensorgate/pkg/api"
	"github.com/rhuss/tensorgate/pkg/compress"
	"github.com/rhuss/tensorgate/pkg/observability"
	"github.com/rhuss/tensorgate/pkg/router"
	"github.com/rhuss/tensorgate/pkg/runtime"
	"github.com/rhuss/tensorgate/pkg/transport"
	"github.com/rhuss/tensorgate/pkg/wire"
)

// Adapter serves the inference protocol over HTTP.
// It matches every path with the pattern router, decodes inference bodies
// with the wire codec and delegates everything else to the runtime.
type Adapter struct {
	runtime runtime.Runtime
	inferer transport.Inferer
	codec   Codec
	router  *router.Router
	config  Config
}

// Codec bundles the wire components used by the infer route. Compressor
// may be nil, in which case responses are never compressed and compressed
// requests are rejected.
type Codec struct {
	Decoder    *wire.Decoder
	Encoder    *wire.Encoder
	Compressor *compress.Compressor
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64

	// ChunkSize is the segment size used when reading request bodies.
	ChunkSize int

	// Entrypoint is the path served for requests to "/".
	Entrypoint string

	// ResponseCodec is applied when the client sends no Accept-Encoding.
	ResponseCodec compress.Codec

	// MinCompressSize skips compression of smaller response bodies.
	MinCompressSize int
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 64 << 20, // 64 MB
		ChunkSize:   wire.DefaultChunkSize,
		Entrypoint:  "/v2",
	}
}

// NewAdapter creates an HTTP adapter for rt.
// Middleware wraps the runtime's Infer in the given order; control-plane
// routes call the runtime directly.
func NewAdapter(rt runtime.Runtime, codec Codec, cfg Config, middlewares ...transport.Middleware) *Adapter {
	var inferer transport.Inferer = rt
	if len(middlewares) > 0 {
		inferer = transport.Chain(middlewares...)(inferer)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = wire.DefaultChunkSize
	}
	if cfg.Entrypoint == "" {
		cfg.Entrypoint = "/v2"
	}

	return &Adapter{
		runtime: rt,
		inferer: inferer,
		codec:   codec,
		router:  router.New(cfg.Entrypoint),
		config:  cfg,
	}
}

// Handler returns the http.Handler for this adapter. The returned handler
// propagates X-Request-ID and records request metrics labeled by route kind.
func (a *Adapter) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(a.dispatch)
	h = observability.MetricsMiddleware(routeLabel)(h)
	h = a.matchRoute(h)
	return httpRequestIDMiddleware(h)
}

type routeKeyType struct{}

var routeKey = routeKeyType{}

func routeFromContext(ctx context.Context) (router.Route, bool) {
	route, ok := ctx.Value(routeKey).(router.Route)
	return route, ok
}

// matchRoute resolves the path once so that metrics and dispatch agree.
func (a *Adapter) matchRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := a.router.Match(r.URL.Path)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), routeKey, route)))
	})
}

func routeLabel(r *http.Request) string {
	if route, ok := routeFromContext(r.Context()); ok {
		return route.Kind.String()
	}
	return "unknown"
}

// httpRequestIDMiddleware propagates the X-Request-ID header. A client
// supplied ID is kept; otherwise one is generated. Either way it is stored
// in the context and echoed in the response.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = transport.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(transport.ContextWithRequestID(r.Context(), id)))
	})
}

// allowedMethods lists the methods each route kind accepts.
func allowedMethods(route router.Route) []string {
	switch route.Kind {
	case router.KindModelInfer, router.KindRepositoryIndex, router.KindRepositoryControl:
		return []string{http.MethodPost}
	case router.KindSystemSharedMemory, router.KindCUDASharedMemory:
		if route.Action == "status" {
			return []string{http.MethodGet}
		}
		return []string{http.MethodPost}
	case router.KindTrace, router.KindModelTrace:
		return []string{http.MethodGet, http.MethodPost}
	default:
		return []string{http.MethodGet}
	}
}

func (a *Adapter) dispatch(w http.ResponseWriter, r *http.Request) {
	route, _ := routeFromContext(r.Context())
	if route.Kind == router.KindBadRequest {
		transport.WriteAPIError(w, api.InvalidArgumentf("unsupported path: %s", r.URL.Path))
		return
	}

	allowed := allowedMethods(route)
	if !methodAllowed(r.Method, allowed) {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		transport.WriteErrorResponse(w,
			api.InvalidArgumentf("method %s is not allowed for %s", r.Method, r.URL.Path),
			http.StatusMethodNotAllowed,
		)
		return
	}

	switch route.Kind {
	case router.KindModelInfer:
		a.handleInfer(w, r, route)
	case router.KindServerMetadata:
		a.handleServerMetadata(w, r)
	case router.KindHealth:
		a.handleHealth(w, r, route)
	case router.KindModelMetadata:
		a.handleModelMetadata(w, r, route)
	case router.KindModelReady:
		a.handleModelReady(w, r, route)
	case router.KindModelConfig:
		a.handleModelConfig(w, r, route)
	case router.KindModelStats:
		a.handleModelStats(w, r, route)
	case router.KindModelTrace, router.KindTrace:
		a.handleTrace(w, r, route)
	case router.KindRepositoryIndex:
		a.handleRepositoryIndex(w, r, route)
	case router.KindRepositoryControl:
		a.handleRepositoryControl(w, r, route)
	case router.KindSystemSharedMemory, router.KindCUDASharedMemory:
		a.handleSharedMemory(w, r, route)
	default:
		transport.WriteAPIError(w, api.NewInternalError("no handler for route "+route.Kind.String()))
	}
}

func methodAllowed(method string, allowed []string) bool {
	for _, m := range allowed {
		if m == method {
			return true
		}
	}
	return false
}

// writeJSON writes v with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
