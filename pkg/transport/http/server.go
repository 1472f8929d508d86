package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/tensorgate/pkg/compress"
	"github.com/rhuss/tensorgate/pkg/runtime"
	"github.com/rhuss/tensorgate/pkg/transport"
)

// Server wraps an http.Server with the transport adapter and manages
// the full lifecycle including startup and graceful shutdown.
type Server struct {
	httpServer *http.Server
	adapter    *Adapter
	config     ServerConfig
	logger     *slog.Logger
	wrappers   []func(http.Handler) http.Handler
	extra      []transport.Middleware
}

// ServerConfig holds configuration for the transport server.
type ServerConfig struct {
	Addr            string
	MaxBodySize     int64
	ChunkSize       int
	Entrypoint      string
	ResponseCodec   compress.Codec
	MinCompressSize int
	ShutdownTimeout time.Duration

	// MetricsPath serves Prometheus metrics when non-empty.
	MetricsPath string
	Logger      *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	adapter := DefaultConfig()
	return ServerConfig{
		Addr:            ":8000",
		MaxBodySize:     adapter.MaxBodySize,
		ChunkSize:       adapter.ChunkSize,
		Entrypoint:      adapter.Entrypoint,
		ShutdownTimeout: 30 * time.Second,
		MetricsPath:     "/metrics",
		Logger:          slog.Default(),
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.config.Addr = addr }
}

// WithMaxBodySize sets the maximum request body size.
func WithMaxBodySize(n int64) ServerOption {
	return func(s *Server) { s.config.MaxBodySize = n }
}

// WithChunkSize sets the segment size used to read request bodies.
func WithChunkSize(n int) ServerOption {
	return func(s *Server) { s.config.ChunkSize = n }
}

// WithEntrypoint sets the path served for "/".
func WithEntrypoint(path string) ServerOption {
	return func(s *Server) { s.config.Entrypoint = path }
}

// WithResponseCompression sets the codec used when clients send no
// Accept-Encoding, and the minimum body size worth compressing.
func WithResponseCompression(codec compress.Codec, minSize int) ServerOption {
	return func(s *Server) {
		s.config.ResponseCodec = codec
		s.config.MinCompressSize = minSize
	}
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.ShutdownTimeout = d }
}

// WithMetricsPath sets the metrics path. An empty path disables it.
func WithMetricsPath(path string) ServerOption {
	return func(s *Server) { s.config.MetricsPath = path }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.config.Logger = l; s.logger = l }
}

// WithHTTPMiddleware wraps the whole HTTP handler, metrics included.
// The first middleware is the outermost.
func WithHTTPMiddleware(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(s *Server) { s.wrappers = append(s.wrappers, mw...) }
}

// WithMiddleware adds inference middleware after the defaults.
func WithMiddleware(mw ...transport.Middleware) ServerOption {
	return func(s *Server) { s.extra = append(s.extra, mw...) }
}

// NewServer creates a new transport server for rt with the given codec and
// options. Default middleware (recovery, request ID, logging) is applied
// automatically.
func NewServer(rt runtime.Runtime, codec Codec, opts ...ServerOption) *Server {
	s := &Server{
		config: DefaultServerConfig(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	adapterCfg := Config{
		MaxBodySize:     s.config.MaxBodySize,
		ChunkSize:       s.config.ChunkSize,
		Entrypoint:      s.config.Entrypoint,
		ResponseCodec:   s.config.ResponseCodec,
		MinCompressSize: s.config.MinCompressSize,
	}

	mw := []transport.Middleware{
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(s.logger),
	}
	mw = append(mw, s.extra...)

	s.adapter = NewAdapter(rt, codec, adapterCfg, mw...)

	mux := http.NewServeMux()
	if s.config.MetricsPath != "" {
		mux.Handle("GET "+s.config.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", s.adapter.Handler())

	var handler http.Handler = mux
	for i := len(s.wrappers) - 1; i >= 0; i-- {
		handler = s.wrappers[i](handler)
	}

	s.httpServer = &http.Server{
		Addr:    s.config.Addr,
		Handler: handler,
	}

	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the server and blocks until a shutdown signal
// (SIGINT or SIGTERM) is received. It then gracefully shuts down,
// waiting for in-flight requests to complete within the configured timeout.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

// ServeOn serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) ServeOn(ctx context.Context, ln net.Listener) error {
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", slog.Duration("timeout", s.config.ShutdownTimeout))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Shutdown gracefully shuts down the server with the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
