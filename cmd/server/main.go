// Command server runs the tensorgate inference gateway.
//
// Configuration is layered: built-in defaults, a YAML file (--config,
// TENSORGATE_CONFIG, ./config.yaml or /etc/tensorgate/config.yaml), then
// TENSORGATE_* environment variables. Common variables:
//
//	TENSORGATE_PORT         - Listen port (default: 8000)
//	TENSORGATE_WIRE_FORMAT  - "standard" or "record" (legacy: AB_REQUEST_TYPE)
//	TENSORGATE_RUNTIME      - "echo" or "remote"
//	TENSORGATE_RUNTIME_URL  - Upstream URL for the remote runtime
//	TENSORGATE_AUTH_TYPE    - "none", "apikey" or "jwt"
//	TENSORGATE_DEBUG        - Debug categories, e.g. "wire,shm" or "all"
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/rhuss/tensorgate/pkg/config"
	"github.com/rhuss/tensorgate/pkg/debug"
	"github.com/rhuss/tensorgate/pkg/shm"
	transporthttp "github.com/rhuss/tensorgate/pkg/transport/http"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath string
	var port int

	flagSet := pflag.NewFlagSet("tensorgate", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the YAML config file")
	flagSet.IntVar(&port, "port", 0, "listen port, overrides server.port")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)

	var registry *shm.Registry
	if cfg.SharedMemory.Enabled {
		registry = shm.NewRegistry(shm.WithDir(cfg.SharedMemory.Dir))
		defer registry.Close()
	}

	rt, closeRuntime := newRuntime(cfg, registry)
	defer closeRuntime()

	codec, err := newCodec(cfg, registry)
	if err != nil {
		return err
	}

	authMiddleware, err := newAuthMiddleware(cfg)
	if err != nil {
		return fmt.Errorf("configuring authentication: %w", err)
	}

	metricsPath := ""
	if cfg.Observability.Metrics.Enabled {
		metricsPath = cfg.Observability.Metrics.Path
	}

	srv := transporthttp.NewServer(rt, codec,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithChunkSize(cfg.Server.ChunkSize),
		transporthttp.WithEntrypoint(cfg.Server.Entrypoint),
		transporthttp.WithResponseCompression(cfg.ResponseCodec(), cfg.Compression.MinSize),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithMetricsPath(metricsPath),
		transporthttp.WithLogger(slog.Default()),
		transporthttp.WithHTTPMiddleware(authMiddleware),
	)

	slog.Info("tensorgate configured",
		"port", cfg.Server.Port,
		"wire_format", cfg.WireFormat().String(),
		"runtime", cfg.Runtime.Type,
		"auth", cfg.Auth.Type,
		"shared_memory", cfg.SharedMemory.Enabled,
	)
	return srv.ListenAndServe()
}
