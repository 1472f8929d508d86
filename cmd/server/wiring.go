package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/rhuss/tensorgate/pkg/auth"
	"github.com/rhuss/tensorgate/pkg/auth/apikey"
	"github.com/rhuss/tensorgate/pkg/auth/jwt"
	"github.com/rhuss/tensorgate/pkg/auth/noop"
	"github.com/rhuss/tensorgate/pkg/compress"
	"github.com/rhuss/tensorgate/pkg/config"
	"github.com/rhuss/tensorgate/pkg/runtime"
	"github.com/rhuss/tensorgate/pkg/runtime/echo"
	"github.com/rhuss/tensorgate/pkg/runtime/remote"
	"github.com/rhuss/tensorgate/pkg/shm"
	transporthttp "github.com/rhuss/tensorgate/pkg/transport/http"
	"github.com/rhuss/tensorgate/pkg/wire"
)

// newRuntime builds the configured runtime and a func releasing it.
func newRuntime(cfg *config.Config, registry *shm.Registry) (runtime.Runtime, func()) {
	if cfg.Runtime.Type == "remote" {
		rt := remote.New(cfg.Runtime.Remote.URL, registry,
			remote.WithToken(cfg.Runtime.Remote.Token),
			remote.WithTimeout(cfg.Runtime.Remote.Timeout),
		)
		slog.Info("runtime configured", "type", "remote", "url", cfg.Runtime.Remote.URL)
		return rt, func() { rt.Close() }
	}

	models := make([]echo.Model, 0, len(cfg.Runtime.Models))
	for _, m := range cfg.Runtime.Models {
		models = append(models, echo.Model{
			Name:     m.Name,
			Versions: m.Versions,
			Platform: m.Platform,
			Inputs:   tensorMetadata(m.Inputs),
			Outputs:  tensorMetadata(m.Outputs),
		})
	}
	slog.Info("runtime configured", "type", "echo", "models", len(models))
	return echo.New(models, registry), func() {}
}

func tensorMetadata(tensors []config.TensorConfig) []runtime.TensorMetadata {
	if len(tensors) == 0 {
		return nil
	}
	out := make([]runtime.TensorMetadata, 0, len(tensors))
	for _, t := range tensors {
		out = append(out, runtime.TensorMetadata{Name: t.Name, DataType: t.DataType, Shape: t.Shape})
	}
	return out
}

// newCodec builds the decoder, encoder and compressor. Shared-memory
// references are rejected when registry is nil.
func newCodec(cfg *config.Config, registry *shm.Registry) (transporthttp.Codec, error) {
	format := cfg.WireFormat()

	fixed, err := loadFixedHeader(cfg.Wire)
	if err != nil {
		return transporthttp.Codec{}, err
	}

	var resolver shm.Resolver
	if registry != nil {
		resolver = registry
	}
	dec, err := wire.NewDecoder(wire.DecoderConfig{Format: format, FixedHeader: fixed}, resolver)
	if err != nil {
		return transporthttp.Codec{}, fmt.Errorf("creating decoder: %w", err)
	}

	return transporthttp.Codec{
		Decoder:    dec,
		Encoder:    wire.NewEncoder(format),
		Compressor: compress.New(compress.WithLevel(cfg.Compression.Level)),
	}, nil
}

func loadFixedHeader(cfg config.WireConfig) (*wire.FixedHeader, error) {
	switch {
	case cfg.FixedHeader != "":
		return wire.NewFixedHeader([]byte(cfg.FixedHeader), cfg.FixedHeaderLength)
	case cfg.FixedHeaderFile != "":
		return wire.LoadFixedHeader(cfg.FixedHeaderFile, cfg.FixedHeaderLength)
	default:
		return nil, nil
	}
}

// newAuthMiddleware builds the authentication middleware for the whole
// HTTP handler, metrics included.
func newAuthMiddleware(cfg *config.Config) (func(http.Handler) http.Handler, error) {
	chain := &auth.AuthChain{DefaultDecision: auth.No}

	switch cfg.Auth.Type {
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					ServiceTier: k.ServiceTier,
					Scopes:      k.Scopes,
					Models:      k.Models,
				},
			})
		}
		chain.Authenticators = append(chain.Authenticators, apikey.New(entries))
	case "jwt":
		jcfg := jwt.Config{
			Secret:      []byte(cfg.Auth.JWT.Secret),
			Issuer:      cfg.Auth.JWT.Issuer,
			Audience:    cfg.Auth.JWT.Audience,
			UserClaim:   cfg.Auth.JWT.UserClaim,
			TierClaim:   cfg.Auth.JWT.TierClaim,
			ScopesClaim: cfg.Auth.JWT.ScopesClaim,
			ModelsClaim: cfg.Auth.JWT.ModelsClaim,
			Leeway:      cfg.Auth.JWT.Leeway,
		}
		if cfg.Auth.JWT.PublicKeyFile != "" {
			pem, err := os.ReadFile(cfg.Auth.JWT.PublicKeyFile)
			if err != nil {
				return nil, fmt.Errorf("reading JWT public key: %w", err)
			}
			jcfg.PublicKeyPEM = pem
		}
		a, err := jwt.New(jcfg)
		if err != nil {
			return nil, err
		}
		chain.Authenticators = append(chain.Authenticators, a)
	default:
		chain.Authenticators = append(chain.Authenticators, &noop.Authenticator{})
	}

	var limiter auth.RateLimiter
	if cfg.Auth.Limits.DefaultRPM > 0 || len(cfg.Auth.Limits.Tiers) > 0 {
		tiers := make(map[string]auth.TierConfig, len(cfg.Auth.Limits.Tiers))
		for name, rpm := range cfg.Auth.Limits.Tiers {
			tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
		}
		limiter = auth.NewInProcessLimiter(tiers, cfg.Auth.Limits.DefaultRPM)
	}

	return auth.Middleware(chain, auth.Options{
		Limiter:      limiter,
		Bypass:       bypassEndpoints(cfg),
		ControlScope: cfg.Auth.ControlScope,
	}), nil
}

// bypassEndpoints returns the configured bypass list, or the health probes
// plus the metrics path.
func bypassEndpoints(cfg *config.Config) []string {
	if len(cfg.Auth.Bypass) > 0 {
		return cfg.Auth.Bypass
	}
	bypass := []string{"/v2/health/live", "/v2/health/ready"}
	if cfg.Observability.Metrics.Enabled {
		bypass = append(bypass, cfg.Observability.Metrics.Path)
	}
	return bypass
}
