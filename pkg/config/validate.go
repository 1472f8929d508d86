package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rhuss/tensorgate/pkg/compress"
	"github.com/rhuss/tensorgate/pkg/wire"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}
	if c.Server.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("server.chunk_size must be > 0, got %d", c.Server.ChunkSize))
	}
	if c.Server.Entrypoint != "" && !strings.HasPrefix(c.Server.Entrypoint, "/") {
		errs = append(errs, fmt.Errorf("server.entrypoint must start with \"/\", got %q", c.Server.Entrypoint))
	}

	format, err := wire.ParseFormat(c.Wire.Format)
	if err != nil {
		errs = append(errs, fmt.Errorf("wire.format: %w", err))
	}
	if err == nil && format == wire.FormatRecord && c.Wire.FixedHeader == "" && c.Wire.FixedHeaderFile == "" {
		errs = append(errs, fmt.Errorf("wire.fixed_header or wire.fixed_header_file is required when wire.format is \"record\""))
	}

	if compress.ParseCodec(c.Compression.Response) == compress.CodecUnknown {
		errs = append(errs, fmt.Errorf("compression.response must be \"identity\", \"gzip\", \"deflate\", or \"zstd\", got %q", c.Compression.Response))
	}
	if c.Compression.MinSize < 0 {
		errs = append(errs, fmt.Errorf("compression.min_size must be >= 0, got %d", c.Compression.MinSize))
	}
	if c.Compression.Level < -1 || c.Compression.Level > 9 {
		errs = append(errs, fmt.Errorf("compression.level must be between -1 and 9, got %d", c.Compression.Level))
	}

	switch c.Runtime.Type {
	case "echo":
		for i, m := range c.Runtime.Models {
			if m.Name == "" {
				errs = append(errs, fmt.Errorf("runtime.models[%d].name is required", i))
			}
		}
	case "remote":
		if c.Runtime.Remote.URL == "" {
			errs = append(errs, fmt.Errorf("runtime.remote.url is required when runtime.type is \"remote\""))
		}
	default:
		errs = append(errs, fmt.Errorf("runtime.type must be \"echo\" or \"remote\", got %q", c.Runtime.Type))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys is required when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
		}
	case "jwt":
		if c.Auth.JWT.Secret == "" && c.Auth.JWT.PublicKeyFile == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.secret, secret_file or public_key_file is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}
	if c.Auth.Limits.DefaultRPM < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit.default_rpm must be >= 0, got %d", c.Auth.Limits.DefaultRPM))
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// WireFormat returns the parsed wire format. It assumes Validate passed.
func (c *Config) WireFormat() wire.Format {
	f, _ := wire.ParseFormat(c.Wire.Format)
	return f
}

// ResponseCodec returns the parsed response codec.
func (c *Config) ResponseCodec() compress.Codec {
	return compress.ParseCodec(c.Compression.Response)
}
