// Package config loads the gateway configuration from defaults, a YAML
// file, environment variables and secret files, in that order.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Wire          WireConfig          `yaml:"wire"`
	Compression   CompressionConfig   `yaml:"compression"`
	Runtime       RuntimeConfig       `yaml:"runtime"`
	SharedMemory  SharedMemoryConfig  `yaml:"shared_memory"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	MaxBodySize     int64         `yaml:"max_body_size"`
	ChunkSize       int           `yaml:"chunk_size"`
	Entrypoint      string        `yaml:"entrypoint"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WireConfig selects the request encoding.
type WireConfig struct {
	// Format is "standard" or "record". The legacy names TRITON and
	// ADSBRAIN_BOND are accepted.
	Format string `yaml:"format"`

	// FixedHeader is an inline JSON header used for every request.
	// FixedHeaderFile is read when FixedHeader is empty.
	FixedHeader     string `yaml:"fixed_header"`
	FixedHeaderFile string `yaml:"fixed_header_file"`

	// FixedHeaderLength is the number of leading body bytes the fixed
	// header replaces. Negative means the length of the header JSON.
	FixedHeaderLength int `yaml:"fixed_header_length"`
}

// CompressionConfig controls response compression.
type CompressionConfig struct {
	// Response is the codec used when a client sends no Accept-Encoding.
	Response string `yaml:"response"`
	MinSize  int    `yaml:"min_size"`
	Level    int    `yaml:"level"`
}

// RuntimeConfig selects the inference runtime.
type RuntimeConfig struct {
	// Type is "echo" or "remote".
	Type   string        `yaml:"type"`
	Models []ModelConfig `yaml:"models"`
	Remote RemoteConfig  `yaml:"remote"`
}

// ModelConfig describes a model served by the echo runtime.
type ModelConfig struct {
	Name     string         `yaml:"name" json:"name"`
	Versions []string       `yaml:"versions" json:"versions"`
	Platform string         `yaml:"platform" json:"platform"`
	Inputs   []TensorConfig `yaml:"inputs" json:"inputs"`
	Outputs  []TensorConfig `yaml:"outputs" json:"outputs"`
}

// TensorConfig describes one model input or output.
type TensorConfig struct {
	Name     string  `yaml:"name" json:"name"`
	DataType string  `yaml:"datatype" json:"datatype"`
	Shape    []int64 `yaml:"shape" json:"shape"`
}

// RemoteConfig points at an upstream server speaking the v2 protocol.
type RemoteConfig struct {
	URL       string        `yaml:"url"`
	Token     string        `yaml:"token"`
	TokenFile string        `yaml:"token_file"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SharedMemoryConfig controls shared-memory region support.
type SharedMemoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type    string          `yaml:"type"` // "none", "apikey", "jwt"
	APIKeys []APIKeyConfig  `yaml:"api_keys"`
	JWT     JWTConfig       `yaml:"jwt"`
	Bypass  []string        `yaml:"bypass"`
	Limits  RateLimitConfig `yaml:"rate_limit"`

	// ControlScope, when set, is required for repository, shared-memory
	// and trace update calls.
	ControlScope string `yaml:"control_scope"`
}

// APIKeyConfig holds a single API key entry.
type APIKeyConfig struct {
	Key         string   `yaml:"key" json:"key"`
	KeyFile     string   `yaml:"key_file" json:"key_file"`
	Subject     string   `yaml:"subject" json:"subject"`
	ServiceTier string   `yaml:"service_tier" json:"service_tier"`
	Scopes      []string `yaml:"scopes" json:"scopes"`
	Models      []string `yaml:"models" json:"models"`
}

// JWTConfig holds JWT validation settings.
type JWTConfig struct {
	Secret        string        `yaml:"secret"`
	SecretFile    string        `yaml:"secret_file"`
	PublicKeyFile string        `yaml:"public_key_file"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	UserClaim     string        `yaml:"user_claim"`
	TierClaim     string        `yaml:"tier_claim"`
	ScopesClaim   string        `yaml:"scopes_claim"`
	ModelsClaim   string        `yaml:"models_claim"`
	Leeway        time.Duration `yaml:"leeway"`
}

// RateLimitConfig holds per-tier request limits.
type RateLimitConfig struct {
	DefaultRPM int            `yaml:"default_rpm"`
	Tiers      map[string]int `yaml:"tiers"`
}

// ObservabilityConfig holds metrics settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Debug  string `yaml:"debug"`  // comma separated debug categories
}

// Defaults returns a Config with all default values applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8000,
			MaxBodySize:     64 << 20,
			ChunkSize:       64 << 10,
			Entrypoint:      "/v2",
			ShutdownTimeout: 30 * time.Second,
		},
		Wire: WireConfig{
			Format:            "standard",
			FixedHeaderLength: -1,
		},
		Compression: CompressionConfig{
			Response: "identity",
			Level:    -1,
		},
		Runtime: RuntimeConfig{
			Type: "echo",
			Remote: RemoteConfig{
				Timeout: 60 * time.Second,
			},
		},
		SharedMemory: SharedMemoryConfig{
			Enabled: true,
			Dir:     "/dev/shm",
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
