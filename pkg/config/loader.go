package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/tensorgate/pkg/debug"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, TENSORGATE_CONFIG env, ./config.yaml, /etc/tensorgate/config.yaml)
//  3. Environment variable overrides, including the legacy AB_REQUEST_TYPE
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
		debug.Log("config", "loaded config file", "path", filePath)
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile returns the first config file found, or "" when there
// is none: the explicit path, TENSORGATE_CONFIG, ./config.yaml, then
// /etc/tensorgate/config.yaml.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("TENSORGATE_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/tensorgate/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile parses a YAML file into cfg. Fields absent from the file
// keep their current values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps TENSORGATE_* environment variables onto cfg.
// Unparseable numeric values are ignored.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TENSORGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TENSORGATE_MAX_BODY_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Server.MaxBodySize = n
		}
	}

	// AB_REQUEST_TYPE is the legacy format switch. TENSORGATE_WIRE_FORMAT
	// wins when both are set.
	if v := os.Getenv("AB_REQUEST_TYPE"); v != "" {
		cfg.Wire.Format = legacyRequestType(v)
	}
	if v := os.Getenv("TENSORGATE_WIRE_FORMAT"); v != "" {
		cfg.Wire.Format = v
	}
	if v := os.Getenv("TENSORGATE_FIXED_HEADER_FILE"); v != "" {
		cfg.Wire.FixedHeaderFile = v
	}

	if v := os.Getenv("TENSORGATE_RESPONSE_COMPRESSION"); v != "" {
		cfg.Compression.Response = v
	}

	if v := os.Getenv("TENSORGATE_RUNTIME"); v != "" {
		cfg.Runtime.Type = v
	}
	if v := os.Getenv("TENSORGATE_RUNTIME_URL"); v != "" {
		cfg.Runtime.Remote.URL = v
	}
	if v := os.Getenv("TENSORGATE_RUNTIME_TOKEN"); v != "" {
		cfg.Runtime.Remote.Token = v
	}
	// TENSORGATE_MODELS: JSON array of model configs.
	if v := os.Getenv("TENSORGATE_MODELS"); v != "" {
		var models []ModelConfig
		if err := json.Unmarshal([]byte(v), &models); err == nil && len(models) > 0 {
			cfg.Runtime.Models = models
		}
	}

	if v := os.Getenv("TENSORGATE_SHM_DIR"); v != "" {
		cfg.SharedMemory.Dir = v
	}

	if v := os.Getenv("TENSORGATE_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}
	// TENSORGATE_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("TENSORGATE_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err == nil && len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}
	if v := os.Getenv("TENSORGATE_JWT_SECRET"); v != "" {
		cfg.Auth.JWT.Secret = v
	}

	if v := os.Getenv("TENSORGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TENSORGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("TENSORGATE_DEBUG"); v != "" {
		cfg.Logging.Debug = v
	}
}

// legacyRequestType maps the legacy request type names. Unknown values
// fall back to the standard format.
func legacyRequestType(v string) string {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "TRITON":
		return "standard"
	case "ADSBRAIN_BOND":
		return "record"
	default:
		slog.Warn("unknown AB_REQUEST_TYPE, using the standard format", "value", v)
		return "standard"
	}
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	return keys, nil
}

// resolveFileReferences fills empty secret fields from their _file
// counterparts. An explicit value always wins over the file.
func resolveFileReferences(cfg *Config) error {
	if cfg.Runtime.Remote.TokenFile != "" && cfg.Runtime.Remote.Token == "" {
		val, err := readSecretFile(cfg.Runtime.Remote.TokenFile)
		if err != nil {
			return fmt.Errorf("runtime.remote.token_file: %w", err)
		}
		cfg.Runtime.Remote.Token = val
	}

	if cfg.Auth.JWT.SecretFile != "" && cfg.Auth.JWT.Secret == "" {
		val, err := readSecretFile(cfg.Auth.JWT.SecretFile)
		if err != nil {
			return fmt.Errorf("auth.jwt.secret_file: %w", err)
		}
		cfg.Auth.JWT.Secret = val
	}

	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
