// Package config loads the gateway's configuration from environment
// variables (with an optional local .env file for development), using
// koanf's env provider to fold GATEWAY_* variables into a flat struct.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from every recognized environment variable.
const envPrefix = "GATEWAY_"

// Config is intentionally flat: every field's koanf tag is the exact
// lowercased env var name (minus the GATEWAY_ prefix), so the env
// provider needs no delimiter translation between variable names like
// AVIATIONSTACK_BASE_URL and a nested struct path.
type Config struct {
	ServerPort int `koanf:"port"`

	MongoURI      string `koanf:"mongo_uri"`
	MongoDatabase string `koanf:"mongo_database"`

	AviationstackBaseURL string `koanf:"aviationstack_base_url"`
	AviationstackAPIKey  string `koanf:"aviationstack_api_key"`

	CacheTTLSeconds int `koanf:"cache_ttl_seconds"`

	BreakerFailureThreshold int `koanf:"breaker_failure_threshold"`
	BreakerRecoverySeconds  int `koanf:"breaker_recovery_seconds"`
	BreakerHalfOpenProbes   int `koanf:"breaker_half_open_probes"`

	QuotaCeiling int64 `koanf:"quota_ceiling"`

	LogLevel string `koanf:"log_level"`
}

// Load reads a local .env file if present (ignored if absent — a
// convenience for local development, not a requirement), then loads
// GATEWAY_* environment variables and applies defaults. It returns an
// error if a required secret is missing so the process refuses to start
// rather than run half-configured.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	defaults := map[string]any{
		"port":                      8080,
		"mongo_database":            "hellomira_db",
		"aviationstack_base_url":    "https://api.aviationstack.com/v1",
		"cache_ttl_seconds":         300,
		"breaker_failure_threshold": 5,
		"breaker_recovery_seconds":  30,
		"breaker_half_open_probes":  3,
		"quota_ceiling":             10000,
		"log_level":                 "info",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("%sMONGO_URI is required", envPrefix)
	}
	if cfg.AviationstackAPIKey == "" {
		return nil, fmt.Errorf("%sAVIATIONSTACK_API_KEY is required", envPrefix)
	}

	return &cfg, nil
}
