// Package config provides unified configuration for the polygate gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (POLYGATE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the polygate gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Providers     []ProviderConfig    `yaml:"providers"`
	Poller        PollerConfig        `yaml:"poller"`
	Router        RouterConfig        `yaml:"router"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 600s, streams are long-lived
	MaxBodyBytes int64         `yaml:"max_body_bytes"` // default: 10 MiB
}

// GatewayConfig holds request handling defaults applied before routing.
type GatewayConfig struct {
	// DefaultModel is used when a request omits the model field.
	DefaultModel string `yaml:"default_model"`

	// DefaultSystemPrompt is prepended as a system turn when a request
	// carries no system instructions of its own.
	DefaultSystemPrompt string `yaml:"default_system_prompt"`

	// DefaultMaxTokens fills in max_tokens for dialects where it is
	// optional. Default: 4096.
	DefaultMaxTokens int `yaml:"default_max_tokens"`
}

// ProviderConfig describes one upstream LLM endpoint.
type ProviderConfig struct {
	// Name identifies the provider in logs, metrics, and health output.
	Name string `yaml:"name"`

	// Type selects the client: "openai" for OpenAI-compatible HTTP
	// endpoints, "jobapi" for submit-and-poll job services.
	Type string `yaml:"type"`

	// BaseURL is the endpoint root, e.g. "http://vllm:8000/v1".
	BaseURL string `yaml:"base_url"`

	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"` // _file variant for api_key

	// Models lists the model names this endpoint serves.
	Models []string `yaml:"models"`

	// Streaming enables native SSE streaming for type=openai endpoints.
	Streaming bool `yaml:"streaming"`

	// Priority orders providers during selection; higher wins. Default: 0.
	Priority int `yaml:"priority"`

	// MaxInFlight caps concurrent requests to this endpoint. 0 = unlimited.
	MaxInFlight int `yaml:"max_in_flight"`

	// Timeout bounds non-streaming requests. Default: 120s.
	Timeout time.Duration `yaml:"timeout"`
}

// PollerConfig tunes the job polling loop for type=jobapi providers.
type PollerConfig struct {
	BaseDelay     time.Duration `yaml:"base_delay"`     // default: 500ms
	GrowthFactor  float64       `yaml:"growth_factor"`  // default: 1.3
	CapDelay      time.Duration `yaml:"cap_delay"`      // default: 30s
	MaxAttempts   int           `yaml:"max_attempts"`   // default: 120
	Budget        time.Duration `yaml:"budget"`         // default: 5m
	RetryFallback time.Duration `yaml:"retry_fallback"` // default: 2s
}

// RouterConfig tunes provider selection and health tracking.
type RouterConfig struct {
	EWMAAlpha          float64       `yaml:"ewma_alpha"`          // default: 0.3
	DegradedThreshold  int           `yaml:"degraded_threshold"`  // default: 3
	UnhealthyThreshold int           `yaml:"unhealthy_threshold"` // default: 6
	RecoverySuccesses  int           `yaml:"recovery_successes"`  // default: 3
	Cooldown           time.Duration `yaml:"cooldown"`            // default: 30s
}

// StorageConfig holds exchange persistence settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type    string         `yaml:"type"`     // "none", "apikey", or "jwt", default: "none"
	APIKeys []APIKeyConfig `yaml:"api_keys"` // API key entries for type=apikey
	JWT     JWTConfig      `yaml:"jwt"`      // settings for type=jwt
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key"`
	KeyFile     string `yaml:"key_file"` // _file variant for key
	Subject     string `yaml:"subject"`
	TenantID    string `yaml:"tenant_id"`
	ServiceTier string `yaml:"service_tier"`
}

// JWTConfig describes JWT/OIDC validation settings.
type JWTConfig struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	JWKSURL  string `yaml:"jwks_url"`
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 600 * time.Second,
			MaxBodyBytes: 10 << 20,
		},
		Gateway: GatewayConfig{
			DefaultMaxTokens: 4096,
		},
		Poller: PollerConfig{
			BaseDelay:     500 * time.Millisecond,
			GrowthFactor:  1.3,
			CapDelay:      30 * time.Second,
			MaxAttempts:   120,
			Budget:        5 * time.Minute,
			RetryFallback: 2 * time.Second,
		},
		Router: RouterConfig{
			EWMAAlpha:          0.3,
			DegradedThreshold:  3,
			UnhealthyThreshold: 6,
			RecoverySuccesses:  3,
			Cooldown:           30 * time.Second,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
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
	}
}
