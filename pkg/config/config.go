// Package config loads and validates the chatbridge configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete chatbridge configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Database  DatabaseConfig  `yaml:"database"`
	AuthState AuthStateConfig `yaml:"auth_state"`
	Pool      PoolConfig      `yaml:"pool"`
	Pairing   PairingConfig   `yaml:"pairing"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Inference InferenceConfig `yaml:"inference"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Address string `yaml:"address"`

	// Token, when set, is required in the X-Server-Token header of every
	// control-surface request.
	Token string `yaml:"token"`
}

// ProtocolConfig selects the registered protocol engine.
type ProtocolConfig struct {
	Engine string `yaml:"engine"`
}

// DatabaseConfig configures the database connection.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// AuthStateConfig selects the credential persistence backend.
type AuthStateConfig struct {
	// Backend is one of "postgres", "file", "memory".
	Backend string `yaml:"backend"`

	// Dir is the root directory for the file backend.
	Dir string `yaml:"dir"`
}

// PoolConfig bounds concurrent protocol sessions.
type PoolConfig struct {
	Capacity int `yaml:"capacity"`
}

// PairingConfig configures the QR pairing handshake.
type PairingConfig struct {
	// Timeout is how long a session may wait for a code scan before its
	// credentials are purged and the slot released.
	Timeout time.Duration `yaml:"timeout"`
}

// WebhookConfig configures lifecycle notifications to the control plane.
type WebhookConfig struct {
	// URL is the control-plane webhook endpoint. Empty disables publishing.
	URL string `yaml:"url"`

	// Token is sent in the X-Server-Token header of every delivery.
	Token string `yaml:"token"`

	// MaxAttempts bounds delivery retries per event.
	MaxAttempts int `yaml:"max_attempts"`

	Timeout time.Duration `yaml:"timeout"`
}

// InferenceConfig configures the external inference endpoint.
type InferenceConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// BootstrapConfig configures reconnection of persisted sessions at startup.
type BootstrapConfig struct {
	// Delay is the spacing between successive session reconnects, keeping
	// process restarts from hammering the protocol endpoint.
	Delay time.Duration `yaml:"delay"`
}

// Load reads configuration from a YAML file.
// The path is expected to come from command line arguments, controlled by the operator.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	ApplyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults applies default values to the config.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":3000"
	}
	if cfg.Protocol.Engine == "" {
		cfg.Protocol.Engine = "whatsapp"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.AuthState.Backend == "" {
		cfg.AuthState.Backend = "postgres"
	}
	if cfg.Pool.Capacity == 0 {
		cfg.Pool.Capacity = 50
	}
	if cfg.Pairing.Timeout == 0 {
		cfg.Pairing.Timeout = 2 * time.Minute
	}
	if cfg.Webhook.MaxAttempts == 0 {
		cfg.Webhook.MaxAttempts = 3
	}
	if cfg.Webhook.Timeout == 0 {
		cfg.Webhook.Timeout = 10 * time.Second
	}
	if cfg.Inference.Timeout == 0 {
		cfg.Inference.Timeout = 60 * time.Second
	}
	if cfg.Bootstrap.Delay == 0 {
		cfg.Bootstrap.Delay = time.Second
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	switch c.AuthState.Backend {
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the postgres auth_state backend")
		}
	case "file":
		if c.AuthState.Dir == "" {
			errs = append(errs, "auth_state.dir is required for the file auth_state backend")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("auth_state.backend %q is not one of postgres, file, memory", c.AuthState.Backend))
	}

	if c.Pool.Capacity < 1 {
		errs = append(errs, "pool.capacity must be at least 1")
	}

	if c.Inference.URL == "" {
		errs = append(errs, "inference.url is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
