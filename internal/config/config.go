// Package config holds the gateway configuration: a JSON file for shape,
// environment variables for secrets. Secrets never round-trip through the
// file (json:"-").
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"

	"github.com/parleyhq/parley/internal/tracing"
)

// Config is the root configuration for the Parley gateway.
type Config struct {
	Gateway   GatewayConfig  `json:"gateway"`
	Database  DatabaseConfig `json:"database,omitempty"`
	Letta     LettaConfig    `json:"letta"`
	Arcade    ArcadeConfig   `json:"arcade,omitempty"`
	Vault     VaultConfig    `json:"vault,omitempty"`
	Turn      TurnConfig     `json:"turn,omitempty"`
	Telemetry tracing.Config `json:"telemetry,omitempty"`
}

// GatewayConfig configures the HTTP surface.
type GatewayConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	RateLimitRPM    int    `json:"rate_limit_rpm"`
	MaxMessageChars int    `json:"max_message_chars"`
}

// DatabaseConfig selects the storage backend. A non-empty DSN switches to
// managed (Postgres) mode; otherwise the standalone sqlite file is used.
// PostgresDSN is NEVER read from the config file, only env PARLEY_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// IsManaged reports whether the gateway runs against Postgres.
func (c *Config) IsManaged() bool { return c.Database.PostgresDSN != "" }

// LettaConfig configures the remote agent platform.
// APIKey from env PARLEY_LETTA_API_KEY only.
type LettaConfig struct {
	APIKey  string `json:"-"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// ArcadeConfig configures the managed tool gateway. Left empty, the gateway
// is not attached and turns run with built-in and tenant MCP tools only.
// APIKey from env PARLEY_ARCADE_API_KEY only.
type ArcadeConfig struct {
	APIKey  string `json:"-"`
	BaseURL string `json:"base_url,omitempty"`
	Toolkit string `json:"toolkit,omitempty"`
}

// VaultConfig holds the credential-vault master secret.
// MasterSecret from env PARLEY_MASTER_SECRET only.
type VaultConfig struct {
	MasterSecret string `json:"-"`
}

// TurnConfig bounds per-turn resource usage. Zero values take the
// orchestrator's defaults.
type TurnConfig struct {
	HistoryLimit     int `json:"history_limit,omitempty"`
	StepHistoryLimit int `json:"step_history_limit,omitempty"`
	MaxInputMessages int `json:"max_input_messages,omitempty"`
	MaxSteps         int `json:"max_steps,omitempty"`
	MaxResearchCalls int `json:"max_research_calls,omitempty"`
	BufferBytes      int `json:"buffer_bytes,omitempty"`
	StorageBytes     int `json:"storage_bytes,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            8780,
			RateLimitRPM:    20,
			MaxMessageChars: 32000,
		},
		Database: DatabaseConfig{
			SQLitePath: "parley.db",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars. A missing
// file is not an error; env-only operation is supported.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env takes precedence
// over file values; secrets only exist here.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("PARLEY_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("PARLEY_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("PARLEY_LETTA_API_KEY", &c.Letta.APIKey)
	envStr("PARLEY_LETTA_BASE_URL", &c.Letta.BaseURL)
	envStr("PARLEY_LETTA_MODEL", &c.Letta.Model)
	envStr("PARLEY_ARCADE_API_KEY", &c.Arcade.APIKey)
	envStr("PARLEY_ARCADE_BASE_URL", &c.Arcade.BaseURL)
	envStr("PARLEY_MASTER_SECRET", &c.Vault.MasterSecret)
	envStr("PARLEY_GATEWAY_HOST", &c.Gateway.Host)
	envInt("PARLEY_GATEWAY_PORT", &c.Gateway.Port)
}

// Validate checks the parts of the config that cannot fail lazily.
func (c *Config) Validate() error {
	if c.Letta.APIKey == "" {
		return fmt.Errorf("letta api key missing; set PARLEY_LETTA_API_KEY")
	}
	if c.Vault.MasterSecret == "" {
		return fmt.Errorf("vault master secret missing; set PARLEY_MASTER_SECRET")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port %d out of range", c.Gateway.Port)
	}
	return nil
}
