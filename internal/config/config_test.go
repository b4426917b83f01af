package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 8780 {
		t.Errorf("default port = %d", cfg.Gateway.Port)
	}
	if cfg.Database.SQLitePath != "parley.db" {
		t.Errorf("default sqlite path = %q", cfg.Database.SQLitePath)
	}
}

func TestLoad_FileAndEnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"gateway": {"host": "127.0.0.1", "port": 9000, "rate_limit_rpm": 5},
		"letta": {"base_url": "https://letta.example"},
		"turn": {"max_research_calls": 7}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PARLEY_LETTA_API_KEY", "env-key")
	t.Setenv("PARLEY_GATEWAY_PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("host = %q", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 9100 {
		t.Errorf("port = %d, env must override the file", cfg.Gateway.Port)
	}
	if cfg.Letta.BaseURL != "https://letta.example" || cfg.Letta.APIKey != "env-key" {
		t.Errorf("letta = %+v", cfg.Letta)
	}
	if cfg.Turn.MaxResearchCalls != 7 {
		t.Errorf("max research calls = %d", cfg.Turn.MaxResearchCalls)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation failure without secrets")
	}
	cfg.Letta.APIKey = "k"
	cfg.Vault.MasterSecret = "m"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	cfg.Gateway.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected port validation failure")
	}
}

func TestSecretsNeverSerialized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	// A config file carrying secret-looking keys must not populate the
	// env-only fields.
	body := `{"letta": {"APIKey": "from-file"}, "vault": {"MasterSecret": "from-file"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Letta.APIKey != "" || cfg.Vault.MasterSecret != "" {
		t.Errorf("secrets leaked in from the file: %+v %+v", cfg.Letta, cfg.Vault)
	}
}
