package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8000 {
		t.Errorf("port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Limits.MaxConnections != 100 {
		t.Errorf("max_connections = %d, want 100", cfg.Limits.MaxConnections)
	}
	if cfg.Limits.QueryTimeout != 5*time.Minute {
		t.Errorf("query_timeout = %v, want 5m", cfg.Limits.QueryTimeout)
	}
	if cfg.Limits.HeartbeatInterval != 30*time.Second {
		t.Errorf("heartbeat_interval = %v, want 30s", cfg.Limits.HeartbeatInterval)
	}
	if cfg.Limits.StaleAfter != 300*time.Second {
		t.Errorf("stale_after = %v, want 300s", cfg.Limits.StaleAfter)
	}
	if cfg.Search.MaxResults != 5 || cfg.Search.MinInterval != time.Second || cfg.Search.MaxAttempts != 3 {
		t.Errorf("search defaults = %+v", cfg.Search)
	}
	if cfg.Engine.Provider != "anthropic" || cfg.Engine.MaxIterations != 10 {
		t.Errorf("engine defaults = %+v", cfg.Engine)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rigmate.yaml")
	data := `
server:
  port: 9001
limits:
  max_connections: 7
  query_timeout: 90s
search:
  provider: brave
  brave_api_key: file-key
engine:
  provider: openai
  openai_api_key: test
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Limits.MaxConnections != 7 {
		t.Errorf("max_connections = %d, want 7", cfg.Limits.MaxConnections)
	}
	if cfg.Limits.QueryTimeout != 90*time.Second {
		t.Errorf("query_timeout = %v, want 90s", cfg.Limits.QueryTimeout)
	}
	if cfg.Search.Provider != "brave" || cfg.Search.BraveAPIKey != "file-key" {
		t.Errorf("search = %+v", cfg.Search)
	}
	// Unset fields still take defaults.
	if cfg.Limits.MaxQueryLen != 1000 {
		t.Errorf("max_query_length = %d, want default 1000", cfg.Limits.MaxQueryLen)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/rigmate.yaml"); err == nil {
		t.Error("Load should fail for a missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RIGMATE_PORT", "9100")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("RIGMATE_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Engine.AnthropicAPIKey != "sk-ant-test" {
		t.Errorf("anthropic key not picked up from env")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q, want warn", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults with key", func(c *Config) { c.Engine.AnthropicAPIKey = "k" }, true},
		{"missing anthropic key", func(*Config) {}, false},
		{"openai provider with key", func(c *Config) {
			c.Engine.Provider = "openai"
			c.Engine.OpenAIAPIKey = "k"
		}, true},
		{"unknown engine provider", func(c *Config) {
			c.Engine.Provider = "llama"
			c.Engine.AnthropicAPIKey = "k"
		}, false},
		{"brave without key", func(c *Config) {
			c.Engine.AnthropicAPIKey = "k"
			c.Search.Provider = "brave"
		}, false},
		{"bad port", func(c *Config) {
			c.Engine.AnthropicAPIKey = "k"
			c.Server.Port = 700000
		}, false},
		{"inverted query bounds", func(c *Config) {
			c.Engine.AnthropicAPIKey = "k"
			c.Limits.MinQueryLen = 50
			c.Limits.MaxQueryLen = 10
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("Validate should fail")
			}
		})
	}
}
