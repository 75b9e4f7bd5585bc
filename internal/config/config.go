// Package config loads and validates the service configuration from YAML
// with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for rigmate.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Limits  LimitsConfig  `yaml:"limits"`
	Search  SearchConfig  `yaml:"search"`
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LimitsConfig struct {
	MaxConnections    int           `yaml:"max_connections"`
	MaxConcurrent     int           `yaml:"max_concurrent_queries"`
	QueryTimeout      time.Duration `yaml:"query_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	MinQueryLen       int           `yaml:"min_query_length"`
	MaxQueryLen       int           `yaml:"max_query_length"`
	MemoryTurns       int           `yaml:"memory_turns"`
	MemorySessions    int           `yaml:"memory_sessions"`
	EvictionInterval  time.Duration `yaml:"eviction_interval"`
}

type SearchConfig struct {
	Provider    string        `yaml:"provider"`
	BraveAPIKey string        `yaml:"brave_api_key"`
	MaxResults  int           `yaml:"max_results"`
	MinInterval time.Duration `yaml:"min_interval"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type EngineConfig struct {
	Provider        string `yaml:"provider"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	Model           string `yaml:"model"`
	MaxTokens       int    `yaml:"max_tokens"`
	MaxIterations   int    `yaml:"max_iterations"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses the configuration file, then applies environment
// overrides and defaults. An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Limits.MaxConnections == 0 {
		cfg.Limits.MaxConnections = 100
	}
	if cfg.Limits.MaxConcurrent == 0 {
		cfg.Limits.MaxConcurrent = 25
	}
	if cfg.Limits.QueryTimeout == 0 {
		cfg.Limits.QueryTimeout = 5 * time.Minute
	}
	if cfg.Limits.HeartbeatInterval == 0 {
		cfg.Limits.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Limits.StaleAfter == 0 {
		cfg.Limits.StaleAfter = 300 * time.Second
	}
	if cfg.Limits.MinQueryLen == 0 {
		cfg.Limits.MinQueryLen = 3
	}
	if cfg.Limits.MaxQueryLen == 0 {
		cfg.Limits.MaxQueryLen = 1000
	}
	if cfg.Limits.MemoryTurns == 0 {
		cfg.Limits.MemoryTurns = 40
	}
	if cfg.Limits.MemorySessions == 0 {
		cfg.Limits.MemorySessions = 500
	}
	if cfg.Limits.EvictionInterval == 0 {
		cfg.Limits.EvictionInterval = 10 * time.Minute
	}
	if cfg.Search.Provider == "" {
		cfg.Search.Provider = "duckduckgo"
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 5
	}
	if cfg.Search.MinInterval == 0 {
		cfg.Search.MinInterval = time.Second
	}
	if cfg.Search.Timeout == 0 {
		cfg.Search.Timeout = 30 * time.Second
	}
	if cfg.Search.MaxAttempts == 0 {
		cfg.Search.MaxAttempts = 3
	}
	if cfg.Engine.Provider == "" {
		cfg.Engine.Provider = "anthropic"
	}
	if cfg.Engine.MaxTokens == 0 {
		cfg.Engine.MaxTokens = 4096
	}
	if cfg.Engine.MaxIterations == 0 {
		cfg.Engine.MaxIterations = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnv layers well-known environment variables over the file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RIGMATE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("RIGMATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RIGMATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RIGMATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("RIGMATE_ENGINE_PROVIDER"); v != "" {
		cfg.Engine.Provider = v
	}
	if v := os.Getenv("RIGMATE_SEARCH_PROVIDER"); v != "" {
		cfg.Search.Provider = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Engine.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Engine.OpenAIAPIKey = v
	}
	if v := os.Getenv("BRAVE_API_KEY"); v != "" {
		cfg.Search.BraveAPIKey = v
	}
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Engine.Provider {
	case "anthropic":
		if c.Engine.AnthropicAPIKey == "" {
			return fmt.Errorf("engine.anthropic_api_key is required (or set ANTHROPIC_API_KEY)")
		}
	case "openai":
		if c.Engine.OpenAIAPIKey == "" {
			return fmt.Errorf("engine.openai_api_key is required (or set OPENAI_API_KEY)")
		}
	default:
		return fmt.Errorf("engine.provider %q is not supported (anthropic, openai)", c.Engine.Provider)
	}
	switch c.Search.Provider {
	case "duckduckgo":
	case "brave":
		if c.Search.BraveAPIKey == "" {
			return fmt.Errorf("search.brave_api_key is required (or set BRAVE_API_KEY)")
		}
	default:
		return fmt.Errorf("search.provider %q is not supported (duckduckgo, brave)", c.Search.Provider)
	}
	if c.Limits.MinQueryLen > c.Limits.MaxQueryLen {
		return fmt.Errorf("limits.min_query_length exceeds max_query_length")
	}
	return nil
}
