package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rigmate/rigmate/internal/config"
	"github.com/rigmate/rigmate/internal/engine"
	"github.com/rigmate/rigmate/internal/gateway"
	"github.com/rigmate/rigmate/internal/observability"
	"github.com/rigmate/rigmate/internal/pipeline"
	"github.com/rigmate/rigmate/internal/registry"
	"github.com/rigmate/rigmate/internal/search"
	"github.com/rigmate/rigmate/internal/sessions"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				configPath = os.Getenv("RIGMATE_CONFIG")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	var provider search.Provider
	switch cfg.Search.Provider {
	case "brave":
		provider = search.NewBraveProvider(cfg.Search.BraveAPIKey)
	default:
		provider = search.NewDuckDuckGoProvider()
	}
	searches := search.NewGateway(provider, search.Config{
		MaxResults:  cfg.Search.MaxResults,
		MinInterval: cfg.Search.MinInterval,
		Timeout:     cfg.Search.Timeout,
		MaxAttempts: cfg.Search.MaxAttempts,
	}, metrics, logger)

	var eng engine.Engine
	var err error
	switch cfg.Engine.Provider {
	case "openai":
		eng, err = engine.NewOpenAIEngine(engine.OpenAIConfig{
			APIKey:        cfg.Engine.OpenAIAPIKey,
			Model:         cfg.Engine.Model,
			MaxIterations: cfg.Engine.MaxIterations,
		}, searches.Tool())
	default:
		eng, err = engine.NewAnthropicEngine(engine.AnthropicConfig{
			APIKey:        cfg.Engine.AnthropicAPIKey,
			Model:         cfg.Engine.Model,
			MaxTokens:     cfg.Engine.MaxTokens,
			MaxIterations: cfg.Engine.MaxIterations,
		}, searches.Tool())
	}
	if err != nil {
		return err
	}

	reg := registry.New(registry.Config{
		MaxConnections:    cfg.Limits.MaxConnections,
		HeartbeatInterval: cfg.Limits.HeartbeatInterval,
		StaleAfter:        cfg.Limits.StaleAfter,
	}, logger)
	memory := sessions.NewMemoryStore(cfg.Limits.MemoryTurns)

	pipe := pipeline.New(pipeline.Config{
		QueryTimeout:  cfg.Limits.QueryTimeout,
		MaxConcurrent: int64(cfg.Limits.MaxConcurrent),
		MinQueryLen:   cfg.Limits.MinQueryLen,
		MaxQueryLen:   cfg.Limits.MaxQueryLen,
	}, reg, memory, eng, searches, metrics, logger)

	server := gateway.New(gateway.Config{
		Addr:             fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		EvictionInterval: cfg.Limits.EvictionInterval,
		MemorySessions:   cfg.Limits.MemorySessions,
		Version:          version,
	}, reg, pipe, memory, searches, metrics, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting rigmate",
		"version", version,
		"engine", cfg.Engine.Provider,
		"search", cfg.Search.Provider,
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	return server.Run(ctx)
}
