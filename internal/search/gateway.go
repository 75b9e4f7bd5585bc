package search

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/rigmate/rigmate/internal/observability"
	"github.com/rigmate/rigmate/internal/outcall"
	"github.com/rigmate/rigmate/pkg/models"
)

// Config tunes the gateway.
type Config struct {
	// MaxResults caps results per search. Default: 5.
	MaxResults int
	// MinInterval paces outbound searches. Default: 1s.
	MinInterval time.Duration
	// Timeout bounds a single search attempt. Default: 30s.
	Timeout time.Duration
	// MaxAttempts bounds retries per search. Default: 3.
	MaxAttempts int
}

// DefaultConfig returns the standard gateway tuning.
func DefaultConfig() Config {
	return Config{
		MaxResults:  5,
		MinInterval: time.Second,
		Timeout:     30 * time.Second,
		MaxAttempts: 3,
	}
}

// Gateway fronts a search Provider with pacing, per-attempt timeouts, and
// retries on transient failures. An empty result set is a successful call.
type Gateway struct {
	provider   Provider
	caller     *outcall.Caller[[]models.SearchResult]
	maxResults int
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewGateway wraps the provider. Metrics may be nil; a nil logger discards
// logs.
func NewGateway(provider Provider, config Config, metrics *observability.Metrics, logger *slog.Logger) *Gateway {
	if config.MaxResults <= 0 {
		config.MaxResults = 5
	}
	if config.MinInterval <= 0 {
		config.MinInterval = time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	callerConfig := outcall.DefaultConfig()
	callerConfig.MinInterval = config.MinInterval
	callerConfig.Timeout = config.Timeout
	callerConfig.MaxAttempts = config.MaxAttempts

	return &Gateway{
		provider:   provider,
		caller:     outcall.New[[]models.SearchResult](callerConfig),
		maxResults: config.MaxResults,
		logger:     logger.With("component", "search", "provider", provider.Name()),
		metrics:    metrics,
	}
}

// Search runs one paced, retried search.
func (g *Gateway) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	g.logger.Debug("search", "query", query)
	start := time.Now()

	results, err := g.caller.Call(ctx, func(ctx context.Context) ([]models.SearchResult, error) {
		return g.provider.Search(ctx, query, g.maxResults)
	})
	if err != nil {
		g.metrics.RecordSearch("error")
		g.logger.Warn("search failed", "query", query, "error", err)
		return nil, err
	}

	g.metrics.RecordSearch("success")
	g.logger.Info("search complete",
		"query", query,
		"results", len(results),
		"duration_ms", time.Since(start).Milliseconds())
	return results, nil
}

// Stats reports cumulative attempt counters.
func (g *Gateway) Stats() models.CallStats {
	return g.caller.Stats()
}
