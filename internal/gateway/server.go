// Package gateway exposes the service over HTTP: the WebSocket chat
// endpoint, liveness, stats, and Prometheus metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rigmate/rigmate/internal/faults"
	"github.com/rigmate/rigmate/internal/observability"
	"github.com/rigmate/rigmate/internal/pipeline"
	"github.com/rigmate/rigmate/internal/registry"
	"github.com/rigmate/rigmate/internal/search"
	"github.com/rigmate/rigmate/internal/sessions"
	"github.com/rigmate/rigmate/pkg/models"
)

const (
	wsReadBufferSize  = 8192
	wsWriteBufferSize = 8192
	wsMaxMessageBytes = 1 << 20

	shutdownGrace = 10 * time.Second
)

// Config tunes the HTTP server.
type Config struct {
	// Addr is the listen address, e.g. "0.0.0.0:8000".
	Addr string
	// EvictionInterval is the period of the background memory-eviction
	// sweep. Default: 10m.
	EvictionInterval time.Duration
	// MemorySessions is the session ceiling enforced by the sweep.
	// Default: 500.
	MemorySessions int
	// Version is reported by the info endpoint.
	Version string
}

// Server wires the registry, pipeline, and memory store to HTTP routes.
type Server struct {
	config   Config
	registry *registry.Registry
	pipeline *pipeline.Pipeline
	memory   *sessions.MemoryStore
	searches *search.Gateway
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader

	http *http.Server
}

// New creates the server. Searches and metrics may be nil; a nil logger
// discards logs.
func New(config Config, reg *registry.Registry, pipe *pipeline.Pipeline, memory *sessions.MemoryStore, searches *search.Gateway, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if config.EvictionInterval <= 0 {
		config.EvictionInterval = 10 * time.Minute
	}
	if config.MemorySessions <= 0 {
		config.MemorySessions = 500
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		config:   config,
		registry: reg,
		pipeline: pipe,
		memory:   memory,
		searches: searches,
		metrics:  metrics,
		logger:   logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsReadBufferSize,
			WriteBufferSize: wsWriteBufferSize,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleInfo)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	s.http = &http.Server{
		Addr:              config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	go s.evictionLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.config.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// evictionLoop periodically trims idle session memory.
func (s *Server) evictionLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.EvictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pipeline.EvictIdleMemory(s.config.MemorySessions)
		}
	}
}

// handleWS upgrades the connection and runs the session's read loop until
// the client goes away or the registry drops it.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	ws.SetReadLimit(wsMaxMessageBytes)

	conn := registry.NewWSConn(ws)
	sessionID, err := s.registry.Connect(conn)
	if err != nil {
		// Connect already refused and closed the socket.
		return
	}
	s.metrics.SessionConnected()
	defer func() {
		s.registry.Disconnect(sessionID)
		s.pipeline.ClearMemory(sessionID)
		s.metrics.SessionDisconnected()
	}()

	ctx := r.Context()
	for {
		var req models.QueryRequest
		if err := ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("read failed", "session_id", sessionID, "error", err)
			}
			return
		}
		s.registry.Touch(sessionID)
		s.dispatch(ctx, sessionID, req)
	}
}

// dispatch runs one inbound query and reports failures to the client as
// classified error messages.
func (s *Server) dispatch(ctx context.Context, sessionID string, req models.QueryRequest) {
	s.logger.Info("query received", "session_id", sessionID)

	if _, err := s.pipeline.ProcessQuery(ctx, sessionID, req.Query); err != nil {
		kind := faults.KindOf(err)
		s.logger.Warn("query rejected", "session_id", sessionID, "kind", string(kind), "error", err)

		if kind == faults.KindConnection {
			// The transport is already gone; nothing left to tell the client.
			return
		}
		msg := models.NewMessage(models.MessageError, faults.UserMessage(err), map[string]any{
			"kind": string(kind),
		})
		if serr := s.registry.Send(ctx, sessionID, msg); serr != nil {
			return
		}
		s.metrics.MessageSent(string(models.MessageError))
	}
}

// handleInfo serves basic service metadata at the root.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "rigmate",
		"version":   s.config.Version,
		"websocket": "/ws",
		"health":    "/healthz",
		"stats":     "/stats",
		"metrics":   "/metrics",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	reg := s.registry.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"active_connections": reg.ActiveConnections,
		"active_sessions":    s.memory.Stats().ActiveSessions,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{
		"connections": s.registry.Stats(),
		"memory":      s.memory.Stats(),
	}
	if s.searches != nil {
		stats["searches"] = s.searches.Stats()
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
