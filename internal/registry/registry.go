// Package registry tracks live client sessions: admission, delivery,
// execution gating, liveness, and teardown.
package registry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rigmate/rigmate/internal/faults"
	"github.com/rigmate/rigmate/pkg/models"
)

// ErrAtCapacity is returned by Connect when the registry is full. The
// candidate connection has already been refused and closed.
var ErrAtCapacity = faults.New(faults.KindConnection, "server at capacity")

// ErrUnknownSession is returned for operations on a session id that is not
// registered.
var ErrUnknownSession = faults.New(faults.KindConnection, "unknown session")

// Conn is the transport side of one session. *websocket.Conn satisfies it
// through WSConn; tests use fakes.
type Conn interface {
	// WriteJSON sends one JSON-encoded frame.
	WriteJSON(v any) error
	// WriteClose sends a close frame with the given status code and reason.
	WriteClose(code int, reason string) error
	// Close tears the connection down.
	Close() error
}

// WSConn adapts a gorilla websocket connection to Conn. Gorilla connections
// support one concurrent writer, so all writes are serialized here.
type WSConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

// NewWSConn wraps a websocket connection.
func NewWSConn(ws *websocket.Conn) *WSConn { return &WSConn{ws: ws} }

// WriteJSON implements Conn.
func (c *WSConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// WriteClose implements Conn.
func (c *WSConn) WriteClose(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// Close implements Conn.
func (c *WSConn) Close() error { return c.ws.Close() }

// session is the registry's record of one connected client.
type session struct {
	conn        Conn
	connectedAt time.Time
	lastSeen    time.Time
	executing   bool
	messages    int64
}

// Config tunes the registry.
type Config struct {
	// MaxConnections caps concurrent sessions. Default: 100.
	MaxConnections int
	// HeartbeatInterval is the liveness ping period. Default: 30s.
	HeartbeatInterval time.Duration
	// StaleAfter disconnects sessions with no inbound activity for this
	// long. Default: 300s.
	StaleAfter time.Duration
}

// DefaultConfig returns the standard registry tuning.
func DefaultConfig() Config {
	return Config{
		MaxConnections:    100,
		HeartbeatInterval: 30 * time.Second,
		StaleAfter:        300 * time.Second,
	}
}

// Registry is the session table. All state transitions happen under one
// mutex; the heartbeat loop runs lazily while at least one session exists.
type Registry struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	hbStop   chan struct{}

	totalMessages atomic.Int64
}

// New creates an empty registry. A nil logger discards logs.
func New(config Config, logger *slog.Logger) *Registry {
	if config.MaxConnections <= 0 {
		config.MaxConnections = 100
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 300 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		config:   config,
		logger:   logger.With("component", "registry"),
		now:      time.Now,
		sessions: map[string]*session{},
	}
}

// Connect admits a new connection and assigns it a session id. At capacity
// the candidate is refused with close code 1013 and ErrAtCapacity; existing
// sessions are unaffected. On success the client has already received a
// connection_status message carrying its session id.
func (r *Registry) Connect(conn Conn) (string, error) {
	r.mu.Lock()
	if len(r.sessions) >= r.config.MaxConnections {
		r.mu.Unlock()
		r.logger.Warn("connection refused", "reason", "at capacity", "max", r.config.MaxConnections)
		_ = conn.WriteClose(websocket.CloseTryAgainLater, "server at capacity")
		_ = conn.Close()
		return "", ErrAtCapacity
	}

	id := uuid.NewString()
	now := r.now()
	r.sessions[id] = &session{conn: conn, connectedAt: now, lastSeen: now}
	if r.hbStop == nil {
		r.hbStop = make(chan struct{})
		go r.heartbeatLoop(r.hbStop)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("session connected", "session_id", id, "active", count)

	status := models.NewMessage(models.MessageConnectionStatus, "connected", map[string]any{
		"session_id": id,
	})
	if err := r.Send(context.Background(), id, status); err != nil {
		return "", err
	}
	return id, nil
}

// Disconnect removes a session and closes its connection. Safe to call any
// number of times for the same id.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	var stop chan struct{}
	if len(r.sessions) == 0 && r.hbStop != nil {
		stop = r.hbStop
		r.hbStop = nil
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if ok {
		_ = sess.conn.Close()
		r.logger.Info("session disconnected", "session_id", id, "active", count)
	}
}

// Send delivers one message to a session. A write failure disconnects the
// session and returns a Connection fault; delivery is at-most-once and never
// retried.
func (r *Registry) Send(ctx context.Context, id string, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return faults.Wrap(faults.KindTimeout, "send cancelled", err)
	}

	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	if err := sess.conn.WriteJSON(msg); err != nil {
		r.logger.Warn("send failed, dropping session", "session_id", id, "error", err)
		r.Disconnect(id)
		return faults.Wrap(faults.KindConnection, "write to session", err)
	}

	r.mu.Lock()
	if cur, still := r.sessions[id]; still {
		cur.messages++
	}
	r.mu.Unlock()
	r.totalMessages.Add(1)
	return nil
}

// IsKnown reports whether the session id is registered.
func (r *Registry) IsKnown(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// Touch records inbound activity for staleness tracking.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	if sess, ok := r.sessions[id]; ok {
		sess.lastSeen = r.now()
	}
	r.mu.Unlock()
}

// ErrBusy is returned by BeginExecuting when the session already has a query
// in flight.
var ErrBusy = faults.New(faults.KindRateLimited, "already processing a request")

// BeginExecuting atomically claims the session's execution gate. It fails
// with ErrBusy if a query is already in flight.
func (r *Registry) BeginExecuting(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	if sess.executing {
		return ErrBusy
	}
	sess.executing = true
	return nil
}

// EndExecuting releases the execution gate. Safe to call on a session that
// has already disconnected.
func (r *Registry) EndExecuting(id string) {
	r.mu.Lock()
	if sess, ok := r.sessions[id]; ok {
		sess.executing = false
	}
	r.mu.Unlock()
}

// SetExecuting flips the per-session execution gate.
func (r *Registry) SetExecuting(id string, executing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	sess.executing = executing
	return nil
}

// IsExecuting reports whether the session has a query in flight. Unknown
// sessions report false.
func (r *Registry) IsExecuting(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return ok && sess.executing
}

// Stats returns a snapshot of the registry.
func (r *Registry) Stats() models.RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var executing int
	var totalAge float64
	for _, sess := range r.sessions {
		if sess.executing {
			executing++
		}
		totalAge += now.Sub(sess.connectedAt).Seconds()
	}
	var avgAge float64
	if len(r.sessions) > 0 {
		avgAge = totalAge / float64(len(r.sessions))
	}
	return models.RegistryStats{
		ActiveConnections:    len(r.sessions),
		ProcessingSessions:   executing,
		MaxConnections:       r.config.MaxConnections,
		AvgConnectionSeconds: avgAge,
		TotalMessagesSent:    r.totalMessages.Load(),
	}
}

// heartbeatLoop pings every session each interval and reaps sessions that
// have been silent past the staleness window. It exits when the registry
// empties; Connect starts a fresh loop for the next session.
func (r *Registry) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.beat()
		}
	}
}

// beat runs one heartbeat round: reap stale sessions, then ping the rest in
// parallel. Ping failures disconnect only the session that failed.
func (r *Registry) beat() {
	now := r.now()

	r.mu.Lock()
	var stale []string
	live := make([]string, 0, len(r.sessions))
	for id, sess := range r.sessions {
		if now.Sub(sess.lastSeen) > r.config.StaleAfter {
			stale = append(stale, id)
		} else {
			live = append(live, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		r.logger.Info("reaping stale session", "session_id", id)
		r.Disconnect(id)
	}

	var wg sync.WaitGroup
	for _, id := range live {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			msg := models.NewMessage(models.MessageHeartbeat, "ping", nil)
			// Send already disconnects the session on failure.
			_ = r.Send(context.Background(), id, msg)
		}(id)
	}
	wg.Wait()
}
