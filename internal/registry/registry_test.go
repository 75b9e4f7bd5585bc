package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rigmate/rigmate/internal/faults"
	"github.com/rigmate/rigmate/pkg/models"
)

// fakeConn records writes and can be told to fail.
type fakeConn struct {
	mu        sync.Mutex
	messages  []*models.Message
	closeCode int
	closed    bool
	failWrite error
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrite != nil {
		return c.failWrite
	}
	if msg, ok := v.(*models.Message); ok {
		c.messages = append(c.messages, msg)
	}
	return nil
}

func (c *fakeConn) WriteClose(code int, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCode = code
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sent() []*models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func testRegistry(maxConns int) *Registry {
	return New(Config{
		MaxConnections:    maxConns,
		HeartbeatInterval: time.Hour, // ticks driven manually via beat()
		StaleAfter:        300 * time.Second,
	}, nil)
}

func TestConnectAssignsSessionAndSendsStatus(t *testing.T) {
	r := testRegistry(10)
	conn := &fakeConn{}

	id, err := r.Connect(conn)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if id == "" {
		t.Fatal("Connect returned empty session id")
	}

	sent := conn.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].Type != models.MessageConnectionStatus {
		t.Errorf("first message type = %s, want %s", sent[0].Type, models.MessageConnectionStatus)
	}
	if sent[0].Metadata["session_id"] != id {
		t.Errorf("status metadata = %v, want session_id %s", sent[0].Metadata, id)
	}
}

func TestConnectRefusedAtCapacity(t *testing.T) {
	r := testRegistry(1)
	first := &fakeConn{}
	if _, err := r.Connect(first); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	extra := &fakeConn{}
	_, err := r.Connect(extra)
	if !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("Connect = %v, want ErrAtCapacity", err)
	}
	if extra.closeCode != websocket.CloseTryAgainLater {
		t.Errorf("close code = %d, want %d", extra.closeCode, websocket.CloseTryAgainLater)
	}
	if !extra.closed {
		t.Error("refused connection should be closed")
	}
	if first.closed {
		t.Error("existing session must be unaffected")
	}
	if got := r.Stats().ActiveConnections; got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	r := testRegistry(10)
	conn := &fakeConn{}
	id, _ := r.Connect(conn)

	r.Disconnect(id)
	r.Disconnect(id)
	r.Disconnect("never existed")

	if !conn.closed {
		t.Error("Disconnect should close the connection")
	}
	if got := r.Stats().ActiveConnections; got != 0 {
		t.Errorf("active = %d, want 0", got)
	}
}

func TestSendFailureDisconnects(t *testing.T) {
	r := testRegistry(10)
	conn := &fakeConn{}
	id, _ := r.Connect(conn)

	conn.failWrite = errors.New("broken pipe")
	err := r.Send(context.Background(), id, models.NewMessage(models.MessageLog, "hi", nil))
	if err == nil {
		t.Fatal("Send should fail")
	}
	if kind := faults.KindOf(err); kind != faults.KindConnection {
		t.Errorf("kind = %s, want %s", kind, faults.KindConnection)
	}
	if got := r.Stats().ActiveConnections; got != 0 {
		t.Errorf("active = %d after failed send, want 0", got)
	}
}

func TestSendUnknownSession(t *testing.T) {
	r := testRegistry(10)
	err := r.Send(context.Background(), "nope", models.NewMessage(models.MessageLog, "hi", nil))
	if !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Send = %v, want ErrUnknownSession", err)
	}
}

func TestExecutionGate(t *testing.T) {
	r := testRegistry(10)
	conn := &fakeConn{}
	id, _ := r.Connect(conn)

	if r.IsExecuting(id) {
		t.Error("new session should not be executing")
	}
	if err := r.BeginExecuting(id); err != nil {
		t.Fatalf("BeginExecuting: %v", err)
	}
	if !r.IsExecuting(id) {
		t.Error("session should be executing after BeginExecuting")
	}
	if err := r.BeginExecuting(id); !errors.Is(err, ErrBusy) {
		t.Errorf("second BeginExecuting = %v, want ErrBusy", err)
	}
	if kind := faults.KindOf(ErrBusy); kind != faults.KindRateLimited {
		t.Errorf("ErrBusy kind = %s, want %s", kind, faults.KindRateLimited)
	}

	r.EndExecuting(id)
	if r.IsExecuting(id) {
		t.Error("session should be idle after EndExecuting")
	}
	if err := r.BeginExecuting(id); err != nil {
		t.Errorf("BeginExecuting after release: %v", err)
	}
}

func TestSetExecuting(t *testing.T) {
	r := testRegistry(10)
	conn := &fakeConn{}
	id, _ := r.Connect(conn)

	if err := r.SetExecuting(id, true); err != nil {
		t.Fatalf("SetExecuting: %v", err)
	}
	if !r.IsExecuting(id) {
		t.Error("session should be executing after SetExecuting(true)")
	}
	if err := r.SetExecuting(id, false); err != nil {
		t.Fatalf("SetExecuting: %v", err)
	}
	if r.IsExecuting(id) {
		t.Error("session should be idle after SetExecuting(false)")
	}
	if err := r.SetExecuting("nope", true); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("SetExecuting = %v, want ErrUnknownSession", err)
	}
}

func TestExecutionGateUnknownSession(t *testing.T) {
	r := testRegistry(10)
	if err := r.BeginExecuting("nope"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("BeginExecuting = %v, want ErrUnknownSession", err)
	}
	// EndExecuting after disconnect must not panic.
	r.EndExecuting("nope")
	if r.IsExecuting("nope") {
		t.Error("unknown session should report not executing")
	}
}

func TestStats(t *testing.T) {
	r := testRegistry(10)
	a := &fakeConn{}
	b := &fakeConn{}
	idA, _ := r.Connect(a)
	if _, err := r.Connect(b); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = r.BeginExecuting(idA)

	_ = r.Send(context.Background(), idA, models.NewMessage(models.MessageLog, "hi", nil))

	stats := r.Stats()
	if stats.ActiveConnections != 2 {
		t.Errorf("ActiveConnections = %d, want 2", stats.ActiveConnections)
	}
	if stats.ProcessingSessions != 1 {
		t.Errorf("ProcessingSessions = %d, want 1", stats.ProcessingSessions)
	}
	if stats.MaxConnections != 10 {
		t.Errorf("MaxConnections = %d, want 10", stats.MaxConnections)
	}
	// Two connection_status messages plus the explicit send.
	if stats.TotalMessagesSent != 3 {
		t.Errorf("TotalMessagesSent = %d, want 3", stats.TotalMessagesSent)
	}
}

func TestHeartbeatPingsLiveSessions(t *testing.T) {
	r := testRegistry(10)
	conn := &fakeConn{}
	if _, err := r.Connect(conn); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	r.beat()

	sent := conn.sent()
	last := sent[len(sent)-1]
	if last.Type != models.MessageHeartbeat {
		t.Errorf("last message type = %s, want %s", last.Type, models.MessageHeartbeat)
	}
}

func TestHeartbeatReapsStaleSessions(t *testing.T) {
	r := testRegistry(10)
	stale := &fakeConn{}
	fresh := &fakeConn{}
	staleID, _ := r.Connect(stale)
	freshID, _ := r.Connect(fresh)

	// Age the stale session past the window, then refresh the other.
	base := time.Now()
	r.now = func() time.Time { return base.Add(301 * time.Second) }
	r.Touch(freshID)

	r.beat()

	if r.IsKnown(staleID) {
		t.Error("stale session should be reaped")
	}
	if !r.IsKnown(freshID) {
		t.Error("fresh session should survive")
	}
	if !stale.closed {
		t.Error("reaped session's connection should be closed")
	}
}

func TestHeartbeatFailureDropsOnlyThatSession(t *testing.T) {
	r := testRegistry(10)
	bad := &fakeConn{}
	good := &fakeConn{}
	badID, _ := r.Connect(bad)
	goodID, _ := r.Connect(good)

	bad.failWrite = errors.New("broken pipe")
	r.beat()

	if r.IsKnown(badID) {
		t.Error("failed ping should disconnect the session")
	}
	if !r.IsKnown(goodID) {
		t.Error("healthy session should survive a peer's failure")
	}
}
