package heartbeat

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/agenthub/hub/internal/protocol"
	"github.com/agenthub/hub/internal/registry"
)

type fakeConn struct{ closed bool }

func (f *fakeConn) Send([]byte) error { return nil }
func (f *fakeConn) Close() error      { f.closed = true; return nil }

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (s *recordingSender) SendTo(agentID string, _ protocol.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errSendFailed
	}
	s.sent = append(s.sent, agentID)
	return nil
}

var errSendFailed = &testError{"send failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestMonitor_AcknowledgedPingDoesNotEvict(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	conn := &fakeConn{}
	reg.Bind("agent-1", conn, nil)

	sender := &recordingSender{}
	m := NewMonitor(reg, sender, time.Hour, time.Millisecond, 200*time.Millisecond, zerolog.Nop())

	go m.pingAndAwait("agent-1", conn)

	time.Sleep(20 * time.Millisecond)
	m.Acknowledge("agent-1")

	time.Sleep(250 * time.Millisecond)
	if _, ok := reg.Lookup("agent-1"); !ok {
		t.Error("agent was evicted despite acknowledging the ping")
	}
}

func TestMonitor_UnansweredPingEvicts(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	conn := &fakeConn{}
	reg.Bind("agent-1", conn, nil)

	sender := &recordingSender{}
	m := NewMonitor(reg, sender, time.Hour, time.Millisecond, 30*time.Millisecond, zerolog.Nop())

	m.pingAndAwait("agent-1", conn)

	if _, ok := reg.Lookup("agent-1"); ok {
		t.Error("agent was not evicted after failing to answer the ping")
	}
}

func TestMonitor_SweepOnlyPingsIdleConnections(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Bind("stale", &fakeConn{}, nil)

	sender := &recordingSender{}
	m := NewMonitor(reg, sender, time.Hour, 30*time.Millisecond, 500*time.Millisecond, zerolog.Nop())

	time.Sleep(50 * time.Millisecond)
	reg.Bind("fresh", &fakeConn{}, nil) // bound just before the sweep, so well within agentTimeout
	m.sweep()
	time.Sleep(20 * time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	found := map[string]bool{}
	for _, id := range sender.sent {
		found[id] = true
	}
	if !found["stale"] {
		t.Errorf("sweep sent pings to %v, want stale pinged", sender.sent)
	}
	if found["fresh"] {
		t.Errorf("sweep pinged fresh connection that was within agentTimeout: %v", sender.sent)
	}
}
