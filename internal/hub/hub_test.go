package hub

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/agenthub/hub/internal/dispatcher"
	"github.com/agenthub/hub/internal/heartbeat"
	"github.com/agenthub/hub/internal/identity"
	"github.com/agenthub/hub/internal/mod"
	"github.com/agenthub/hub/internal/protocol"
	"github.com/agenthub/hub/internal/registry"
	"github.com/agenthub/hub/internal/router"
	"github.com/agenthub/hub/internal/threadmod"
	"github.com/agenthub/hub/internal/transport"
)

// fakeSender is an in-memory mod.Sender used by every collaborator the test Hub wires together.
type fakeSender struct{ sent map[string][]protocol.Frame }

func newFakeSender() *fakeSender { return &fakeSender{sent: make(map[string][]protocol.Frame)} }

func (s *fakeSender) SendTo(agentID string, frame protocol.Frame) error {
	s.sent[agentID] = append(s.sent[agentID], frame)
	return nil
}
func (s *fakeSender) SendToMany(recipients []string, frame protocol.Frame) {
	for _, id := range recipients {
		_ = s.SendTo(id, frame)
	}
}
func (s *fakeSender) Broadcast(frame protocol.Frame, exclude ...string) {}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	reg := registry.New()
	sender := newFakeSender()
	threadMod := threadmod.New(threadmod.Config{
		Channels:               []threadmod.ChannelSeed{{Name: "general"}},
		ChannelHistoryCapacity: 100,
		MaxFileSizeBytes:       1024,
		MaxThreadDepth:         4,
	}, sender, nil, zerolog.Nop())
	modHost := mod.NewHost(zerolog.Nop(), threadMod)
	idm := identity.NewManager([]byte("0123456789abcdef"), time.Hour, zerolog.Nop())
	disp := dispatcher.New(reg, idm, modHost, threadMod, nil, "test-network", "net-1", zerolog.Nop())
	rt := router.New(reg, sender, modHost, threadMod, nil, zerolog.Nop())
	hb := heartbeat.NewMonitor(reg, sender, time.Minute, time.Hour, time.Second, zerolog.Nop())
	return New(reg, modHost, disp, rt, hb, zerolog.Nop())
}

func TestOnFrameSystemRequestRegistersAndResponds(t *testing.T) {
	t.Parallel()
	h := newTestHub(t)
	c := transport.NewTestClient(zerolog.Nop())

	req, err := protocol.NewSystemRequest("register_agent", map[string]any{"agent_id": "agent-a"})
	if err != nil {
		t.Fatalf("NewSystemRequest() error = %v", err)
	}
	h.OnFrame(c, req)

	if c.AgentID() != "agent-a" {
		t.Fatalf("AgentID() = %q, want %q", c.AgentID(), "agent-a")
	}
	if _, bound := h.Registry.Lookup("agent-a"); !bound {
		t.Errorf("expected agent-a to be bound in the registry")
	}

	select {
	case data := <-drainSend(c):
		resp, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if !resp.IsSuccess() {
			t.Errorf("expected a successful register_agent response")
		}
	default:
		t.Fatalf("expected a response frame to have been queued for sending")
	}
}

func TestOnFramePingAgentResponseAcknowledgesHeartbeat(t *testing.T) {
	t.Parallel()
	h := newTestHub(t)
	c := transport.NewTestClient(zerolog.Nop())
	c.SetAgentID("agent-b")
	h.Registry.Bind("agent-b", c, nil)

	success := true
	pong := protocol.Frame{Type: protocol.TypeSystemResponse, Command: "ping_agent", Success: &success}
	h.OnFrame(c, pong)

	// Acknowledge is exercised for its side effect on the heartbeat monitor's internal state; reaching this point
	// without panicking on an unregistered/unknown agent_id is the behavior under test.
}

func TestOnFrameChannelMessageRoutesToThreadMod(t *testing.T) {
	t.Parallel()
	h := newTestHub(t)
	c := transport.NewTestClient(zerolog.Nop())
	c.SetAgentID("agent-c")
	h.Registry.Bind("agent-c", c, nil)

	frame := protocol.Frame{
		Type:               protocol.TypeChannelMessage,
		SenderID:           "agent-c",
		Channel:            "general",
		TextRepresentation: "hi",
	}
	h.OnFrame(c, frame)

	select {
	case data := <-drainSend(c):
		t.Fatalf("unexpected frame sent back to the originating connection: %s", data)
	default:
	}
}

func TestOnDisconnectUnbindsAndNotifiesMods(t *testing.T) {
	t.Parallel()
	h := newTestHub(t)
	c := transport.NewTestClient(zerolog.Nop())
	c.SetAgentID("agent-d")
	h.Registry.Bind("agent-d", c, nil)

	h.OnDisconnect(c)

	if _, bound := h.Registry.Lookup("agent-d"); bound {
		t.Errorf("expected agent-d to be unbound after disconnect")
	}
}

func TestOnDisconnectUnregisteredConnectionIsNoop(t *testing.T) {
	t.Parallel()
	h := newTestHub(t)
	c := transport.NewTestClient(zerolog.Nop())

	h.OnDisconnect(c)
}

// drainSend exposes the outbound frames h.send queued onto c's send channel, for assertions. It relies on Client's
// buffered channel being readable from any package once a *Client value is in hand.
func drainSend(c *transport.Client) <-chan []byte {
	return c.SendChannelForTesting()
}
