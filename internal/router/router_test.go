package router

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/agenthub/hub/internal/mod"
	"github.com/agenthub/hub/internal/protocol"
	"github.com/agenthub/hub/internal/registry"
	"github.com/agenthub/hub/internal/threadmod"
)

// fakeSender is an in-memory mod.Sender: it records every frame delivered to every agent_id, standing in for
// internal/delivery.Delivery so router tests don't need real connections. Like Delivery, SendTo reports
// registry.ErrNotRegistered for an agent_id that reg has no binding for.
type fakeSender struct {
	mu     sync.Mutex
	log    map[string][]protocol.Frame
	agents []string
	reg    *registry.Registry
}

func newFakeSender(agents ...string) *fakeSender {
	return &fakeSender{log: make(map[string][]protocol.Frame), agents: agents}
}

func (s *fakeSender) SendTo(agentID string, frame protocol.Frame) error {
	if s.reg != nil {
		if _, ok := s.reg.Lookup(agentID); !ok {
			return registry.ErrNotRegistered
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log[agentID] = append(s.log[agentID], frame)
	return nil
}

func (s *fakeSender) SendToMany(recipients []string, frame protocol.Frame) {
	for _, id := range recipients {
		_ = s.SendTo(id, frame)
	}
}

// Broadcast mirrors internal/delivery.Delivery.Broadcast: it fans out to every agent known to be live (here, the
// fixed set the test registered the fake sender with), skipping exclude.
func (s *fakeSender) Broadcast(frame protocol.Frame, exclude ...string) {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	for _, id := range s.agents {
		if !skip[id] {
			_ = s.SendTo(id, frame)
		}
	}
}

func (s *fakeSender) frames(agentID string) []protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Frame(nil), s.log[agentID]...)
}

func newTestRouter(t *testing.T, liveAgents ...string) (*Router, *fakeSender, *threadmod.Mod) {
	t.Helper()
	reg := registry.New()
	sender := newFakeSender(liveAgents...)
	sender.reg = reg
	threadMod := threadmod.New(threadmod.Config{
		Channels:               []threadmod.ChannelSeed{{Name: "general"}},
		ChannelHistoryCapacity: 100,
		MaxFileSizeBytes:       1024,
		MaxThreadDepth:         4,
	}, sender, nil, zerolog.Nop())
	modHost := mod.NewHost(zerolog.Nop(), threadMod)
	r := New(reg, sender, modHost, threadMod, nil, zerolog.Nop())
	return r, sender, threadMod
}

func bindAgents(t *testing.T, reg *registry.Registry, agentIDs ...string) {
	t.Helper()
	for _, id := range agentIDs {
		reg.Bind(id, noopConn{}, nil)
	}
}

// noopConn satisfies registry.ConnHandle for tests that only need an agent_id bound, never actually read from.
type noopConn struct{}

func (noopConn) Send([]byte) error { return nil }
func (noopConn) Close() error      { return nil }

func TestRouteSenderMismatchRejected(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)
	bindAgents(t, r.registry, "agent-a")

	frame := protocol.Frame{Type: protocol.TypeDirectMessage, SenderID: "agent-a", TargetAgentID: "agent-b"}
	resp, has := r.Route("someone-else", frame)
	if !has {
		t.Fatalf("expected a response frame for a sender mismatch")
	}
	if resp.IsSuccess() {
		t.Fatalf("expected a failure response")
	}
	if resp.Error != "sender_mismatch" {
		t.Errorf("Error = %q, want %q", resp.Error, "sender_mismatch")
	}
}

func TestRouteDirectMessageDeliversToBothEndpoints(t *testing.T) {
	t.Parallel()
	r, sender, _ := newTestRouter(t)
	bindAgents(t, r.registry, "agent-a", "agent-b")

	frame := protocol.Frame{
		Type:               protocol.TypeDirectMessage,
		SenderID:           "agent-a",
		TargetAgentID:      "agent-b",
		TextRepresentation: "hi",
	}
	if _, has := r.Route("agent-a", frame); has {
		t.Fatalf("direct_message should not produce a synchronous response")
	}

	if len(sender.frames("agent-a")) != 1 {
		t.Errorf("expected the sender to receive an echo of its own direct message")
	}
	if len(sender.frames("agent-b")) != 1 {
		t.Errorf("expected the target to receive the direct message")
	}
}

func TestRouteDirectMessageUnreachableTargetNotifiesSender(t *testing.T) {
	t.Parallel()
	r, sender, _ := newTestRouter(t)
	bindAgents(t, r.registry, "agent-a")

	frame := protocol.Frame{
		Type:          protocol.TypeDirectMessage,
		SenderID:      "agent-a",
		TargetAgentID: "agent-ghost",
	}
	r.Route("agent-a", frame)

	frames := sender.frames("agent-a")
	found := false
	for _, f := range frames {
		if f.Type == protocol.TypeModMessage && f.Mod == "system" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an unreachable-target system notification back to the sender")
	}
}

func TestRouteBroadcastExcludesSender(t *testing.T) {
	t.Parallel()
	r, sender, _ := newTestRouter(t, "agent-a", "agent-b", "agent-c")
	bindAgents(t, r.registry, "agent-a", "agent-b", "agent-c")

	frame := protocol.Frame{Type: protocol.TypeBroadcastMessage, SenderID: "agent-a"}
	r.Route("agent-a", frame)

	if len(sender.frames("agent-a")) != 0 {
		t.Errorf("broadcast sender should not receive its own broadcast")
	}
	if len(sender.frames("agent-b")) != 1 || len(sender.frames("agent-c")) != 1 {
		t.Errorf("expected every other agent to receive the broadcast")
	}
}

func TestRouteChannelMessageSuccess(t *testing.T) {
	t.Parallel()
	r, sender, _ := newTestRouter(t)
	bindAgents(t, r.registry, "agent-a")

	frame := protocol.Frame{
		Type:               protocol.TypeChannelMessage,
		SenderID:           "agent-a",
		Channel:            "general",
		TextRepresentation: "hello, general",
	}
	r.Route("agent-a", frame)

	// The sender becomes a channel member, so it receives its own message and nothing else.
	frames := sender.frames("agent-a")
	if len(frames) != 1 || frames[0].Type != protocol.TypeChannelMessage {
		t.Errorf("successful channel_message should reach the sender once and not generate an error notification")
	}
}

func TestRouteChannelMessageUnknownChannelNotifiesSender(t *testing.T) {
	t.Parallel()
	r, sender, _ := newTestRouter(t)
	bindAgents(t, r.registry, "agent-a")

	frame := protocol.Frame{
		Type:     protocol.TypeChannelMessage,
		SenderID: "agent-a",
		Channel:  "does-not-exist",
	}
	r.Route("agent-a", frame)

	frames := sender.frames("agent-a")
	if len(frames) != 1 {
		t.Fatalf("expected one error notification, got %d", len(frames))
	}
}

func TestRouteModMessageDispatchesToMod(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)
	bindAgents(t, r.registry, "agent-a")

	frame := protocol.Frame{Type: protocol.TypeModMessage, SenderID: "agent-a", Mod: "channels"}
	if _, has := r.Route("agent-a", frame); has {
		t.Fatalf("mod_message should not produce a synchronous response")
	}
}
