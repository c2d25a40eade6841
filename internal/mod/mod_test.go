package mod

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/agenthub/hub/internal/protocol"
)

type fakeMod struct {
	name       string
	connected  []string
	disconn    []string
	messages   []protocol.Frame
	panicOnAll bool
}

func (f *fakeMod) Name() string { return f.name }
func (f *fakeMod) Manifest() Manifest {
	return Manifest{Name: f.name, Version: "1.0.0", Capabilities: []string{"messaging"}}
}
func (f *fakeMod) OnAgentConnect(agentID string, _ map[string]any) {
	if f.panicOnAll {
		panic("boom")
	}
	f.connected = append(f.connected, agentID)
}
func (f *fakeMod) OnAgentDisconnect(agentID string) {
	if f.panicOnAll {
		panic("boom")
	}
	f.disconn = append(f.disconn, agentID)
}
func (f *fakeMod) OnModMessage(frame protocol.Frame) {
	if f.panicOnAll {
		panic("boom")
	}
	f.messages = append(f.messages, frame)
}
func (f *fakeMod) Commands() map[string]CommandHandler { return nil }

func TestHost_LifecycleFansOutToAllMods(t *testing.T) {
	t.Parallel()

	a := &fakeMod{name: "a"}
	b := &fakeMod{name: "b"}
	h := NewHost(zerolog.Nop(), a, b)

	h.OnAgentConnect("agent-1", map[string]any{"role": "worker"})
	h.OnAgentDisconnect("agent-1")

	for _, m := range []*fakeMod{a, b} {
		if len(m.connected) != 1 || m.connected[0] != "agent-1" {
			t.Errorf("mod %s connected = %v, want [agent-1]", m.name, m.connected)
		}
		if len(m.disconn) != 1 || m.disconn[0] != "agent-1" {
			t.Errorf("mod %s disconnected = %v, want [agent-1]", m.name, m.disconn)
		}
	}
}

func TestHost_PanickingModDoesNotAffectOthers(t *testing.T) {
	t.Parallel()

	bad := &fakeMod{name: "bad", panicOnAll: true}
	good := &fakeMod{name: "good"}
	h := NewHost(zerolog.Nop(), bad, good)

	h.OnAgentConnect("agent-1", nil)

	if len(good.connected) != 1 {
		t.Errorf("good mod received %d connect calls, want 1 despite bad mod panicking", len(good.connected))
	}
}

func TestHost_DispatchRoutesToNamedMod(t *testing.T) {
	t.Parallel()

	target := &fakeMod{name: "channels"}
	other := &fakeMod{name: "other"}
	h := NewHost(zerolog.Nop(), target, other)

	h.Dispatch(protocol.Frame{Type: protocol.TypeModMessage, Mod: "channels"})

	if len(target.messages) != 1 {
		t.Errorf("target mod received %d messages, want 1", len(target.messages))
	}
	if len(other.messages) != 0 {
		t.Errorf("other mod received %d messages, want 0", len(other.messages))
	}
}

func TestHost_DispatchUnregisteredModDropped(t *testing.T) {
	t.Parallel()

	h := NewHost(zerolog.Nop())
	h.Dispatch(protocol.Frame{Type: protocol.TypeModMessage, Mod: "missing"})
}

func TestHost_ManifestsAndLookup(t *testing.T) {
	t.Parallel()

	m := &fakeMod{name: "channels"}
	h := NewHost(zerolog.Nop(), m)

	if _, ok := h.Lookup("channels"); !ok {
		t.Error("Lookup() did not find registered mod")
	}
	if _, ok := h.Lookup("missing"); ok {
		t.Error("Lookup() found a mod that was never registered")
	}
	if len(h.Manifests()) != 1 {
		t.Errorf("Manifests() = %d entries, want 1", len(h.Manifests()))
	}
}
