// Package mod defines the pluggable mod contract and a Host that loads a configured set of mods and invokes their
// lifecycle hooks defensively: a panicking mod is logged and does not affect the others or the connection that
// triggered it.
package mod

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/agenthub/hub/internal/protocol"
)

// Manifest describes a mod's identity and capabilities, returned by list_mods/get_mod_manifest.
type Manifest struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// CommandHandler answers one mod-specific system command.
type CommandHandler func(senderID string, frame protocol.Frame) protocol.Frame

// Sender is how a mod emits outbound frames through the registry: send_to(agent_id, frame) or broadcast(frame,
// exclude). internal/delivery.Delivery satisfies this.
type Sender interface {
	SendTo(agentID string, frame protocol.Frame) error
	SendToMany(recipients []string, frame protocol.Frame)
	Broadcast(frame protocol.Frame, exclude ...string)
}

// Mod is the interface every pluggable mod implements.
type Mod interface {
	Name() string
	Manifest() Manifest
	OnAgentConnect(agentID string, metadata map[string]any)
	OnAgentDisconnect(agentID string)
	OnModMessage(frame protocol.Frame)
	Commands() map[string]CommandHandler
}

// Host loads a configured set of mods and dispatches lifecycle events and mod_message frames to the one named in
// each frame's Mod field.
type Host struct {
	mods     map[string]Mod
	commands map[string]CommandHandler
	log      zerolog.Logger
}

// NewHost creates a mod host from the given mods, keyed by their own Name(). Every mod's Commands() entries are
// merged into a single lookup table so the dispatcher can resolve a mod-specific system command by name alone,
// without needing to know which mod owns it.
func NewHost(logger zerolog.Logger, mods ...Mod) *Host {
	h := &Host{
		mods:     make(map[string]Mod, len(mods)),
		commands: make(map[string]CommandHandler),
		log:      logger.With().Str("component", "mod_host").Logger(),
	}
	for _, m := range mods {
		h.mods[m.Name()] = m
		for name, handler := range m.Commands() {
			h.commands[name] = handler
		}
	}
	return h
}

// Command returns the handler a mod registered for the given system command name, if any.
func (h *Host) Command(name string) (CommandHandler, bool) {
	handler, ok := h.commands[name]
	return handler, ok
}

// Lookup returns the mod registered under name, if any.
func (h *Host) Lookup(name string) (Mod, bool) {
	m, ok := h.mods[name]
	return m, ok
}

// Manifests returns every registered mod's manifest, for list_mods.
func (h *Host) Manifests() []Manifest {
	out := make([]Manifest, 0, len(h.mods))
	for _, m := range h.mods {
		out = append(out, m.Manifest())
	}
	return out
}

// OnAgentConnect invokes every mod's OnAgentConnect hook, guarding each call so a panicking mod cannot take down the
// connection or the other mods.
func (h *Host) OnAgentConnect(agentID string, metadata map[string]any) {
	for name, m := range h.mods {
		h.guard(name, func() { m.OnAgentConnect(agentID, metadata) })
	}
}

// OnAgentDisconnect invokes every mod's OnAgentDisconnect hook.
func (h *Host) OnAgentDisconnect(agentID string) {
	for name, m := range h.mods {
		h.guard(name, func() { m.OnAgentDisconnect(agentID) })
	}
}

// Dispatch routes a mod_message frame to the mod named in frame.Mod, if registered.
func (h *Host) Dispatch(frame protocol.Frame) {
	m, ok := h.mods[frame.Mod]
	if !ok {
		h.log.Debug().Str("mod", frame.Mod).Msg("mod_message for unregistered mod dropped")
		return
	}
	h.guard(frame.Mod, func() { m.OnModMessage(frame) })
}

func (h *Host) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Str("mod", name).Interface("panic", r).Msg("Mod hook panicked, continuing")
		}
	}()
	fn()
}

// ErrModNotFound reports that a mod name names no registered mod. The get_mod_manifest handler does not return it;
// it answers with the error string "not_found" instead.
var ErrModNotFound = errors.New("mod not found")
