// Package hub wires every component — registry, identity, heartbeat, dispatcher, router, mod host — into a single
// transport.Handler: one type that owns the full connection lifecycle and hands each frame to whichever subsystem
// understands it.
package hub

import (
	"github.com/rs/zerolog"

	"github.com/agenthub/hub/internal/dispatcher"
	"github.com/agenthub/hub/internal/heartbeat"
	"github.com/agenthub/hub/internal/mod"
	"github.com/agenthub/hub/internal/protocol"
	"github.com/agenthub/hub/internal/registry"
	"github.com/agenthub/hub/internal/router"
	"github.com/agenthub/hub/internal/transport"
)

// Hub implements transport.Handler, the single entry point the transport server calls into for every connection
// lifecycle event and frame.
type Hub struct {
	Registry   *registry.Registry
	ModHost    *mod.Host
	Dispatcher *dispatcher.Dispatcher
	Router     *router.Router
	Heartbeat  *heartbeat.Monitor
	log        zerolog.Logger
}

// New builds a Hub from its already-constructed collaborators.
func New(reg *registry.Registry, modHost *mod.Host, disp *dispatcher.Dispatcher, r *router.Router, hb *heartbeat.Monitor, logger zerolog.Logger) *Hub {
	return &Hub{
		Registry:   reg,
		ModHost:    modHost,
		Dispatcher: disp,
		Router:     r,
		Heartbeat:  hb,
		log:        logger.With().Str("component", "hub").Logger(),
	}
}

// OnConnect is a no-op: a connection contributes nothing to shared state until it registers an agent_id via
// register_agent.
func (h *Hub) OnConnect(*transport.Client) {}

// OnFrame classifies frame and dispatches it to the system-command handler table or the message router. The one
// frame type neither table answers — a client's system_response to a synthetic ping_agent request — is intercepted
// here and handed to the heartbeat monitor directly.
func (h *Hub) OnFrame(c *transport.Client, frame protocol.Frame) {
	if frame.Type == protocol.TypeSystemResponse && frame.Command == "ping_agent" {
		if frame.IsSuccess() {
			h.Heartbeat.Acknowledge(c.AgentID())
		}
		return
	}

	if frame.Type == protocol.TypeSystemRequest {
		resp := h.Dispatcher.Dispatch(c, frame)
		h.send(c, resp)
		return
	}

	if resp, has := h.Router.Route(c.AgentID(), frame); has {
		h.send(c, resp)
	}
}

// OnDisconnect unbinds the connection (if it ever registered) and, when this connection was still the one bound to
// its agent_id, notifies every mod. A connection already displaced or evicted triggers no mod notification.
func (h *Hub) OnDisconnect(c *transport.Client) {
	agentID := c.AgentID()
	if agentID == "" {
		return
	}
	if h.Registry.Unbind(agentID, c) {
		h.ModHost.OnAgentDisconnect(agentID)
	}
}

func (h *Hub) send(c *transport.Client, frame protocol.Frame) {
	data, err := frame.Encode()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response frame")
		return
	}
	if err := c.Send(data); err != nil {
		h.log.Debug().Err(err).Str("agent_id", c.AgentID()).Msg("Failed to send response frame")
	}
}
