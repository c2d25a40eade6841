// Package delivery gives the router and the mod host a single way to push frames at live connections without either
// depending on internal/transport directly.
package delivery

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/agenthub/hub/internal/protocol"
	"github.com/agenthub/hub/internal/registry"
)

// Delivery resolves agent_ids against a registry and pushes encoded frames at their connections. It implements
// mod.Sender.
type Delivery struct {
	reg *registry.Registry
	log zerolog.Logger
}

// New creates a Delivery backed by reg.
func New(reg *registry.Registry, logger zerolog.Logger) *Delivery {
	return &Delivery{reg: reg, log: logger.With().Str("component", "delivery").Logger()}
}

// SendTo encodes frame and sends it to agentID's live connection. Returns registry.ErrNotRegistered if agentID has
// no live connection, or the connection's own Send error otherwise.
func (d *Delivery) SendTo(agentID string, frame protocol.Frame) error {
	conn, ok := d.reg.Lookup(agentID)
	if !ok {
		return registry.ErrNotRegistered
	}
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	return conn.Send(data)
}

// SendToMany delivers frame to every agent_id in recipients concurrently, logging but not aborting on a per-recipient
// failure: one unreachable recipient never blocks delivery to the rest.
func (d *Delivery) SendToMany(recipients []string, frame protocol.Frame) {
	var wg sync.WaitGroup
	for _, agentID := range recipients {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			if err := d.SendTo(agentID, frame); err != nil {
				d.log.Debug().Err(err).Str("agent_id", agentID).Msg("Delivery to recipient failed")
			}
		}(agentID)
	}
	wg.Wait()
}

// Broadcast delivers frame to every currently-registered agent except those in exclude.
func (d *Delivery) Broadcast(frame protocol.Frame, exclude ...string) {
	d.SendToMany(d.reg.AgentIDs(exclude...), frame)
}
