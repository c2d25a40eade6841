// Package heartbeat implements a periodic liveness sweep: agents that have gone quiet past agent_timeout are sent a
// synthetic ping_agent system_request and unbound if they do not answer within ping_timeout.
package heartbeat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agenthub/hub/internal/protocol"
	"github.com/agenthub/hub/internal/registry"
)

// Sender delivers a frame to a specific agent_id's connection. Satisfied by a thin wrapper over *registry.Registry.
type Sender interface {
	SendTo(agentID string, frame protocol.Frame) error
}

// Unbinder removes a connection from the registry when it fails to answer a ping in time.
type Unbinder interface {
	Unbind(agentID string, conn registry.ConnHandle) bool
	Lookup(agentID string) (registry.ConnHandle, bool)
}

// Monitor runs the periodic liveness sweep.
type Monitor struct {
	reg               *registry.Registry
	sender            Sender
	heartbeatInterval time.Duration
	agentTimeout      time.Duration
	pingTimeout       time.Duration
	log               zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan struct{} // agent_id -> channel closed on a matching ping_agent response
}

// NewMonitor creates a heartbeat monitor. sender is used to deliver synthetic ping_agent requests; reg is both
// snapshotted for the sweep and used to unbind unresponsive connections.
func NewMonitor(reg *registry.Registry, sender Sender, heartbeatInterval, agentTimeout, pingTimeout time.Duration, logger zerolog.Logger) *Monitor {
	return &Monitor{
		reg:               reg,
		sender:            sender,
		heartbeatInterval: heartbeatInterval,
		agentTimeout:      agentTimeout,
		pingTimeout:       pingTimeout,
		pending:           make(map[string]chan struct{}),
		log:               logger.With().Str("component", "heartbeat").Logger(),
	}
}

// Run blocks, sweeping on heartbeatInterval, until done is closed.
func (m *Monitor) Run(done <-chan struct{}) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep snapshots the registry and pings every connection idle past agentTimeout.
func (m *Monitor) sweep() {
	now := time.Now()
	for _, conn := range m.reg.Snapshot() {
		if now.Sub(conn.LastActivity) <= m.agentTimeout {
			continue
		}
		go m.pingAndAwait(conn.AgentID, conn.Conn)
	}
}

// pingAndAwait sends a ping_agent request to agentID and unbinds it if no matching system_response arrives within
// pingTimeout. Intended to run in its own goroutine per sweep hit so one slow agent cannot delay the sweep of others.
func (m *Monitor) pingAndAwait(agentID string, conn registry.ConnHandle) {
	ack := make(chan struct{})

	m.mu.Lock()
	m.pending[agentID] = ack
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, agentID)
		m.mu.Unlock()
	}()

	req, err := protocol.NewSystemRequest("ping_agent", map[string]any{"timestamp": time.Now().Unix()})
	if err != nil {
		m.log.Error().Err(err).Str("agent_id", agentID).Msg("Failed to build ping_agent request")
		return
	}
	if err := m.sender.SendTo(agentID, req); err != nil {
		m.log.Debug().Err(err).Str("agent_id", agentID).Msg("Failed to send ping_agent request")
		return
	}

	select {
	case <-ack:
		return
	case <-time.After(m.pingTimeout):
		m.log.Info().Str("agent_id", agentID).Msg("Agent failed to answer heartbeat ping, evicting")
		if m.reg.Unbind(agentID, conn) {
			_ = conn.Close()
		}
	}
}

// Acknowledge is called by the hub's frame router when a system_response with command=ping_agent, success=true
// arrives from agentID. It unblocks any pingAndAwait goroutine waiting on that agent.
func (m *Monitor) Acknowledge(agentID string) {
	m.mu.Lock()
	ack, ok := m.pending[agentID]
	if ok {
		delete(m.pending, agentID)
	}
	m.mu.Unlock()
	if ok {
		close(ack)
	}
}
