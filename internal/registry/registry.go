// Package registry tracks the set of currently-connected agents and their live connection handles as a standalone,
// explicitly-constructed value, so the dispatcher, router, and heartbeat monitor can all be handed the same
// *Registry rather than reaching into a singleton.
package registry

import (
	"errors"
	"sync"
	"time"
)

// ErrNotRegistered is returned when an operation targets an agent_id with no live connection.
var ErrNotRegistered = errors.New("agent is not registered")

// ConnHandle is the minimal surface the registry needs from a live connection: enough to push a frame to it and to
// sever it. internal/transport.Client satisfies this interface; tests can supply a fake.
type ConnHandle interface {
	// Send enqueues data for delivery to the connection's writer goroutine. It must not block the caller
	// indefinitely — implementations apply a bounded-buffer-with-drop policy.
	Send(data []byte) error
	// Close terminates the underlying connection.
	Close() error
}

// AgentConnection is a single registered agent's live state.
type AgentConnection struct {
	AgentID      string
	Conn         ConnHandle
	Metadata     map[string]any
	ConnectedAt  time.Time
	LastActivity time.Time
}

// Registry is the connection-registry component tracking live agent connections. All methods are safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*AgentConnection
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[string]*AgentConnection)}
}

// Bind registers conn under agentID. If an existing connection is already bound to agentID, it is returned so the
// caller (the dispatcher's register_agent handler, which displaces any existing connection for that agent_id) can close it after the new
// one has taken over — Bind itself never closes anything, to avoid racing the old connection's own goroutines
// against registry state they don't hold the lock for.
func (r *Registry) Bind(agentID string, conn ConnHandle, metadata map[string]any) (previous ConnHandle) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[agentID]; ok {
		previous = existing.Conn
	}
	r.conns[agentID] = &AgentConnection{
		AgentID:      agentID,
		Conn:         conn,
		Metadata:     metadata,
		ConnectedAt:  now,
		LastActivity: now,
	}
	return previous
}

// Unbind removes agentID's registration if and only if the currently-bound connection is conn. This prevents a
// displaced connection's own deferred cleanup from unbinding the replacement that displaced it.
func (r *Registry) Unbind(agentID string, conn ConnHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.conns[agentID]
	if !ok || existing.Conn != conn {
		return false
	}
	delete(r.conns, agentID)
	return true
}

// Touch refreshes agentID's last-activity timestamp. Returns ErrNotRegistered if agentID has no live connection.
func (r *Registry) Touch(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.conns[agentID]
	if !ok {
		return ErrNotRegistered
	}
	existing.LastActivity = time.Now()
	return nil
}

// Lookup returns the connection bound to agentID, if any.
func (r *Registry) Lookup(agentID string) (ConnHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	existing, ok := r.conns[agentID]
	if !ok {
		return nil, false
	}
	return existing.Conn, true
}

// Snapshot returns a point-in-time copy of every registered connection's state, safe to range over without holding
// the registry's lock. Used by the heartbeat monitor and by list_agents.
func (r *Registry) Snapshot() []AgentConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentConnection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, *c)
	}
	return out
}

// Count returns the number of currently-registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// AgentIDs returns the agent_id of every currently-registered connection, excluding any ids in exclude.
func (r *Registry) AgentIDs(exclude ...string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		if !skip[id] {
			out = append(out, id)
		}
	}
	return out
}
