// Package dispatcher routes system_request frames to their command handlers through a closed lookup table — a map
// built once at construction, the same shape as a fiber route table keyed by command instead of verb+path.
package dispatcher

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/agenthub/hub/internal/identity"
	"github.com/agenthub/hub/internal/mod"
	"github.com/agenthub/hub/internal/protocol"
	"github.com/agenthub/hub/internal/registry"
	"github.com/agenthub/hub/internal/search"
	"github.com/agenthub/hub/internal/threadmod"
)

// Conn is the minimal surface a handler needs from the connection a system_request arrived on: enough to bind it into
// the registry and to record the agent_id it registers under. internal/transport.Client satisfies this; tests can
// supply a fake.
type Conn interface {
	registry.ConnHandle
	SetAgentID(agentID string)
	AgentID() string
}

// Handler answers one system_request command. It always returns exactly one system_response frame.
type Handler func(d *Dispatcher, conn Conn, frame protocol.Frame) protocol.Frame

// Dispatcher holds the command → Handler table and everything handlers need: the registry, identity manager, mod
// host, optional search index, and the canonical thread mod (for search_messages and list_channels-adjacent lookups
// the dispatcher itself answers directly, outside the router's channel_message forwarding path).
type Dispatcher struct {
	handlers map[string]Handler

	Registry    *registry.Registry
	Identity    *identity.Manager
	ModHost     *mod.Host
	ThreadMod   *threadmod.Mod
	Search      *search.Index
	NetworkName string
	NetworkID   string

	log zerolog.Logger
}

// New builds a Dispatcher with every command handler registered. networkID identifies this hub instance across a
// process lifetime and is handed back to every agent that registers.
func New(reg *registry.Registry, idm *identity.Manager, modHost *mod.Host, threadMod *threadmod.Mod, searchIndex *search.Index, networkName, networkID string, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		Registry:    reg,
		Identity:    idm,
		ModHost:     modHost,
		ThreadMod:   threadMod,
		Search:      searchIndex,
		NetworkName: networkName,
		NetworkID:   networkID,
		log:         logger.With().Str("component", "dispatcher").Logger(),
	}
	d.handlers = map[string]Handler{
		"register_agent":            handleRegisterAgent,
		"list_agents":               handleListAgents,
		"list_mods":                 handleListMods,
		"get_mod_manifest":          handleGetModManifest,
		"claim_agent_id":            handleClaimAgentID,
		"validate_certificate":      handleValidateCertificate,
		"search_messages":           handleSearchMessages,
		"list_channels":             handleListChannels,
		"retrieve_channel_messages": handleRetrieveChannelMessages,
		"retrieve_direct_messages":  handleRetrieveDirectMessages,
		"upload_file":               handleUploadFile,
		"download_file":             handleDownloadFile,
		"react_to_message":          handleReactToMessage,
	}
	return d
}

// Dispatch answers a system_request frame. Unknown commands get success:false, error:"unknown_command".
func (d *Dispatcher) Dispatch(conn Conn, frame protocol.Frame) protocol.Frame {
	handler, ok := d.handlers[frame.Command]
	if !ok {
		d.log.Debug().Str("command", frame.Command).Msg("Unknown system command")
		return protocol.NewErrorResponse(frame.Command, "unknown_command")
	}
	return handler(d, conn, frame)
}

// field decodes frame.Extra[key] into out, reporting whether the key was present and well-formed.
func field(frame protocol.Frame, key string, out any) bool {
	raw, ok := frame.Extra[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}
