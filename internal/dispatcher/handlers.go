package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/hub/internal/identity"
	"github.com/agenthub/hub/internal/protocol"
	"github.com/agenthub/hub/internal/threadmod"
)

// searchRequestTimeout bounds how long a search_messages lookup may block the dispatcher.
const searchRequestTimeout = 3 * time.Second

// handleRegisterAgent binds conn under the requested agent_id. A bound agent_id is rejected unless the caller
// presents a certificate that authorizes override, or force_reconnect is set — both paths replace the existing
// binding rather than refusing the new connection outright.
func handleRegisterAgent(d *Dispatcher, conn Conn, frame protocol.Frame) protocol.Frame {
	var agentID string
	if !field(frame, "agent_id", &agentID) || agentID == "" {
		return protocol.NewErrorResponse(frame.Command, "bad_request")
	}

	var metadata map[string]any
	field(frame, "metadata", &metadata)

	var forceReconnect bool
	field(frame, "force_reconnect", &forceReconnect)

	var cert identity.Certificate
	hasCert := field(frame, "certificate", &cert)

	if _, bound := d.Registry.Lookup(agentID); bound {
		authorized := hasCert && d.Identity.AuthorizeOverride(agentID, cert)
		if !authorized && !forceReconnect {
			return protocol.NewErrorResponse(frame.Command, "agent_id already registered")
		}
	}

	previous := d.Registry.Bind(agentID, conn, metadata)
	if previous != nil && previous != conn {
		_ = previous.Close()
	}
	conn.SetAgentID(agentID)
	d.ModHost.OnAgentConnect(agentID, metadata)

	return protocol.NewSystemResponse(frame.Command, map[string]any{
		"network_name": d.NetworkName,
		"network_id":   d.NetworkID,
	})
}

// handleListAgents answers with a snapshot of every registered agent. No filters are implemented.
func handleListAgents(d *Dispatcher, _ Conn, frame protocol.Frame) protocol.Frame {
	snapshot := d.Registry.Snapshot()
	agents := make([]map[string]any, 0, len(snapshot))
	for _, c := range snapshot {
		agents = append(agents, map[string]any{
			"agent_id":  c.AgentID,
			"metadata":  c.Metadata,
			"last_seen": c.LastActivity.UnixMilli(),
		})
	}
	return protocol.NewSystemResponse(frame.Command, map[string]any{"agents": agents})
}

// handleListMods answers with every registered mod's manifest.
func handleListMods(d *Dispatcher, _ Conn, frame protocol.Frame) protocol.Frame {
	return protocol.NewSystemResponse(frame.Command, map[string]any{"mods": d.ModHost.Manifests()})
}

// handleGetModManifest answers with the manifest of the mod named in mod_name, or an error.
func handleGetModManifest(d *Dispatcher, _ Conn, frame protocol.Frame) protocol.Frame {
	var modName string
	if !field(frame, "mod_name", &modName) || modName == "" {
		return protocol.NewErrorResponse(frame.Command, "bad_request")
	}
	m, ok := d.ModHost.Lookup(modName)
	if !ok {
		return protocol.NewErrorResponse(frame.Command, "not_found")
	}
	manifest := m.Manifest()
	return protocol.NewSystemResponse(frame.Command, map[string]any{
		"name":         manifest.Name,
		"version":      manifest.Version,
		"capabilities": manifest.Capabilities,
	})
}

// handleClaimAgentID delegates to the identity manager, returning a fresh certificate or identity.ErrTaken.
func handleClaimAgentID(d *Dispatcher, _ Conn, frame protocol.Frame) protocol.Frame {
	var agentID string
	if !field(frame, "agent_id", &agentID) || agentID == "" {
		return protocol.NewErrorResponse(frame.Command, "bad_request")
	}

	var force bool
	field(frame, "force", &force)

	var presented *identity.Certificate
	var cert identity.Certificate
	if field(frame, "certificate", &cert) {
		presented = &cert
	}

	issued, err := d.Identity.Claim(agentID, force, presented)
	if err != nil {
		return protocol.NewErrorResponse(frame.Command, err.Error())
	}
	return protocol.NewSystemResponse(frame.Command, map[string]any{"certificate": issued})
}

// handleValidateCertificate reports whether certificate is currently valid and for which agent_id.
func handleValidateCertificate(d *Dispatcher, _ Conn, frame protocol.Frame) protocol.Frame {
	var cert identity.Certificate
	if !field(frame, "certificate", &cert) {
		return protocol.NewErrorResponse(frame.Command, "bad_request")
	}
	ok, agentID := d.Identity.Validate(cert)
	return protocol.NewSystemResponse(frame.Command, map[string]any{"valid": ok, "agent_id": agentID})
}

// handleSearchMessages answers the expansion search_messages command (SPEC_FULL.md §4) against the Typesense-backed
// index, when search is enabled. Indexing and querying are both best-effort accelerators over the in-memory arena
// threadmod owns, never the source of truth.
func handleSearchMessages(d *Dispatcher, _ Conn, frame protocol.Frame) protocol.Frame {
	if d.Search == nil {
		return protocol.NewErrorResponse(frame.Command, "search_unavailable")
	}

	var channel, query string
	var limit int
	field(frame, "channel", &channel)
	field(frame, "query", &query)
	field(frame, "limit", &limit)

	ctx, cancel := context.WithTimeout(context.Background(), searchRequestTimeout)
	defer cancel()

	hits, err := d.Search.Query(ctx, channel, query, limit)
	if err != nil {
		return protocol.NewErrorResponse(frame.Command, "search_unavailable")
	}
	return protocol.NewSystemResponse(frame.Command, map[string]any{"results": hits})
}

// handleListChannels answers with a summary of every known channel.
func handleListChannels(d *Dispatcher, _ Conn, frame protocol.Frame) protocol.Frame {
	if d.ThreadMod == nil {
		return protocol.NewErrorResponse(frame.Command, "not_found")
	}
	return protocol.NewSystemResponse(frame.Command, map[string]any{"channels": d.ThreadMod.ListChannels()})
}

// handleRetrieveChannelMessages pages through channel's message history, newest-first.
func handleRetrieveChannelMessages(d *Dispatcher, _ Conn, frame protocol.Frame) protocol.Frame {
	if d.ThreadMod == nil {
		return protocol.NewErrorResponse(frame.Command, "not_found")
	}

	var channel string
	if !field(frame, "channel", &channel) || channel == "" {
		return protocol.NewErrorResponse(frame.Command, "bad_request")
	}
	var limit, offset int
	var includeThreads bool
	field(frame, "limit", &limit)
	field(frame, "offset", &offset)
	field(frame, "include_threads", &includeThreads)

	messages, err := d.ThreadMod.RetrieveChannelMessages(channel, limit, offset, includeThreads)
	if err != nil {
		return protocol.NewErrorResponse(frame.Command, err.Error())
	}
	return protocol.NewSystemResponse(frame.Command, map[string]any{"messages": messages})
}

// handleRetrieveDirectMessages pages through the DM history between the requesting agent and peer_agent_id,
// newest-first.
func handleRetrieveDirectMessages(d *Dispatcher, conn Conn, frame protocol.Frame) protocol.Frame {
	if d.ThreadMod == nil {
		return protocol.NewErrorResponse(frame.Command, "not_found")
	}

	var peer string
	if !field(frame, "peer_agent_id", &peer) || peer == "" {
		return protocol.NewErrorResponse(frame.Command, "bad_request")
	}
	var limit, offset int
	var includeThreads bool
	field(frame, "limit", &limit)
	field(frame, "offset", &offset)
	field(frame, "include_threads", &includeThreads)

	messages := d.ThreadMod.RetrieveDirectMessages(conn.AgentID(), peer, limit, offset, includeThreads)
	return protocol.NewSystemResponse(frame.Command, map[string]any{"messages": messages})
}

// handleUploadFile stores the base64-encoded data field as a new file, attributed to the requesting agent.
func handleUploadFile(d *Dispatcher, conn Conn, frame protocol.Frame) protocol.Frame {
	if d.ThreadMod == nil {
		return protocol.NewErrorResponse(frame.Command, "not_found")
	}

	var data []byte
	var filename, mime string
	if !field(frame, "data", &data) || !field(frame, "filename", &filename) {
		return protocol.NewErrorResponse(frame.Command, "bad_request")
	}
	field(frame, "mime", &mime)

	fileID, err := d.ThreadMod.UploadFile(data, filename, mime, conn.AgentID())
	if err != nil {
		return protocol.NewErrorResponse(frame.Command, err.Error())
	}
	return protocol.NewSystemResponse(frame.Command, map[string]any{"file_id": fileID})
}

// handleDownloadFile answers with the base64-encoded bytes and metadata of file_id, or not_found.
func handleDownloadFile(d *Dispatcher, _ Conn, frame protocol.Frame) protocol.Frame {
	if d.ThreadMod == nil {
		return protocol.NewErrorResponse(frame.Command, "not_found")
	}

	var fileID uuid.UUID
	if !field(frame, "file_id", &fileID) {
		return protocol.NewErrorResponse(frame.Command, "bad_request")
	}

	data, err := d.ThreadMod.DownloadFile(fileID)
	if err != nil {
		return protocol.NewErrorResponse(frame.Command, err.Error())
	}
	filename, mime, _ := d.ThreadMod.FileMetadata(fileID)
	return protocol.NewSystemResponse(frame.Command, map[string]any{
		"data":     data,
		"filename": filename,
		"mime":     mime,
	})
}

// handleReactToMessage applies an add/remove reaction on message_id on behalf of the requesting agent.
func handleReactToMessage(d *Dispatcher, conn Conn, frame protocol.Frame) protocol.Frame {
	if d.ThreadMod == nil {
		return protocol.NewErrorResponse(frame.Command, "not_found")
	}

	var messageID uuid.UUID
	var reaction, action string
	if !field(frame, "message_id", &messageID) || !field(frame, "reaction", &reaction) || !field(frame, "action", &action) {
		return protocol.NewErrorResponse(frame.Command, "bad_request")
	}

	var reactionAction threadmod.ReactionAction
	switch action {
	case string(threadmod.ReactionAdd):
		reactionAction = threadmod.ReactionAdd
	case string(threadmod.ReactionRemove):
		reactionAction = threadmod.ReactionRemove
	default:
		return protocol.NewErrorResponse(frame.Command, "bad_request")
	}

	total, err := d.ThreadMod.ReactToMessage(messageID, conn.AgentID(), reaction, reactionAction)
	if err != nil {
		return protocol.NewErrorResponse(frame.Command, err.Error())
	}
	return protocol.NewSystemResponse(frame.Command, map[string]any{"total_reactions": total})
}
