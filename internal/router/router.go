// Package router classifies and delivers the message-shaped frame types — direct, broadcast, mod, channel, and
// reply messages. It sits beside internal/dispatcher (which only ever answers system_request frames): the reader
// hands each inbound frame to whichever of the two understands its Type.
package router

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agenthub/hub/internal/mod"
	"github.com/agenthub/hub/internal/protocol"
	"github.com/agenthub/hub/internal/registry"
	"github.com/agenthub/hub/internal/threadmod"
)

// Broadcaster hands a broadcast_message frame to the shared event bus instead of delivering it directly, so every
// hub process subscribed to the bus (including this one) delivers it exactly once, through a single code path.
// internal/eventbus.Bus satisfies this.
type Broadcaster interface {
	Publish(ctx context.Context, frame protocol.Frame) error
}

// Router delivers direct/broadcast/mod/channel/reply frames to their recipients and forwards channel traffic to the
// threaded channel-messaging mod.
type Router struct {
	registry  *registry.Registry
	sender    mod.Sender
	modHost   *mod.Host
	threadMod *threadmod.Mod
	bus       Broadcaster
	log       zerolog.Logger
}

// New builds a Router. bus may be nil, in which case broadcast_message frames are delivered directly by sender
// rather than round-tripped through the event bus (no Valkey connection was available at startup).
func New(reg *registry.Registry, sender mod.Sender, modHost *mod.Host, threadMod *threadmod.Mod, bus Broadcaster, logger zerolog.Logger) *Router {
	return &Router{
		registry:  reg,
		sender:    sender,
		modHost:   modHost,
		threadMod: threadMod,
		bus:       bus,
		log:       logger.With().Str("component", "router").Logger(),
	}
}

// Route classifies frame by its Type and delivers it. boundAgentID is the agent_id the originating connection is
// currently registered under, or "" if unregistered. It returns a non-nil response frame only when the caller must
// write something back to the sender (a sender_mismatch rejection); all other outcomes are asynchronous deliveries
// with nothing to report to the sender.
func (r *Router) Route(boundAgentID string, frame protocol.Frame) (response protocol.Frame, hasResponse bool) {
	if err := r.registry.Touch(boundAgentID); err != nil {
		r.log.Debug().Err(err).Str("agent_id", boundAgentID).Msg("Touch on unregistered connection")
	}

	if frame.SenderID != boundAgentID {
		return protocol.NewErrorResponse(frame.Type, "sender_mismatch"), true
	}

	switch frame.Type {
	case protocol.TypeDirectMessage:
		r.routeDirect(frame)
	case protocol.TypeBroadcastMessage:
		r.routeBroadcast(frame)
	case protocol.TypeModMessage:
		r.modHost.Dispatch(frame)
	case protocol.TypeChannelMessage:
		r.routeChannelMessage(frame)
	case protocol.TypeReplyMessage:
		r.routeReply(frame)
	default:
		r.log.Debug().Str("type", frame.Type).Msg("Frame type not handled by router")
	}
	return protocol.Frame{}, false
}

// routeBroadcast delivers a broadcast_message to every other registered agent. When an event bus is configured the
// frame is published there instead of delivered directly: the bus subscriber running in this same process (and any
// sibling hub process sharing the bus) is the sole path that actually calls sender.Broadcast, so a frame is never
// delivered twice.
func (r *Router) routeBroadcast(frame protocol.Frame) {
	if r.bus != nil {
		if err := r.bus.Publish(context.Background(), frame); err != nil {
			r.log.Warn().Err(err).Msg("Event bus publish failed, falling back to direct broadcast")
			r.sender.Broadcast(frame, append(frame.ExcludeAgentIDs, frame.SenderID)...)
		}
		return
	}
	r.sender.Broadcast(frame, append(frame.ExcludeAgentIDs, frame.SenderID)...)
}

// routeDirect hands a direct_message to the channel-messaging mod, which is the sole owner of dm_history and
// therefore the sole place a direct message is recorded and delivered to both endpoints, including the
// unreachable-target notification.
func (r *Router) routeDirect(frame protocol.Frame) {
	r.threadMod.SendDirectMessage(frame)
}

// routeReply delivers a reply_message: to the channel-messaging mod's channel-thread path when it carries Channel,
// otherwise to its DM-thread path.
func (r *Router) routeReply(frame protocol.Frame) {
	if frame.Channel != "" {
		r.routeChannelMessage(frame)
		return
	}
	if _, err := r.threadMod.ReplyDirectMessage(frame, frame.ReplyToID); err != nil {
		notification := protocol.NewOutboundSystemError(frame.SenderID, err.Error())
		notification.RelevantAgentID = frame.SenderID
		_ = r.sender.SendTo(frame.SenderID, notification)
	}
}

// routeChannelMessage forwards a channel_message or channel reply_message to the threaded channel-messaging mod.
// Mod-domain errors are reported back to the sender as a mod_message carrying a structured {success, error?, ...}
// envelope.
func (r *Router) routeChannelMessage(frame protocol.Frame) {
	var err error
	if frame.ReplyToID != uuid.Nil {
		_, err = r.threadMod.ReplyChannelMessage(frame, frame.ReplyToID)
	} else {
		_, err = r.threadMod.SendChannelMessage(frame)
	}
	if err != nil {
		notification := protocol.NewOutboundSystemError(frame.SenderID, err.Error())
		notification.RelevantAgentID = frame.SenderID
		_ = r.sender.SendTo(frame.SenderID, notification)
	}
}
