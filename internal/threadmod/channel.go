package threadmod

import (
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/hub/internal/protocol"
)

// ChannelSummary is one entry returned by ListChannels.
type ChannelSummary struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Members      int    `json:"members"`
	MessageCount int    `json:"message_count"`
	ThreadCount  int    `json:"thread_count"`
}

// SendChannelMessage stores envelope as a new root message in channel and delivers it to every current member (spec
// §4.8 "send_channel_message"). Returns the assigned message_id, or an error if the channel does not exist and
// auto-create is disabled.
func (m *Mod) SendChannelMessage(envelope protocol.Frame) (uuid.UUID, error) {
	ch, err := m.resolveChannel(envelope.Channel)
	if err != nil {
		return uuid.Nil, err
	}

	envelope.TextRepresentation = m.sanitizeText(envelope.TextRepresentation)
	messageID := envelope.MessageID
	if messageID == uuid.Nil {
		messageID = uuid.New()
		envelope.MessageID = messageID
	}

	writer := m.channelWriter(ch.Name)
	writer.Lock()
	m.storeMessage(messageID, &StoredMessage{Envelope: envelope, Channel: ch.Name})
	m.registerThreadRoot(messageID)
	members := m.appendToChannel(ch, envelope.SenderID, messageID)
	writer.Unlock()

	m.sender.SendToMany(members, envelope)
	m.notifyMention(envelope)
	m.indexForSearch(envelope, messageID)

	return messageID, nil
}

// ReplyChannelMessage inserts envelope as a reply under replyToID within channel. Rejects with ErrParentNotFound or
// ErrThreadDepthExceeded as appropriate.
func (m *Mod) ReplyChannelMessage(envelope protocol.Frame, replyToID uuid.UUID) (uuid.UUID, error) {
	ch, err := m.resolveChannel(envelope.Channel)
	if err != nil {
		return uuid.Nil, err
	}

	parent, ok := m.lookupMessage(replyToID)
	if !ok {
		return uuid.Nil, ErrParentNotFound
	}
	level := parent.Level + 1
	if level > m.maxDepth() {
		return uuid.Nil, ErrThreadDepthExceeded
	}

	envelope.TextRepresentation = m.sanitizeText(envelope.TextRepresentation)
	envelope.ThreadLevel = level
	envelope.ReplyToID = replyToID
	messageID := envelope.MessageID
	if messageID == uuid.Nil {
		messageID = uuid.New()
		envelope.MessageID = messageID
	}

	writer := m.channelWriter(ch.Name)
	writer.Lock()
	m.storeMessage(messageID, &StoredMessage{Envelope: envelope, Channel: ch.Name, ParentID: replyToID, HasParent: true, Level: level})
	m.insertReply(replyToID, messageID)
	members := m.appendToChannel(ch, envelope.SenderID, messageID)
	writer.Unlock()

	m.sender.SendToMany(members, envelope)
	m.indexForSearch(envelope, messageID)

	return messageID, nil
}

// ListChannels returns a summary of every known channel.
func (m *Mod) ListChannels() []ChannelSummary {
	m.channelsMu.RLock()
	defer m.channelsMu.RUnlock()

	out := make([]ChannelSummary, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ChannelSummary{
			Name:         ch.Name,
			Description:  ch.Description,
			Members:      len(ch.Members),
			MessageCount: len(ch.Messages),
			ThreadCount:  ch.ThreadCount,
		})
	}
	return out
}

// RetrieveChannelMessages returns up to limit envelopes from channel, newest-first, skipping offset. When
// includeThreads is false, only root messages (level 0) are returned.
func (m *Mod) RetrieveChannelMessages(channel string, limit, offset int, includeThreads bool) ([]protocol.Frame, error) {
	m.channelsMu.RLock()
	ch, ok := m.channels[channel]
	m.channelsMu.RUnlock()
	if !ok {
		return nil, ErrChannelNotFound
	}

	m.channelsMu.RLock()
	ids := append([]uuid.UUID(nil), ch.Messages...)
	m.channelsMu.RUnlock()

	return m.paginate(ids, limit, offset, includeThreads), nil
}

// resolveChannel looks up channel by name, auto-creating it only when the mod is configured to. The default policy
// is to reject unknown channels.
func (m *Mod) resolveChannel(name string) (*Channel, error) {
	m.channelsMu.RLock()
	ch, ok := m.channels[name]
	m.channelsMu.RUnlock()
	if ok {
		return ch, nil
	}
	if !m.cfg.AutoCreateChannels {
		return nil, ErrChannelNotFound
	}

	m.channelsMu.Lock()
	defer m.channelsMu.Unlock()
	if ch, ok := m.channels[name]; ok {
		return ch, nil
	}
	ch = &Channel{Name: name, Members: make(map[string]struct{})}
	m.channels[name] = ch
	return ch, nil
}

// appendToChannel records senderID as a member, appends messageID to the channel's history, and trims the oldest
// root message (and its whole thread) once the history exceeds capacity. Must be called with the channel's writer
// held. Returns the member set to deliver to.
func (m *Mod) appendToChannel(ch *Channel, senderID string, messageID uuid.UUID) []string {
	m.channelsMu.Lock()
	ch.Members[senderID] = struct{}{}
	members := make([]string, 0, len(ch.Members))
	for id := range ch.Members {
		members = append(members, id)
	}
	ch.Messages = append(ch.Messages, messageID)
	if node, ok := m.lookupThreadNode(messageID); ok && !node.HasParent {
		ch.ThreadCount++
	}
	m.channelsMu.Unlock()

	m.trimHistory(ch)
	return members
}

// trimHistory drops the oldest root message and every descendant reply once history exceeds capacity.
func (m *Mod) trimHistory(ch *Channel) {
	capacity := m.historyCapacity()

	m.channelsMu.Lock()
	if len(ch.Messages) <= capacity {
		m.channelsMu.Unlock()
		return
	}
	oldest := ch.Messages[0]
	ch.Messages = ch.Messages[1:]
	ch.ThreadCount--
	remaining := append([]uuid.UUID(nil), ch.Messages...)
	m.channelsMu.Unlock()

	m.deleteThread(oldest)

	// deleteThread removed the thread's stored replies; drop their ids from the history as well.
	kept := make([]uuid.UUID, 0, len(remaining))
	for _, id := range remaining {
		if _, ok := m.lookupMessage(id); ok {
			kept = append(kept, id)
		}
	}
	m.channelsMu.Lock()
	ch.Messages = kept
	m.channelsMu.Unlock()
}

func (m *Mod) notifyMention(envelope protocol.Frame) {
	if envelope.MentionedAgentID == "" {
		return
	}
	notification := envelope
	notification.Type = protocol.TypeDirectMessage
	notification.TargetAgentID = envelope.MentionedAgentID
	notification.MessageID = uuid.New()
	notification.Timestamp = time.Now().UnixMilli()
	if err := m.sender.SendTo(envelope.MentionedAgentID, notification); err != nil {
		m.log.Debug().Err(err).Str("agent_id", envelope.MentionedAgentID).Msg("Mention notification undeliverable")
	}
}

func (m *Mod) indexForSearch(envelope protocol.Frame, messageID uuid.UUID) {
	if m.search == nil || envelope.TextRepresentation == "" {
		return
	}
	doc := searchDocument(messageID, envelope)
	go func() {
		ctx, cancel := searchCtx()
		defer cancel()
		if err := m.search.IndexMessage(ctx, doc); err != nil {
			m.log.Debug().Err(err).Str("message_id", messageID.String()).Msg("Search indexing failed")
		}
	}()
}
