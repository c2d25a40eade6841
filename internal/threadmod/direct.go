package threadmod

import (
	"errors"

	"github.com/google/uuid"

	"github.com/agenthub/hub/internal/protocol"
	"github.com/agenthub/hub/internal/registry"
)

// SendDirectMessage stores envelope as a root DM between sender and target, and delivers it to both endpoints.
func (m *Mod) SendDirectMessage(envelope protocol.Frame) uuid.UUID {
	sender, target := envelope.SenderID, envelope.TargetAgentID
	key := newDMKey(sender, target)

	envelope.TextRepresentation = m.sanitizeText(envelope.TextRepresentation)
	messageID := envelope.MessageID
	if messageID == uuid.Nil {
		messageID = uuid.New()
		envelope.MessageID = messageID
	}

	writer := m.dmWriter(key)
	writer.Lock()
	m.storeMessage(messageID, &StoredMessage{Envelope: envelope, DMPeerA: key.a, DMPeerB: key.b})
	m.registerThreadRoot(messageID)
	m.appendToDMHistory(key, messageID)
	writer.Unlock()

	m.deliverDM(sender, target, envelope)
	m.indexForSearch(envelope, messageID)
	return messageID
}

// ReplyDirectMessage inserts envelope as a reply to replyToID within the DM between sender and target.
func (m *Mod) ReplyDirectMessage(envelope protocol.Frame, replyToID uuid.UUID) (uuid.UUID, error) {
	parent, ok := m.lookupMessage(replyToID)
	if !ok {
		return uuid.Nil, ErrParentNotFound
	}
	level := parent.Level + 1
	if level > m.maxDepth() {
		return uuid.Nil, ErrThreadDepthExceeded
	}

	sender, target := envelope.SenderID, envelope.TargetAgentID
	key := newDMKey(sender, target)

	envelope.TextRepresentation = m.sanitizeText(envelope.TextRepresentation)
	envelope.ThreadLevel = level
	envelope.ReplyToID = replyToID
	messageID := envelope.MessageID
	if messageID == uuid.Nil {
		messageID = uuid.New()
		envelope.MessageID = messageID
	}

	writer := m.dmWriter(key)
	writer.Lock()
	m.storeMessage(messageID, &StoredMessage{
		Envelope: envelope, DMPeerA: key.a, DMPeerB: key.b,
		ParentID: replyToID, HasParent: true, Level: level,
	})
	m.insertReply(replyToID, messageID)
	m.appendToDMHistory(key, messageID)
	writer.Unlock()

	m.deliverDM(sender, target, envelope)
	m.indexForSearch(envelope, messageID)
	return messageID, nil
}

// RetrieveDirectMessages returns up to limit envelopes exchanged between self and peer, newest-first, skipping
// offset.
func (m *Mod) RetrieveDirectMessages(self, peer string, limit, offset int, includeThreads bool) []protocol.Frame {
	key := newDMKey(self, peer)

	m.dmMu.RLock()
	ids := append([]uuid.UUID(nil), m.dmHistory[key]...)
	m.dmMu.RUnlock()

	return m.paginate(ids, limit, offset, includeThreads)
}

func (m *Mod) appendToDMHistory(key dmKey, messageID uuid.UUID) {
	m.dmMu.Lock()
	m.dmHistory[key] = append(m.dmHistory[key], messageID)
	m.dmMu.Unlock()
}

// deliverDM echoes envelope back to sender and delivers it to target. If target is unreachable, sender additionally
// gets the generic unreachable-target notification, since this mod is the only path by which direct_message frames
// reach their target.
func (m *Mod) deliverDM(sender, target string, envelope protocol.Frame) {
	if err := m.sender.SendTo(sender, envelope); err != nil {
		m.log.Debug().Err(err).Str("agent_id", sender).Msg("DM echo to sender failed")
	}

	if err := m.sender.SendTo(target, envelope); err != nil {
		if errors.Is(err, registry.ErrNotRegistered) {
			_ = m.sender.SendTo(sender, protocol.NewOutboundSystemError(sender, "unreachable"))
		}
		m.log.Debug().Err(err).Str("agent_id", target).Msg("DM delivery to target failed")
	}
}

// dmPeerMembers returns the two participants of the DM that messageID belongs to, used to route reaction
// notifications to the DM peer.
func dmPeerMembers(msg *StoredMessage) []string {
	return []string{msg.DMPeerA, msg.DMPeerB}
}
