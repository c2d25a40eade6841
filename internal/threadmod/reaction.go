package threadmod

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/agenthub/hub/internal/protocol"
)

// ReactionAction is the verb of a react_to_message call.
type ReactionAction string

const (
	ReactionAdd    ReactionAction = "add"
	ReactionRemove ReactionAction = "remove"
)

// ReactToMessage applies action to reaction on messageID on sender's behalf, then notifies the message's audience.
// Add/remove are idempotent set operations; totalReactions is the reaction's set cardinality after the update.
func (m *Mod) ReactToMessage(messageID uuid.UUID, sender, reaction string, action ReactionAction) (totalReactions int, err error) {
	m.messagesMu.Lock()
	msg, ok := m.messages[messageID]
	if !ok {
		m.messagesMu.Unlock()
		return 0, ErrMessageNotFound
	}
	if msg.Reactions == nil {
		msg.Reactions = make(map[string]map[string]struct{})
	}
	set, ok := msg.Reactions[reaction]
	if !ok {
		set = make(map[string]struct{})
		msg.Reactions[reaction] = set
	}
	switch action {
	case ReactionAdd:
		set[sender] = struct{}{}
	case ReactionRemove:
		delete(set, sender)
	}
	total := len(set)
	audience := m.reactionAudience(msg)
	m.messagesMu.Unlock()

	m.notifyReaction(messageID, reaction, sender, string(action), total, audience)
	return total, nil
}

// reactionAudience returns who should be notified of a reaction change: a channel's current members, or the two DM
// participants. Must be called with messagesMu held (for msg's fields) — channel membership is read separately.
func (m *Mod) reactionAudience(msg *StoredMessage) []string {
	if msg.Channel != "" {
		m.channelsMu.RLock()
		defer m.channelsMu.RUnlock()
		ch, ok := m.channels[msg.Channel]
		if !ok {
			return nil
		}
		out := make([]string, 0, len(ch.Members))
		for id := range ch.Members {
			out = append(out, id)
		}
		return out
	}
	return dmPeerMembers(msg)
}

func (m *Mod) notifyReaction(messageID uuid.UUID, reaction, sender, action string, total int, audience []string) {
	content, _ := json.Marshal(map[string]any{
		"message_id":      messageID,
		"reaction":        reaction,
		"sender_id":       sender,
		"action":          action,
		"total_reactions": total,
	})
	notification := protocol.Frame{
		Type:      protocol.TypeModMessage,
		MessageID: uuid.New(),
		Mod:       m.Name(),
		Direction: protocol.DirectionOutbound,
		SenderID:  "system",
		Content:   content,
	}
	m.sender.SendToMany(audience, notification)
}
