package threadmod

import (
	"github.com/google/uuid"

	"github.com/agenthub/hub/internal/protocol"
)

// storeMessage records msg under messageID.
func (m *Mod) storeMessage(messageID uuid.UUID, msg *StoredMessage) {
	m.messagesMu.Lock()
	defer m.messagesMu.Unlock()
	m.messages[messageID] = msg
}

// lookupMessage returns the stored message for messageID, if present and not yet trimmed.
func (m *Mod) lookupMessage(messageID uuid.UUID) (*StoredMessage, bool) {
	m.messagesMu.RLock()
	defer m.messagesMu.RUnlock()
	msg, ok := m.messages[messageID]
	return msg, ok
}

// deleteMessage removes messageID from the message arena.
func (m *Mod) deleteMessage(messageID uuid.UUID) {
	m.messagesMu.Lock()
	defer m.messagesMu.Unlock()
	delete(m.messages, messageID)
}

// registerThreadRoot creates a level-0 ThreadNode for a freshly-stored root message.
func (m *Mod) registerThreadRoot(messageID uuid.UUID) {
	m.threadsMu.Lock()
	defer m.threadsMu.Unlock()
	m.threads[messageID] = &ThreadNode{MessageID: messageID, Level: 0}
}

// insertReply appends childID as a child of parentID's ThreadNode and creates childID's own node.
func (m *Mod) insertReply(parentID, childID uuid.UUID) {
	m.threadsMu.Lock()
	defer m.threadsMu.Unlock()

	parent, ok := m.threads[parentID]
	level := 1
	if ok {
		parent.Children = append(parent.Children, childID)
		level = parent.Level + 1
	}
	m.threads[childID] = &ThreadNode{MessageID: childID, ParentID: parentID, HasParent: true, Level: level}
}

// lookupThreadNode returns the ThreadNode for messageID, if any.
func (m *Mod) lookupThreadNode(messageID uuid.UUID) (*ThreadNode, bool) {
	m.threadsMu.RLock()
	defer m.threadsMu.RUnlock()
	node, ok := m.threads[messageID]
	return node, ok
}

// deleteThread removes rootID's ThreadNode and every descendant, along with their StoredMessages: trimming removes
// the oldest root and its whole thread, and references to trimmed messages resolve to error=not_found.
func (m *Mod) deleteThread(rootID uuid.UUID) {
	m.threadsMu.Lock()
	if _, ok := m.threads[rootID]; !ok {
		m.threadsMu.Unlock()
		m.deleteMessage(rootID)
		return
	}

	queue := []uuid.UUID{rootID}
	var toDelete []uuid.UUID
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		toDelete = append(toDelete, id)
		if node, ok := m.threads[id]; ok {
			queue = append(queue, node.Children...)
		}
	}
	for _, id := range toDelete {
		delete(m.threads, id)
	}
	m.threadsMu.Unlock()

	m.messagesMu.Lock()
	for _, id := range toDelete {
		delete(m.messages, id)
	}
	m.messagesMu.Unlock()
}

// paginate selects up to limit envelopes from ids (newest-first), skipping offset, optionally excluding non-root
// replies when includeThreads is false.
func (m *Mod) paginate(ids []uuid.UUID, limit, offset int, includeThreads bool) []protocol.Frame {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	out := make([]protocol.Frame, 0, limit)
	skipped := 0
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		msg, ok := m.lookupMessage(ids[i])
		if !ok {
			continue
		}
		if !includeThreads && msg.HasParent {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, msg.Envelope)
	}
	return out
}
