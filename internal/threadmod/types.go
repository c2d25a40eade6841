// Package threadmod implements the built-in threaded channel-messaging mod hosted by internal/mod.Host: channels,
// direct and channel threads up to several levels deep, reactions, an in-memory file store with thumbnail
// generation, and paginated history, all held in in-memory arenas guarded by per-entity mutexes.
package threadmod

import (
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/hub/internal/protocol"
)

// Channel is a named topic with an ordered message history and a member set.
type Channel struct {
	Name        string
	Description string
	Members     map[string]struct{}
	Messages    []uuid.UUID
	ThreadCount int
}

// ThreadNode is one node in a message's reply tree. Level 0 is the root; level increases by one per reply and is
// rejected past MaxThreadLevel.
type ThreadNode struct {
	MessageID uuid.UUID
	ParentID  uuid.UUID
	HasParent bool
	Level     int
	Children  []uuid.UUID
}

// StoredMessage is a message held by the mod: its original envelope plus the mod's own bookkeeping.
type StoredMessage struct {
	Envelope  protocol.Frame
	Channel   string // empty for a DM message
	DMPeerA   string // the two DM participants, empty for channel messages
	DMPeerB   string
	ParentID  uuid.UUID
	HasParent bool
	Level     int
	Reactions map[string]map[string]struct{} // reaction name -> set of agent_ids
}

// FileBlob is an immutable uploaded file, capped at max_file_size_bytes.
type FileBlob struct {
	FileID           uuid.UUID
	Filename         string
	MIME             string
	Size             int
	Bytes            []byte
	UploaderID       string
	UploadTS         time.Time
	ThumbnailBytes   []byte
	ThumbnailPending bool
}

// dmKey is an unordered pair of agent ids identifying one DM conversation.
type dmKey struct {
	a, b string
}

func newDMKey(x, y string) dmKey {
	if x <= y {
		return dmKey{a: x, b: y}
	}
	return dmKey{a: y, b: x}
}
