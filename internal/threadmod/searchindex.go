package threadmod

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/hub/internal/protocol"
	"github.com/agenthub/hub/internal/search"
)

// searchIndexTimeout bounds a single best-effort indexing call; the store itself has already succeeded by the time
// this runs, so a slow or unreachable Typesense must never hold up the caller.
const searchIndexTimeout = 2 * time.Second

func searchCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), searchIndexTimeout)
}

func searchDocument(messageID uuid.UUID, envelope protocol.Frame) search.Document {
	return search.Document{
		ID:        messageID.String(),
		Channel:   envelope.Channel,
		SenderID:  envelope.SenderID,
		Text:      envelope.TextRepresentation,
		CreatedAt: envelope.Timestamp,
	}
}
