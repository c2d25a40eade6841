// Package protocol defines the wire-format envelope shared by every frame the hub reads from or writes to an agent
// connection: system requests/responses, direct/broadcast/mod/channel/reply messages. A single Frame type carries all
// of them; callers branch on Type.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Frame types, one per message_type value on the wire.
const (
	TypeDirectMessage    = "direct_message"
	TypeBroadcastMessage = "broadcast_message"
	TypeModMessage       = "mod_message"
	TypeChannelMessage   = "channel_message"
	TypeReplyMessage     = "reply_message"
	TypeSystemRequest    = "system_request"
	TypeSystemResponse   = "system_response"
)

// Mod message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// MaxThreadLevel is the deepest a reply may nest (root is level 0).
const MaxThreadLevel = 4

// Frame is the envelope for every object exchanged over the transport. Only a subset of fields is meaningful for any
// given Type. Fields the hub does not understand on ingress are kept in Extra and re-emitted verbatim on egress.
type Frame struct {
	Type      string          `json:"type"`
	MessageID uuid.UUID       `json:"message_id,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	SenderID  string          `json:"sender_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`

	TextRepresentation string         `json:"text_representation,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	RequiresResponse   bool           `json:"requires_response,omitempty"`

	// direct_message / reply_message
	TargetAgentID string `json:"target_agent_id,omitempty"`

	// broadcast_message
	ExcludeAgentIDs []string `json:"exclude_agent_ids,omitempty"`

	// mod_message
	Mod             string `json:"mod,omitempty"`
	Direction       string `json:"direction,omitempty"`
	RelevantAgentID string `json:"relevant_agent_id,omitempty"`

	// channel_message / channel reply_message
	Channel          string `json:"channel,omitempty"`
	MentionedAgentID string `json:"mentioned_agent_id,omitempty"`

	// reply_message
	ReplyToID      uuid.UUID `json:"reply_to_id,omitempty"`
	ThreadLevel    int       `json:"thread_level,omitempty"`
	QuotedMessageID string   `json:"quoted_message_id,omitempty"`
	QuotedText      string   `json:"quoted_text,omitempty"`

	// system_request / system_response
	Command string          `json:"command,omitempty"`
	Success *bool           `json:"success,omitempty"`
	Error   string          `json:"error,omitempty"`
	Fields  json.RawMessage `json:"-"`

	Extra map[string]json.RawMessage `json:"-"`
}

// knownKeys lists every JSON key Frame decodes explicitly, used to split off Extra on ingress.
var knownKeys = map[string]bool{
	"type": true, "message_id": true, "timestamp": true, "sender_id": true, "content": true,
	"text_representation": true, "metadata": true, "requires_response": true,
	"target_agent_id": true, "exclude_agent_ids": true,
	"mod": true, "direction": true, "relevant_agent_id": true,
	"channel": true, "mentioned_agent_id": true,
	"reply_to_id": true, "thread_level": true, "quoted_message_id": true, "quoted_text": true,
	"command": true, "success": true, "error": true,
}

// UnmarshalJSON decodes the known envelope fields and retains any remaining top-level keys in Extra so that
// ingress→egress round-trips preserve fields this version of the hub does not understand.
func (f *Frame) UnmarshalJSON(data []byte) error {
	type alias Frame
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*f = Frame(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if !knownKeys[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		f.Extra = extra
	}
	return nil
}

// MarshalJSON emits the known envelope fields merged with any preserved Extra fields.
func (f Frame) MarshalJSON() ([]byte, error) {
	type alias Frame
	known, err := json.Marshal(alias(f))
	if err != nil {
		return nil, err
	}
	if len(f.Extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range f.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// NewSystemResponse builds a success response frame for the given command.
func NewSystemResponse(command string, fields map[string]any) Frame {
	f := Frame{Type: TypeSystemResponse, Command: command, Success: boolPtr(true)}
	if len(fields) > 0 {
		extra := make(map[string]json.RawMessage, len(fields))
		for k, v := range fields {
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			extra[k] = b
		}
		f.Extra = extra
	}
	return f
}

// NewErrorResponse builds a failure response frame for the given command and error code.
func NewErrorResponse(command, errCode string) Frame {
	return Frame{Type: TypeSystemResponse, Command: command, Success: boolPtr(false), Error: errCode}
}

// NewSystemRequest builds a system_request frame carrying the given command and extra fields.
func NewSystemRequest(command string, fields map[string]any) (Frame, error) {
	f := Frame{Type: TypeSystemRequest, Command: command, MessageID: uuid.New()}
	if len(fields) > 0 {
		extra := make(map[string]json.RawMessage, len(fields))
		for k, v := range fields {
			b, err := json.Marshal(v)
			if err != nil {
				return Frame{}, fmt.Errorf("marshal field %q: %w", k, err)
			}
			extra[k] = b
		}
		f.Extra = extra
	}
	return f, nil
}

// NewOutboundSystemError builds the mod="system" synthetic notification sent back to a sender whose message could not
// be delivered or was rejected (an unreachable direct-message target, or a thread-mod error such as channel_not_found).
func NewOutboundSystemError(senderID, errCode string) Frame {
	content, _ := json.Marshal(map[string]string{"error": errCode})
	return Frame{
		Type:      TypeModMessage,
		MessageID: uuid.New(),
		Mod:       "system",
		Direction: DirectionOutbound,
		SenderID:  "system",
		TargetAgentID: senderID,
		Content:   content,
	}
}

func boolPtr(b bool) *bool { return &b }

// IsSuccess reports whether a decoded system_response indicates success.
func (f Frame) IsSuccess() bool {
	return f.Success != nil && *f.Success
}

// Encode serialises the frame for transmission over the transport.
func (f Frame) Encode() ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return b, nil
}

// Decode parses a single length-delimited JSON frame off the wire.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}
