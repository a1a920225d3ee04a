package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedFrame is returned by Decode for frames that are not a JSON
// object with a non-empty "type" field.
var ErrMalformedFrame = errors.New("malformed frame")

// Reserved heartbeat discriminators. Frames of these types never reach the
// dispatcher.
const (
	TypePing = "ping"
	TypePong = "pong"
)

// Application frame types exchanged with the hub.
const (
	TypeTaskUpdate          = "task_update"
	TypeTaskCreate          = "task_create"
	TypeTaskSnapshot        = "task_snapshot"
	TypeTaskSnapshotRequest = "task_snapshot_request"

	TypeChatMessage        = "chat_message"
	TypeChatHistory        = "chat_history"
	TypeChatHistoryRequest = "chat_history_request"

	TypeAgentStatus          = "agent_status"
	TypeAgentSnapshot        = "agent_snapshot"
	TypeAgentSnapshotRequest = "agent_snapshot_request"

	TypeMonitorEvent = "monitor_event"
)

// KnownTypes lists every application frame type the dispatcher normalizes
// under its own kind. Anything else is routed to the unknown channel.
var KnownTypes = []string{
	TypeTaskUpdate,
	TypeTaskCreate,
	TypeTaskSnapshot,
	TypeTaskSnapshotRequest,
	TypeChatMessage,
	TypeChatHistory,
	TypeChatHistoryRequest,
	TypeAgentStatus,
	TypeAgentSnapshot,
	TypeAgentSnapshotRequest,
	TypeMonitorEvent,
}

type Message struct {
	Type      string          `json:"type"`                // discriminator, e.g. "task_update", "ping"
	ID        string          `json:"id,omitempty"`        // sender-assigned message id
	Payload   json.RawMessage `json:"payload"`             // raw JSON; schema depends on Type
	Timestamp int64           `json:"timestamp,omitempty"` // UNIX milliseconds
}

// NewMessage marshals payload into a Message of the given type with a fresh
// id and timestamp.
func NewMessage(msgType string, payload any) (Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return Message{
		Type:      msgType,
		ID:        uuid.NewString(),
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func NewPing() Message {
	return Message{Type: TypePing, Payload: json.RawMessage("{}"), Timestamp: time.Now().UnixMilli()}
}

func NewPong() Message {
	return Message{Type: TypePong, Payload: json.RawMessage("{}"), Timestamp: time.Now().UnixMilli()}
}

// IsHeartbeat reports whether the message is a ping or pong frame.
func (m Message) IsHeartbeat() bool {
	return m.Type == TypePing || m.Type == TypePong
}

// Decode parses a raw text frame. A frame without a payload field is
// accepted and given an empty object payload.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if strings.TrimSpace(msg.Type) == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		msg.Payload = json.RawMessage("{}")
	}
	return msg, nil
}

func Encode(msg Message) ([]byte, error) {
	if msg.Payload == nil {
		msg.Payload = json.RawMessage("{}")
	}
	return json.Marshal(msg)
}

// DecodePayload unmarshals the message payload into v.
func (m Message) DecodePayload(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", m.Type, err)
	}
	return nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("payload bytes are not valid JSON")
		}
		return json.RawMessage(p), nil
	}
	return json.Marshal(payload)
}
