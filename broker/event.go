package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbocsi/teamhub/proto"
)

// Lifecycle kinds are published by the transport client, never decoded from
// the wire.
const (
	KindConnected             = "connected"
	KindDisconnected          = "disconnected"
	KindError                 = "error"
	KindReconnectionExhausted = "reconnection_exhausted"

	// KindUnknown receives frames whose type is not a known kind.
	KindUnknown = "unknown"

	// KindAny subscribers receive every event after the kind subscribers.
	KindAny = "*"
)

// Event is the normalized form of one inbound frame or lifecycle
// notification. It exists only for the duration of a dispatch.
type Event struct {
	Kind         string          `json:"kind"`
	OriginalKind string          `json:"original_kind,omitempty"` // set for KindUnknown
	ID           string          `json:"id,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	Epoch        uint64          `json:"epoch"`
	ReceivedAt   time.Time       `json:"received_at"`
}

// Lifecycle is the payload of connected, disconnected, error and
// reconnection_exhausted events.
type Lifecycle struct {
	Endpoint string `json:"endpoint,omitempty"`
	Code     int    `json:"code,omitempty"`    // close code for disconnected
	Reason   string `json:"reason,omitempty"`  // human readable cause
	Attempt  int    `json:"attempt,omitempty"` // reconnect attempt count at emission
	Retrying bool   `json:"retrying"`          // whether an automatic reconnect is scheduled
}

func NewLifecycleEvent(kind string, epoch uint64, info Lifecycle) Event {
	payload, err := json.Marshal(info)
	if err != nil {
		payload = json.RawMessage("{}")
	}
	return Event{
		Kind:       kind,
		Payload:    payload,
		Epoch:      epoch,
		ReceivedAt: time.Now(),
	}
}

// IsLifecycle reports whether the event was emitted by the client itself.
func (e Event) IsLifecycle() bool {
	switch e.Kind {
	case KindConnected, KindDisconnected, KindError, KindReconnectionExhausted:
		return true
	}
	return false
}

func (e Event) Lifecycle() (Lifecycle, error) {
	var info Lifecycle
	if !e.IsLifecycle() {
		return info, fmt.Errorf("event %q is not a lifecycle event", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, &info); err != nil {
		return info, fmt.Errorf("invalid lifecycle payload: %w", err)
	}
	return info, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Kind, err)
	}
	return nil
}

// Message converts the event back into a wire message, used when relaying
// events to other sinks.
func (e Event) Message() proto.Message {
	kind := e.Kind
	if e.OriginalKind != "" {
		kind = e.OriginalKind
	}
	return proto.Message{
		Type:      kind,
		ID:        e.ID,
		Payload:   e.Payload,
		Timestamp: e.ReceivedAt.UnixMilli(),
	}
}
