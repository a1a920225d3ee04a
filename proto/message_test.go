package proto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(TypeChatMessage, ChatMessage{Room: "general", Author: "ana", Text: "hi"})
	require.NoError(t, err)

	assert.Equal(t, TypeChatMessage, msg.Type)
	assert.NotEmpty(t, msg.ID)
	assert.NotZero(t, msg.Timestamp)

	var chat ChatMessage
	require.NoError(t, msg.DecodePayload(&chat))
	assert.Equal(t, "general", chat.Room)
}

func TestNewMessage_RawPayloads(t *testing.T) {
	msg, err := NewMessage(TypeTaskUpdate, json.RawMessage(`{"id":"t1"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t1"}`, string(msg.Payload))

	msg, err = NewMessage(TypeTaskUpdate, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(msg.Payload))

	_, err = NewMessage(TypeTaskUpdate, []byte("not json"))
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "valid", input: `{"type":"task_update","payload":{"id":"1"}}`, want: TypeTaskUpdate},
		{name: "missing payload", input: `{"type":"pong"}`, want: TypePong},
		{name: "null payload", input: `{"type":"ping","payload":null}`, want: TypePing},
		{name: "not json", input: `task_update`, wantErr: true},
		{name: "missing type", input: `{"payload":{}}`, wantErr: true},
		{name: "blank type", input: `{"type":"  ","payload":{}}`, wantErr: true},
		{name: "array", input: `[1,2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedFrame)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Type)
			assert.NotEmpty(t, msg.Payload)
		})
	}
}

func TestHeartbeatFrames(t *testing.T) {
	assert.True(t, NewPing().IsHeartbeat())
	assert.True(t, NewPong().IsHeartbeat())

	msg, err := NewMessage(TypeTaskUpdate, nil)
	require.NoError(t, err)
	assert.False(t, msg.IsHeartbeat())

	data, err := Encode(NewPing())
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypePing, decoded.Type)
}

func TestTaskValidate(t *testing.T) {
	valid := Task{ID: "t1", Title: "Write report", Status: "pending", Priority: "high"}
	assert.NoError(t, valid.Validate())

	missingID := valid
	missingID.ID = ""
	assert.Error(t, missingID.Validate())

	badStatus := valid
	badStatus.Status = "exploded"
	assert.Error(t, badStatus.Validate())

	badPriority := valid
	badPriority.Priority = "whenever"
	assert.Error(t, badPriority.Validate())
}

func TestTaskCreatePayloadValidate(t *testing.T) {
	assert.NoError(t, (&TaskCreatePayload{Title: "a", TaskType: "research"}).Validate())
	assert.Error(t, (&TaskCreatePayload{TaskType: "research"}).Validate())
	assert.Error(t, (&TaskCreatePayload{Title: "a"}).Validate())
	assert.Error(t, (&TaskCreatePayload{Title: "a", TaskType: "x", Priority: "soon"}).Validate())
}

func TestChatAndAgentValidate(t *testing.T) {
	assert.NoError(t, (&ChatMessage{Room: "r", Author: "a", Text: "t"}).Validate())
	assert.Error(t, (&ChatMessage{Room: "r", Author: "a", Text: " "}).Validate())

	assert.NoError(t, (&AgentStatus{AgentID: "a1", Status: "idle"}).Validate())
	assert.Error(t, (&AgentStatus{Status: "idle"}).Validate())

	assert.NoError(t, (&MonitorEvent{EventType: "task_failed", Level: "error"}).Validate())
	assert.Error(t, (&MonitorEvent{EventType: "task_failed", Level: "loud"}).Validate())
}
