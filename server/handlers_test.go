package server

import (
	"testing"

	"github.com/mbocsi/teamhub/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, peerIDs ...string) (*Hub, []*MockPeer) {
	t.Helper()
	hub := NewHub(nil, nil)
	peers := make([]*MockPeer, 0, len(peerIDs))
	for _, id := range peerIDs {
		p := NewMockPeer(id)
		require.NoError(t, hub.RegisterPeer(p))
		peers = append(peers, p)
	}
	return hub, peers
}

func mustMessage(t *testing.T, msgType string, payload any) proto.Message {
	t.Helper()
	msg, err := proto.NewMessage(msgType, payload)
	require.NoError(t, err)
	return msg
}

func ofType(msgs []proto.Message, msgType string) []proto.Message {
	var out []proto.Message
	for _, m := range msgs {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func TestHub_PingAnsweredToSenderOnly(t *testing.T) {
	hub, peers := newTestHub(t, "a", "b")

	hub.Handle(peers[0], proto.NewPing())

	require.Len(t, peers[0].GetMessages(), 1)
	assert.Equal(t, proto.TypePong, peers[0].GetMessages()[0].Type)
	assert.Empty(t, peers[1].GetMessages())

	hub.Handle(peers[0], proto.NewPong())
	assert.Len(t, peers[0].GetMessages(), 1, "pong needs no answer")
}

func TestHub_TaskCreateBroadcastsUpdate(t *testing.T) {
	hub, peers := newTestHub(t, "dashboard", "agent")

	hub.Handle(peers[0], mustMessage(t, proto.TypeTaskCreate, proto.TaskCreatePayload{Title: "Summarize thread", TaskType: "summary", Priority: "high"}))

	for _, p := range peers {
		updates := ofType(p.GetMessages(), proto.TypeTaskUpdate)
		require.Len(t, updates, 1, "peer %s", p.Meta().Id)
		var task proto.Task
		require.NoError(t, updates[0].DecodePayload(&task))
		assert.NotEmpty(t, task.ID)
		assert.Equal(t, "pending", task.Status)
		assert.Equal(t, "high", task.Priority)
	}
	assert.Len(t, hub.Store.Tasks(), 1)
}

func TestHub_InvalidTaskCreateIgnored(t *testing.T) {
	hub, peers := newTestHub(t, "a")

	hub.Handle(peers[0], mustMessage(t, proto.TypeTaskCreate, proto.TaskCreatePayload{Title: ""}))
	hub.Handle(peers[0], proto.Message{Type: proto.TypeTaskCreate, Payload: []byte(`"not an object"`)})

	assert.Empty(t, peers[0].GetMessages())
	assert.Empty(t, hub.Store.Tasks())
}

func TestHub_TaskSnapshotRequest(t *testing.T) {
	hub, peers := newTestHub(t, "a", "b")
	hub.Store.CreateTask(proto.TaskCreatePayload{Title: "One", TaskType: "x"})
	hub.Store.CreateTask(proto.TaskCreatePayload{Title: "Two", TaskType: "x"})

	hub.Handle(peers[1], mustMessage(t, proto.TypeTaskSnapshotRequest, nil))

	assert.Empty(t, peers[0].GetMessages())
	snaps := ofType(peers[1].GetMessages(), proto.TypeTaskSnapshot)
	require.Len(t, snaps, 1)
	var snap proto.TaskSnapshotPayload
	require.NoError(t, snaps[0].DecodePayload(&snap))
	assert.Len(t, snap.Tasks, 2)
}

func TestHub_TaskUpdateFromAgent(t *testing.T) {
	hub, peers := newTestHub(t, "agent", "dashboard")
	task := hub.Store.CreateTask(proto.TaskCreatePayload{Title: "Crawl", TaskType: "ingest"})
	task.Status = "completed"

	hub.Handle(peers[0], mustMessage(t, proto.TypeTaskUpdate, task))

	updates := ofType(peers[1].GetMessages(), proto.TypeTaskUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "completed", hub.Store.Tasks()[0].Status)

	hub.Handle(peers[0], mustMessage(t, proto.TypeTaskUpdate, proto.Task{ID: "x", Title: "bad", Status: "exploded"}))
	assert.Len(t, ofType(peers[1].GetMessages(), proto.TypeTaskUpdate), 1)
}

func TestHub_ChatMessageAndHistory(t *testing.T) {
	hub, peers := newTestHub(t, "a", "b")

	hub.Handle(peers[0], mustMessage(t, proto.TypeChatMessage, proto.ChatMessage{Room: "general", Author: "ana", Text: "hello"}))

	for _, p := range peers {
		msgs := ofType(p.GetMessages(), proto.TypeChatMessage)
		require.Len(t, msgs, 1)
		var m proto.ChatMessage
		require.NoError(t, msgs[0].DecodePayload(&m))
		assert.NotEmpty(t, m.ID)
		assert.False(t, m.SentAt.IsZero())
	}

	hub.Handle(peers[1], mustMessage(t, proto.TypeChatHistoryRequest, proto.ChatHistoryRequestPayload{Room: "general", Limit: 10}))
	hist := ofType(peers[1].GetMessages(), proto.TypeChatHistory)
	require.Len(t, hist, 1)
	var h proto.ChatHistoryPayload
	require.NoError(t, hist[0].DecodePayload(&h))
	assert.Equal(t, "general", h.Room)
	require.Len(t, h.Messages, 1)
	assert.Equal(t, "hello", h.Messages[0].Text)
	assert.Empty(t, ofType(peers[0].GetMessages(), proto.TypeChatHistory))
}

func TestHub_AgentsAndMonitor(t *testing.T) {
	hub, peers := newTestHub(t, "agent", "dashboard")

	hub.Handle(peers[0], mustMessage(t, proto.TypeAgentStatus, proto.AgentStatus{AgentID: "agent-1", Status: "busy"}))
	hub.Handle(peers[0], mustMessage(t, proto.TypeMonitorEvent, proto.MonitorEvent{EventType: "resource_warning", Level: "warning", Message: "memory high"}))
	hub.Handle(peers[0], mustMessage(t, proto.TypeMonitorEvent, proto.MonitorEvent{EventType: "x", Level: "shouting"}))

	dash := peers[1].GetMessages()
	assert.Len(t, ofType(dash, proto.TypeAgentStatus), 1)
	assert.Len(t, ofType(dash, proto.TypeMonitorEvent), 1)

	hub.Handle(peers[1], mustMessage(t, proto.TypeAgentSnapshotRequest, nil))
	snaps := ofType(peers[1].GetMessages(), proto.TypeAgentSnapshot)
	require.Len(t, snaps, 1)
	var snap proto.AgentSnapshotPayload
	require.NoError(t, snaps[0].DecodePayload(&snap))
	require.Len(t, snap.Agents, 1)
	assert.False(t, snap.Agents[0].LastHeartbeat.IsZero())
}

func TestHub_UnknownTypeIgnored(t *testing.T) {
	hub, peers := newTestHub(t, "a")
	hub.Handle(peers[0], mustMessage(t, "workflow_started", nil))
	assert.Empty(t, peers[0].GetMessages())
}
