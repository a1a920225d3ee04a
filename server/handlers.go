package server

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/teamhub/proto"
)

// Handle processes one frame from peer. Requests are answered to the peer
// alone; state changes are broadcast to everyone, the sender included.
func (h *Hub) Handle(peer Peer, msg proto.Message) {
	switch msg.Type {
	case proto.TypePing:
		h.reply(peer, proto.NewPong())
	case proto.TypePong:

	case proto.TypeTaskCreate:
		h.handleTaskCreate(peer, msg)
	case proto.TypeTaskUpdate:
		h.handleTaskUpdate(peer, msg)
	case proto.TypeTaskSnapshotRequest:
		h.replyPayload(peer, proto.TypeTaskSnapshot, proto.TaskSnapshotPayload{Tasks: h.Store.Tasks()})

	case proto.TypeChatMessage:
		h.handleChat(peer, msg)
	case proto.TypeChatHistoryRequest:
		h.handleChatHistory(peer, msg)

	case proto.TypeAgentStatus:
		h.handleAgentStatus(peer, msg)
	case proto.TypeAgentSnapshotRequest:
		h.replyPayload(peer, proto.TypeAgentSnapshot, proto.AgentSnapshotPayload{Agents: h.Store.Agents()})

	case proto.TypeMonitorEvent:
		h.handleMonitor(peer, msg)

	default:
		slog.Warn("Unhandled message type", "type", msg.Type, "sender", peer.Meta().Id)
	}
}

// ---------- tasks ---------- //

func (h *Hub) handleTaskCreate(peer Peer, msg proto.Message) {
	var req proto.TaskCreatePayload
	if !decode(peer, msg, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Rejected task_create", "sender", peer.Meta().Id, "error", err)
		return
	}
	task := h.Store.CreateTask(req)
	slog.Info("Task created", "task", task.ID, "title", task.Title, "sender", peer.Meta().Id)
	h.broadcast(proto.TypeTaskUpdate, task)
}

func (h *Hub) handleTaskUpdate(peer Peer, msg proto.Message) {
	var task proto.Task
	if !decode(peer, msg, &task) {
		return
	}
	if err := task.Validate(); err != nil {
		slog.Warn("Rejected task_update", "sender", peer.Meta().Id, "error", err)
		return
	}
	h.broadcast(proto.TypeTaskUpdate, h.Store.UpsertTask(task))
}

// ---------- chat ---------- //

func (h *Hub) handleChat(peer Peer, msg proto.Message) {
	var m proto.ChatMessage
	if !decode(peer, msg, &m) {
		return
	}
	if err := m.Validate(); err != nil {
		slog.Warn("Rejected chat_message", "sender", peer.Meta().Id, "error", err)
		return
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	h.Store.AppendChat(m)
	h.broadcast(proto.TypeChatMessage, m)
}

func (h *Hub) handleChatHistory(peer Peer, msg proto.Message) {
	var req proto.ChatHistoryRequestPayload
	if !decode(peer, msg, &req) {
		return
	}
	h.replyPayload(peer, proto.TypeChatHistory, proto.ChatHistoryPayload{
		Room:     req.Room,
		Messages: h.Store.ChatHistory(req.Room, req.Limit),
	})
}

// ---------- agents / monitoring ---------- //

func (h *Hub) handleAgentStatus(peer Peer, msg proto.Message) {
	var a proto.AgentStatus
	if !decode(peer, msg, &a) {
		return
	}
	if err := a.Validate(); err != nil {
		slog.Warn("Rejected agent_status", "sender", peer.Meta().Id, "error", err)
		return
	}
	if a.LastHeartbeat.IsZero() {
		a.LastHeartbeat = time.Now().UTC()
	}
	h.Store.UpsertAgent(a)
	h.broadcast(proto.TypeAgentStatus, a)
}

func (h *Hub) handleMonitor(peer Peer, msg proto.Message) {
	var ev proto.MonitorEvent
	if !decode(peer, msg, &ev) {
		return
	}
	if err := ev.Validate(); err != nil {
		slog.Warn("Rejected monitor_event", "sender", peer.Meta().Id, "error", err)
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.broadcast(proto.TypeMonitorEvent, ev)
}

// ---------- helpers ---------- //

func decode(peer Peer, msg proto.Message, v any) bool {
	if err := msg.DecodePayload(v); err != nil {
		slog.Warn("Invalid payload", "type", msg.Type, "sender", peer.Meta().Id, "error", err)
		return false
	}
	return true
}

func (h *Hub) reply(peer Peer, msg proto.Message) {
	if err := peer.Send(msg); err != nil {
		slog.Warn("Failed to reply", "type", msg.Type, "to", peer.Meta().Id, "error", err)
	}
}

func (h *Hub) replyPayload(peer Peer, msgType string, payload any) {
	msg, err := proto.NewMessage(msgType, payload)
	if err != nil {
		slog.Error("Failed to build reply", "type", msgType, "error", err)
		return
	}
	h.reply(peer, msg)
}

func (h *Hub) broadcast(msgType string, payload any) {
	msg, err := proto.NewMessage(msgType, payload)
	if err != nil {
		slog.Error("Failed to build broadcast", "type", msgType, "error", err)
		return
	}
	h.Broker.Publish(msg)
}
