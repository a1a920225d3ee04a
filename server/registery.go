package server

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/teamhub/proto"
)

const DefaultChatRetention = 500

// Store is the hub's in-memory source of truth for snapshots and history.
type Store struct {
	mu            sync.RWMutex
	tasks         map[string]proto.Task
	agents        map[string]proto.AgentStatus
	chat          map[string][]proto.ChatMessage // room -> messages, oldest first
	chatRetention int
}

func NewStore() *Store {
	return &Store{
		tasks:         make(map[string]proto.Task),
		agents:        make(map[string]proto.AgentStatus),
		chat:          make(map[string][]proto.ChatMessage),
		chatRetention: DefaultChatRetention,
	}
}

// CreateTask turns a create request into a pending task with a fresh id.
func (s *Store) CreateTask(req proto.TaskCreatePayload) proto.Task {
	priority := req.Priority
	if priority == "" {
		priority = "medium"
	}
	now := time.Now().UTC()
	t := proto.Task{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Status:      "pending",
		Priority:    priority,
		TaskType:    req.TaskType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return t
}

// UpsertTask stores t, keeping the original creation time.
func (s *Store) UpsertTask(t proto.Task) proto.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.tasks[t.ID]; ok && t.CreatedAt.IsZero() {
		t.CreatedAt = prev.CreatedAt
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = time.Now().UTC()
	s.tasks[t.ID] = t
	return t
}

func (s *Store) Tasks() []proto.Task {
	s.mu.RLock()
	tasks := make([]proto.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.RUnlock()

	slices.SortFunc(tasks, func(a, b proto.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return tasks
}

func (s *Store) AppendChat(m proto.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := append(s.chat[m.Room], m)
	if over := len(room) - s.chatRetention; over > 0 {
		room = slices.Clone(room[over:])
	}
	s.chat[m.Room] = room
}

// ChatHistory returns the newest limit messages of room, oldest first.
func (s *Store) ChatHistory(room string, limit int) []proto.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.chat[room]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]proto.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

func (s *Store) UpsertAgent(a proto.AgentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.AgentID] = a
}

func (s *Store) Agents() []proto.AgentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agents := make([]proto.AgentStatus, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	slices.SortFunc(agents, func(a, b proto.AgentStatus) int { return strings.Compare(a.AgentID, b.AgentID) })
	return agents
}
