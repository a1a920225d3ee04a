package proto

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Task struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Status          string     `json:"status"`                      // "pending", "running", "completed", "failed", "cancelled"
	Priority        string     `json:"priority"`                    // "low", "medium", "high", "urgent"
	TaskType        string     `json:"task_type"`                   // free-form classifier
	AssignedAgentID string     `json:"assigned_agent_id,omitempty"` // agent currently working on it
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// TaskCreatePayload is sent by clients to ask the hub to create a task.
type TaskCreatePayload struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	TaskType    string `json:"task_type"`
}

type TaskSnapshotPayload struct {
	Tasks []Task `json:"tasks"`
}

type ChatMessage struct {
	ID     string    `json:"id"`
	Room   string    `json:"room"`
	Author string    `json:"author"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

type ChatHistoryRequestPayload struct {
	Room  string `json:"room"`
	Limit int    `json:"limit,omitempty"`
}

type ChatHistoryPayload struct {
	Room     string        `json:"room"`
	Messages []ChatMessage `json:"messages"`
}

type AgentStatus struct {
	AgentID       string    `json:"agent_id"`
	Name          string    `json:"name,omitempty"`
	AgentType     string    `json:"agent_type,omitempty"`
	Status        string    `json:"status"` // "idle", "busy", "offline", "error"
	CurrentTaskID string    `json:"current_task_id,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	ErrorCount    int       `json:"error_count,omitempty"`
}

type AgentSnapshotPayload struct {
	Agents []AgentStatus `json:"agents"`
}

type MonitorEvent struct {
	EventType string         `json:"event_type"` // "task_failed", "agent_error", "resource_warning", ...
	Level     string         `json:"level"`      // "info", "warning", "error", "critical"
	Message   string         `json:"message"`
	Source    string         `json:"source,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

var validTaskStatuses = map[string]bool{
	"pending":   true,
	"running":   true,
	"completed": true,
	"failed":    true,
	"cancelled": true,
}

var validPriorities = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
	"urgent": true,
}

var validLevels = map[string]bool{
	"info":     true,
	"warning":  true,
	"error":    true,
	"critical": true,
}

func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task %q must have a title", t.ID)
	}
	if !validTaskStatuses[t.Status] {
		return fmt.Errorf("invalid task status %q for task %q", t.Status, t.ID)
	}
	if t.Priority != "" && !validPriorities[t.Priority] {
		return fmt.Errorf("invalid task priority %q for task %q", t.Priority, t.ID)
	}
	return nil
}

func (p *TaskCreatePayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("task title is required")
	}
	if strings.TrimSpace(p.TaskType) == "" {
		return errors.New("task type is required")
	}
	if p.Priority != "" && !validPriorities[p.Priority] {
		return fmt.Errorf("invalid task priority %q", p.Priority)
	}
	return nil
}

func (c *ChatMessage) Validate() error {
	if strings.TrimSpace(c.Room) == "" {
		return errors.New("chat room is required")
	}
	if strings.TrimSpace(c.Author) == "" {
		return errors.New("chat author is required")
	}
	if strings.TrimSpace(c.Text) == "" {
		return errors.New("chat text must not be empty")
	}
	return nil
}

func (a *AgentStatus) Validate() error {
	if strings.TrimSpace(a.AgentID) == "" {
		return errors.New("agent id is required")
	}
	if strings.TrimSpace(a.Status) == "" {
		return fmt.Errorf("agent %q must report a status", a.AgentID)
	}
	return nil
}

func (e *MonitorEvent) Validate() error {
	if strings.TrimSpace(e.EventType) == "" {
		return errors.New("monitor event type is required")
	}
	if !validLevels[e.Level] {
		return fmt.Errorf("invalid monitor level %q", e.Level)
	}
	return nil
}
