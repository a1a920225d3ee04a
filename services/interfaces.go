package services

import (
	"context"

	"github.com/mbocsi/teamhub/broker"
	"github.com/mbocsi/teamhub/client"
	"github.com/mbocsi/teamhub/proto"
)

// Connection is the part of *client.Client the services depend on.
type Connection interface {
	Send(msg proto.Message) (client.SendResult, error)
	Subscribe(kind string, handler broker.Handler) *broker.Subscription
	Unsubscribe(sub *broker.Subscription)
	Connect()
	Disconnect()
	Status() client.Status
}

// TaskService keeps the dashboard's view of the task board
type TaskService interface {
	ListTasks(filter TaskFilter) ([]proto.Task, error)
	GetTask(id string) (*proto.Task, error)
	CreateTask(req proto.TaskCreatePayload) (*SendReceipt, error)
	Refresh(ctx context.Context) error

	// Stale reports whether the task list may be missing updates because
	// the connection dropped since the last snapshot.
	Stale() bool
}

// ChatService handles chat rooms
type ChatService interface {
	History(room string, limit int) ([]proto.ChatMessage, error)
	Post(room, author, text string) (*SendReceipt, error)
	Rooms() []string
	LoadHistory(ctx context.Context, room string) error
}

// AgentService tracks agents, monitor events and connection health
type AgentService interface {
	ListAgents() ([]proto.AgentStatus, error)
	GetAgent(id string) (*proto.AgentStatus, error)
	MonitorSummary() MonitorSummary
	RecentEvents(limit int) []proto.MonitorEvent
	Health() ConnectionHealth
}

// ConnectionService exposes connection control to the API layers
type ConnectionService interface {
	Status() client.Status
	Connect()
	Disconnect()
	Subscribe(kind string, handler broker.Handler) *broker.Subscription
	Unsubscribe(sub *broker.Subscription)
}

// ServiceContainer holds all service implementations
type ServiceContainer struct {
	Tasks      TaskService
	Chat       ChatService
	Agents     AgentService
	Connection ConnectionService

	closers []func()
}

// Close detaches every feed from the dispatcher.
func (sc *ServiceContainer) Close() {
	for _, c := range sc.closers {
		c()
	}
	sc.closers = nil
}
