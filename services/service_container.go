package services

import (
	"time"

	"github.com/mbocsi/teamhub/broker"
	"github.com/mbocsi/teamhub/client"
)

// Options tunes the feeds built by NewServiceContainer.
type Options struct {
	ChatHistory  int           // messages kept per room
	ChatRooms    []string      // rooms whose history is requested on connect
	QueryTimeout time.Duration // default wait for snapshot and history replies
}

// NewServiceContainer wires every feed to conn. Feeds subscribe before the
// caller connects, so the first connected event already triggers a resync.
func NewServiceContainer(conn Connection, opts Options) *ServiceContainer {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 10 * time.Second
	}
	queries := NewQueryTracker(conn, opts.QueryTimeout)

	tasks := NewTaskFeed(conn, queries)
	chat := NewChatFeed(conn, queries, opts.ChatHistory, opts.ChatRooms...)
	agents := NewAgentFeed(conn)

	return &ServiceContainer{
		Tasks:      tasks,
		Chat:       chat,
		Agents:     agents,
		Connection: &connectionService{conn: conn},
		closers:    []func(){tasks.Close, chat.Close, agents.Close},
	}
}

type connectionService struct {
	conn Connection
}

func (cs *connectionService) Status() client.Status { return cs.conn.Status() }
func (cs *connectionService) Connect()              { cs.conn.Connect() }
func (cs *connectionService) Disconnect()           { cs.conn.Disconnect() }

func (cs *connectionService) Subscribe(kind string, handler broker.Handler) *broker.Subscription {
	return cs.conn.Subscribe(kind, handler)
}

func (cs *connectionService) Unsubscribe(sub *broker.Subscription) {
	cs.conn.Unsubscribe(sub)
}
