package services

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/mbocsi/teamhub/broker"
	"github.com/mbocsi/teamhub/proto"
)

// TaskFeed mirrors the hub's task board.
//
// Every connected event starts a new epoch: the feed marks itself stale and
// asks for a full task_snapshot, which replaces whatever it held. Updates
// from an older epoch are ignored.
type TaskFeed struct {
	conn    Connection
	queries *QueryTracker

	mu    sync.RWMutex
	tasks map[string]proto.Task
	stale bool
	epoch uint64

	subs []*broker.Subscription
}

func NewTaskFeed(conn Connection, queries *QueryTracker) *TaskFeed {
	f := &TaskFeed{
		conn:    conn,
		queries: queries,
		tasks:   make(map[string]proto.Task),
		stale:   true,
	}
	f.subs = []*broker.Subscription{
		conn.Subscribe(broker.KindConnected, f.onConnected),
		conn.Subscribe(broker.KindDisconnected, f.onDisconnected),
		conn.Subscribe(proto.TypeTaskSnapshot, f.onSnapshot),
		conn.Subscribe(proto.TypeTaskUpdate, f.onUpdate),
	}
	return f
}

func (f *TaskFeed) Close() {
	for _, sub := range f.subs {
		f.conn.Unsubscribe(sub)
	}
	f.subs = nil
}

func (f *TaskFeed) onConnected(ev broker.Event) error {
	f.mu.Lock()
	f.stale = true
	f.epoch = ev.Epoch
	f.mu.Unlock()

	msg, err := proto.NewMessage(proto.TypeTaskSnapshotRequest, nil)
	if err != nil {
		return err
	}
	if _, err := f.conn.Send(msg); err != nil {
		return sendError(err)
	}
	slog.Debug("Requested task snapshot", "epoch", ev.Epoch)
	return nil
}

func (f *TaskFeed) onDisconnected(broker.Event) error {
	f.mu.Lock()
	f.stale = true
	f.mu.Unlock()
	return nil
}

func (f *TaskFeed) onSnapshot(ev broker.Event) error {
	var snap proto.TaskSnapshotPayload
	if err := ev.Decode(&snap); err != nil {
		return err
	}

	tasks := make(map[string]proto.Task, len(snap.Tasks))
	for _, t := range snap.Tasks {
		if err := t.Validate(); err != nil {
			slog.Warn("Skipping invalid task in snapshot", "error", err)
			continue
		}
		tasks[t.ID] = t
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.Epoch < f.epoch {
		slog.Debug("Ignoring task snapshot from previous connection", "epoch", ev.Epoch, "current", f.epoch)
		return nil
	}
	f.tasks = tasks
	f.stale = false
	slog.Info("Task snapshot applied", "tasks", len(tasks), "epoch", ev.Epoch)
	return nil
}

func (f *TaskFeed) onUpdate(ev broker.Event) error {
	var task proto.Task
	if err := ev.Decode(&task); err != nil {
		return err
	}
	if err := task.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.Epoch < f.epoch {
		return nil
	}
	f.tasks[task.ID] = task
	return nil
}

// ListTasks returns matching tasks, newest first.
func (f *TaskFeed) ListTasks(filter TaskFilter) ([]proto.Task, error) {
	f.mu.RLock()
	result := make([]proto.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.AgentID != "" && t.AssignedAgentID != filter.AgentID {
			continue
		}
		result = append(result, t)
	}
	f.mu.RUnlock()

	slices.SortFunc(result, func(a, b proto.Task) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (f *TaskFeed) GetTask(id string) (*proto.Task, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, notFound("Task", id)
	}
	return &t, nil
}

// CreateTask asks the hub to create a task. The task shows up in the feed
// once the hub broadcasts its task_update.
func (f *TaskFeed) CreateTask(req proto.TaskCreatePayload) (*SendReceipt, error) {
	if req.Priority == "" {
		req.Priority = "medium"
	}
	if err := req.Validate(); err != nil {
		return nil, invalidInput("Invalid task", err)
	}
	return send(f.conn, proto.TypeTaskCreate, req)
}

// Refresh requests a snapshot and waits until it has been applied.
func (f *TaskFeed) Refresh(ctx context.Context) error {
	msg, err := proto.NewMessage(proto.TypeTaskSnapshotRequest, nil)
	if err != nil {
		return err
	}
	_, err = f.queries.Request(ctx, msg, proto.TypeTaskSnapshot, nil)
	return err
}

func (f *TaskFeed) Stale() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stale
}

func send(conn Connection, msgType string, payload any) (*SendReceipt, error) {
	msg, err := proto.NewMessage(msgType, payload)
	if err != nil {
		return nil, invalidInput("Failed to marshal payload", err)
	}
	res, err := conn.Send(msg)
	if err != nil {
		return nil, sendError(err)
	}
	return &SendReceipt{MessageID: msg.ID, Delivery: res.String()}, nil
}
