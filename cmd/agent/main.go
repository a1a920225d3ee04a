package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/teamhub/broker"
	"github.com/mbocsi/teamhub/client"
	"github.com/mbocsi/teamhub/config"
	"github.com/mbocsi/teamhub/proto"
	"github.com/spf13/pflag"
)

// agent claims pending tasks it sees on the board, works on them for a
// while and reports progress, like a worker in the team.
type agent struct {
	conn     *client.Client
	id       string
	name     string
	workTime time.Duration

	mu      sync.Mutex
	current string
	done    int
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("teamhub-agent", pflag.ContinueOnError)
	configPath := flagSet.String("config", os.Getenv("TEAMHUB_CONFIG"), "path to a YAML config file")
	agentID := flagSet.String("agent-id", "agent-"+uuid.NewString()[:8], "agent id reported to the hub")
	name := flagSet.String("name", "worker", "display name")
	interval := flagSet.Duration("status-interval", 5*time.Second, "interval between agent_status reports")
	workTime := flagSet.Duration("work-time", 10*time.Second, "simulated time spent on each task")
	config.AddFlags(flagSet)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyFlags(flagSet); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger.With("agent_id", *agentID))

	dispatcher, err := broker.NewDispatcher()
	if err != nil {
		return err
	}
	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		return err
	}
	conn, err := client.NewClient(clientCfg, cfg.NewTransport(), dispatcher)
	if err != nil {
		return err
	}

	a := &agent{conn: conn, id: *agentID, name: *name, workTime: *workTime}
	conn.Subscribe(broker.KindConnected, func(broker.Event) error {
		a.reportStatus()
		_, err := conn.SendPayload(proto.TypeTaskSnapshotRequest, nil)
		return err
	})
	conn.Subscribe(proto.TypeTaskSnapshot, a.onSnapshot)
	conn.Subscribe(proto.TypeTaskUpdate, a.onTaskUpdate)
	conn.Subscribe(broker.KindReconnectionExhausted, func(broker.Event) error {
		slog.Error("Hub unreachable, giving up")
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting agent", "name", a.name, "endpoint", cfg.Endpoint)
	conn.Connect()
	defer conn.Disconnect()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.report("offline")
			return nil
		case <-ticker.C:
			a.reportStatus()
		}
	}
}

func (a *agent) reportStatus() {
	a.mu.Lock()
	status := "idle"
	if a.current != "" {
		status = "busy"
	}
	a.mu.Unlock()
	a.report(status)
}

func (a *agent) report(status string) {
	a.mu.Lock()
	payload := proto.AgentStatus{
		AgentID:       a.id,
		Name:          a.name,
		AgentType:     "simulated",
		Status:        status,
		CurrentTaskID: a.current,
		LastHeartbeat: time.Now().UTC(),
	}
	a.mu.Unlock()
	if _, err := a.conn.SendPayload(proto.TypeAgentStatus, payload); err != nil {
		slog.Warn("Failed to report status", "error", err)
	}
}

func (a *agent) onSnapshot(ev broker.Event) error {
	var snap proto.TaskSnapshotPayload
	if err := ev.Decode(&snap); err != nil {
		return err
	}
	for _, t := range snap.Tasks {
		if a.claim(t) {
			return nil
		}
	}
	return nil
}

func (a *agent) onTaskUpdate(ev broker.Event) error {
	var t proto.Task
	if err := ev.Decode(&t); err != nil {
		return err
	}
	a.claim(t)
	return nil
}

// claim takes t when it is pending, unassigned and the agent is free.
func (a *agent) claim(t proto.Task) bool {
	if t.Status != "pending" || t.AssignedAgentID != "" {
		return false
	}
	a.mu.Lock()
	if a.current != "" {
		a.mu.Unlock()
		return false
	}
	a.current = t.ID
	a.mu.Unlock()

	t.Status = "running"
	t.AssignedAgentID = a.id
	t.UpdatedAt = time.Now().UTC()
	if _, err := a.conn.SendPayload(proto.TypeTaskUpdate, t); err != nil {
		slog.Warn("Failed to claim task", "task_id", t.ID, "error", err)
	}
	a.monitor("task_started", "info", "Started "+t.Title, t.ID)
	a.reportStatus()

	time.AfterFunc(a.workTime, func() { a.finish(t) })
	return true
}

func (a *agent) finish(t proto.Task) {
	now := time.Now().UTC()
	t.Status = "completed"
	t.UpdatedAt = now
	t.CompletedAt = &now
	if _, err := a.conn.SendPayload(proto.TypeTaskUpdate, t); err != nil {
		slog.Warn("Failed to complete task", "task_id", t.ID, "error", err)
	}

	a.mu.Lock()
	a.current = ""
	a.done++
	done := a.done
	a.mu.Unlock()

	slog.Info("Task completed", "task_id", t.ID, "completed", done)
	a.monitor("task_completed", "info", "Completed "+t.Title, t.ID)
	a.reportStatus()

	// Pick up anything that was created while busy.
	if _, err := a.conn.SendPayload(proto.TypeTaskSnapshotRequest, nil); err != nil {
		slog.Warn("Failed to request task snapshot", "error", err)
	}
}

func (a *agent) monitor(eventType, level, message, taskID string) {
	ev := proto.MonitorEvent{
		EventType: eventType,
		Level:     level,
		Message:   message,
		Source:    a.name,
		TaskID:    taskID,
		AgentID:   a.id,
		Timestamp: time.Now().UTC(),
	}
	if _, err := a.conn.SendPayload(proto.TypeMonitorEvent, ev); err != nil {
		slog.Warn("Failed to send monitor event", "error", err)
	}
}
