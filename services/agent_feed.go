package services

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/mbocsi/teamhub/broker"
	"github.com/mbocsi/teamhub/proto"
)

const recentMonitorEvents = 100

// AgentFeed tracks agent status, monitor events and the health of the hub
// connection itself.
type AgentFeed struct {
	conn Connection

	mu      sync.RWMutex
	agents  map[string]proto.AgentStatus
	epoch   uint64
	summary MonitorSummary
	recent  []proto.MonitorEvent // newest last, bounded
	health  ConnectionHealth

	subs []*broker.Subscription
}

func NewAgentFeed(conn Connection) *AgentFeed {
	f := &AgentFeed{
		conn:    conn,
		agents:  make(map[string]proto.AgentStatus),
		summary: MonitorSummary{ByLevel: make(map[string]int)},
	}
	f.subs = []*broker.Subscription{
		conn.Subscribe(broker.KindConnected, f.onConnected),
		conn.Subscribe(broker.KindDisconnected, f.onLifecycle),
		conn.Subscribe(broker.KindError, f.onLifecycle),
		conn.Subscribe(broker.KindReconnectionExhausted, f.onLifecycle),
		conn.Subscribe(proto.TypeAgentStatus, f.onStatus),
		conn.Subscribe(proto.TypeAgentSnapshot, f.onSnapshot),
		conn.Subscribe(proto.TypeMonitorEvent, f.onMonitor),
	}
	return f
}

func (f *AgentFeed) Close() {
	for _, sub := range f.subs {
		f.conn.Unsubscribe(sub)
	}
	f.subs = nil
}

func (f *AgentFeed) onConnected(ev broker.Event) error {
	if err := f.onLifecycle(ev); err != nil {
		return err
	}
	f.mu.Lock()
	f.epoch = ev.Epoch
	f.mu.Unlock()

	msg, err := proto.NewMessage(proto.TypeAgentSnapshotRequest, nil)
	if err != nil {
		return err
	}
	if _, err := f.conn.Send(msg); err != nil {
		return sendError(err)
	}
	return nil
}

func (f *AgentFeed) onLifecycle(ev broker.Event) error {
	info, err := ev.Lifecycle()
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.health.LastKind = ev.Kind
	f.health.LastChange = ev.ReceivedAt
	f.health.Detail = &info
	f.health.Epoch = ev.Epoch
	switch ev.Kind {
	case broker.KindConnected:
		f.health.Connected = true
		f.health.Exhausted = false
	case broker.KindDisconnected:
		f.health.Connected = false
	case broker.KindReconnectionExhausted:
		f.health.Connected = false
		f.health.Exhausted = true
	}
	return nil
}

func (f *AgentFeed) onStatus(ev broker.Event) error {
	var a proto.AgentStatus
	if err := ev.Decode(&a); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.Epoch < f.epoch {
		return nil
	}
	if prev, ok := f.agents[a.AgentID]; ok && prev.Status != a.Status {
		slog.Info("Agent status changed", "agent", a.AgentID, "from", prev.Status, "to", a.Status)
	}
	f.agents[a.AgentID] = a
	return nil
}

func (f *AgentFeed) onSnapshot(ev broker.Event) error {
	var snap proto.AgentSnapshotPayload
	if err := ev.Decode(&snap); err != nil {
		return err
	}

	agents := make(map[string]proto.AgentStatus, len(snap.Agents))
	for _, a := range snap.Agents {
		if a.Validate() != nil {
			continue
		}
		agents[a.AgentID] = a
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.Epoch < f.epoch {
		return nil
	}
	f.agents = agents
	return nil
}

func (f *AgentFeed) onMonitor(ev broker.Event) error {
	var m proto.MonitorEvent
	if err := ev.Decode(&m); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = ev.ReceivedAt
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.summary.Total++
	f.summary.ByLevel[m.Level]++
	ts := m.Timestamp
	f.summary.Last = &ts

	f.recent = append(f.recent, m)
	if over := len(f.recent) - recentMonitorEvents; over > 0 {
		f.recent = slices.Clone(f.recent[over:])
	}

	if m.Level == "error" || m.Level == "critical" {
		slog.Warn("Monitor event", "type", m.EventType, "level", m.Level, "source", m.Source, "message", m.Message)
	}
	return nil
}

// ListAgents returns agents sorted by id.
func (f *AgentFeed) ListAgents() ([]proto.AgentStatus, error) {
	f.mu.RLock()
	ids := slices.Sorted(maps.Keys(f.agents))
	result := make([]proto.AgentStatus, 0, len(ids))
	for _, id := range ids {
		result = append(result, f.agents[id])
	}
	f.mu.RUnlock()
	return result, nil
}

func (f *AgentFeed) GetAgent(id string) (*proto.AgentStatus, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalidInput("Agent id cannot be empty", nil)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.agents[id]
	if !ok {
		return nil, notFound("Agent", id)
	}
	return &a, nil
}

func (f *AgentFeed) MonitorSummary() MonitorSummary {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := MonitorSummary{
		Total:   f.summary.Total,
		ByLevel: maps.Clone(f.summary.ByLevel),
	}
	if f.summary.Last != nil {
		last := *f.summary.Last
		out.Last = &last
	}
	return out
}

// RecentEvents returns up to limit monitor events, newest first.
func (f *AgentFeed) RecentEvents(limit int) []proto.MonitorEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := len(f.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]proto.MonitorEvent, 0, n)
	for i := len(f.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, f.recent[i])
	}
	return out
}

func (f *AgentFeed) Health() ConnectionHealth {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h := f.health
	if h.Detail != nil {
		d := *h.Detail
		h.Detail = &d
	}
	return h
}
