package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/teamhub/broker"
	"github.com/mbocsi/teamhub/client"
	"github.com/mbocsi/teamhub/proto"
	"github.com/mbocsi/teamhub/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnection struct {
	*broker.Dispatcher

	mu          sync.Mutex
	sent        []proto.Message
	sendErr     error
	status      client.Status
	connects    int
	disconnects int
}

func (c *fakeConnection) Send(msg proto.Message) (client.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return 0, c.sendErr
	}
	c.sent = append(c.sent, msg)
	return client.SendQueued, nil
}

func (c *fakeConnection) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	c.status.State = client.StateConnecting.String()
}

func (c *fakeConnection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.status.State = client.StateClosed.String()
}

func (c *fakeConnection) Status() client.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeConnection) Sent(msgType string) []proto.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []proto.Message
	for _, m := range c.sent {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConnection) deliver(t *testing.T, msgType string, payload any) {
	t.Helper()
	msg, err := proto.NewMessage(msgType, payload)
	require.NoError(t, err)
	c.DispatchMessage(msg, 1)
}

func newTestAPI(t *testing.T) (*API, *fakeConnection) {
	t.Helper()
	d, err := broker.NewDispatcher()
	require.NoError(t, err)
	conn := &fakeConnection{Dispatcher: d, status: client.Status{Endpoint: "ws://hub.test/ws", State: client.StateIdle.String()}}

	sc := services.NewServiceContainer(conn, services.Options{
		ChatRooms:    []string{"general"},
		QueryTimeout: 50 * time.Millisecond,
	})
	t.Cleanup(sc.Close)

	return NewAPI(sc, prometheus.NewRegistry()), conn
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestAPI_Status(t *testing.T) {
	api, conn := newTestAPI(t)
	conn.Publish(broker.NewLifecycleEvent(broker.KindConnected, 1, broker.Lifecycle{Endpoint: "ws://hub.test/ws"}))

	rec := do(t, api.Routes(), http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body statusResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, "ws://hub.test/ws", body.Connection.Endpoint)
	assert.True(t, body.Health.Connected)
	assert.Equal(t, uint64(1), body.Health.Epoch)
	assert.True(t, body.TasksStale, "tasks stay stale until the snapshot arrives")
}

func TestAPI_ConnectDisconnect(t *testing.T) {
	api, conn := newTestAPI(t)
	h := api.Routes()

	rec := do(t, h, http.MethodPost, "/api/connect", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/disconnect", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var status client.Status
	decodeBody(t, rec, &status)
	assert.Equal(t, client.StateClosed.String(), status.State)
	assert.Equal(t, 1, conn.connects)
	assert.Equal(t, 1, conn.disconnects)
}

func TestAPI_Tasks(t *testing.T) {
	api, conn := newTestAPI(t)
	h := api.Routes()
	now := time.Now().UTC()

	conn.deliver(t, proto.TypeTaskSnapshot, proto.TaskSnapshotPayload{Tasks: []proto.Task{
		{ID: "t1", Title: "Index repo", Status: "running", Priority: "high", TaskType: "index", AssignedAgentID: "a1", CreatedAt: now.Add(-time.Minute)},
		{ID: "t2", Title: "Write docs", Status: "pending", Priority: "low", TaskType: "docs", CreatedAt: now},
	}})

	rec := do(t, h, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Tasks []proto.Task `json:"tasks"`
		Stale bool         `json:"stale"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Tasks, 2)
	assert.Equal(t, "t2", list.Tasks[0].ID, "newest first")
	assert.False(t, list.Stale)

	rec = do(t, h, http.MethodGet, "/api/tasks?agent_id=a1", "")
	decodeBody(t, rec, &list)
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, "t1", list.Tasks[0].ID)

	rec = do(t, h, http.MethodGet, "/api/tasks/t2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var task proto.Task
	decodeBody(t, rec, &task)
	assert.Equal(t, "Write docs", task.Title)

	rec = do(t, h, http.MethodGet, "/api/tasks/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var errBody errorResponse
	decodeBody(t, rec, &errBody)
	assert.Equal(t, services.ErrCodeNotFound, errBody.Code)
}

func TestAPI_CreateTask(t *testing.T) {
	api, conn := newTestAPI(t)
	h := api.Routes()

	rec := do(t, h, http.MethodPost, "/api/tasks", `{"title":"Triage","task_type":"support"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var receipt services.SendReceipt
	decodeBody(t, rec, &receipt)
	assert.Equal(t, "queued", receipt.Delivery)

	sent := conn.Sent(proto.TypeTaskCreate)
	require.Len(t, sent, 1)
	assert.Equal(t, receipt.MessageID, sent[0].ID)

	rec = do(t, h, http.MethodPost, "/api/tasks", `{"title":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/tasks", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CreateTaskQueueFull(t *testing.T) {
	api, conn := newTestAPI(t)
	conn.sendErr = client.ErrQueueFull

	rec := do(t, api.Routes(), http.MethodPost, "/api/tasks", `{"title":"Triage","task_type":"support"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPI_RefreshTimesOut(t *testing.T) {
	api, conn := newTestAPI(t)

	rec := do(t, api.Routes(), http.MethodPost, "/api/tasks/refresh", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Len(t, conn.Sent(proto.TypeTaskSnapshotRequest), 1)
}

func TestAPI_Chat(t *testing.T) {
	api, conn := newTestAPI(t)
	h := api.Routes()

	rec := do(t, h, http.MethodPost, "/api/chat/general", `{"author":"ana","text":"standup in 5"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, conn.Sent(proto.TypeChatMessage), 1)

	conn.deliver(t, proto.TypeChatMessage, proto.ChatMessage{ID: "m2", Room: "general", Author: "bo", Text: "ok", SentAt: time.Now().UTC().Add(time.Second)})

	rec = do(t, h, http.MethodGet, "/api/chat/general", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Room     string              `json:"room"`
		Messages []proto.ChatMessage `json:"messages"`
	}
	decodeBody(t, rec, &history)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "standup in 5", history.Messages[0].Text)
	assert.Equal(t, "ok", history.Messages[1].Text)

	rec = do(t, h, http.MethodGet, "/api/chat/general?limit=1", "")
	decodeBody(t, rec, &history)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "m2", history.Messages[0].ID)

	rec = do(t, h, http.MethodGet, "/api/chat/general?limit=-3", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/chat/general", `{"author":"ana","text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/chat", "")
	var rooms struct {
		Rooms []string `json:"rooms"`
	}
	decodeBody(t, rec, &rooms)
	assert.Contains(t, rooms.Rooms, "general")
}

func TestAPI_AgentsAndMonitor(t *testing.T) {
	api, conn := newTestAPI(t)
	h := api.Routes()

	conn.deliver(t, proto.TypeAgentStatus, proto.AgentStatus{AgentID: "a1", Name: "indexer", Status: "busy", LastHeartbeat: time.Now().UTC()})
	conn.deliver(t, proto.TypeMonitorEvent, proto.MonitorEvent{EventType: "agent_error", Level: "error", Message: "oom", Timestamp: time.Now().UTC()})

	rec := do(t, h, http.MethodGet, "/api/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var agents struct {
		Agents []proto.AgentStatus `json:"agents"`
	}
	decodeBody(t, rec, &agents)
	require.Len(t, agents.Agents, 1)
	assert.Equal(t, "busy", agents.Agents[0].Status)

	rec = do(t, h, http.MethodGet, "/api/agents/a1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/agents/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/monitor", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var monitor struct {
		Summary services.MonitorSummary `json:"summary"`
		Recent  []proto.MonitorEvent    `json:"recent"`
	}
	decodeBody(t, rec, &monitor)
	assert.Equal(t, 1, monitor.Summary.Total)
	assert.Equal(t, 1, monitor.Summary.ByLevel["error"])
	require.Len(t, monitor.Recent, 1)
	assert.Equal(t, "oom", monitor.Recent[0].Message)
}

func TestAPI_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	d, err := broker.NewDispatcher(broker.WithMetrics(reg))
	require.NoError(t, err)
	sc := services.NewServiceContainer(&fakeConnection{Dispatcher: d}, services.Options{})
	t.Cleanup(sc.Close)

	rec := do(t, NewAPI(sc, reg).Routes(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "teamhub_")
}

func TestAPI_Events(t *testing.T) {
	api, conn := newTestAPI(t)
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?kind="+proto.TypeChatMessage, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && name != "":
				return name, data
			}
		}
	}

	name, _ := readEvent()
	assert.Equal(t, "status", name)

	// The handler subscribes before writing the status frame.
	require.Eventually(t, func() bool {
		return conn.Subscribers(proto.TypeChatMessage) >= 2
	}, time.Second, 5*time.Millisecond)

	conn.deliver(t, proto.TypeAgentStatus, proto.AgentStatus{AgentID: "a1", Status: "idle", LastHeartbeat: time.Now()})
	conn.deliver(t, proto.TypeChatMessage, proto.ChatMessage{ID: "m1", Room: "general", Author: "ana", Text: "hi", SentAt: time.Now()})

	name, data := readEvent()
	assert.Equal(t, proto.TypeChatMessage, name)
	var ev broker.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	var msg proto.ChatMessage
	require.NoError(t, ev.Decode(&msg))
	assert.Equal(t, "hi", msg.Text)

	cancel()
	assert.Eventually(t, func() bool {
		return conn.Subscribers(proto.TypeChatMessage) == 1
	}, time.Second, 5*time.Millisecond)
}
