package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/mbocsi/teamhub/broker"
	"github.com/mbocsi/teamhub/client"
	"github.com/mbocsi/teamhub/server"
	"github.com/mbocsi/teamhub/services"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func getRandomPort(t *testing.T) int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to get port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

// testHub is a reference hub listening on WebSocket and TCP.
type testHub struct {
	Store    *server.Store
	WSAddr   string
	TCPAddr  string
	cancel   context.CancelFunc
	finished chan struct{}
}

func (h *testHub) WSEndpoint() string {
	return "ws://" + h.WSAddr + "/ws"
}

// Stop shuts the hub down and waits for its transports to close.
func (h *testHub) Stop() {
	h.cancel()
	<-h.finished
}

// startHub runs a hub on wsAddr (a random port when empty) backed by store
// (a fresh one when nil). The hub stops when the test ends.
func startHub(t *testing.T, wsAddr string, store *server.Store) *testHub {
	t.Helper()
	if wsAddr == "" {
		wsAddr = fmt.Sprintf("127.0.0.1:%d", getRandomPort(t))
	}
	if store == nil {
		store = server.NewStore()
	}
	tcpAddr := fmt.Sprintf("127.0.0.1:%d", getRandomPort(t))

	ctx, cancel := context.WithCancel(context.Background())
	hubServer := server.NewHubServer(server.HubServerOptions{Store: store, Context: ctx})
	hubServer.RegisterTransport(server.NewWSTransport(wsAddr))
	hubServer.RegisterTransport(server.NewTCPTransport(tcpAddr))

	h := &testHub{Store: store, WSAddr: wsAddr, TCPAddr: tcpAddr, cancel: cancel, finished: make(chan struct{})}
	go func() {
		defer close(h.finished)
		if err := hubServer.Start(); err != nil {
			t.Errorf("Hub failed: %v", err)
		}
	}()
	t.Cleanup(h.Stop)

	waitForHealthy(t, wsAddr)
	return h
}

func waitForHealthy(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Hub at %s never became healthy", addr)
}

// dashboard is a client plus the feeds the dashboard builds on it.
type dashboard struct {
	Client     *client.Client
	Dispatcher *broker.Dispatcher
	Services   *services.ServiceContainer
}

func fastConfig(endpoint string) client.Config {
	cfg := client.DefaultConfig(endpoint)
	cfg.HeartbeatInterval = 200 * time.Millisecond
	cfg.ConnectTimeout = time.Second
	cfg.Backoff = client.LinearBackoff{Base: 20 * time.Millisecond, Max: 100 * time.Millisecond}
	return cfg
}

func newDashboard(t *testing.T, cfg client.Config, transport client.Transport) *dashboard {
	t.Helper()
	d, err := broker.NewDispatcher()
	if err != nil {
		t.Fatalf("Failed to create dispatcher: %v", err)
	}
	c, err := client.NewClient(cfg, transport, d)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	sc := services.NewServiceContainer(c, services.Options{
		ChatRooms:    []string{"general"},
		QueryTimeout: 2 * time.Second,
	})
	t.Cleanup(func() {
		c.Disconnect()
		sc.Close()
	})
	return &dashboard{Client: c, Dispatcher: d, Services: sc}
}

// eventually polls cond until it holds or the timeout expires.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// counter counts events of the kinds it is subscribed to.
type counter struct {
	events chan broker.Event
}

func countEvents(d *broker.Dispatcher, kind string) *counter {
	c := &counter{events: make(chan broker.Event, 128)}
	d.Subscribe(kind, func(ev broker.Event) error {
		c.events <- ev
		return nil
	})
	return c
}

func (c *counter) next(t *testing.T) broker.Event {
	t.Helper()
	select {
	case ev := <-c.events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for event")
		return broker.Event{}
	}
}

func (c *counter) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-c.events:
		t.Fatalf("Unexpected %s event (epoch %d)", ev.Kind, ev.Epoch)
	case <-time.After(wait):
	}
}
