package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/teamhub/broker"
	"github.com/mbocsi/teamhub/proto"
	"github.com/stretchr/testify/require"
)

// fakeTransport fails the first `failures` dials (all of them when
// failures < 0) and then hands out fakeConns.
type fakeTransport struct {
	mu       sync.Mutex
	failures int
	autoPong bool
	dials    int
	conns    []*fakeConn
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Dial(ctx context.Context, _ string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.failures < 0 || t.dials <= t.failures {
		return nil, errors.New("connection refused")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn := newFakeConn(t.autoPong)
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) SetFailures(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = n
}

func (t *fakeTransport) Conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.conns) {
		return nil
	}
	return t.conns[i]
}

func (t *fakeTransport) ConnCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

type fakeConn struct {
	mu        sync.Mutex
	autoPong  bool
	sent      []proto.Message
	sendErr   error
	sendGate  chan struct{}
	inbound   chan []byte
	readErr   chan error
	closed    chan struct{}
	closeOnce sync.Once
	closeCode int
}

func newFakeConn(autoPong bool) *fakeConn {
	return &fakeConn{
		autoPong: autoPong,
		inbound:  make(chan []byte, 64),
		readErr:  make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Send(msg proto.Message) error {
	c.mu.Lock()
	gate := c.sendGate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-c.closed:
			return errors.New("use of closed connection")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	if c.autoPong && msg.Type == proto.TypePing {
		data, _ := proto.Encode(proto.NewPong())
		select {
		case c.inbound <- data:
		default:
		}
	}
	return nil
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case err := <-c.readErr:
		return nil, err
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close(code int, _ string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// deliver pushes a raw frame as if the server sent it.
func (c *fakeConn) deliver(data []byte) {
	c.inbound <- data
}

func (c *fakeConn) deliverMessage(t *testing.T, msgType string, payload any) {
	t.Helper()
	msg, err := proto.NewMessage(msgType, payload)
	require.NoError(t, err)
	data, err := proto.Encode(msg)
	require.NoError(t, err)
	c.deliver(data)
}

// peerClose makes the next Read fail as if the server closed with code.
func (c *fakeConn) peerClose(code int) {
	c.readErr <- &CloseError{Code: code, Text: "server closing"}
}

func (c *fakeConn) Sent() []proto.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]proto.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentOfType filters out heartbeat traffic.
func (c *fakeConn) SentOfType(msgType string) []proto.Message {
	var out []proto.Message
	for _, m := range c.Sent() {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) SetSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// StallWrites makes every Send wait until the returned func is called or
// the connection is closed, like a peer that stopped reading.
func (c *fakeConn) StallWrites() (resume func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.sendGate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (c *fakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// eventLog records every event the dispatcher delivers.
type eventLog struct {
	mu     sync.Mutex
	events []broker.Event
}

func (l *eventLog) handle(ev broker.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) OfKind(kind string) []broker.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []broker.Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) Count(kind string) int {
	return len(l.OfKind(kind))
}

// settle waits until every event queued so far reached the subscribers.
func settle(c *Client) {
	c.events.wait()
}

func testConfig() Config {
	cfg := DefaultConfig("ws://hub.test/ws")
	cfg.HeartbeatInterval = time.Hour
	cfg.ConnectTimeout = time.Second
	cfg.Backoff = LinearBackoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond}
	return cfg
}

func newTestClient(t *testing.T, cfg Config, tr Transport) (*Client, *broker.Dispatcher, *eventLog) {
	t.Helper()
	d, err := broker.NewDispatcher()
	require.NoError(t, err)
	log := &eventLog{}
	d.Subscribe(broker.KindAny, log.handle)

	c, err := NewClient(cfg, tr, d)
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c, d, log
}

func chatMessage(t *testing.T, text string) proto.Message {
	t.Helper()
	msg, err := proto.NewMessage(proto.TypeChatMessage, proto.ChatMessage{Room: "general", Author: "ana", Text: text})
	require.NoError(t, err)
	return msg
}

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)
