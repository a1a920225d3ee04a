package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbocsi/teamhub/broker"
	"github.com/mbocsi/teamhub/proto"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SendResult tells the caller whether a message went out immediately or
// waits in the outbound queue. Queuing is not a failure.
type SendResult int

const (
	SendSent SendResult = iota + 1
	SendQueued
)

func (r SendResult) String() string {
	switch r {
	case SendSent:
		return "sent"
	case SendQueued:
		return "queued"
	default:
		return "unknown"
	}
}

// EventSink receives application frames and lifecycle notifications.
// *broker.Dispatcher implements it.
type EventSink interface {
	DispatchMessage(msg proto.Message, epoch uint64)
	Publish(ev broker.Event) int
	Subscribe(kind string, handler broker.Handler) *broker.Subscription
	Unsubscribe(sub *broker.Subscription)
}

// connection is one physical session attempt. Exactly one is current; a
// callback holding a connection that is no longer current does nothing.
type connection struct {
	epoch    uint64
	conn     Conn
	ctx      context.Context // done once the attempt is torn down
	cancel   context.CancelFunc
	wake     chan struct{}
	openedAt time.Time

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

// signal wakes the writer of an open connection.
func (att *connection) signal() {
	select {
	case att.wake <- struct{}{}:
	default:
	}
}

// release closes the physical connection with the code recorded at
// teardown. It runs without the client mutex: a close handshake may block
// on the network.
func (att *connection) release() {
	att.closeOnce.Do(func() {
		if att.conn == nil {
			return
		}
		if err := att.conn.Close(att.closeCode, att.closeReason); err != nil {
			slog.Debug("Error closing connection", "epoch", att.epoch, "error", err)
		}
	})
}

type heartbeatState struct {
	lastPingSent time.Time
	lastAck      time.Time
	awaitingAck  bool
}

// Client keeps one logical connection to the hub alive across network
// failures. All fields below mu are guarded by it. No network I/O happens
// with mu held. Events are queued under mu in the order the state changed
// and delivered by a single goroutine with mu released.
type Client struct {
	cfg       Config
	transport Transport
	sink      EventSink
	events    *deliveries
	metrics   *metrics

	mu             sync.Mutex
	state          State
	current        *connection
	epoch          uint64
	attempts       int
	exhausted      bool
	queue          *outboundQueue
	heartbeat      heartbeatState
	lastActivity   time.Time
	heartbeatTimer *time.Timer
	reconnectTimer *time.Timer
	reconnectGen   uint64
}

func NewClient(cfg Config, t Transport, sink EventSink) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: event sink is required", ErrInvalidConfig)
	}
	policy, _ := ParseOverflowPolicy(string(cfg.OverflowPolicy))

	c := &Client{
		cfg:       cfg,
		transport: t,
		sink:      sink,
		events:    newDeliveries(sink),
		state:     StateIdle,
		queue:     newOutboundQueue(cfg.QueueSize, policy),
	}
	if cfg.Metrics != nil {
		m, err := newMetrics(cfg.Metrics)
		if err != nil {
			return nil, err
		}
		c.metrics = m
	}
	return c, nil
}

// Connect starts a connection attempt unless one is already connecting or
// open. An explicit call resets the attempt counter, so it is also the
// manual retry after reconnection was exhausted.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnecting || c.state == StateOpen {
		return
	}
	c.attempts = 0
	c.exhausted = false
	c.cancelReconnectLocked()
	c.connectLocked()
}

// Disconnect tears everything down: pending dial, heartbeat and backoff
// timers, the open connection (closed with code 1000) and the outbound
// queue. It is safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	pending := c.cancelReconnectLocked()

	att := c.current
	if att != nil {
		c.setStateLocked(StateClosing)
		c.stopHeartbeatLocked()
		att.cancel()
		att.closeCode, att.closeReason = CloseNormal, "client disconnect"
		c.current = nil
		pending = true
	}
	if pending {
		c.publishLocked(broker.NewLifecycleEvent(broker.KindDisconnected, c.epoch, broker.Lifecycle{
			Endpoint: c.cfg.Endpoint,
			Code:     CloseNormal,
			Reason:   "client disconnect",
			Attempt:  c.attempts,
		}))
	}

	if dropped := c.queue.clear(); dropped > 0 {
		slog.Info("Cleared outbound queue on disconnect", "dropped", dropped)
		c.metrics.queue(0, dropped)
	}
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if att != nil {
		att.release()
	}
}

// Send hands msg to the open connection's writer, or queues it until the
// next connection opens. Both go through the bounded outbound queue, so the
// only error is ErrQueueFull under the Reject policy. A message the writer
// could not write stays queued for the next connection.
func (c *Client) Send(msg proto.Message) (SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enqueueLocked(msg); err != nil {
		return 0, err
	}
	if att := c.current; c.state == StateOpen && att != nil {
		att.signal()
		return SendSent, nil
	}
	return SendQueued, nil
}

// SendPayload builds a message of msgType around payload and sends it.
func (c *Client) SendPayload(msgType string, payload any) (SendResult, error) {
	msg, err := proto.NewMessage(msgType, payload)
	if err != nil {
		return 0, err
	}
	return c.Send(msg)
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Subscribe(kind string, handler broker.Handler) *broker.Subscription {
	return c.sink.Subscribe(kind, handler)
}

func (c *Client) Unsubscribe(sub *broker.Subscription) {
	c.sink.Unsubscribe(sub)
}

// Status is a point-in-time view of the connection for dashboards.
type Status struct {
	Endpoint       string    `json:"endpoint"`
	Transport      string    `json:"transport"`
	State          string    `json:"state"`
	Connected      bool      `json:"connected"`
	Epoch          uint64    `json:"epoch"`
	Attempts       int       `json:"attempts"`
	MaxAttempts    int       `json:"max_attempts"`
	Exhausted      bool      `json:"exhausted"`
	Retrying       bool      `json:"retrying"`
	QueueDepth     int       `json:"queue_depth"`
	PendingEvents  int       `json:"pending_events"`
	ConnectedSince time.Time `json:"connected_since,omitempty"`
	LastActivity   time.Time `json:"last_activity,omitempty"`
	LastPingSent   time.Time `json:"last_ping_sent,omitempty"`
	LastPong       time.Time `json:"last_pong,omitempty"`
	AwaitingPong   bool      `json:"awaiting_pong"`
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Endpoint:      c.cfg.Endpoint,
		Transport:     c.transport.Name(),
		State:         c.state.String(),
		Connected:     c.state == StateOpen,
		Epoch:         c.epoch,
		Attempts:      c.attempts,
		MaxAttempts:   c.cfg.MaxAttempts,
		Exhausted:     c.exhausted,
		Retrying:      c.reconnectTimer != nil,
		QueueDepth:    c.queue.len(),
		PendingEvents: c.events.len(),
		LastActivity:  c.lastActivity,
		LastPingSent:  c.heartbeat.lastPingSent,
		LastPong:      c.heartbeat.lastAck,
		AwaitingPong:  c.heartbeat.awaitingAck,
	}
	if c.current != nil && c.state == StateOpen {
		st.ConnectedSince = c.current.openedAt
	}
	return st
}

func (c *Client) connectLocked() {
	c.epoch++
	ctx, cancel := context.WithCancel(context.Background())
	att := &connection{epoch: c.epoch, ctx: ctx, cancel: cancel, wake: make(chan struct{}, 1)}
	c.current = att
	c.setStateLocked(StateConnecting)

	slog.Info("Connecting", "endpoint", c.cfg.Endpoint, "transport", c.transport.Name(), "epoch", att.epoch, "attempt", c.attempts)
	go c.run(att)
}

// run owns one connection attempt from dial to the end of its read loop.
func (c *Client) run(att *connection) {
	ctx, cancel := context.WithTimeout(att.ctx, c.cfg.ConnectTimeout)
	conn, err := c.transport.Dial(ctx, c.cfg.Endpoint)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", ErrConnectTimeout, c.cfg.ConnectTimeout, err)
	}
	cancel()
	if err != nil {
		c.dialFailed(att, err)
		return
	}
	if !c.opened(att, conn) {
		return
	}
	c.readLoop(att, conn)
}

func (c *Client) dialFailed(att *connection, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != att {
		return
	}
	slog.Warn("Connection attempt failed", "endpoint", c.cfg.Endpoint, "epoch", att.epoch, "attempt", c.attempts, "error", err)
	c.current = nil
	c.setStateLocked(StateClosed)

	retrying, tail := c.scheduleReconnectLocked()
	c.publishLocked(broker.NewLifecycleEvent(broker.KindError, att.epoch, broker.Lifecycle{
		Endpoint: c.cfg.Endpoint,
		Reason:   err.Error(),
		Attempt:  c.attempts,
		Retrying: retrying,
	}))
	c.publishLocked(tail...)
}

// opened promotes a dialed connection to OPEN and starts its writer, which
// flushes the queue first. It returns false when the attempt went stale
// while dialing.
func (c *Client) opened(att *connection, conn Conn) bool {
	c.mu.Lock()
	if c.current != att {
		c.mu.Unlock()
		slog.Debug("Discarding stale connection", "epoch", att.epoch)
		_ = conn.Close(CloseNormal, "stale connection")
		return false
	}

	now := time.Now()
	att.conn = conn
	att.openedAt = now
	c.attempts = 0
	c.exhausted = false
	c.lastActivity = now
	c.heartbeat = heartbeatState{}
	c.setStateLocked(StateOpen)
	c.metrics.opened()
	c.armHeartbeatLocked(att)
	slog.Info("Connected", "endpoint", c.cfg.Endpoint, "epoch", att.epoch, "queued", c.queue.len())

	c.publishLocked(broker.NewLifecycleEvent(broker.KindConnected, att.epoch, broker.Lifecycle{
		Endpoint: c.cfg.Endpoint,
	}))
	go c.writeLoop(att)
	c.mu.Unlock()
	return true
}

// writeLoop is the only writer of queued messages for att, so queue order
// is wire order. A message leaves the queue only after it was written.
func (c *Client) writeLoop(att *connection) {
	for {
		c.mu.Lock()
		if c.current != att {
			c.mu.Unlock()
			return
		}
		item, ok := c.queue.peek()
		c.mu.Unlock()
		if !ok {
			select {
			case <-att.wake:
				continue
			case <-att.ctx.Done():
				return
			}
		}

		err := att.conn.Send(item.msg)

		c.mu.Lock()
		if c.current != att {
			c.mu.Unlock()
			return
		}
		if err != nil {
			slog.Warn("Write failed, keeping message queued and reconnecting", "type", item.msg.Type, "epoch", att.epoch, "error", err)
			c.teardownLocked(att, CloseAbnormal, "write failed: "+err.Error(), true)
			c.mu.Unlock()
			att.release()
			return
		}
		// Evicted while in flight: it went out anyway, the new head did not.
		c.queue.popSeq(item.seq)
		depth := c.queue.len()
		c.mu.Unlock()

		c.metrics.sent(1)
		c.metrics.queue(depth, 0)
		slog.Debug("Wrote message", "type", item.msg.Type, "id", item.msg.ID, "epoch", att.epoch, "queued_for", time.Since(item.enqueuedAt))
	}
}

func (c *Client) readLoop(att *connection, conn Conn) {
	for {
		data, err := conn.Read()
		if err != nil {
			c.readFailed(att, err)
			return
		}

		msg, perr := proto.Decode(data)

		c.mu.Lock()
		if c.current != att {
			c.mu.Unlock()
			return
		}
		c.lastActivity = time.Now()
		if perr == nil {
			switch {
			case msg.Type == proto.TypePong:
				c.heartbeat.awaitingAck = false
				c.heartbeat.lastAck = c.lastActivity
			case !msg.IsHeartbeat():
				c.events.dispatch(msg, att.epoch)
			}
		}
		c.mu.Unlock()

		if perr != nil {
			slog.Warn("Invalid frame dropped", "epoch", att.epoch, "error", perr, "size", len(data))
			c.metrics.frameDropped("malformed")
			continue
		}
		c.metrics.frameReceived(msg.Type)
		if msg.Type == proto.TypePing {
			if err := conn.Send(proto.NewPong()); err != nil {
				slog.Warn("Failed to answer ping", "epoch", att.epoch, "error", err)
			}
		}
	}
}

func (c *Client) readFailed(att *connection, err error) {
	c.mu.Lock()
	if c.current == att {
		code := closeCode(err)
		slog.Warn("Connection lost", "endpoint", c.cfg.Endpoint, "epoch", att.epoch, "code", code, "error", err)
		c.teardownLockedCode(att, CloseAbnormal, code, err.Error(), code != CloseNormal)
	}
	c.mu.Unlock()
	att.release()
}

func (c *Client) armHeartbeatLocked(att *connection) {
	c.heartbeatTimer = time.AfterFunc(c.cfg.HeartbeatInterval, func() {
		c.heartbeatTick(att)
	})
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
}

// heartbeatTick sends a ping, or declares the connection dead when the
// previous ping is still unanswered.
func (c *Client) heartbeatTick(att *connection) {
	c.mu.Lock()
	if c.current != att || c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	if c.heartbeat.awaitingAck {
		slog.Warn("Heartbeat not acknowledged, presuming connection dead", "epoch", att.epoch, "ping_sent", c.heartbeat.lastPingSent)
		c.metrics.heartbeatTimeout()
		c.teardownLocked(att, CloseAbnormal, "heartbeat timeout", true)
		c.mu.Unlock()
		att.release()
		return
	}
	c.heartbeat.awaitingAck = true
	c.heartbeat.lastPingSent = time.Now()
	c.armHeartbeatLocked(att)
	c.mu.Unlock()

	if err := att.conn.Send(proto.NewPing()); err != nil {
		c.mu.Lock()
		c.teardownLocked(att, CloseAbnormal, "heartbeat write failed: "+err.Error(), true)
		c.mu.Unlock()
		att.release()
	}
}

func (c *Client) teardownLocked(att *connection, code int, reason string, reconnect bool) {
	c.teardownLockedCode(att, code, code, reason, reconnect)
}

// teardownLockedCode retires att, to be closed with closeWith by release,
// reports it with reportCode and schedules a reconnect when asked to.
func (c *Client) teardownLockedCode(att *connection, closeWith, reportCode int, reason string, reconnect bool) {
	if c.current != att {
		return
	}
	c.stopHeartbeatLocked()
	att.cancel()
	att.closeCode, att.closeReason = closeWith, reason
	c.current = nil
	c.setStateLocked(StateClosed)

	var retrying bool
	var tail []broker.Event
	if reconnect {
		retrying, tail = c.scheduleReconnectLocked()
	}
	c.publishLocked(broker.NewLifecycleEvent(broker.KindDisconnected, att.epoch, broker.Lifecycle{
		Endpoint: c.cfg.Endpoint,
		Code:     reportCode,
		Reason:   reason,
		Attempt:  c.attempts,
		Retrying: retrying,
	}))
	c.publishLocked(tail...)
}

// scheduleReconnectLocked arms the backoff timer for the next attempt, or
// marks the client exhausted. The exhausted notification is returned once.
func (c *Client) scheduleReconnectLocked() (bool, []broker.Event) {
	if c.attempts >= c.cfg.MaxAttempts {
		if c.exhausted {
			return false, nil
		}
		c.exhausted = true
		c.metrics.reconnectionExhausted()
		slog.Error("Reconnection attempts exhausted", "endpoint", c.cfg.Endpoint, "attempts", c.attempts)
		return false, []broker.Event{broker.NewLifecycleEvent(broker.KindReconnectionExhausted, c.epoch, broker.Lifecycle{
			Endpoint: c.cfg.Endpoint,
			Attempt:  c.attempts,
			Reason:   fmt.Sprintf("gave up after %d reconnect attempts", c.attempts),
		})}
	}

	c.attempts++
	delay := c.cfg.Backoff.Delay(c.attempts)
	c.reconnectGen++
	gen := c.reconnectGen
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.reconnectFired(gen)
	})
	c.metrics.reconnectScheduled()
	slog.Info("Reconnect scheduled", "endpoint", c.cfg.Endpoint, "attempt", c.attempts, "max_attempts", c.cfg.MaxAttempts, "delay", delay)
	return true, nil
}

func (c *Client) reconnectFired(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.reconnectGen || c.current != nil {
		return
	}
	c.reconnectTimer = nil
	c.connectLocked()
}

// cancelReconnectLocked stops a pending backoff timer and reports whether one
// was pending.
func (c *Client) cancelReconnectLocked() bool {
	c.reconnectGen++
	if c.reconnectTimer == nil {
		return false
	}
	c.reconnectTimer.Stop()
	c.reconnectTimer = nil
	return true
}

func (c *Client) enqueueLocked(msg proto.Message) error {
	evicted, err := c.queue.push(msg)
	if err != nil {
		slog.Warn("Outbound queue full, rejecting message", "type", msg.Type, "capacity", c.queue.capacity)
		return err
	}
	dropped := 0
	if evicted != nil {
		dropped = 1
		slog.Warn("Outbound queue full, dropped oldest message", "dropped_type", evicted.msg.Type, "dropped_id", evicted.msg.ID, "queued_for", time.Since(evicted.enqueuedAt))
	}
	c.metrics.queue(c.queue.len(), dropped)
	slog.Debug("Message queued", "type", msg.Type, "id", msg.ID, "depth", c.queue.len())
	return nil
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	slog.Debug("Connection state changed", "from", c.state.String(), "to", s.String(), "epoch", c.epoch)
	c.state = s
	c.metrics.setState(s)
}

// publishLocked queues events for delivery. Holding mu keeps them in the
// order the state changed.
func (c *Client) publishLocked(events ...broker.Event) {
	for _, ev := range events {
		c.events.publish(ev)
	}
}
