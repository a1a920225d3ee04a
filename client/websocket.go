package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/teamhub/proto"
)

type WebSocketTransport struct {
	Dialer       *websocket.Dialer
	Header       http.Header
	WriteTimeout time.Duration
}

func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{
		Dialer:       websocket.DefaultDialer,
		WriteTimeout: 10 * time.Second,
	}
}

func (t *WebSocketTransport) Name() string { return "websocket" }

func (t *WebSocketTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	// If no scheme is provided, assume ws://
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid WebSocket URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "tcp":
		u.Scheme = "ws"
		if u.Path == "" {
			u.Path = "/ws"
		}
	default:
		return nil, fmt.Errorf("unsupported WebSocket scheme %q", u.Scheme)
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), t.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}

	return &wsConn{conn: conn, writeTimeout: t.WriteTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *wsConn) Send(msg proto.Message) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	data, err := proto.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send WebSocket message: %w", err)
	}

	slog.Debug("Sent WebSocket Message", "type", msg.Type, "id", msg.ID, "size", len(msg.Payload))
	return nil
}

func (c *wsConn) Read() ([]byte, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, &CloseError{Code: ce.Code, Text: ce.Text}
			}
			return nil, fmt.Errorf("WebSocket connection error: %w", err)
		}
		if messageType != websocket.TextMessage {
			slog.Warn("Ignoring non-text WebSocket frame", "message_type", messageType, "size", len(data))
			continue
		}
		return data, nil
	}
}

func (c *wsConn) Close(code int, reason string) error {
	if c.conn == nil {
		return nil
	}

	// WriteControl may run concurrently with a stalled WriteMessage.
	if code != CloseAbnormal {
		err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		if err != nil {
			// Log error but don't return it - we still want to close the connection
			slog.Debug("Failed to send close message", "code", code, "error", err)
		}
	}

	return c.conn.Close()
}
