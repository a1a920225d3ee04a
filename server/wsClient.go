package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/teamhub/proto"
)

type WSPeer struct {
	PeerMetadata
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewWSPeer(conn *websocket.Conn, remoteAddr string) *WSPeer {
	now := time.Now()
	return &WSPeer{
		conn: conn,
		PeerMetadata: PeerMetadata{
			Id:          generatePeerId("ws"),
			RemoteAddr:  remoteAddr,
			Protocol:    "websocket",
			ConnectedAt: now,
			LastSeen:    now,
		},
	}
}

func (c *WSPeer) Send(msg proto.Message) error {
	jsonData, err := proto.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, jsonData); err != nil {
		return err
	}

	slog.Debug("Sent WebSocket Message", "to", c.Id, "type", msg.Type, "size", len(msg.Payload))
	return nil
}

// CloseWith sends a close frame with code before dropping the socket.
func (c *WSPeer) CloseWith(code int, reason string) error {
	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	if err != nil {
		slog.Debug("Failed to send close message", "to", c.Id, "error", err)
	}
	return c.conn.Close()
}

func (c *WSPeer) Close() error {
	return c.CloseWith(websocket.CloseGoingAway, "hub shutting down")
}

func (c *WSPeer) Meta() *PeerMetadata {
	return &c.PeerMetadata
}
