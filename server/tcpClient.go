package server

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mbocsi/teamhub/proto"
)

// TCPPeer speaks newline-delimited JSON frames.
type TCPPeer struct {
	PeerMetadata
	conn    net.Conn
	writeMu sync.Mutex
}

func NewTCPPeer(conn net.Conn) *TCPPeer {
	now := time.Now()
	return &TCPPeer{
		conn: conn,
		PeerMetadata: PeerMetadata{
			Id:          generatePeerId("tcp"),
			RemoteAddr:  conn.RemoteAddr().String(),
			Protocol:    "tcp",
			ConnectedAt: now,
			LastSeen:    now,
		},
	}
}

func (c *TCPPeer) Send(msg proto.Message) error {
	jsonData, err := proto.Encode(msg)
	if err != nil {
		return err
	}
	jsonData = append(jsonData, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err = c.conn.Write(jsonData)
	slog.Debug("Sent Message", "to", c.Id, "type", msg.Type, "size", len(msg.Payload))
	return err
}

func (c *TCPPeer) Close() error {
	return c.conn.Close()
}

func (c *TCPPeer) Meta() *PeerMetadata {
	return &c.PeerMetadata
}
