package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/teamhub/proto"
)

type Transport interface {
	Start() error
	OnMessage(func(Peer, proto.Message))
	OnConnect(func(Peer) error)
	OnDisconnect(func(Peer))
	Shutdown() error
	Meta() TransportMetadata
	SetName(name string)
}

type TransportMetadata struct {
	Name       string `json:"name"`     // Human-friendly name, e.g., "WebSocket Gateway"
	Protocol   string `json:"protocol"` // "websocket" or "tcp"
	Address    string `json:"address"`  // Bind address, e.g., "0.0.0.0:9000"
	Clients    int    `json:"clients"`
	MaxClients int    `json:"max_clients"`
	Connected  bool   `json:"connected"` // Whether the transport is currently bound
}

type PeerMetadata struct {
	Id          string
	RemoteAddr  string
	Protocol    string
	ConnectedAt time.Time
	LastSeen    time.Time
	Mu          sync.RWMutex
}

func (m *PeerMetadata) Touch() {
	m.Mu.Lock()
	m.LastSeen = time.Now()
	m.Mu.Unlock()
}

// Peer is one dashboard or agent connection to the hub.
type Peer interface {
	Send(proto.Message) error
	Close() error
	Meta() *PeerMetadata
}

func generatePeerId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
