package server

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/mbocsi/teamhub/proto"
)

type TCPTransport struct {
	Addr         string
	listener     net.Listener
	onMessage    func(Peer, proto.Message)
	onConnect    func(Peer) error
	onDisconnect func(Peer)

	name    string
	clients map[string]*TCPPeer
	cmu     sync.RWMutex

	maxClients   int
	maxFrameSize int
	connected    bool
}

func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{
		Addr:         addr,
		maxClients:   DefaultMaxClients,
		maxFrameSize: 1 << 20,
		clients:      make(map[string]*TCPPeer),
	}
}

// Listen binds the listener without accepting. Start calls it when needed;
// tests call it first to learn the bound address.
func (t *TCPTransport) Listen() (net.Addr, error) {
	t.cmu.Lock()
	defer t.cmu.Unlock()
	if t.listener != nil {
		return t.listener.Addr(), nil
	}
	l, err := net.Listen("tcp", t.Addr)
	if err != nil {
		return nil, err
	}
	t.listener = l
	return l.Addr(), nil
}

func (t *TCPTransport) Start() error {
	slog.Info("Starting tcp server", "addr", t.Addr)

	if t.onConnect == nil || t.onDisconnect == nil || t.onMessage == nil {
		return fmt.Errorf("the OnConnect, OnDisconnect, or OnMessage function is not defined, this transport is likely being started outside of the hub")
	}

	if _, err := t.Listen(); err != nil {
		return err
	}
	t.cmu.Lock()
	l := t.listener
	t.connected = true
	t.cmu.Unlock()
	defer func() {
		l.Close()
		t.cmu.Lock()
		t.connected = false
		t.cmu.Unlock()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		t.cmu.RLock()
		clientCount := len(t.clients)
		t.cmu.RUnlock()

		if clientCount >= t.maxClients {
			slog.Warn("Max clients reached, rejecting connection", "remote_addr", conn.RemoteAddr())
			conn.Close()
			continue
		}

		go t.handleConnection(conn)
	}
}

func (t *TCPTransport) handleConnection(c net.Conn) {
	ip := c.RemoteAddr().String()
	slog.Info("Peer connected", "addr", ip)

	peer := NewTCPPeer(c)

	defer func() {
		t.cmu.Lock()
		delete(t.clients, peer.Id)
		t.cmu.Unlock()

		t.onDisconnect(peer)

		c.Close()
		slog.Info("Peer disconnected", "addr", ip, "id", peer.Id)
	}()

	reader := bufio.NewScanner(c)
	reader.Buffer(make([]byte, 0, 64*1024), t.maxFrameSize)

	if err := t.onConnect(peer); err != nil {
		slog.Error("Failed to register peer", "addr", ip, "error", err.Error())
		return
	}
	t.cmu.Lock()
	t.clients[peer.Id] = peer
	t.cmu.Unlock()

	for reader.Scan() {
		line := reader.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := proto.Decode(line)
		if err != nil {
			slog.Warn("Invalid message received", "error", err, "peer", peer.Id, "size", len(line))
			continue
		}
		peer.Touch()
		slog.Debug("Message received", "type", msg.Type, "id", msg.ID, "sender", peer.Id, "size", len(msg.Payload))
		t.onMessage(peer, msg)
	}

	if err := reader.Err(); err != nil {
		slog.Warn("Connection error", "addr", ip, "error", err)
	}
}

func (t *TCPTransport) Shutdown() error {
	slog.Info("Shutting down tcp server", "addr", t.Addr)
	t.cmu.Lock()
	l := t.listener
	peers := make([]*TCPPeer, 0, len(t.clients))
	for _, p := range t.clients {
		peers = append(peers, p)
	}
	t.cmu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	if l != nil {
		return l.Close()
	}
	return nil
}

func (t *TCPTransport) OnMessage(fn func(Peer, proto.Message)) {
	t.onMessage = fn
}

func (t *TCPTransport) OnConnect(fn func(Peer) error) {
	t.onConnect = fn
}

func (t *TCPTransport) OnDisconnect(fn func(Peer)) {
	t.onDisconnect = fn
}

func (t *TCPTransport) Meta() TransportMetadata {
	t.cmu.RLock()
	defer t.cmu.RUnlock()
	return TransportMetadata{
		Name:       t.name,
		Protocol:   "tcp",
		Address:    t.Addr,
		Clients:    len(t.clients),
		MaxClients: t.maxClients,
		Connected:  t.connected,
	}
}

func (t *TCPTransport) SetName(name string) {
	t.name = name
}

func (t *TCPTransport) SetMaxClients(n int) {
	t.maxClients = n
}
