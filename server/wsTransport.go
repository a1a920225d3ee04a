package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/mbocsi/teamhub/proto"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboards are served from other origins
	},
}

const DefaultMaxClients = 64

type WSTransport struct {
	Addr         string
	Path         string
	server       *http.Server
	onMessage    func(Peer, proto.Message)
	onConnect    func(Peer) error
	onDisconnect func(Peer)

	name    string
	clients map[string]*WSPeer
	cmu     sync.RWMutex

	maxClients int
	connected  bool
}

func NewWSTransport(addr string) *WSTransport {
	return &WSTransport{
		Addr:       addr,
		Path:       "/ws",
		maxClients: DefaultMaxClients,
		clients:    make(map[string]*WSPeer),
	}
}

// Handler returns the hub's HTTP routes: the WebSocket endpoint and a
// health check.
func (t *WSTransport) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(t.Path, t.handleWebSocket)
	r.Get("/healthz", t.handleHealth)
	return r
}

func (t *WSTransport) Start() error {
	slog.Info("Starting WebSocket server", "addr", t.Addr, "path", t.Path)

	if t.onConnect == nil || t.onDisconnect == nil || t.onMessage == nil {
		return fmt.Errorf("the OnConnect, OnDisconnect, or OnMessage function is not defined, this transport is likely being started outside of the hub")
	}

	t.cmu.Lock()
	t.server = &http.Server{
		Addr:    t.Addr,
		Handler: t.Handler(),
	}
	t.connected = true
	srv := t.server
	t.cmu.Unlock()

	err := srv.ListenAndServe()
	t.cmu.Lock()
	t.connected = false
	t.cmu.Unlock()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t *WSTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": t.Meta().Clients,
	})
}

func (t *WSTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	t.cmu.RLock()
	clientCount := len(t.clients)
	t.cmu.RUnlock()

	if clientCount >= t.maxClients {
		slog.Warn("Max clients reached, rejecting connection", "remote_addr", r.RemoteAddr)
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}

	go t.handleConnection(conn, r.RemoteAddr)
}

func (t *WSTransport) handleConnection(conn *websocket.Conn, remoteAddr string) {
	slog.Info("WebSocket peer connected", "addr", remoteAddr)

	peer := NewWSPeer(conn, remoteAddr)

	defer func() {
		t.cmu.Lock()
		delete(t.clients, peer.Id)
		t.cmu.Unlock()

		t.onDisconnect(peer)

		conn.Close()
		slog.Info("WebSocket peer disconnected", "addr", remoteAddr, "id", peer.Id)
	}()

	if err := t.onConnect(peer); err != nil {
		slog.Error("Failed to register WebSocket peer", "addr", remoteAddr, "error", err.Error())
		return
	}

	t.cmu.Lock()
	t.clients[peer.Id] = peer
	t.cmu.Unlock()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("WebSocket connection error", "addr", remoteAddr, "error", err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := proto.Decode(data)
		if err != nil {
			slog.Warn("Invalid message received", "error", err, "peer", peer.Id, "size", len(data))
			continue
		}

		peer.Touch()
		slog.Debug("WebSocket message received", "type", msg.Type, "id", msg.ID, "sender", peer.Id, "size", len(msg.Payload))
		t.onMessage(peer, msg)
	}
}

// Shutdown closes every peer with 1001 and stops the listener.
func (t *WSTransport) Shutdown() error {
	slog.Info("Shutting down WebSocket server", "addr", t.Addr)

	t.cmu.Lock()
	peers := make([]*WSPeer, 0, len(t.clients))
	for _, p := range t.clients {
		peers = append(peers, p)
	}
	srv := t.server
	t.connected = false
	t.cmu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	if srv != nil {
		return srv.Close()
	}
	return nil
}

func (t *WSTransport) OnMessage(fn func(Peer, proto.Message)) {
	t.onMessage = fn
}

func (t *WSTransport) OnConnect(fn func(Peer) error) {
	t.onConnect = fn
}

func (t *WSTransport) OnDisconnect(fn func(Peer)) {
	t.onDisconnect = fn
}

func (t *WSTransport) Meta() TransportMetadata {
	t.cmu.RLock()
	defer t.cmu.RUnlock()
	return TransportMetadata{
		Name:       t.name,
		Protocol:   "websocket",
		Address:    t.Addr,
		Clients:    len(t.clients),
		MaxClients: t.maxClients,
		Connected:  t.connected,
	}
}

func (t *WSTransport) SetName(name string) {
	t.name = name
}

func (t *WSTransport) SetMaxClients(n int) {
	t.maxClients = n
}
