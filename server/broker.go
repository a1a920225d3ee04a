package server

import (
	"log/slog"
	"sync"

	"github.com/mbocsi/teamhub/proto"
)

// Broker fans hub messages out to every connected peer.
type Broker struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

func NewBroker() *Broker {
	return &Broker{
		peers: make(map[string]Peer),
	}
}

func (b *Broker) Join(peer Peer) {
	slog.Debug("Peer joined", "peer", peer.Meta().Id)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[peer.Meta().Id] = peer
}

func (b *Broker) Leave(peer Peer) {
	slog.Debug("Peer left", "peer", peer.Meta().Id)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.peers[peer.Meta().Id]; !ok {
		slog.Warn("Did not find peer to remove", "peer", peer.Meta().Id)
		return
	}
	delete(b.peers, peer.Meta().Id)
}

func (b *Broker) Get(id string) (Peer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.peers[id]
	return p, ok
}

func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.peers)
}

// Publish sends msg to every peer and returns how many writes succeeded.
// A failing peer does not stop delivery to the others.
func (b *Broker) Publish(msg proto.Message) int {
	b.mu.RLock()
	peers := make([]Peer, 0, len(b.peers))
	for _, p := range b.peers {
		peers = append(peers, p)
	}
	b.mu.RUnlock()

	sentCount := 0
	for _, peer := range peers {
		if err := peer.Send(msg); err != nil {
			slog.Warn("There was an error publishing a message to a peer", "type", msg.Type, "peer", peer.Meta().Id, "error", err.Error())
			continue
		}
		sentCount++
	}
	slog.Debug("Message published",
		"type", msg.Type,
		"id", msg.ID,
		"peers", sentCount,
		"size", len(msg.Payload),
	)
	return sentCount
}
