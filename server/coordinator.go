package server

import (
	"context"
	"log/slog"
	"sync"
)

// Hub wires transports to the store and broker and answers protocol
// requests. It is the reference counterpart of the dashboard client.
type Hub struct {
	Store      *Store
	Broker     *Broker
	Transports []Transport

	wg sync.WaitGroup
}

func NewHub(store *Store, broker *Broker) *Hub {
	if store == nil {
		store = NewStore()
	}
	if broker == nil {
		broker = NewBroker()
	}
	return &Hub{Store: store, Broker: broker}
}

// Start runs every registered transport until ctx is done.
func (h *Hub) Start(ctx context.Context) error {
	for _, t := range h.Transports {
		h.wg.Add(1)
		go func(t Transport) {
			defer h.wg.Done()
			if err := t.Start(); err != nil {
				slog.Error("Transport stopped with error", "protocol", t.Meta().Protocol, "addr", t.Meta().Address, "error", err.Error())
			}
		}(t)
	}

	<-ctx.Done()
	slog.Info("Shutting down transports and hub")

	for _, t := range h.Transports {
		if err := t.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down transport server", "error", err.Error())
		}
	}
	h.wg.Wait()
	return nil
}

func (h *Hub) RegisterTransport(t Transport) {
	t.OnMessage(h.Handle)
	t.OnConnect(h.RegisterPeer)
	t.OnDisconnect(func(p Peer) { h.Broker.Leave(p) })
	h.Transports = append(h.Transports, t)
}

func (h *Hub) RegisterPeer(p Peer) error {
	h.Broker.Join(p)
	slog.Info("Registered peer", "id", p.Meta().Id, "protocol", p.Meta().Protocol)
	return nil
}
