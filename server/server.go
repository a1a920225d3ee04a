package server

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

type HubServerOptions struct {
	Store     *Store          // Optional (defaults to new Store if nil)
	Broker    *Broker         // Optional (defaults to new Broker if nil)
	Context   context.Context // Optional (defaults to a context cancelled on SIGINT/SIGTERM)
	Advertise bool            // Announce the WebSocket transport over mDNS
	Instance  string          // mDNS instance name, defaults to the hostname
}

type HubServer struct {
	options HubServerOptions
	hub     *Hub
	ws      *WSTransport
}

func NewHubServer(opts HubServerOptions) *HubServer {
	return &HubServer{
		options: opts,
		hub:     NewHub(opts.Store, opts.Broker),
	}
}

func (s *HubServer) Hub() *Hub {
	return s.hub
}

func (s *HubServer) RegisterTransport(t Transport) {
	if ws, ok := t.(*WSTransport); ok && s.ws == nil {
		s.ws = ws
	}
	s.hub.RegisterTransport(t)
}

func (s *HubServer) Start() error {
	ctx := s.options.Context
	if ctx == nil {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	if s.options.Advertise && s.ws != nil {
		adv, err := s.advertise()
		if err != nil {
			slog.Warn("mDNS advertisement disabled", "error", err)
		} else {
			defer adv.Shutdown()
		}
	}

	return s.hub.Start(ctx)
}

func (s *HubServer) advertise() (*Advertiser, error) {
	_, portStr, err := net.SplitHostPort(s.ws.Addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	adv, err := Advertise(s.options.Instance, port, s.ws.Path)
	if err != nil {
		return nil, err
	}
	slog.Info("Advertising hub over mDNS", "port", port, "path", s.ws.Path)
	return adv, nil
}
