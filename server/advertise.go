package server

import (
	"fmt"
	"os"

	"github.com/hashicorp/mdns"
	"github.com/mbocsi/teamhub/client"
)

// Advertiser publishes the hub on the local network so dashboards started
// with discovery enabled can find it.
type Advertiser struct {
	server *mdns.Server
}

func Advertise(instance string, port int, path string) (*Advertiser, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "teamhub"
		}
		instance = host
	}
	txt := []string{"path=" + path, "proto=teamhub/1"}
	service, err := mdns.NewMDNSService(instance, client.ServiceType, "", "", port, nil, txt)
	if err != nil {
		return nil, fmt.Errorf("failed to describe mDNS service: %w", err)
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS responder: %w", err)
	}
	return &Advertiser{server: srv}, nil
}

func (a *Advertiser) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Shutdown()
}
