package client

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service advertised by teamhub hubs.
const ServiceType = "_teamhub-ws._tcp"

// DiscoveredService represents a discovered hub
type DiscoveredService struct {
	ServiceName string
	Address     string
	Port        int
	Path        string
	TXTRecords  []string
}

// Endpoint returns the WebSocket URL of the discovered hub.
func (s *DiscoveredService) Endpoint() string {
	path := s.Path
	if path == "" {
		path = "/ws"
	}
	return "ws://" + net.JoinHostPort(s.Address, strconv.Itoa(s.Port)) + path
}

// Discover looks up the first hub advertising ServiceType on the local
// network.
func Discover(timeout time.Duration) (*DiscoveredService, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)
	params := mdns.DefaultParams(ServiceType)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true

	// Start discovery in background
	go func() {
		defer close(entriesCh)
		if err := mdns.Query(params); err != nil {
			slog.Warn("mDNS query failed", "service", ServiceType, "error", err)
		}
	}()

	// Wait for first result or timeout
	select {
	case entry := <-entriesCh:
		if entry == nil {
			return nil, fmt.Errorf("no %s service found", ServiceType)
		}

		var address string
		if entry.AddrV4 != nil {
			address = entry.AddrV4.String()
		} else if entry.AddrV6 != nil {
			address = entry.AddrV6.String()
		} else {
			return nil, fmt.Errorf("no valid address found for service")
		}

		service := &DiscoveredService{
			ServiceName: entry.Name,
			Address:     address,
			Port:        entry.Port,
			Path:        pathFromTXT(entry.InfoFields),
			TXTRecords:  entry.InfoFields,
		}

		slog.Info("Discovered teamhub server",
			"service_name", service.ServiceName,
			"address", service.Address,
			"port", service.Port,
			"endpoint", service.Endpoint(),
		)

		return service, nil

	case <-time.After(timeout):
		return nil, fmt.Errorf("mDNS discovery timeout for %s", ServiceType)
	}
}

func pathFromTXT(fields []string) string {
	for _, f := range fields {
		if len(f) > 5 && f[:5] == "path=" {
			return f[5:]
		}
	}
	return ""
}
