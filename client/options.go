package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
	DefaultMaxAttempts       = 10
	DefaultBackoffBase       = time.Second
	DefaultBackoffMax        = 30 * time.Second
	DefaultQueueSize         = 1000
)

type Config struct {
	Endpoint          string
	HeartbeatInterval time.Duration
	ConnectTimeout    time.Duration
	MaxAttempts       int // 0 disables automatic reconnection
	Backoff           Backoff
	QueueSize         int
	OverflowPolicy    OverflowPolicy

	// Metrics, when set, receives the client's Prometheus collectors.
	Metrics prometheus.Registerer
}

func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:          endpoint,
		HeartbeatInterval: DefaultHeartbeatInterval,
		ConnectTimeout:    DefaultConnectTimeout,
		MaxAttempts:       DefaultMaxAttempts,
		Backoff:           LinearBackoff{Base: DefaultBackoffBase, Max: DefaultBackoffMax},
		QueueSize:         DefaultQueueSize,
		OverflowPolicy:    DropOldest,
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive", ErrInvalidConfig)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive", ErrInvalidConfig)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts cannot be negative", ErrInvalidConfig)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue size must be positive", ErrInvalidConfig)
	}
	if c.Backoff == nil {
		return fmt.Errorf("%w: backoff strategy is required", ErrInvalidConfig)
	}
	if _, err := ParseOverflowPolicy(string(c.OverflowPolicy)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
