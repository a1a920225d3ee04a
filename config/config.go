// Package config loads teamhub settings from an optional YAML file, then
// the environment (including a .env file), then command line flags. Each
// layer only overrides what it sets.
//
// Environment keys carry the TEAMHUB_ prefix:
//
//	TEAMHUB_ENDPOINT=ws://hub.local:8090/ws
//	TEAMHUB_BACKOFF=exponential
//	TEAMHUB_CHAT_ROOMS=general,ops
//	TEAMHUB_HUB_WS_ADDR=:8090
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/mbocsi/teamhub/client"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "TEAMHUB_"

// Config holds settings for both the dashboard and the hub commands.
type Config struct {
	Endpoint          string        `yaml:"endpoint" env:"ENDPOINT"`
	Transport         string        `yaml:"transport" env:"TRANSPORT"` // ws or tcp
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	MaxAttempts       int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	Backoff           string        `yaml:"backoff" env:"BACKOFF"` // linear or exponential
	BackoffBase       time.Duration `yaml:"backoff_base" env:"BACKOFF_BASE"`
	BackoffMax        time.Duration `yaml:"backoff_max" env:"BACKOFF_MAX"`
	QueueSize         int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	QueueOverflow     string        `yaml:"queue_overflow" env:"QUEUE_OVERFLOW"` // drop_oldest or reject

	Discover        bool          `yaml:"discover" env:"DISCOVER"`
	DiscoverTimeout time.Duration `yaml:"discover_timeout" env:"DISCOVER_TIMEOUT"`

	HTTPAddr     string        `yaml:"http_addr" env:"HTTP_ADDR"`
	ChatRooms    []string      `yaml:"chat_rooms" env:"CHAT_ROOMS" envSeparator:","`
	ChatHistory  int           `yaml:"chat_history" env:"CHAT_HISTORY"`
	QueryTimeout time.Duration `yaml:"query_timeout" env:"QUERY_TIMEOUT"`
	MCP          bool          `yaml:"mcp" env:"MCP"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"` // text or json

	Hub HubConfig `yaml:"hub" envPrefix:"HUB_"`
}

// HubConfig configures the reference hub.
type HubConfig struct {
	WSAddr     string `yaml:"ws_addr" env:"WS_ADDR"`
	TCPAddr    string `yaml:"tcp_addr" env:"TCP_ADDR"` // empty disables the TCP listener
	MaxClients int    `yaml:"max_clients" env:"MAX_CLIENTS"`
	Advertise  bool   `yaml:"advertise" env:"ADVERTISE"`
	Instance   string `yaml:"instance" env:"INSTANCE"`
}

func Default() *Config {
	return &Config{
		Endpoint:          "ws://localhost:8090/ws",
		Transport:         "ws",
		HeartbeatInterval: client.DefaultHeartbeatInterval,
		ConnectTimeout:    client.DefaultConnectTimeout,
		MaxAttempts:       client.DefaultMaxAttempts,
		Backoff:           "linear",
		BackoffBase:       client.DefaultBackoffBase,
		BackoffMax:        client.DefaultBackoffMax,
		QueueSize:         client.DefaultQueueSize,
		QueueOverflow:     string(client.DropOldest),
		DiscoverTimeout:   3 * time.Second,
		HTTPAddr:          ":8080",
		ChatRooms:         []string{"general"},
		ChatHistory:       200,
		QueryTimeout:      10 * time.Second,
		LogLevel:          "info",
		LogFormat:         "text",
		Hub: HubConfig{
			WSAddr:     ":8090",
			MaxClients: 64,
			Instance:   "teamhub",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), a .env file in the working directory if present, and
// TEAMHUB_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) Validate() error {
	switch c.Transport {
	case "ws", "tcp":
	default:
		return fmt.Errorf("invalid transport %q: want ws or tcp", c.Transport)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: want text or json", c.LogFormat)
	}
	if c.ChatHistory <= 0 {
		return errors.New("chat history must be positive")
	}
	if c.Hub.MaxClients <= 0 {
		return errors.New("hub max clients must be positive")
	}
	cc, err := c.ClientConfig()
	if err != nil {
		return err
	}
	return cc.Validate()
}

// ClientConfig translates the connection settings for client.NewClient.
func (c *Config) ClientConfig() (client.Config, error) {
	backoff, err := client.NewBackoff(c.Backoff, c.BackoffBase, c.BackoffMax)
	if err != nil {
		return client.Config{}, err
	}
	policy, err := client.ParseOverflowPolicy(c.QueueOverflow)
	if err != nil {
		return client.Config{}, err
	}

	cc := client.DefaultConfig(c.Endpoint)
	cc.HeartbeatInterval = c.HeartbeatInterval
	cc.ConnectTimeout = c.ConnectTimeout
	cc.MaxAttempts = c.MaxAttempts
	cc.Backoff = backoff
	cc.QueueSize = c.QueueSize
	cc.OverflowPolicy = policy
	return cc, nil
}

// NewTransport returns the client transport named by c.Transport.
func (c *Config) NewTransport() client.Transport {
	if c.Transport == "tcp" {
		return client.NewTCPTransport()
	}
	return client.NewWebSocketTransport()
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// NewLogger builds the process logger. Logs go to stderr so stdout stays
// free for the MCP stdio transport.
func (c *Config) NewLogger() (*slog.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}
