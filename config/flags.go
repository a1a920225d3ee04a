package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// AddFlags registers command line overrides on fs. Defaults are left empty
// so only flags the user actually passes override the file and environment.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("endpoint", "", "hub endpoint, e.g. ws://localhost:8090/ws")
	fs.String("transport", "", "client transport: ws or tcp")
	fs.Duration("heartbeat-interval", 0, "interval between heartbeat pings")
	fs.Duration("connect-timeout", 0, "maximum time for a single connection attempt")
	fs.Int("max-attempts", 0, "reconnect attempts before giving up (0 disables reconnects)")
	fs.String("backoff", "", "reconnect backoff: linear or exponential")
	fs.Duration("backoff-base", 0, "first reconnect delay")
	fs.Duration("backoff-max", 0, "maximum reconnect delay")
	fs.Int("queue-size", 0, "outbound queue capacity while disconnected")
	fs.String("queue-overflow", "", "full queue policy: drop_oldest or reject")
	fs.Bool("discover", false, "find the hub via mDNS instead of --endpoint")
	fs.String("http-addr", "", "dashboard API listen address")
	fs.StringSlice("chat-rooms", nil, "chat rooms to load history for on connect")
	fs.Bool("mcp", false, "serve MCP tools on stdin/stdout")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("log-format", "", "text or json")

	fs.String("hub-ws-addr", "", "hub WebSocket listen address")
	fs.String("hub-tcp-addr", "", "hub TCP listen address (empty disables TCP)")
	fs.Int("hub-max-clients", 0, "maximum concurrent hub connections")
	fs.Bool("advertise", false, "advertise the hub via mDNS")
	fs.String("instance", "", "mDNS instance name for the hub")
}

// ApplyFlags copies every flag set on the command line into c.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = c.applyFlag(fs, f.Name)
	})
	return err
}

func (c *Config) applyFlag(fs *pflag.FlagSet, name string) error {
	var err error
	switch name {
	case "endpoint":
		c.Endpoint, err = fs.GetString(name)
	case "transport":
		c.Transport, err = fs.GetString(name)
	case "heartbeat-interval":
		c.HeartbeatInterval, err = fs.GetDuration(name)
	case "connect-timeout":
		c.ConnectTimeout, err = fs.GetDuration(name)
	case "max-attempts":
		c.MaxAttempts, err = fs.GetInt(name)
	case "backoff":
		c.Backoff, err = fs.GetString(name)
	case "backoff-base":
		c.BackoffBase, err = fs.GetDuration(name)
	case "backoff-max":
		c.BackoffMax, err = fs.GetDuration(name)
	case "queue-size":
		c.QueueSize, err = fs.GetInt(name)
	case "queue-overflow":
		c.QueueOverflow, err = fs.GetString(name)
	case "discover":
		c.Discover, err = fs.GetBool(name)
	case "http-addr":
		c.HTTPAddr, err = fs.GetString(name)
	case "chat-rooms":
		c.ChatRooms, err = fs.GetStringSlice(name)
	case "mcp":
		c.MCP, err = fs.GetBool(name)
	case "log-level":
		c.LogLevel, err = fs.GetString(name)
	case "log-format":
		c.LogFormat, err = fs.GetString(name)
	case "hub-ws-addr":
		c.Hub.WSAddr, err = fs.GetString(name)
	case "hub-tcp-addr":
		c.Hub.TCPAddr, err = fs.GetString(name)
	case "hub-max-clients":
		c.Hub.MaxClients, err = fs.GetInt(name)
	case "advertise":
		c.Hub.Advertise, err = fs.GetBool(name)
	case "instance":
		c.Hub.Instance, err = fs.GetString(name)
	default:
		// Flags owned by the command itself, such as --config.
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid --%s: %w", name, err)
	}
	return nil
}
