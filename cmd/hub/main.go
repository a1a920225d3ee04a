package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbocsi/teamhub/config"
	"github.com/mbocsi/teamhub/server"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("teamhub-hub", pflag.ContinueOnError)
	configPath := flagSet.String("config", os.Getenv("TEAMHUB_CONFIG"), "path to a YAML config file")
	config.AddFlags(flagSet)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyFlags(flagSet); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := server.NewHubServer(server.HubServerOptions{
		Context:   ctx,
		Advertise: cfg.Hub.Advertise,
		Instance:  cfg.Hub.Instance,
	})

	wsServer := server.NewWSTransport(cfg.Hub.WSAddr)
	wsServer.SetName("WebSocket hub")
	wsServer.SetMaxClients(cfg.Hub.MaxClients)
	hub.RegisterTransport(wsServer)

	if cfg.Hub.TCPAddr != "" {
		tcpServer := server.NewTCPTransport(cfg.Hub.TCPAddr)
		tcpServer.SetName("TCP hub")
		tcpServer.SetMaxClients(cfg.Hub.MaxClients)
		hub.RegisterTransport(tcpServer)
	}

	slog.Info("Starting teamhub hub", "ws_addr", cfg.Hub.WSAddr, "tcp_addr", cfg.Hub.TCPAddr, "advertise", cfg.Hub.Advertise)
	if err := hub.Start(); err != nil {
		return fmt.Errorf("hub stopped: %w", err)
	}
	slog.Info("Hub shut down")
	return nil
}
