package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbocsi/teamhub/broker"
	"github.com/mbocsi/teamhub/client"
	"github.com/mbocsi/teamhub/config"
	"github.com/mbocsi/teamhub/mcp"
	"github.com/mbocsi/teamhub/services"
	"github.com/mbocsi/teamhub/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("teamhub-dashboard", pflag.ContinueOnError)
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

	if cfg.Discover {
		svc, err := client.Discover(cfg.DiscoverTimeout)
		if err != nil {
			return fmt.Errorf("hub discovery failed: %w", err)
		}
		cfg.Endpoint = svc.Endpoint()
		cfg.Transport = "ws"
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dispatcher, err := broker.NewDispatcher(broker.WithMetrics(registry))
	if err != nil {
		return err
	}

	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		return err
	}
	clientCfg.Metrics = registry
	conn, err := client.NewClient(clientCfg, cfg.NewTransport(), dispatcher)
	if err != nil {
		return err
	}

	// Feeds subscribe before Connect so the first connected event resyncs them.
	sc := services.NewServiceContainer(conn, services.Options{
		ChatHistory:  cfg.ChatHistory,
		ChatRooms:    cfg.ChatRooms,
		QueryTimeout: cfg.QueryTimeout,
	})
	defer sc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := web.NewAPI(sc, registry)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Cancelling ctx ends open SSE streams.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		slog.Info("Starting dashboard API", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Dashboard API stopped", "error", err)
			stop()
		}
	}()

	if cfg.MCP {
		mcpServer := mcp.NewMCPServer(version)
		mcp.NewTools(sc).Register(mcpServer)
		go func() {
			if err := mcpServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP server stopped", "error", err)
			}
		}()
	}

	slog.Info("Connecting to hub", "endpoint", cfg.Endpoint, "transport", cfg.Transport)
	conn.Connect()

	<-ctx.Done()
	slog.Info("Shutting down dashboard")

	conn.Disconnect()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	return nil
}
