// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sketchroom/sketchroom/lib/config"
	"github.com/sketchroom/sketchroom/lib/process"
	"github.com/sketchroom/sketchroom/lib/service"
	"github.com/sketchroom/sketchroom/lib/version"
	"github.com/sketchroom/sketchroom/relay"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to sketchroom.yaml (default: $SKETCHROOM_CONFIG)")
	listen := flag.String("listen", "", "address to serve on, overriding relay.listen")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sketchroom-relay %s\n", version.Info())
		return nil
	}

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Relay.Listen = *listen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.Log.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := relay.New(relay.Options{
		AllowedOrigins:  cfg.Relay.AllowedOrigins,
		MaxMessageBytes: cfg.Relay.MaxMessageBytes,
		OutboundQueue:   cfg.Relay.OutboundQueue,
		PingInterval:    cfg.Relay.PingInterval,
		WriteTimeout:    cfg.Relay.WriteTimeout,
		Logger:          logger,
	})

	httpServer := service.NewHTTPServer(service.HTTPServerConfig{
		Address:    cfg.Relay.Listen,
		Handler:    server.Handler(),
		OnShutdown: server.Close,
		Logger:     logger,
	})

	logger.Info("relay starting",
		"version", version.Info(),
		"environment", cfg.Environment,
		"listen", cfg.Relay.Listen,
		"allowed_origins", len(cfg.Relay.AllowedOrigins),
		"max_message_bytes", cfg.Relay.MaxMessageBytes,
	)

	if err := httpServer.Serve(ctx); err != nil {
		return fmt.Errorf("serving relay: %w", err)
	}
	logger.Info("relay stopped")
	return nil
}
