// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Command gatewayd is the multi-tenant WebSocket gateway built around the
// Agent Session Engine, Shell Session Engine, and Log Reconciler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/wingedpig/gatewayd/internal/agent"
	"github.com/wingedpig/gatewayd/internal/catalog"
	"github.com/wingedpig/gatewayd/internal/config"
	"github.com/wingedpig/gatewayd/internal/importer"
	"github.com/wingedpig/gatewayd/internal/logging"
	"github.com/wingedpig/gatewayd/internal/registry"
	"github.com/wingedpig/gatewayd/internal/shutdown"
	"github.com/wingedpig/gatewayd/internal/wsrouter"
)

var version = "0.1.0"

func main() {
	var (
		configPath  string
		host        string
		port        int
		showVersion bool
		debug       bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "Server host (overrides config)")
	flag.IntVar(&port, "port", 0, "Server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if showVersion {
		fmt.Printf("gatewayd %s\n", version)
		return
	}

	if err := run(configPath, host, port, debug); err != nil {
		fmt.Fprintf(os.Stderr, "gatewayd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, hostFlag string, portFlag int, debug bool) error {
	loader := config.NewLoader()
	if configPath == "" {
		found, err := loader.FindConfig()
		if err != nil {
			// No config file is not fatal: the gateway runs entirely off
			// env vars and defaults.
			found = ""
		}
		configPath = found
	}

	cfg := &config.Config{}
	if configPath != "" {
		loaded, err := loader.LoadWithDefaults(context.Background(), configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		config.ApplyDefaults(cfg)
	}

	config.ApplyEnvOverrides(cfg)
	if hostFlag != "" {
		cfg.Server.Host = hostFlag
	}
	if portFlag != 0 {
		cfg.Server.Port = portFlag
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	logger.Info("gatewayd starting", "version", version, "host", cfg.Server.Host, "port", cfg.Server.Port)

	store, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	reg := registry.New()

	turnTimeout, err := config.TurnTimeout(cfg)
	if err != nil {
		return fmt.Errorf("parse agent.turn_timeout: %w", err)
	}

	router := wsrouter.New(wsrouter.Options{
		Registry:       reg,
		Store:          store,
		AgentCLI:       agent.AgentCLI{Path: cfg.Agent.Path},
		JWTSecret:      cfg.Auth.JWTSecret,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TurnTimeout:    turnTimeout,
	})

	httpRouter := mux.NewRouter()
	router.Register(httpRouter)
	handler := logging.HTTPMiddleware(logger)(httpRouter)

	imp := importer.New(store, cfg.Agent.ProjectsDir)
	if err := imp.Sync(); err != nil {
		logger.Warn("initial project import failed", "err", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gatewayd listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("gatewayd: received signal, shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "err", err)
	}

	coordinator := shutdown.New(reg, logger, 30*time.Second)
	coordinator.Drain(shutdownCtx)

	logger.Info("gatewayd: shutdown complete")
	return nil
}
