// Package main provides the entry point for the chatbridge server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/txn2/chatbridge/internal/server"
	"github.com/txn2/chatbridge/pkg/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	address     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.address, "address", "", "Listen address, overrides the configured one")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func loadConfig(opts serverOptions) (*config.Config, error) {
	if opts.configPath == "" {
		return nil, errors.New("a configuration file is required (-config)")
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}
	return cfg, nil
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("chatbridge version %s\n", server.Version)
		return nil
	}

	ctx := setupSignalHandler()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	return serve(ctx, cfg.Server.Address, srv)
}

// serve runs the HTTP listener, reconnects persisted sessions once the
// listener is accepting, and shuts down gracefully on signal.
func serve(ctx context.Context, address string, srv *server.Server) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}

	httpServer := &http.Server{
		Handler:           srv.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	slog.Info("chatbridge listening", "address", listener.Addr().String(), "version", server.Version)

	// Reconnect persisted sessions only after the control surface is up so
	// status polls work during the (paced) bootstrap.
	if err := srv.Bootstrap(ctx); err != nil {
		slog.Error("bootstrapping persisted sessions", "error", err)
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	srv.Checker.SetDraining()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
