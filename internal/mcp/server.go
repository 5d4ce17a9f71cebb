// Package mcp provides an MCP (Model Context Protocol) server exposing the
// splitting estimator as tools.
package mcp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rcaby/splitting/internal/config"
	"github.com/rcaby/splitting/internal/store"
)

// Server wraps the MCP SDK server around the estimator and run history.
type Server struct {
	server   *sdk.Server
	settings *config.Config
	runs     *store.RunStore
}

// Config holds server configuration.
type Config struct {
	Name     string         // Server name (e.g., "splitting")
	Version  string         // Server version
	Settings *config.Config // Estimator and model defaults
}

// NewServer creates a new MCP server with the estimation tools.
func NewServer(cfg *Config) (*Server, error) {
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dir, err := settings.StorageDir()
	if err != nil {
		return nil, err
	}
	runStore, err := store.NewRunStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			// Client initialized, ready to serve
		},
	})

	s := &Server{
		server:   mcpServer,
		settings: settings,
		runs:     runStore,
	}

	if err := s.registerTools(); err != nil {
		runStore.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})

	s.runs.Close()

	return err
}

// Close closes the server and releases resources.
func (s *Server) Close() error {
	return s.runs.Close()
}
