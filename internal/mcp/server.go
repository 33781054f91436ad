// Package mcp provides an MCP (Model Context Protocol) server for pcosc.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/pcosc/internal/config"
	"github.com/nvandessel/pcosc/internal/logging"
	"github.com/nvandessel/pcosc/internal/pathutil"
	"github.com/nvandessel/pcosc/internal/ratelimit"
	"github.com/nvandessel/pcosc/internal/store"
)

// stepsPerMinute is the sustained simulation step budget across all
// pcosc_run calls.
const stepsPerMinute = 5_000_000

// Server wraps the MCP SDK server and provides pcosc-specific functionality.
type Server struct {
	server       *sdk.Server
	store        *store.SQLiteStore
	root         string
	cfg          *config.PcoscConfig
	toolLimiters *ratelimit.ToolLimiters
	auditLogger  *AuditLogger
	outputDirs   []string
	logger       *slog.Logger
	events       *logging.EventLogger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "pcosc")
	Version string // Server version
	Root    string // Project root directory

	// Settings defaults to config.Default().
	Settings *config.PcoscConfig
	Logger   *slog.Logger
}

// NewServer creates a new MCP server with pcosc tools.
func NewServer(cfg *Config) (*Server, error) {
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	runStore, err := store.NewSQLiteStore(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	outputDirs, err := pathutil.DefaultOutputDirs(cfg.Root)
	if err != nil {
		runStore.Close()
		return nil, err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		store:        runStore,
		root:         cfg.Root,
		cfg:          settings,
		toolLimiters: ratelimit.NewToolLimiters(stepsPerMinute, settings.MCP.MaxSteps),
		auditLogger:  NewAuditLogger(cfg.Root, homeDir),
		outputDirs:   outputDirs,
		logger:       logger,
		events:       logging.NewEventLogger(filepath.Join(cfg.Root, store.DirName), settings.Logging.Level),
	}

	if err := s.registerTools(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	if err := s.registerResources(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register resources: %w", err)
	}

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})

	s.Close()

	return err
}

// Close closes the server and releases resources.
func (s *Server) Close() error {
	s.events.Close()
	if err := s.auditLogger.Close(); err != nil {
		s.store.Close()
		return err
	}
	return s.store.Close()
}
