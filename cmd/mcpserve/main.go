// Command mcpserve exposes the filesystem tools over MCP on stdin/stdout.
//
// Usage:
//
//	mcpserve [serve] -root DIR [-name NAME] [-version V] [-db events.db] [-read-only] [-debug]
//	         [-event-buffer N] [-write-timeout D]
//	mcpserve schema [-read-only]
//
// Diagnostics go to stderr; stdout carries only protocol traffic.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bpowers/go-mcpserver/examples/fstools"
	"github.com/bpowers/go-mcpserver/internal/logging"
	"github.com/bpowers/go-mcpserver/mcp"
	"github.com/bpowers/go-mcpserver/persistence"
	"github.com/bpowers/go-mcpserver/persistence/sqlitestore"
)

func main() {
	config, err := parseFlagsArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

// Config holds the application configuration
type Config struct {
	Command  string
	Root     string
	Name     string
	Version  string
	DBPath   string
	ReadOnly bool
	Debug    bool

	EventBuffer  int
	WriteTimeout time.Duration
}

func parseFlagsArgs(args []string, errOutput io.Writer) (*Config, error) {
	config := Config{Command: "serve"}
	if len(args) > 0 && (args[0] == "serve" || args[0] == "schema") {
		config.Command = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("mcpserve "+config.Command, flag.ContinueOnError)
	fs.SetOutput(errOutput)
	fs.StringVar(&config.Root, "root", ".", "Directory the tools can access")
	fs.StringVar(&config.Name, "name", "mcpserve", "Server name reported to clients")
	fs.StringVar(&config.Version, "version", "0.1.0", "Server version reported to clients")
	fs.StringVar(&config.DBPath, "db", "", "SQLite database for recording server events (optional)")
	fs.BoolVar(&config.ReadOnly, "read-only", false, "Only expose tools that do not modify files")
	fs.BoolVar(&config.Debug, "debug", false, "Enable debug logging")
	fs.IntVar(&config.EventBuffer, "event-buffer", 64, "Events queued for the -db recorder before new ones are dropped")
	fs.DurationVar(&config.WriteTimeout, "write-timeout", 30*time.Second, "Give up on a client that stops reading responses after this long")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if config.Name == "" {
		return nil, fmt.Errorf("-name must not be empty")
	}
	if config.Version == "" {
		return nil, fmt.Errorf("-version must not be empty")
	}
	if config.EventBuffer < 0 {
		return nil, fmt.Errorf("-event-buffer must not be negative")
	}
	if config.WriteTimeout <= 0 {
		return nil, fmt.Errorf("-write-timeout must be positive")
	}

	return &config, nil
}

func newRegistry(config *Config) (*mcp.Registry, error) {
	tools := fstools.Tools()
	if config.ReadOnly {
		tools = fstools.ReadOnlyTools()
	}

	registry := mcp.NewRegistry()
	if err := registry.RegisterAll(tools...); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	return registry, nil
}

func run(ctx context.Context, config *Config, input io.Reader, output io.Writer) error {
	if config.Debug {
		logging.SetLogLevel(slog.LevelDebug)
	}

	registry, err := newRegistry(config)
	if err != nil {
		return err
	}

	switch config.Command {
	case "schema":
		return printSchema(registry, output)
	case "serve":
		return serve(ctx, config, registry, input, output)
	default:
		return fmt.Errorf("unknown command %q", config.Command)
	}
}

func printSchema(registry *mcp.Registry, output io.Writer) error {
	enc := json.NewEncoder(output)
	enc.SetIndent("", "  ")
	if err := enc.Encode(mcp.ListToolsResult{Tools: registry.Definitions()}); err != nil {
		return fmt.Errorf("encode tool definitions: %w", err)
	}
	return nil
}

func serve(ctx context.Context, config *Config, registry *mcp.Registry, input io.Reader, output io.Writer) error {
	logger := logging.Component("mcpserve")

	root, err := os.OpenRoot(config.Root)
	if err != nil {
		return fmt.Errorf("open root directory: %w", err)
	}
	defer root.Close()

	fsys := newRootFS(root)
	if config.ReadOnly {
		fsys = readOnlyFS{fsys}
	}
	ctx = fstools.WithFS(ctx, fsys)

	opts := []mcp.Option{
		mcp.WithLogger(logger),
		mcp.WithInstructions(fmt.Sprintf("Tools operate on files below %s.", config.Root)),
		mcp.WithEventBuffer(config.EventBuffer),
	}
	if config.WriteTimeout > 0 {
		opts = append(opts, mcp.WithWriteTimeout(config.WriteTimeout))
	}

	if config.DBPath != "" {
		store, err := sqlitestore.New(config.DBPath)
		if err != nil {
			return fmt.Errorf("open event store: %w", err)
		}
		defer store.Close()
		opts = append(opts, mcp.WithObserver(persistence.NewRecorder(store)))
	}

	server, err := mcp.NewServer(registry, mcp.Implementation{Name: config.Name, Version: config.Version}, opts...)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	logger.Info("serving", "root", config.Root, "tools", registry.Len(), "read_only", config.ReadOnly)
	transport := newTransport(input, output, logging.Component("transport"))
	if err := server.Run(ctx, transport); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newTransport uses the process's own stdio when handed it, and a line
// transport over arbitrary streams otherwise.
func newTransport(input io.Reader, output io.Writer, logger *slog.Logger) *mcp.LineTransport {
	if input == os.Stdin && output == os.Stdout {
		return mcp.NewStdioTransport(mcp.WithTransportLogger(logger))
	}
	return mcp.NewLineTransport(input, output, mcp.WithTransportLogger(logger))
}
