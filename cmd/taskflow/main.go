// Package main provides the taskflow binary entry point.
// Taskflow is a dependency-aware task orchestration engine that feeds
// work to autonomous coding agents over a JSON-RPC protocol.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c360studio/taskflow/config"
	"github.com/c360studio/taskflow/orchestrator"
	"github.com/c360studio/taskflow/protocol"
	"github.com/c360studio/taskflow/storage"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "taskflow"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "taskflow",
		Short: "Task orchestration engine for coding agents",
		Long: `Taskflow coordinates a planning layer with autonomous coding and
verification agents.

It provides:
- Dependency-aware scheduling with cascading unblocking
- Crash-safe queue snapshots with backup rotation
- Ticket state tracking with a fixed transition table
- A newline-delimited JSON-RPC protocol for agents

Tickets are optionally stored in NATS JetStream KV.`,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator and serve the agent protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, logLevel)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func runServe(configPath, logLevel string) error {
	printBanner()

	// Configure logging
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Ticket storage is optional; the orchestrator degrades to an
	// empty queue when it cannot be reached.
	tickets, nc := buildTicketStore(ctx, cfg, logger)
	if nc != nil {
		defer nc.Close()
	}

	svc := orchestrator.NewService(cfg, tickets, logger)
	orchestrator.InitGlobal(svc)

	if err := svc.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize orchestrator: %w", err)
	}
	defer func() {
		if err := svc.Shutdown(context.Background()); err != nil {
			slog.Warn("Shutdown incomplete", "error", err)
		}
	}()

	if cfg.Protocol.MetricsAddr != "" {
		startMetricsServer(cfg.Protocol.MetricsAddr, svc, logger)
	}

	slog.Info("Taskflow ready",
		"version", Version,
		"snapshot_path", cfg.Persistence.Path,
		"ticket_backend", cfg.Tickets.Backend,
		"degraded", svc.Degraded())

	server := protocol.NewServer(svc, logger)
	if cfg.Protocol.SocketPath != "" {
		return serveSocket(ctx, server, cfg.Protocol.SocketPath, logger)
	}
	return serveStdio(ctx, server)
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.NewLoader(workDir).Load()
}

// buildTicketStore connects the configured ticket backend. Connection
// failure is logged, not fatal; the returned store is nil and startup
// proceeds degraded.
func buildTicketStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.TicketStore, *nats.Conn) {
	switch cfg.Tickets.Backend {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "nats":
		logger.Info("Connecting to NATS", "url", cfg.Tickets.NATSURL)
		nc, err := nats.Connect(cfg.Tickets.NATSURL,
			nats.Name(appName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
			nats.Timeout(10*time.Second),
		)
		if err != nil {
			logger.Warn("NATS connection failed; ticket storage disabled", "error", err)
			return nil, nil
		}
		js, err := jetstream.New(nc)
		if err != nil {
			logger.Warn("JetStream init failed; ticket storage disabled", "error", err)
			nc.Close()
			return nil, nil
		}
		store, err := storage.NewNATSStore(ctx, js)
		if err != nil {
			logger.Warn("Ticket bucket init failed; ticket storage disabled", "error", err)
			nc.Close()
			return nil, nil
		}
		logger.Info("Connected to NATS ticket storage", "bucket", storage.BucketTickets)
		return store, nc
	default:
		return nil, nil
	}
}

func startMetricsServer(addr string, svc *orchestrator.Service, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(svc.Metrics().Registry(), promhttp.HandlerOpts{}))

	go func() {
		logger.Info("Metrics endpoint listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("Metrics server stopped", "error", err)
		}
	}()
}

type stdioStream struct {
	io.Reader
	io.Writer
}

// serveStdio runs the protocol on stdin/stdout until EOF or a signal.
func serveStdio(ctx context.Context, server *protocol.Server) error {
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, stdioStream{Reader: os.Stdin, Writer: os.Stdout})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
		return nil
	}
}

// serveSocket accepts agent connections on a unix socket, one protocol
// stream per connection.
func serveSocket(ctx context.Context, server *protocol.Server, path string, logger *slog.Logger) error {
	// A previous unclean exit can leave the socket file behind.
	_ = os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", path, err)
	}
	defer listener.Close()
	defer os.Remove(path)

	logger.Info("Protocol socket listening", "path", path)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Received shutdown signal")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			defer conn.Close()
			if err := server.Serve(ctx, conn); err != nil {
				logger.Warn("Agent connection ended with error", "error", err)
			}
		}()
	}
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║             Taskflow v" + Version + "                    ║")
	fmt.Println("║      Task Orchestration Engine                ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}
