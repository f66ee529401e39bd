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
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"folio/internal/api"
	"folio/internal/config"
	"folio/internal/logging"
	"folio/pkg/folio"
)

var getppid = os.Getppid
var sleep = time.Sleep
var exit = os.Exit

func main() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	if err := run(os.Args[1:], stop, nil); err != nil {
		slog.Error("server failed", "err", err)
		exit(1)
	}
}

// run starts the API server and blocks until stop fires. The bound address
// is sent on ready when it is non-nil.
func run(args []string, stop <-chan os.Signal, ready chan<- string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "", "Directory for storing database and logs")
	port := fs.Int("port", -1, "Port to run the server on (0 picks a free port)")
	host := fs.String("host", "", "Host to bind the server to")
	configPath := fs.String("config", "", "Path to folio.toml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *dataDir != "" {
		config.SetRuntimeDataDir(*dataDir)
	}
	config.SetRuntimePort(*port)

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port == 0 {
		cfg.Server.Port = 0
	}

	resolvedDataDir, err := cfg.DataDir()
	if err != nil {
		return fmt.Errorf("resolve data directory: %w", err)
	}
	logger, writer, err := logging.NewLogger(filepath.Join(resolvedDataDir, "logs"), logging.Options{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		RetentionDays: cfg.Logging.RetentionDays,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("failed to close log writer", "err", err)
		}
	}()

	opts, err := cfg.CoreOptions(logger)
	if err != nil {
		return err
	}
	core, err := folio.OpenWithOptions(opts)
	if err != nil {
		return fmt.Errorf("initialize core: %w", err)
	}
	defer func() {
		if err := core.Close(); err != nil {
			logger.Error("failed to close core", "err", err)
		}
	}()

	if os.Getenv("FOLIO_PARENT_WATCH") == "1" {
		go watchParent(logger)
	}

	handler := middleware.Compress(5)(api.NewRouter(core, cfg.Server.AllowedOrigins...))
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	addr := listener.Addr().String()
	logger.Info("server starting", "addr", addr, "db", core.DBPath(), "postgres", opts.DatabaseURL != "")
	if ready != nil {
		ready <- addr
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	logger.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}
	return nil
}

// watchParent exits once the launching process is gone (reparented to init).
func watchParent(logger *slog.Logger) {
	for {
		sleep(1 * time.Second)
		if getppid() == 1 {
			logger.Info("parent process exited; shutting down")
			exit(0)
		}
	}
}
