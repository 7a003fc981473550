// Command devsyncd serves a workspace directory over HTTP and WebSocket.
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

	"devsync/internal/api"
	"devsync/internal/config"
	"devsync/internal/logging"
	"devsync/internal/search"
	"devsync/internal/workspace"
	"devsync/internal/wsserver"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "devsyncd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("devsyncd", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to the YAML config file")
	workspaceDir := fs.String("workspace", "", "workspace directory (overrides config and WORKSPACE_DIR)")
	addr := fs.String("addr", "", "listen address (overrides config and PORT)")
	writeConfig := fs.Bool("write-config", false, "write the effective config to -config and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Load returns usable defaults alongside parse errors.
		slog.Warn("[WARN-CONFIG] config load failed, continuing with defaults", "path", *configPath, "error", err)
	}
	if *workspaceDir != "" {
		cfg.WorkspaceDir = *workspaceDir
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *writeConfig {
		if _, err := config.Save(*configPath, cfg); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "wrote %s\n", *configPath)
		return nil
	}
	if cfg.WorkspaceDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.WorkspaceDir = wd
	}

	if _, err := logging.Setup(cfg.Log); err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := workspace.New(workspace.Options{
		Root:              cfg.WorkspaceDir,
		ExcludedDirs:      cfg.Watch.ExcludedDirs,
		Watch:             cfg.Watch.Enabled,
		Debounce:          cfg.Watch.Debounce(),
		SearchMode:        search.Mode(cfg.Search.Mode),
		RipgrepPath:       cfg.Search.RipgrepPath,
		DefaultMaxResults: cfg.Search.MaxResults,
	})
	if err != nil {
		return fmt.Errorf("open workspace %s: %w", cfg.WorkspaceDir, err)
	}
	defer func() {
		if closeErr := engine.Close(); closeErr != nil {
			slog.Warn("[WORKSPACE] engine close failed", "error", closeErr)
		}
	}()
	if err := engine.Start(ctx); err != nil {
		return err
	}

	hub, err := wsserver.NewHub(wsserver.HubOptions{
		Source:         engine,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.New(api.Options{
			Workspace:      engine,
			Events:         hub,
			AllowedOrigins: cfg.AllowedOrigins,
			Metrics:        cfg.Metrics.Enabled,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("[DEBUG-API] listening", "addr", cfg.ListenAddr, "workspace", engine.Root())
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", cfg.ListenAddr, err)
	case <-ctx.Done():
	}

	slog.Info("[DEBUG-API] shutting down")
	// Hijacked websocket connections are not tracked by Shutdown.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
