package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/mcpanel"
	"github.com/loykin/mcpanel/internal/config"
	"github.com/loykin/mcpanel/internal/logger"
)

// shutdownTimeout bounds the graceful stop of a running Minecraft server.
const shutdownTimeout = 90 * time.Second

func runServe(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, log)
}

// serve runs the panel until ctx is done or the shell exits.
func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	p, err := mcpanel.New(cfg, log)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		_ = p.Shutdown(context.Background())
		return fmt.Errorf("start panel: %w", err)
	}
	hs, err := p.Serve()
	if err != nil {
		_ = p.Shutdown(context.Background())
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case <-p.ShellDone():
		runErr = fmt.Errorf("server shell exited")
		log.Error("server shell exited, shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// hijacked WebSocket connections survive Close; Shutdown drops them
	_ = hs.Close()
	if err := p.Shutdown(sctx); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
	return runErr
}
