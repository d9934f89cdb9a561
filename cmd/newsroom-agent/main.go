package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aescanero/newsroom/internal/application/agents"
	"github.com/aescanero/newsroom/internal/bootstrap"
	"github.com/aescanero/newsroom/internal/config"
	"github.com/aescanero/newsroom/internal/logging"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	role, err := agents.ParseRole(cfg.Agent.Role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "AGENT_ROLE: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("role", string(role)))

	logger.Info("starting newsroom agent",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize backends", zap.Error(err))
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("failed to close backends", zap.Error(err))
		}
	}()

	host, topics, err := rt.Agent(role)
	if err != nil {
		logger.Error("failed to create agent host", zap.Error(err))
		return
	}
	httpServer := rt.AgentServer(host)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return host.Run(gctx, topics...) })
	g.Go(httpServer.Start)

	logger.Info("newsroom agent started",
		zap.String("http_addr", cfg.GetHTTPAddr()),
		zap.Strings("topics", topics))

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("agent host failed", zap.Error(err))
		return
	}
	logger.Info("newsroom agent shut down complete")
}
