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
	"github.com/aescanero/newsroom/internal/application/orchestrator"
	"github.com/aescanero/newsroom/internal/bootstrap"
	"github.com/aescanero/newsroom/internal/config"
	"github.com/aescanero/newsroom/internal/logging"
	"github.com/aescanero/newsroom/pkg/api/grpc"
	"github.com/aescanero/newsroom/pkg/api/http"
	"github.com/aescanero/newsroom/pkg/api/websocket"
	"github.com/aescanero/newsroom/pkg/ports"
	"github.com/aescanero/newsroom/pkg/protocol"
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

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("newsroom exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting newsroom",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("pipeline_mode", cfg.PipelineMode))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("failed to close backends", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	httpCfg := &http.Config{
		Port:     cfg.HTTPPort,
		Gatherer: rt.Registry,
		Checks:   rt.Checks(),
		APIToken: cfg.APIToken,
		Logger:   logger.Named("http"),
	}

	var (
		manager   *orchestrator.Manager
		wsHandler *websocket.Handler
	)
	switch cfg.PipelineMode {
	case config.ModeOrchestrated:
		wsHandler = websocket.NewHandler(rt.Store, logger.Named("websocket"))
		manager = orchestrator.NewManager(orchestrator.Config{
			Owner:           cfg.Orchestrator.Owner,
			ApprovalTimeout: cfg.Orchestrator.ApprovalTimeout,
			LeaseTTL:        cfg.Orchestrator.LeaseTTL,
			ResumeInterval:  cfg.Orchestrator.ResumeInterval,
			PollInterval:    cfg.Orchestrator.PollInterval,
		}, rt.Store, rt.Desk, rt.Invoker, orchestrator.NewValidator(),
			ports.Notifiers{logging.NewInstanceLogger(logger.Named("stories")), wsHandler}, rt.Metrics, logger.Named("orchestrator"))

		transport, err := rt.Transport("orchestrator")
		if err != nil {
			return err
		}
		bus := protocol.NewBus(transport, "orchestrator", logger.Named("bus"))
		if err := orchestrator.NewIntake(manager, bus, logger.Named("intake")).Run(gctx); err != nil {
			return fmt.Errorf("failed to start pitch intake: %w", err)
		}
		g.Go(func() error { return manager.Run(gctx) })
		httpCfg.Stories = manager

	case config.ModeChoreographed:
		transport, err := rt.Transport("api")
		if err != nil {
			return err
		}
		httpCfg.Intake = protocol.NewBus(transport, "api", logger.Named("bus"))

		// A process-local bus has no other consumers, so every role runs here.
		if cfg.Bus.Backend == "memory" {
			for _, role := range agents.Roles() {
				host, topics, err := rt.Agent(role)
				if err != nil {
					return err
				}
				g.Go(func() error { return host.Run(gctx, topics...) })
			}
		}
	}

	httpServer := http.NewServer(httpCfg)
	if wsHandler != nil {
		httpServer.SetupWebSocket(wsHandler)
	}

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:     cfg.GRPCPort,
		Services: []string{"newsroom"},
		Logger:   logger.Named("grpc"),
	})
	if err != nil {
		return err
	}

	g.Go(httpServer.Start)
	g.Go(grpcServer.Start)

	fields := []zap.Field{
		zap.String("http_addr", cfg.GetHTTPAddr()),
		zap.String("grpc_addr", cfg.GetGRPCAddr()),
	}
	if manager != nil {
		fields = append(fields, zap.String("owner", manager.Owner()))
	}
	logger.Info("newsroom started", fields...)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("received shutdown signal")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
		defer cancel()

		grpcServer.SetServing(false)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := grpcServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("gRPC server shutdown error", zap.Error(err))
		}
		if manager != nil {
			if err := manager.Shutdown(shutdownCtx); err != nil {
				logger.Error("orchestrator shutdown error", zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("newsroom shut down complete")
	return nil
}
