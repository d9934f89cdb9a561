// Package bootstrap assembles the adapters shared by the newsroom binaries
// from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/newsroom/internal/application/agents"
	"github.com/aescanero/newsroom/internal/config"
	"github.com/aescanero/newsroom/internal/desk"
	"github.com/aescanero/newsroom/pkg/adapters/cms"
	"github.com/aescanero/newsroom/pkg/adapters/events/memory"
	"github.com/aescanero/newsroom/pkg/adapters/events/redis"
	"github.com/aescanero/newsroom/pkg/adapters/llm"
	promadapter "github.com/aescanero/newsroom/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/newsroom/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/newsroom/pkg/adapters/storage/redis"
	"github.com/aescanero/newsroom/pkg/adapters/storage/sqlite"
	apihttp "github.com/aescanero/newsroom/pkg/api/http"
	"github.com/aescanero/newsroom/pkg/ports"
	"github.com/aescanero/newsroom/pkg/protocol"
	"github.com/aescanero/newsroom/pkg/resilience"
)

// Runtime holds the adapters one process runs on.
type Runtime struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *promadapter.Collector
	Store    ports.InstanceStore
	Dedup    ports.DedupStore
	Invoker  *resilience.Invoker
	CMS      *cms.Publisher
	Feed     *cms.Feed
	Desk     *desk.Desk

	redis      *goredis.Client
	broker     *memory.Broker
	transports []ports.Transport
}

// New connects the configured backends.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  promadapter.NewCollector(reg),
	}

	if cfg.UsesRedis() {
		rt.redis = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		// Test Redis connection
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			_ = rt.redis.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}
	if cfg.Bus.Backend == "memory" {
		rt.broker = memory.NewBroker()
	}

	switch cfg.Store.Backend {
	case "redis":
		rt.Store = redisstorage.NewInstanceStore(rt.redis, cfg.Store.ArchiveTTL, logger.Named("store"))
	case "sqlite":
		store, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to open instance store: %w", err)
		}
		rt.Store = store
	default:
		rt.Store = storagememory.NewInMemoryInstanceStore()
	}

	if rt.redis != nil {
		rt.Dedup = redisstorage.NewDedupStore(rt.redis)
	} else {
		rt.Dedup = storagememory.NewInMemoryDedupStore()
	}

	completer, err := llm.NewCompleter(&llm.Config{
		Provider:  cfg.LLM.Provider,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		BaseURL:   cfg.LLM.BaseURL,
		Timeout:   cfg.LLM.RequestTimeout,
		Logger:    logger,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	publisher, err := cms.New(cfg.CMS.Provider, logger.Named("cms"))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.CMS = publisher
	rt.Feed = cms.NewFeed(cfg.CMS.FeedTitle, cfg.CMS.FeedURL, cfg.CMS.FeedLimit, logger.Named("feed"))

	rt.Invoker = resilience.New(cfg.RetryPolicy(),
		resilience.WithLogger(logger.Named("invoker")),
		resilience.WithMetrics(rt.Metrics))
	rt.Desk = desk.New(cfg.DeskSettings(), completer, rt.CMS, rt.Feed, logger.Named("desk"))

	return rt, nil
}

// Transport opens a bus transport reading as consumerGroup.
func (rt *Runtime) Transport(consumerGroup string) (ports.Transport, error) {
	var transport ports.Transport
	if rt.broker != nil {
		transport = rt.broker.Transport(consumerGroup)
	} else {
		host, _ := os.Hostname()
		t, err := redis.NewStreamsTransport(rt.redis, redis.Options{
			ConsumerGroup: consumerGroup,
			ConsumerName:  fmt.Sprintf("%s-%s-%s", consumerGroup, host, uuid.NewString()[:8]),
			Partitions:    rt.Config.Bus.Partitions,
			ClaimIdle:     rt.Config.Bus.ClaimIdle,
			BatchSize:     rt.Config.Bus.BatchSize,
			Block:         rt.Config.Bus.Block,
		}, rt.Logger.Named("bus"))
		if err != nil {
			return nil, fmt.Errorf("failed to create event bus: %w", err)
		}
		transport = t
	}
	rt.transports = append(rt.transports, transport)
	return transport, nil
}

// Checks returns the dependency health checks.
func (rt *Runtime) Checks() map[string]apihttp.HealthCheck {
	checks := map[string]apihttp.HealthCheck{}
	if rt.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return rt.redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Close releases every backend. Subscription contexts must be cancelled
// first.
func (rt *Runtime) Close() error {
	var errs []error
	for _, t := range rt.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
		}
	}
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close instance store: %w", err))
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Agent builds the host for role on its own consumer group.
func (rt *Runtime) Agent(role agents.Role) (*agents.Host, []string, error) {
	transport, err := rt.Transport(string(role))
	if err != nil {
		return nil, nil, err
	}
	bus := protocol.NewBus(transport, string(role), rt.Logger.Named("bus"))
	host := agents.NewHost(agents.Config{
		Role:           string(role),
		Concurrency:    rt.Config.Agent.Concurrency,
		QueueCapacity:  rt.Config.Agent.QueueCapacity,
		FailurePolicy:  agents.FailurePolicy(rt.Config.Agent.FailurePolicy),
		DedupTTL:       rt.Config.Agent.DedupTTL,
		HealthInterval: rt.Config.Agent.HealthInterval,
	}, bus, rt.Invoker, rt.Dedup, rt.Metrics, rt.Logger.Named("agent"))
	topics, err := agents.Register(host, role, rt.Desk)
	if err != nil {
		return nil, nil, err
	}
	rt.Logger.Debug("agent host assembled",
		zap.String("role", bus.Role()),
		zap.Strings("topics", topics))
	return host, topics, nil
}

// AgentServer serves health and metrics for a standalone agent host.
func (rt *Runtime) AgentServer(host *agents.Host) *apihttp.Server {
	checks := rt.Checks()
	checks["agent"] = host.Health().Check
	return apihttp.NewServer(&apihttp.Config{
		Port:     rt.Config.HTTPPort,
		Gatherer: rt.Registry,
		Checks:   checks,
		Logger:   rt.Logger.Named("http"),
	})
}
