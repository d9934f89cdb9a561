package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/newsroom/internal/logging"
	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/ports"
	"github.com/aescanero/newsroom/pkg/protocol"
	"github.com/aescanero/newsroom/pkg/resilience"
)

// Handler processes one envelope. out publishes successors caused by env.
type Handler func(ctx context.Context, env protocol.Envelope, out protocol.Publisher) error

// FailurePolicy decides what happens to an envelope whose handler failed.
type FailurePolicy string

const (
	FailureDeadLetter FailurePolicy = "deadletter"
	FailureDiscard    FailurePolicy = "discard"
)

// Envelope outcomes reported to metrics.
const (
	outcomeHandled   = "handled"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
)

// Config holds agent host settings.
type Config struct {
	Role           string
	Concurrency    int
	QueueCapacity  int
	FailurePolicy  FailurePolicy
	DedupTTL       time.Duration
	HealthInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Concurrency < 1 {
		c.Concurrency = 4
	}
	if c.QueueCapacity < 1 {
		c.QueueCapacity = 64
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = FailureDeadLetter
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 24 * time.Hour
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
}

// Host subscribes to a role's topics and dispatches each envelope to the
// handler registered for its kind.
type Host struct {
	cfg     Config
	bus     *protocol.Bus
	invoker *resilience.Invoker
	dedup   ports.DedupStore
	metrics ports.MetricsCollector
	logger  *zap.Logger
	health  *HealthMonitor
	queue   *keyedQueue

	mu       sync.RWMutex
	handlers map[domain.Kind]Handler
	running  bool
}

// NewHost creates an agent host.
func NewHost(
	cfg Config,
	bus *protocol.Bus,
	invoker *resilience.Invoker,
	dedup ports.DedupStore,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Host {
	cfg.applyDefaults()
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	h := &Host{
		cfg:      cfg,
		bus:      bus,
		invoker:  invoker,
		dedup:    dedup,
		metrics:  metrics,
		logger:   logger.With(zap.String("role", cfg.Role)),
		queue:    newKeyedQueue(cfg.Concurrency, cfg.QueueCapacity),
		handlers: make(map[domain.Kind]Handler),
	}
	h.health = NewHealthMonitor(h, cfg.HealthInterval, h.logger)
	return h
}

// Role returns the host's role.
func (h *Host) Role() string {
	return h.cfg.Role
}

// Handle registers handler for envelopes of kind, replacing any previous one.
func (h *Host) Handle(kind domain.Kind, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[kind] = handler
}

// Run subscribes to topics and processes envelopes until ctx is cancelled.
// In-flight handlers finish before Run returns; queued envelopes that never
// started are left unacknowledged for redelivery.
func (h *Host) Run(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return fmt.Errorf("agent host %s has no topics", h.cfg.Role)
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return fmt.Errorf("agent host %s already running", h.cfg.Role)
	}
	h.running = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	for _, topic := range topics {
		if err := h.bus.Subscribe(ctx, topic, h.enqueue); err != nil {
			h.queue.close()
			return err
		}
	}

	h.health.Start()
	h.logger.Info("agent host started",
		zap.Strings("topics", topics),
		zap.Int("concurrency", h.cfg.Concurrency),
		zap.Int("queue_capacity", h.cfg.QueueCapacity),
		zap.String("failure_policy", string(h.cfg.FailurePolicy)))

	<-ctx.Done()

	h.logger.Info("agent host stopping")
	h.health.Stop()
	h.queue.close()
	h.logger.Info("agent host stopped")
	return nil
}

// Running reports whether Run is active.
func (h *Host) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Host) enqueue(ctx context.Context, d protocol.Delivery) {
	key := d.Key
	if d.Err == nil {
		key = string(d.Envelope.StoryID())
	}
	err := h.queue.push(ctx, job{
		key: key,
		run: func() { h.process(context.WithoutCancel(ctx), d) },
		drop: func() {
			h.logger.Debug("dropping queued envelope for redelivery",
				zap.String("envelope_id", d.Envelope.ID),
				zap.String("topic", d.Topic))
		},
	})
	if err != nil {
		h.logger.Debug("envelope not queued", zap.String("topic", d.Topic), zap.Error(err))
	}
}

// process handles one delivery end to end. ctx is detached from shutdown.
func (h *Host) process(ctx context.Context, d protocol.Delivery) {
	if d.Err != nil {
		logger := h.logger.With(zap.String("topic", d.Topic))
		logger.Warn("rejecting malformed envelope", zap.Error(d.Err))
		h.metrics.RecordEnvelope(h.cfg.Role, "", outcomeRejected)
		h.fail(ctx, logger, d, d.Err)
		return
	}

	env := d.Envelope
	logger := h.logger.With(
		zap.String("correlation_id", env.CorrelationID),
		zap.String("story_id", string(env.StoryID())),
		zap.String("envelope_id", env.ID),
		zap.String("type", string(env.Type)))
	ctx = logging.WithLogger(ctx, logger)

	dedupKey := h.cfg.Role + ":" + env.ID
	seen, err := h.dedup.Seen(ctx, dedupKey)
	if err != nil {
		logger.Warn("dedup lookup failed, handling envelope anyway", zap.Error(err))
	}
	if seen {
		logger.Debug("skipping duplicate envelope")
		h.metrics.RecordEnvelope(h.cfg.Role, env.Type, outcomeDuplicate)
		h.ack(ctx, logger, d)
		return
	}

	h.mu.RLock()
	handler, ok := h.handlers[env.Type]
	h.mu.RUnlock()
	if !ok {
		logger.Debug("no handler for envelope type")
		h.metrics.RecordEnvelope(h.cfg.Role, env.Type, outcomeIgnored)
		h.ack(ctx, logger, d)
		return
	}

	start := time.Now()
	err = h.invoker.Do(ctx, h.cfg.Role+"."+string(env.Type), func(ctx context.Context) error {
		return handler(ctx, env, h.bus.Bound(env))
	})
	h.metrics.RecordHandlerDuration(h.cfg.Role, env.Type, time.Since(start))

	if err != nil {
		logger.Error("handler failed", zap.Error(err))
		h.metrics.RecordEnvelope(h.cfg.Role, env.Type, outcomeFailed)
		h.fail(ctx, logger, d, err)
		return
	}

	if err := h.dedup.MarkDone(ctx, dedupKey, h.cfg.DedupTTL); err != nil {
		logger.Warn("failed to record handled envelope", zap.Error(err))
	}
	h.metrics.RecordEnvelope(h.cfg.Role, env.Type, outcomeHandled)
	logger.Debug("envelope handled", zap.Duration("duration", time.Since(start)))
	h.ack(ctx, logger, d)
}

// fail applies the failure policy and acknowledges d. A dead letter that
// cannot be published leaves d unacknowledged so it is delivered again.
func (h *Host) fail(ctx context.Context, logger *zap.Logger, d protocol.Delivery, cause error) {
	if h.cfg.FailurePolicy == FailureDiscard {
		logger.Warn("discarding failed envelope", zap.Error(cause))
		h.ack(ctx, logger, d)
		return
	}

	err := h.invoker.Do(ctx, "deadletter", func(ctx context.Context) error {
		_, err := h.bus.DeadLetter(ctx, d, cause)
		return err
	})
	if err != nil {
		logger.Error("failed to dead-letter envelope", zap.Error(errors.Join(err, cause)))
		return
	}
	logger.Warn("envelope dead-lettered", zap.String("reason", cause.Error()))
	h.ack(ctx, logger, d)
}

func (h *Host) ack(ctx context.Context, logger *zap.Logger, d protocol.Delivery) {
	if err := d.Ack(ctx); err != nil {
		logger.Warn("failed to ack envelope", zap.Error(err))
	}
}
