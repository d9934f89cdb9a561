package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/ports"
	"github.com/aescanero/newsroom/pkg/resilience"
)

// Activity names recorded in the instance log.
const (
	ActivityAssign     = "assign"
	ActivityReport     = "report"
	ActivityFactCheck  = "factcheck"
	ActivityApproval   = "approval"
	ActivityCopyEdit   = "copyedit"
	ActivityPackage    = "package"
	ActivityPrepare    = "prepare"
	ActivityPublish    = "publish"
	ActivityGoLive     = "golive"
	ActivityDistribute = "distribute"
	ActivityArchive    = "archive"
)

const maxSwapAttempts = 16

// Activities performs the stage work the orchestrator schedules.
type Activities interface {
	Assign(ctx context.Context, pitch domain.StoryPitch) (domain.Assignment, error)
	Report(ctx context.Context, a domain.Assignment) (domain.Draft, error)
	FactCheck(ctx context.Context, draft domain.Draft) (domain.FactCheckResult, error)
	CopyEdit(ctx context.Context, draft domain.Draft) (domain.CopyEditResult, error)
	Package(ctx context.Context, edit domain.CopyEditResult, slug string) (domain.PackagingResult, error)
	Prepare(ctx context.Context, draft domain.Draft, pkg domain.PackagingResult) (domain.PublishRequest, error)
	Publish(ctx context.Context, req domain.PublishRequest, pkg domain.PackagingResult) (bool, error)
	GoLive(ctx context.Context, req domain.PublishRequest, pkg domain.PackagingResult) error
	Distribute(ctx context.Context, req domain.PublishRequest, pkg *domain.PackagingResult) (domain.DistributionPlan, error)
}

// Config holds orchestrator settings.
type Config struct {
	// Owner identifies this process in instance leases.
	Owner           string
	ApprovalTimeout time.Duration
	LeaseTTL        time.Duration
	ResumeInterval  time.Duration
	// PollInterval is how often a waiting execution rereads its instance for
	// signals delivered through other replicas.
	PollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Owner == "" {
		host, _ := os.Hostname()
		c.Owner = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 2 * time.Minute
	}
	if c.ResumeInterval <= 0 {
		c.ResumeInterval = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
}

// Manager drives every story through the pipeline. Each instance runs on its
// own goroutine and persists every step by compare-and-swap before the next.
type Manager struct {
	cfg        Config
	store      ports.InstanceStore
	activities Activities
	invoker    *resilience.Invoker
	validator  *Validator
	notifier   ports.Notifier
	metrics    ports.MetricsCollector
	logger     *zap.Logger
	now        func() time.Time

	// Track live executions
	executions sync.Map // map[domain.StoryID]*execution

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	stop   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// execution is one live instance goroutine.
type execution struct {
	storyID domain.StoryID
	wake    chan struct{}
	logger  *zap.Logger
}

// NewManager creates a new orchestrator manager
func NewManager(
	cfg Config,
	store ports.InstanceStore,
	activities Activities,
	invoker *resilience.Invoker,
	validator *Validator,
	notifier ports.Notifier,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Manager {
	cfg.applyDefaults()
	if notifier == nil {
		notifier = ports.NopNotifier{}
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		store:      store,
		activities: activities,
		invoker:    invoker,
		validator:  validator,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		stop:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Owner returns the lease owner identity of this manager.
func (m *Manager) Owner() string {
	return m.cfg.Owner
}

type startOptions struct {
	correlationID string
}

// StartOption adjusts Start.
type StartOption func(*startOptions)

// WithCorrelationID starts the instance under an existing correlation ID.
func WithCorrelationID(id string) StartOption {
	return func(o *startOptions) { o.correlationID = id }
}

// Start validates a pitch, creates its instance and launches its execution.
func (m *Manager) Start(ctx context.Context, pitch domain.StoryPitch, opts ...StartOption) (*domain.Instance, error) {
	if m.isClosed() {
		return nil, fmt.Errorf("orchestrator is shutting down")
	}
	if err := m.validator.Validate(pitch); err != nil {
		m.logger.Warn("pitch rejected",
			zap.String("story_id", string(pitch.StoryID)),
			zap.Error(err))
		return nil, err
	}

	o := startOptions{correlationID: uuid.NewString()}
	for _, opt := range opts {
		opt(&o)
	}

	inst := domain.NewInstance(pitch, o.correlationID, m.now())
	if err := m.store.Create(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	m.metrics.RecordStoryStarted(pitch.Beat)
	m.notifier.InstanceChanged(ctx, inst)
	m.logger.Info("story started",
		zap.String("story_id", string(inst.StoryID)),
		zap.String("correlation_id", inst.CorrelationID),
		zap.String("slug", pitch.Slug))

	m.launch(inst.StoryID)
	return inst, nil
}

// Signal durably delivers a named signal to an instance and wakes its
// execution if it is live in this process.
func (m *Manager) Signal(ctx context.Context, id domain.StoryID, name string, approval domain.Approval) error {
	if name != domain.SignalEditorApproval {
		return &domain.ValidationError{Subject: "signal", Reasons: []string{fmt.Sprintf("name: unknown signal %q", name)}}
	}
	_, err := m.update(ctx, id, func(inst *domain.Instance, now time.Time) error {
		if !inst.Status.Active() {
			return fmt.Errorf("%w: story %s is %s", domain.ErrInvalidState, id, inst.Status)
		}
		inst.Inbox = append(inst.Inbox, domain.Signal{Name: name, Approval: approval, ReceivedAt: now})
		inst.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info("signal received",
		zap.String("story_id", string(id)),
		zap.String("signal", name),
		zap.Bool("approved", approval.Approved))
	m.wake(id)
	return nil
}

// Retry resumes a failed instance from its persisted stage.
func (m *Manager) Retry(ctx context.Context, id domain.StoryID) (*domain.Instance, error) {
	inst, err := m.update(ctx, id, func(inst *domain.Instance, now time.Time) error {
		if inst.Status != domain.StatusFailed {
			return fmt.Errorf("%w: story %s is %s, only failed stories can be retried", domain.ErrInvalidState, id, inst.Status)
		}
		inst.Status = domain.StatusRunning
		inst.Reason = ""
		inst.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("story retried",
		zap.String("story_id", string(id)),
		zap.String("stage", string(inst.Stage)))
	m.launch(id)
	return inst, nil
}

// Get returns the stored instance.
func (m *Manager) Get(ctx context.Context, id domain.StoryID) (*domain.Instance, error) {
	return m.store.Get(ctx, id)
}

// List returns every stored instance.
func (m *Manager) List(ctx context.Context) ([]*domain.Instance, error) {
	return m.store.List(ctx)
}

// Resume launches executions for active instances that have no live lease.
// It returns how many were launched.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	instances, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list instances: %w", err)
	}
	now := m.now()
	launched := 0
	for _, inst := range instances {
		if !inst.Status.Active() || inst.LeasedByOther(m.cfg.Owner, now) {
			continue
		}
		if m.launch(inst.StoryID) {
			launched++
		}
	}
	if launched > 0 {
		m.logger.Info("resumed stories", zap.Int("count", launched))
	}
	return launched, nil
}

// Run resumes instances now and then every resume interval until ctx ends or
// the manager shuts down.
func (m *Manager) Run(ctx context.Context) error {
	if _, err := m.Resume(ctx); err != nil {
		m.logger.Error("resume failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.cfg.ResumeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stop:
			return nil
		case <-ticker.C:
			if _, err := m.Resume(ctx); err != nil {
				m.logger.Error("resume failed", zap.Error(err))
			}
		}
	}
}

// Shutdown stops launching work, lets running executions finish their current
// step and waits for them until ctx ends. Activities still running then are
// cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.stop)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		m.logger.Info("orchestrator manager shut down complete")
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return fmt.Errorf("orchestrator shutdown timed out: %w", ctx.Err())
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// launch starts an execution unless one is already live in this process.
func (m *Manager) launch(id domain.StoryID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}

	exec := &execution{
		storyID: id,
		wake:    make(chan struct{}, 1),
		logger:  m.logger.With(zap.String("story_id", string(id))),
	}
	if _, loaded := m.executions.LoadOrStore(id, exec); loaded {
		return false
	}
	m.wg.Add(1)
	go m.run(exec)
	return true
}

func (m *Manager) wake(id domain.StoryID) {
	val, ok := m.executions.Load(id)
	if !ok {
		return
	}
	select {
	case val.(*execution).wake <- struct{}{}:
	default:
	}
}

// update applies mutate to the latest stored instance and saves it by
// compare-and-swap, retrying on version conflicts.
func (m *Manager) update(ctx context.Context, id domain.StoryID, mutate func(inst *domain.Instance, now time.Time) error) (*domain.Instance, error) {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		inst, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		before := inst.Clone()
		now := m.now()
		if err := mutate(inst, now); err != nil {
			return nil, err
		}

		err = m.store.CompareAndSwap(ctx, inst, before.Version)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save instance: %w", err)
		}
		m.observe(ctx, before, inst, now)
		return inst, nil
	}
	return nil, fmt.Errorf("%w: story %s changed %d times during update", domain.ErrVersionConflict, id, maxSwapAttempts)
}

// observe reports a saved change to metrics and the notifier.
func (m *Manager) observe(ctx context.Context, before, after *domain.Instance, now time.Time) {
	for _, t := range after.Transitions[len(before.Transitions):] {
		m.metrics.RecordStageTransition(t.From, t.To)
	}
	switch {
	case before.Status.Active() && !after.Status.Active():
		m.metrics.RecordStoryFinished(after.Status, now.Sub(after.CreatedAt))
	case !before.Status.Active() && after.Status.Active():
		m.metrics.RecordStoryStarted(after.Pitch.Beat)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		m.notifier.InstanceChanged(ctx, after)
	}
}

// own claims or renews this manager's lease on inst.
func (m *Manager) own(inst *domain.Instance, now time.Time) error {
	if inst.LeasedByOther(m.cfg.Owner, now) {
		return fmt.Errorf("%w: story %s is leased by %s", domain.ErrLeaseHeld, inst.StoryID, inst.Lease.Owner)
	}
	inst.Lease = &domain.Lease{Owner: m.cfg.Owner, ExpiresAt: now.Add(m.cfg.LeaseTTL)}
	return nil
}

func (m *Manager) release(exec *execution) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), 5*time.Second)
	defer cancel()
	_, err := m.update(ctx, exec.storyID, func(inst *domain.Instance, _ time.Time) error {
		if inst.Lease == nil || inst.Lease.Owner != m.cfg.Owner {
			return errLeaseGone
		}
		inst.Lease = nil
		return nil
	})
	if err != nil && !errors.Is(err, errLeaseGone) {
		exec.logger.Warn("failed to release lease", zap.Error(err))
	}
}

var errLeaseGone = errors.New("lease not held")

// run executes one instance until it stops, waits with nothing to do after a
// shutdown, or loses its lease.
func (m *Manager) run(exec *execution) {
	defer m.wg.Done()
	defer m.executions.Delete(exec.storyID)

	if _, err := m.update(m.ctx, exec.storyID, m.own); err != nil {
		if errors.Is(err, domain.ErrLeaseHeld) {
			exec.logger.Debug("story is executed elsewhere", zap.Error(err))
		} else {
			exec.logger.Error("failed to claim story", zap.Error(err))
		}
		return
	}
	defer m.release(exec)

	for {
		select {
		case <-m.stop:
			return
		default:
		}

		inst, err := m.store.Get(m.ctx, exec.storyID)
		if err != nil {
			exec.logger.Error("failed to load story", zap.Error(err))
			return
		}
		if !inst.Status.Active() {
			exec.logger.Info("story execution finished",
				zap.String("stage", string(inst.Stage)),
				zap.String("status", string(inst.Status)),
				zap.String("reason", inst.Reason))
			return
		}

		stop, err := m.step(exec, inst)
		if err != nil {
			if errors.Is(err, domain.ErrLeaseHeld) {
				exec.logger.Warn("lost lease on story", zap.Error(err))
			} else if m.ctx.Err() == nil {
				exec.logger.Error("story step failed", zap.Error(err))
			}
			return
		}
		if stop {
			return
		}
	}
}
