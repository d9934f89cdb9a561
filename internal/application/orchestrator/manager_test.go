package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/newsroom/internal/desk"
	"github.com/aescanero/newsroom/pkg/adapters/cms"
	"github.com/aescanero/newsroom/pkg/adapters/llm/static"
	"github.com/aescanero/newsroom/pkg/adapters/storage/memory"
	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/resilience"
)

// scripted wraps a desk, counting calls and letting tests override steps.
type scripted struct {
	*desk.Desk

	mu        sync.Mutex
	calls     map[string]int
	factCheck func(ctx context.Context, draft domain.Draft) (domain.FactCheckResult, error)
	report    func(ctx context.Context, a domain.Assignment) (domain.Draft, error)
	pack      func(ctx context.Context, edit domain.CopyEditResult, slug string) (domain.PackagingResult, error)
	prepare   func(ctx context.Context, draft domain.Draft, pkg domain.PackagingResult) (domain.PublishRequest, error)
}

func (s *scripted) count(activity string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[activity]
}

func (s *scripted) hit(activity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[activity]++
}

func (s *scripted) Assign(ctx context.Context, pitch domain.StoryPitch) (domain.Assignment, error) {
	s.hit(ActivityAssign)
	return s.Desk.Assign(ctx, pitch)
}

func (s *scripted) Report(ctx context.Context, a domain.Assignment) (domain.Draft, error) {
	s.hit(ActivityReport)
	if s.report != nil {
		return s.report(ctx, a)
	}
	return s.Desk.Report(ctx, a)
}

func (s *scripted) FactCheck(ctx context.Context, draft domain.Draft) (domain.FactCheckResult, error) {
	s.hit(ActivityFactCheck)
	if s.factCheck != nil {
		return s.factCheck(ctx, draft)
	}
	return s.Desk.FactCheck(ctx, draft)
}

func (s *scripted) CopyEdit(ctx context.Context, draft domain.Draft) (domain.CopyEditResult, error) {
	s.hit(ActivityCopyEdit)
	return s.Desk.CopyEdit(ctx, draft)
}

func (s *scripted) Package(ctx context.Context, edit domain.CopyEditResult, slug string) (domain.PackagingResult, error) {
	s.hit(ActivityPackage)
	if s.pack != nil {
		return s.pack(ctx, edit, slug)
	}
	return s.Desk.Package(ctx, edit, slug)
}

func (s *scripted) Prepare(ctx context.Context, draft domain.Draft, pkg domain.PackagingResult) (domain.PublishRequest, error) {
	s.hit(ActivityPrepare)
	if s.prepare != nil {
		return s.prepare(ctx, draft, pkg)
	}
	return s.Desk.Prepare(ctx, draft, pkg)
}

type notifications struct {
	mu     sync.Mutex
	stages []domain.Stage
}

func (n *notifications) InstanceChanged(_ context.Context, inst *domain.Instance) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stages = append(n.stages, inst.Stage)
}

func (n *notifications) seen(stage domain.Stage) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.stages {
		if s == stage {
			return true
		}
	}
	return false
}

type fixture struct {
	store    *memory.InMemoryInstanceStore
	acts     *scripted
	cms      *cms.Publisher
	notifier *notifications
}

func newFixture(settings desk.Settings) *fixture {
	publisher := cms.NewWordPressVIP(zap.NewNop())
	d := desk.New(settings, static.New(), publisher, nil, zap.NewNop())
	return &fixture{
		store:    memory.NewInMemoryInstanceStore(),
		acts:     &scripted{Desk: d, calls: make(map[string]int)},
		cms:      publisher,
		notifier: &notifications{},
	}
}

func (f *fixture) manager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	invoker := resilience.New(resilience.DefaultPolicy,
		resilience.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	m := NewManager(cfg, f.store, f.acts, invoker, NewValidator(), f.notifier, nil, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func (f *fixture) waitFor(t *testing.T, id domain.StoryID, cond func(*domain.Instance) bool) *domain.Instance {
	t.Helper()
	var last *domain.Instance
	require.Eventually(t, func() bool {
		inst, err := f.store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		last = inst
		return cond(inst)
	}, 5*time.Second, 5*time.Millisecond)
	return last
}

func status(s domain.Status) func(*domain.Instance) bool {
	return func(inst *domain.Instance) bool { return inst.Status == s }
}

func stage(s domain.Stage) func(*domain.Instance) bool {
	return func(inst *domain.Instance) bool { return inst.Stage == s }
}

func pitch(slug string, keywords ...string) domain.StoryPitch {
	if len(keywords) == 0 {
		keywords = []string{"council", "budget"}
	}
	return domain.StoryPitch{
		StoryID:      domain.NewStoryID(),
		Slug:         slug,
		HeadlineIdea: "council passes budget",
		Angle:        "What changes for residents",
		Beat:         "city",
		Keywords:     keywords,
		Priority:     2,
	}
}

func TestStartRunsCanonicalPipeline(t *testing.T) {
	f := newFixture(desk.DefaultSettings())
	m := f.manager(t, Config{})

	started, err := m.Start(context.Background(), pitch("council-budget"), WithCorrelationID("corr-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StagePitched, started.Stage)

	inst := f.waitFor(t, started.StoryID, status(domain.StatusCompleted))
	assert.Equal(t, domain.StageArchived, inst.Stage)
	assert.Equal(t, "corr-1", inst.CorrelationID)
	assert.NotNil(t, inst.ArchivedAt)
	assert.Equal(t, []domain.Stage{
		domain.StagePitched,
		domain.StageAssigned,
		domain.StageReporting,
		domain.StageDrafting,
		domain.StageFactChecking,
		domain.StageCopyEdit,
		domain.StagePackaging,
		domain.StageReadyToPublish,
		domain.StagePublished,
		domain.StageDistributed,
		domain.StageArchived,
	}, inst.Visited())
	assert.True(t, domain.IsCanonicalPath(inst.Visited()))

	var req domain.PublishRequest
	require.NoError(t, inst.Result(ActivityPublish, &req))
	doc, ok := f.cms.Document(req.CMSID)
	require.True(t, ok)
	assert.Equal(t, cms.StatusPublished, doc.Status)

	var pkg domain.PackagingResult
	require.NoError(t, inst.Result(ActivityPackage, &pkg))
	assert.Equal(t, "council-budget", pkg.Slug)

	for _, activity := range []string{ActivityAssign, ActivityReport, ActivityFactCheck, ActivityCopyEdit, ActivityPackage, ActivityPrepare} {
		assert.Equal(t, 1, f.acts.count(activity), activity)
	}
	assert.True(t, f.notifier.seen(domain.StageArchived))

	f.waitFor(t, started.StoryID, func(inst *domain.Instance) bool { return inst.Lease == nil })
}

func TestStartRejectsInvalidAndDuplicatePitches(t *testing.T) {
	f := newFixture(desk.DefaultSettings())
	m := f.manager(t, Config{})
	ctx := context.Background()

	bad := pitch("Not A Slug")
	_, err := m.Start(ctx, bad)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.store.Get(ctx, bad.StoryID)
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)

	p := pitch("council-budget")
	_, err = m.Start(ctx, p)
	require.NoError(t, err)
	_, err = m.Start(ctx, p)
	assert.ErrorIs(t, err, domain.ErrInstanceExists)
}

func TestApprovalSignal(t *testing.T) {
	tests := []struct {
		name     string
		approval domain.Approval
		status   domain.Status
		stage    domain.Stage
		reason   string
	}{
		{"approved", domain.Approval{Approved: true}, domain.StatusCompleted, domain.StageArchived, ""},
		{"rejected", domain.Approval{Approved: false, Reason: "needs a second source"}, domain.StatusRework, domain.StageRework, "needs a second source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(desk.DefaultSettings())
			m := f.manager(t, Config{})
			ctx := context.Background()

			started, err := m.Start(ctx, pitch("mayor-lawsuit", "lawsuit"))
			require.NoError(t, err)

			waiting := f.waitFor(t, started.StoryID, stage(domain.StageAwaitingApproval))
			assert.Equal(t, domain.StatusWaiting, waiting.Status)
			require.NotNil(t, waiting.Wait)
			assert.Equal(t, domain.SignalEditorApproval, waiting.Wait.Signal)
			assert.Zero(t, f.acts.count(ActivityCopyEdit))

			require.NoError(t, m.Signal(ctx, started.StoryID, domain.SignalEditorApproval, tt.approval))

			inst := f.waitFor(t, started.StoryID, status(tt.status))
			assert.Equal(t, tt.stage, inst.Stage)
			assert.Contains(t, inst.Reason, tt.reason)
			assert.Empty(t, inst.Inbox)
			assert.Contains(t, inst.Visited(), domain.StageAwaitingApproval)
		})
	}
}

func TestApprovalTimeoutSendsStoryToRework(t *testing.T) {
	f := newFixture(desk.DefaultSettings())
	m := f.manager(t, Config{ApprovalTimeout: 50 * time.Millisecond})

	started, err := m.Start(context.Background(), pitch("mayor-lawsuit", "lawsuit"))
	require.NoError(t, err)

	inst := f.waitFor(t, started.StoryID, status(domain.StatusRework))
	assert.Equal(t, domain.StageRework, inst.Stage)
	assert.Contains(t, inst.Reason, domain.ErrOrchestrationTimeout.Error())
	assert.Zero(t, f.acts.count(ActivityCopyEdit))
}

func TestSignalDeliveredBeforeWaitIsKept(t *testing.T) {
	f := newFixture(desk.DefaultSettings())
	release := make(chan struct{})
	f.acts.factCheck = func(ctx context.Context, draft domain.Draft) (domain.FactCheckResult, error) {
		<-release
		return f.acts.Desk.FactCheck(ctx, draft)
	}
	m := f.manager(t, Config{ApprovalTimeout: time.Minute})
	ctx := context.Background()

	started, err := m.Start(ctx, pitch("mayor-lawsuit", "lawsuit"))
	require.NoError(t, err)
	f.waitFor(t, started.StoryID, stage(domain.StageDrafting))

	require.NoError(t, m.Signal(ctx, started.StoryID, domain.SignalEditorApproval, domain.Approval{Approved: true}))
	inst, err := m.Get(ctx, started.StoryID)
	require.NoError(t, err)
	assert.Len(t, inst.Inbox, 1)

	close(release)
	inst = f.waitFor(t, started.StoryID, status(domain.StatusCompleted))
	assert.Contains(t, inst.Visited(), domain.StageAwaitingApproval)
	assert.True(t, inst.Completed(ActivityApproval))
}

func TestSignalValidation(t *testing.T) {
	f := newFixture(desk.DefaultSettings())
	m := f.manager(t, Config{})
	ctx := context.Background()

	err := m.Signal(ctx, "missing", domain.SignalEditorApproval, domain.Approval{Approved: true})
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)

	started, err := m.Start(ctx, pitch("council-budget"))
	require.NoError(t, err)
	err = m.Signal(ctx, started.StoryID, "Publish", domain.Approval{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	f.waitFor(t, started.StoryID, status(domain.StatusCompleted))
	err = m.Signal(ctx, started.StoryID, domain.SignalEditorApproval, domain.Approval{Approved: true})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	f := newFixture(desk.DefaultSettings())
	failures := 2
	f.acts.report = func(ctx context.Context, a domain.Assignment) (domain.Draft, error) {
		if f.acts.count(ActivityReport) <= failures {
			return domain.Draft{}, domain.Transient("llm", "complete", errors.New("overloaded"))
		}
		return f.acts.Desk.Report(ctx, a)
	}
	m := f.manager(t, Config{})

	started, err := m.Start(context.Background(), pitch("council-budget"))
	require.NoError(t, err)

	f.waitFor(t, started.StoryID, status(domain.StatusCompleted))
	assert.Equal(t, 3, f.acts.count(ActivityReport))
}

func TestFailedStoryCanBeRetried(t *testing.T) {
	f := newFixture(desk.DefaultSettings())
	f.acts.pack = func(ctx context.Context, edit domain.CopyEditResult, slug string) (domain.PackagingResult, error) {
		if f.acts.count(ActivityPackage) == 1 {
			return domain.PackagingResult{}, domain.Permanent("cms", "package", errors.New("template missing"))
		}
		return f.acts.Desk.Package(ctx, edit, slug)
	}
	m := f.manager(t, Config{})
	ctx := context.Background()

	started, err := m.Start(ctx, pitch("council-budget"))
	require.NoError(t, err)

	failed := f.waitFor(t, started.StoryID, status(domain.StatusFailed))
	assert.Equal(t, domain.StageCopyEdit, failed.Stage)
	assert.Contains(t, failed.Reason, "template missing")

	_, err = m.Retry(ctx, started.StoryID)
	require.NoError(t, err)

	f.waitFor(t, started.StoryID, status(domain.StatusCompleted))
	assert.Equal(t, 2, f.acts.count(ActivityPackage))
	assert.Equal(t, 1, f.acts.count(ActivityCopyEdit))

	_, err = m.Retry(ctx, started.StoryID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestValidationFailureSendsStoryToRework(t *testing.T) {
	f := newFixture(desk.DefaultSettings())
	f.acts.prepare = func(context.Context, domain.Draft, domain.PackagingResult) (domain.PublishRequest, error) {
		return domain.PublishRequest{}, &domain.ValidationError{Subject: "cms document", Reasons: []string{"body: cannot be blank"}}
	}
	m := f.manager(t, Config{})

	started, err := m.Start(context.Background(), pitch("council-budget"))
	require.NoError(t, err)

	inst := f.waitFor(t, started.StoryID, status(domain.StatusRework))
	assert.Equal(t, domain.StageRework, inst.Stage)
	assert.Contains(t, inst.Reason, "cannot be blank")
	assert.Equal(t, 1, f.acts.count(ActivityPrepare))
}

func TestScheduledStoryGoesLiveAtPublishTime(t *testing.T) {
	settings := desk.DefaultSettings()
	settings.PublishDelay = 150 * time.Millisecond
	f := newFixture(settings)
	m := f.manager(t, Config{})

	started, err := m.Start(context.Background(), pitch("council-budget"))
	require.NoError(t, err)

	scheduled := f.waitFor(t, started.StoryID, stage(domain.StageScheduled))
	assert.Equal(t, domain.StatusWaiting, scheduled.Status)
	require.NotNil(t, scheduled.Wait)
	require.NotNil(t, scheduled.Wait.Deadline)

	inst := f.waitFor(t, started.StoryID, status(domain.StatusCompleted))
	assert.Contains(t, inst.Visited(), domain.StageScheduled)
	assert.True(t, inst.Completed(ActivityGoLive))

	var req domain.PublishRequest
	require.NoError(t, inst.Result(ActivityPublish, &req))
	doc, ok := f.cms.Document(req.CMSID)
	require.True(t, ok)
	assert.Equal(t, cms.StatusPublished, doc.Status)
}

// seedAtCopyEdit stores an instance whose activities up to copy edit already
// ran in an earlier process.
func seedAtCopyEdit(t *testing.T, f *fixture, p domain.StoryPitch, lease *domain.Lease) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	d := f.acts.Desk

	a, err := d.Assign(ctx, p)
	require.NoError(t, err)
	draft, err := d.Report(ctx, a)
	require.NoError(t, err)
	fc, err := d.FactCheck(ctx, draft)
	require.NoError(t, err)
	edit, err := d.CopyEdit(ctx, fc.Draft)
	require.NoError(t, err)

	inst := domain.NewInstance(p, "corr-seed", now)
	steps := []struct {
		activity string
		result   domain.Payload
		to       domain.Stage
	}{
		{ActivityAssign, a, domain.StageAssigned},
		{"", nil, domain.StageReporting},
		{ActivityReport, draft, domain.StageDrafting},
		{ActivityFactCheck, fc, domain.StageFactChecking},
		{ActivityCopyEdit, edit, domain.StageCopyEdit},
	}
	for _, s := range steps {
		if s.activity != "" {
			require.NoError(t, inst.Record(s.activity, s.to, s.result, now))
		}
		require.NoError(t, inst.Advance(s.to, "", now))
	}
	inst.Lease = lease
	require.NoError(t, f.store.Create(ctx, inst))
}

func TestResumeContinuesFromFirstUnrecordedStep(t *testing.T) {
	f := newFixture(desk.DefaultSettings())
	ctx := context.Background()

	free := pitch("council-budget")
	seedAtCopyEdit(t, f, free, &domain.Lease{Owner: "crashed", ExpiresAt: time.Now().Add(-time.Minute)})
	held := pitch("harbor-bridge")
	seedAtCopyEdit(t, f, held, &domain.Lease{Owner: "peer", ExpiresAt: time.Now().Add(time.Hour)})

	m := f.manager(t, Config{Owner: "restarted"})
	launched, err := m.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, launched)

	inst := f.waitFor(t, free.StoryID, status(domain.StatusCompleted))
	assert.Equal(t, domain.StageArchived, inst.Stage)
	for _, activity := range []string{ActivityAssign, ActivityReport, ActivityFactCheck, ActivityCopyEdit} {
		assert.Zero(t, f.acts.count(activity), activity)
	}
	assert.Equal(t, 1, f.acts.count(ActivityPackage))

	other, err := m.Get(ctx, held.StoryID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageCopyEdit, other.Stage)
	assert.Equal(t, "peer", other.Lease.Owner)
}

func TestShutdownLeavesWaitingStoryResumable(t *testing.T) {
	f := newFixture(desk.DefaultSettings())
	ctx := context.Background()
	first := f.manager(t, Config{Owner: "first"})

	started, err := first.Start(ctx, pitch("mayor-lawsuit", "lawsuit"))
	require.NoError(t, err)
	f.waitFor(t, started.StoryID, stage(domain.StageAwaitingApproval))

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, first.Shutdown(shutdownCtx))

	inst, err := f.store.Get(ctx, started.StoryID)
	require.NoError(t, err)
	assert.Nil(t, inst.Lease)
	assert.Equal(t, domain.StatusWaiting, inst.Status)

	_, err = first.Start(ctx, pitch("late-pitch"))
	assert.Error(t, err)

	second := f.manager(t, Config{Owner: "second"})
	launched, err := second.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, launched)

	require.NoError(t, second.Signal(ctx, started.StoryID, domain.SignalEditorApproval, domain.Approval{Approved: true}))
	f.waitFor(t, started.StoryID, status(domain.StatusCompleted))
	assert.Equal(t, 1, f.acts.count(ActivityFactCheck))
}

func TestSignalThroughAnotherReplicaEndsWait(t *testing.T) {
	f := newFixture(desk.DefaultSettings())
	ctx := context.Background()
	owner := f.manager(t, Config{Owner: "replica-b", PollInterval: 10 * time.Millisecond})
	peer := f.manager(t, Config{Owner: "replica-a", PollInterval: 10 * time.Millisecond})

	started, err := owner.Start(ctx, pitch("mayor-lawsuit", "lawsuit"))
	require.NoError(t, err)
	waiting := f.waitFor(t, started.StoryID, stage(domain.StageAwaitingApproval))
	require.NotNil(t, waiting.Lease)
	assert.Equal(t, "replica-b", waiting.Lease.Owner)

	require.NoError(t, peer.Signal(ctx, started.StoryID, domain.SignalEditorApproval, domain.Approval{Approved: true}))

	inst := f.waitFor(t, started.StoryID, status(domain.StatusCompleted))
	assert.True(t, inst.Completed(ActivityApproval))
	assert.Empty(t, inst.Inbox)
	assert.Equal(t, 1, f.acts.count(ActivityCopyEdit))
}

func TestLeaseIsRenewedDuringLongActivity(t *testing.T) {
	f := newFixture(desk.DefaultSettings())
	release := make(chan struct{})
	f.acts.report = func(ctx context.Context, a domain.Assignment) (domain.Draft, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return domain.Draft{}, ctx.Err()
		}
		return f.acts.Desk.Report(ctx, a)
	}
	ctx := context.Background()
	worker := f.manager(t, Config{Owner: "worker", LeaseTTL: 100 * time.Millisecond})
	peer := f.manager(t, Config{Owner: "peer", LeaseTTL: 100 * time.Millisecond})

	started, err := worker.Start(ctx, pitch("council-budget"))
	require.NoError(t, err)
	f.waitFor(t, started.StoryID, stage(domain.StageReporting))
	require.Eventually(t, func() bool { return f.acts.count(ActivityReport) == 1 }, 5*time.Second, 5*time.Millisecond)

	// Outlast several TTLs while the report is still running.
	time.Sleep(350 * time.Millisecond)

	inst, err := f.store.Get(ctx, started.StoryID)
	require.NoError(t, err)
	require.NotNil(t, inst.Lease)
	assert.Equal(t, "worker", inst.Lease.Owner)
	assert.True(t, inst.Lease.ExpiresAt.After(time.Now()))

	launched, err := peer.Resume(ctx)
	require.NoError(t, err)
	assert.Zero(t, launched)

	close(release)
	f.waitFor(t, started.StoryID, status(domain.StatusCompleted))
	assert.Equal(t, 1, f.acts.count(ActivityReport))
}

func TestList(t *testing.T) {
	f := newFixture(desk.DefaultSettings())
	m := f.manager(t, Config{})
	ctx := context.Background()

	for _, slug := range []string{"first-story", "second-story"} {
		_, err := m.Start(ctx, pitch(slug))
		require.NoError(t, err)
	}

	all, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
