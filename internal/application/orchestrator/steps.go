package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/resilience"
)

// step performs the next unrecorded step of inst. It returns stop when the
// execution should end without an error.
func (m *Manager) step(exec *execution, inst *domain.Instance) (bool, error) {
	switch inst.Stage {
	case domain.StagePitched:
		return m.perform(exec, ActivityAssign, domain.StageAssigned, func(ctx context.Context) (domain.Payload, error) {
			return m.activities.Assign(ctx, inst.Pitch)
		})

	case domain.StageAssigned:
		// Reporting is persisted before the draft is requested.
		return false, m.advance(exec, domain.StageReporting, nil)

	case domain.StageReporting:
		var a domain.Assignment
		if err := inst.Result(ActivityAssign, &a); err != nil {
			return m.fail(exec, ActivityReport, err)
		}
		return m.perform(exec, ActivityReport, domain.StageDrafting, func(ctx context.Context) (domain.Payload, error) {
			return m.activities.Report(ctx, a)
		})

	case domain.StageDrafting:
		var draft domain.Draft
		if err := inst.Result(ActivityReport, &draft); err != nil {
			return m.fail(exec, ActivityFactCheck, err)
		}
		return m.perform(exec, ActivityFactCheck, domain.StageFactChecking, func(ctx context.Context) (domain.Payload, error) {
			return m.activities.FactCheck(ctx, draft)
		})

	case domain.StageFactChecking:
		var fc domain.FactCheckResult
		if err := inst.Result(ActivityFactCheck, &fc); err != nil {
			return m.fail(exec, ActivityCopyEdit, err)
		}
		if !fc.Pass {
			deadline := m.approvalDeadline()
			return false, m.advance(exec, domain.StageAwaitingApproval, func(inst *domain.Instance, now time.Time) {
				inst.Status = domain.StatusWaiting
				inst.Wait = &domain.Wait{Signal: domain.SignalEditorApproval, Deadline: deadline, Since: now}
			})
		}
		return m.copyEdit(exec, fc.Draft)

	case domain.StageAwaitingApproval:
		if inst.Completed(ActivityApproval) {
			var fc domain.FactCheckResult
			if err := inst.Result(ActivityFactCheck, &fc); err != nil {
				return m.fail(exec, ActivityCopyEdit, err)
			}
			return m.copyEdit(exec, fc.Draft)
		}
		return m.awaitApproval(exec, inst)

	case domain.StageCopyEdit:
		var edit domain.CopyEditResult
		if err := inst.Result(ActivityCopyEdit, &edit); err != nil {
			return m.fail(exec, ActivityPackage, err)
		}
		return m.perform(exec, ActivityPackage, domain.StagePackaging, func(ctx context.Context) (domain.Payload, error) {
			return m.activities.Package(ctx, edit, inst.Pitch.Slug)
		})

	case domain.StagePackaging:
		var fc domain.FactCheckResult
		var pkg domain.PackagingResult
		if err := errors.Join(inst.Result(ActivityFactCheck, &fc), inst.Result(ActivityPackage, &pkg)); err != nil {
			return m.fail(exec, ActivityPrepare, err)
		}
		return m.perform(exec, ActivityPrepare, domain.StageReadyToPublish, func(ctx context.Context) (domain.Payload, error) {
			return m.activities.Prepare(ctx, fc.Draft, pkg)
		})

	case domain.StageReadyToPublish:
		var req domain.PublishRequest
		var pkg domain.PackagingResult
		if err := errors.Join(inst.Result(ActivityPrepare, &req), inst.Result(ActivityPackage, &pkg)); err != nil {
			return m.fail(exec, ActivityPublish, err)
		}
		held, release := m.holdLease(exec)
		scheduled, err := resilience.Call(held, m.invoker, ActivityPublish, func(ctx context.Context) (bool, error) {
			return timedCall(m, ActivityPublish, func() (bool, error) { return m.activities.Publish(ctx, req, pkg) })
		})
		release()
		if err != nil {
			return m.fail(exec, ActivityPublish, err)
		}
		if !scheduled {
			return false, m.complete(exec, ActivityPublish, req, domain.StagePublished, nil)
		}
		return false, m.complete(exec, ActivityPublish, req, domain.StageScheduled, func(inst *domain.Instance, now time.Time) {
			inst.Status = domain.StatusWaiting
			inst.Wait = &domain.Wait{Deadline: req.ScheduleAt, Since: now}
		})

	case domain.StageScheduled:
		var req domain.PublishRequest
		var pkg domain.PackagingResult
		if err := errors.Join(inst.Result(ActivityPublish, &req), inst.Result(ActivityPackage, &pkg)); err != nil {
			return m.fail(exec, ActivityGoLive, err)
		}
		if req.ScheduleAt != nil && m.now().Before(*req.ScheduleAt) {
			if m.pause(exec, req.ScheduleAt) {
				return true, nil
			}
			return false, nil
		}
		return m.perform(exec, ActivityGoLive, domain.StagePublished, func(ctx context.Context) (domain.Payload, error) {
			return nil, m.activities.GoLive(ctx, req, pkg)
		})

	case domain.StagePublished:
		var req domain.PublishRequest
		var pkg domain.PackagingResult
		if err := errors.Join(inst.Result(ActivityPublish, &req), inst.Result(ActivityPackage, &pkg)); err != nil {
			return m.fail(exec, ActivityDistribute, err)
		}
		return m.perform(exec, ActivityDistribute, domain.StageDistributed, func(ctx context.Context) (domain.Payload, error) {
			return m.activities.Distribute(ctx, req, &pkg)
		})

	case domain.StageDistributed:
		return false, m.complete(exec, ActivityArchive, nil, domain.StageArchived, nil)
	}

	return true, fmt.Errorf("%w: no step for stage %s", domain.ErrInvalidState, inst.Stage)
}

func (m *Manager) copyEdit(exec *execution, draft domain.Draft) (bool, error) {
	return m.perform(exec, ActivityCopyEdit, domain.StageCopyEdit, func(ctx context.Context) (domain.Payload, error) {
		return m.activities.CopyEdit(ctx, draft)
	})
}

func (m *Manager) approvalDeadline() *time.Time {
	if m.cfg.ApprovalTimeout <= 0 {
		return nil
	}
	deadline := m.now().Add(m.cfg.ApprovalTimeout)
	return &deadline
}

// awaitApproval consumes an editor decision from the inbox, times the wait
// out, or blocks until something changes.
func (m *Manager) awaitApproval(exec *execution, inst *domain.Instance) (bool, error) {
	now := m.now()
	_, pending := inst.Clone().TakeSignal(domain.SignalEditorApproval)
	expired := inst.Wait != nil && inst.Wait.Deadline != nil && !now.Before(*inst.Wait.Deadline)

	if !pending && !expired {
		var deadline *time.Time
		if inst.Wait != nil {
			deadline = inst.Wait.Deadline
		}
		return m.pause(exec, deadline), nil
	}

	var decision *domain.Approval
	_, err := m.update(m.ctx, exec.storyID, func(inst *domain.Instance, now time.Time) error {
		if err := m.own(inst, now); err != nil {
			return err
		}
		decision = nil
		if sig, ok := inst.TakeSignal(domain.SignalEditorApproval); ok {
			decision = &sig.Approval
			if !sig.Approval.Approved {
				return inst.Advance(domain.StageRework, rejectionReason(sig.Approval), now)
			}
			inst.Status = domain.StatusRunning
			inst.Wait = nil
			return inst.Record(ActivityApproval, inst.Stage, nil, now)
		}
		return inst.Advance(domain.StageRework,
			fmt.Sprintf("%s: no editor approval within %s", domain.ErrOrchestrationTimeout, m.cfg.ApprovalTimeout), now)
	})
	if err != nil {
		return false, err
	}

	switch {
	case decision == nil:
		exec.logger.Warn("editor approval timed out", zap.Duration("timeout", m.cfg.ApprovalTimeout))
	case decision.Approved:
		exec.logger.Info("editor approved story")
	default:
		exec.logger.Info("editor rejected story", zap.String("reason", decision.Reason))
	}
	return false, nil
}

func rejectionReason(a domain.Approval) string {
	if a.Reason == "" {
		return "editor rejected the story"
	}
	return "editor rejected the story: " + a.Reason
}

// pause blocks until deadline passes, the execution is woken, the awaited
// signal shows up in the stored inbox or the manager stops, renewing the lease
// meanwhile. A nil deadline waits without limit. It returns true when the
// execution should end.
func (m *Manager) pause(exec *execution, deadline *time.Time) bool {
	var expired <-chan time.Time
	if deadline != nil {
		d := deadline.Sub(m.now())
		if d <= 0 {
			return false
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}

	renew := time.NewTicker(m.cfg.LeaseTTL / 2)
	defer renew.Stop()
	poll := time.NewTicker(m.cfg.PollInterval)
	defer poll.Stop()

	for {
		var (
			inst *domain.Instance
			err  error
		)
		select {
		case <-m.stop:
			return true
		case <-exec.wake:
			return false
		case <-expired:
			return false
		case <-renew.C:
			inst, err = m.update(m.ctx, exec.storyID, m.own)
			if err != nil {
				exec.logger.Warn("failed to renew lease", zap.Error(err))
				if errors.Is(err, domain.ErrLeaseHeld) {
					return true
				}
				continue
			}
		case <-poll.C:
			inst, err = m.store.Get(m.ctx, exec.storyID)
			if err != nil {
				exec.logger.Warn("failed to poll story", zap.Error(err))
				continue
			}
		}
		if !inst.Status.Active() {
			return true
		}
		if signalled(inst) {
			return false
		}
	}
}

// signalled reports whether the signal inst waits for is in its inbox.
func signalled(inst *domain.Instance) bool {
	if inst.Wait == nil || inst.Wait.Signal == "" {
		return false
	}
	_, ok := inst.Clone().TakeSignal(inst.Wait.Signal)
	return ok
}

// holdLease renews the lease every half TTL until the returned stop func is
// called. The returned context is cancelled if another owner takes the lease.
func (m *Manager) holdLease(exec *execution) (context.Context, func()) {
	ctx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(m.cfg.LeaseTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.update(ctx, exec.storyID, m.own); err != nil {
					if ctx.Err() != nil {
						return
					}
					exec.logger.Warn("failed to renew lease", zap.Error(err))
					if errors.Is(err, domain.ErrLeaseHeld) {
						cancel()
						return
					}
				}
			}
		}
	}()
	return ctx, func() {
		cancel()
		<-done
	}
}

// perform runs an activity through the invoker and records its result
// together with the transition to the next stage.
func (m *Manager) perform(exec *execution, activity string, to domain.Stage, fn func(ctx context.Context) (domain.Payload, error)) (bool, error) {
	ctx, release := m.holdLease(exec)
	result, err := resilience.Call(ctx, m.invoker, activity, func(ctx context.Context) (domain.Payload, error) {
		return timedCall(m, activity, func() (domain.Payload, error) { return fn(ctx) })
	})
	release()
	if err != nil {
		return m.fail(exec, activity, err)
	}
	return false, m.complete(exec, activity, result, to, nil)
}

// timedCall reports one activity attempt to metrics.
func timedCall[T any](m *Manager, activity string, fn func() (T, error)) (T, error) {
	started := time.Now()
	out, err := fn()
	status := "completed"
	if err != nil {
		status = "failed"
	}
	m.metrics.RecordActivity(activity, status, time.Since(started))
	return out, err
}

func (m *Manager) complete(exec *execution, activity string, result domain.Payload, to domain.Stage, then func(*domain.Instance, time.Time)) error {
	inst, err := m.update(m.ctx, exec.storyID, func(inst *domain.Instance, now time.Time) error {
		if err := m.own(inst, now); err != nil {
			return err
		}
		if err := inst.Record(activity, to, result, now); err != nil {
			return err
		}
		return m.enter(inst, to, now, then)
	})
	if err != nil {
		return err
	}
	exec.logger.Info("stage completed",
		zap.String("activity", activity),
		zap.String("stage", string(inst.Stage)))
	return nil
}

func (m *Manager) advance(exec *execution, to domain.Stage, then func(*domain.Instance, time.Time)) error {
	inst, err := m.update(m.ctx, exec.storyID, func(inst *domain.Instance, now time.Time) error {
		if err := m.own(inst, now); err != nil {
			return err
		}
		return m.enter(inst, to, now, then)
	})
	if err != nil {
		return err
	}
	exec.logger.Info("stage entered", zap.String("stage", string(inst.Stage)))
	return nil
}

// enter moves inst to a stage, resetting the wait for non-terminal stages.
func (m *Manager) enter(inst *domain.Instance, to domain.Stage, now time.Time, then func(*domain.Instance, time.Time)) error {
	if err := inst.Advance(to, "", now); err != nil {
		return err
	}
	if !to.Terminal() {
		inst.Status = domain.StatusRunning
		inst.Wait = nil
	}
	if then != nil {
		then(inst, now)
	}
	return nil
}

// fail records an activity failure. Validation failures send the story to
// rework; anything else leaves it failed at its stage for a retry.
func (m *Manager) fail(exec *execution, activity string, cause error) (bool, error) {
	if m.ctx.Err() != nil {
		return true, nil
	}

	reason := fmt.Sprintf("%s failed: %v", activity, cause)
	rework := errors.Is(cause, domain.ErrValidation)
	_, err := m.update(m.ctx, exec.storyID, func(inst *domain.Instance, now time.Time) error {
		if err := m.own(inst, now); err != nil {
			return err
		}
		if rework {
			return inst.Advance(domain.StageRework, reason, now)
		}
		inst.Fail(reason, now)
		return nil
	})
	if err != nil {
		return true, err
	}

	exec.logger.Error("activity failed",
		zap.String("activity", activity),
		zap.Bool("rework", rework),
		zap.Error(cause))
	return true, nil
}
